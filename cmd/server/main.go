package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"pip-controller/internal/engine/loopback"
	"pip-controller/internal/hostsim"
	"pip-controller/internal/pip"
	"pip-controller/internal/platform/config"
	"pip-controller/internal/platform/logger"
	"pip-controller/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	defaultsFile := config.GetEnv("PIP_DEFAULTS_FILE", "")
	supported := config.GetEnvBool("PIP_SUPPORTED", true)
	frameRate := config.GetEnvInt("ENGINE_FRAME_RATE", 30)
	keyframeInterval := config.GetEnvInt("ENGINE_KEYFRAME_INTERVAL", 60)
	streamNames := config.GetEnvList("ENGINE_STREAMS", []string{"main", "secondary"})

	log := logger.New(os.Stdout, logLevel, logFormat)

	defaults, err := config.LoadDefaults(defaultsFile)
	if err != nil {
		log.Error("failed to load session defaults", "path", defaultsFile, "error", err)
		os.Exit(1)
	}

	streams := make([]pip.StreamID, 0, len(streamNames))
	for _, s := range streamNames {
		streams = append(streams, pip.StreamID(s))
	}

	met := metrics.New()
	hub := pip.NewHub(log)
	engine := loopback.New(loopback.Config{
		FrameRate:        frameRate,
		KeyframeInterval: keyframeInterval,
		Streams:          streams,
		Logger:           log,
	})
	platform := hostsim.NewPlatform(hostsim.Config{Supported: supported, Logger: log})

	ctrl := pip.NewController(pip.Config{
		Engine:   engine,
		Platform: platform,
		Audio:    hostsim.NewAudio(false, log),
		Notifier: hub,
		Logger:   log,
		Metrics:  met,
		Options: pip.Options{
			Source:          pip.StreamID(defaults.Source),
			AutoPIP:         defaults.AutoPIP,
			Aspect:          pip.AspectRatio{Width: defaults.Aspect.Width, Height: defaults.Aspect.Height},
			HardwareDecoder: defaults.HardwareDecoder,
			CustomRender:    defaults.CustomRender,
		},
	})
	h := pip.NewHandler(ctrl, hub, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetInPIP(ctrl.IsInPIP())
			met.SetPlayingStreams(len(ctrl.PlayingStreams()))
		}).ServeHTTP(w, r)
	})
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
		// Event streams end with the server context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", port,
		"streams", streamNames,
		"pip_supported", supported,
		"frame_rate", frameRate,
		"log_level", logLevel,
	)

	err = g.Wait()
	ctrl.Close()
	engine.Close()
	platform.Wait()
	if err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
