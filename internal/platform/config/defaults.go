package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults seeds the PIP session at startup. Source is the stream stored for
// the next enable.
type Defaults struct {
	AutoPIP         bool        `yaml:"auto_pip"`
	Aspect          AspectRatio `yaml:"aspect"`
	HardwareDecoder bool        `yaml:"hardware_decoder"`
	CustomRender    bool        `yaml:"custom_render"`
	Source          string      `yaml:"source"`
}

// AspectRatio is the preferred window shape in the defaults file.
type AspectRatio struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// DefaultSessionDefaults returns the values used when no file is configured.
func DefaultSessionDefaults() Defaults {
	return Defaults{
		Aspect:          AspectRatio{Width: 16, Height: 9},
		HardwareDecoder: true,
	}
}

// LoadDefaults reads a YAML defaults file over DefaultSessionDefaults. An empty
// path returns the built-in values.
func LoadDefaults(path string) (Defaults, error) {
	d := DefaultSessionDefaults()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, err
	}
	return d, nil
}
