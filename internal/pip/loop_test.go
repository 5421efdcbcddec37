package pip

import (
	"sync"
	"testing"
)

func TestLoop_runs_in_order(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	l.Do(func() {})

	if len(got) != 100 {
		t.Fatalf("expected 100 runs, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
}

func TestLoop_Post_from_loop(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Close()

	var order []string
	l.Do(func() {
		l.Post(func() { order = append(order, "nested") })
		order = append(order, "outer")
	})
	l.Do(func() {})

	if len(order) != 2 || order[0] != "outer" || order[1] != "nested" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestLoop_concurrent_posters(t *testing.T) {
	l := NewLoop()
	go l.Run()
	defer l.Close()

	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Do(func() { count++ })
			}
		}()
	}
	wg.Wait()

	l.Do(func() {
		if count != 400 {
			t.Errorf("expected 400, got %d", count)
		}
	})
}

func TestLoop_Close_drains_queue(t *testing.T) {
	l := NewLoop()
	ran := 0
	for i := 0; i < 5; i++ {
		l.Post(func() { ran++ })
	}
	go l.Run()
	l.Close()

	if ran != 5 {
		t.Errorf("expected queued work to run, got %d", ran)
	}
	if l.Post(func() {}) {
		t.Error("Post after Close should fail")
	}
	if l.Do(func() {}) {
		t.Error("Do after Close should fail")
	}
	l.Close()
}
