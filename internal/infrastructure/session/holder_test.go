package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"places_service/internal/domain/model"
)

func TestHolderLoadsOnce(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	h := New("test", func(context.Context) (string, error) {
		loads.Add(1)
		<-release
		return "session", nil
	}, nil)

	if h.State() != model.SessionUninitialized {
		t.Fatalf("initial state = %s", h.State())
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.Get(context.Background())
			if err != nil {
				t.Errorf("Get() error = %v", err)
			}
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	if loads.Load() != 1 {
		t.Errorf("loader ran %d times, want 1", loads.Load())
	}
	for _, r := range results {
		if r != "session" {
			t.Errorf("Get() = %q", r)
		}
	}
	if !h.Ready() {
		t.Errorf("state = %s, want ready", h.State())
	}
}

func TestHolderFailureIsSticky(t *testing.T) {
	var loads atomic.Int32
	h := New("broken", func(context.Context) (int, error) {
		loads.Add(1)
		return 0, errors.New("shared library not found")
	}, nil)

	for i := 0; i < 3; i++ {
		if _, err := h.Get(context.Background()); !errors.Is(err, model.ErrModelUnavailable) {
			t.Fatalf("Get() error = %v, want ErrModelUnavailable", err)
		}
	}
	if loads.Load() != 1 {
		t.Errorf("loader ran %d times, want 1", loads.Load())
	}
	if h.State() != model.SessionFailed {
		t.Errorf("state = %s, want failed", h.State())
	}
}

func TestHolderCloseResets(t *testing.T) {
	var closed atomic.Bool
	h := New("closable", func(context.Context) (int, error) { return 7, nil }, func(int) error {
		closed.Store(true)
		return nil
	})

	if _, err := h.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if !closed.Load() || h.State() != model.SessionUninitialized {
		t.Errorf("closed = %v, state = %s", closed.Load(), h.State())
	}
}

func TestHolderCancelledWaiterDoesNotFailLoad(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	h := New("slow", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, ctx.Err()
	}, nil)

	loaderDone := make(chan struct{})
	go func() {
		defer close(loaderDone)
		_, _ = h.Get(context.Background())
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}

	close(release)
	<-loaderDone
	if !h.Ready() {
		t.Errorf("state = %s, want ready", h.State())
	}
}
