// Package session holds lazily loaded, process-wide model sessions.
//
// A Holder moves through uninitialized -> loading -> ready | failed. Loading
// happens once, on first use; concurrent callers wait for it. A failed load
// is sticky until Close resets the holder.
package session

import (
	"context"
	"fmt"
	"sync"

	"places_service/internal/domain/model"
	"places_service/internal/logging"
)

// Loader opens the underlying session.
type Loader[T any] func(ctx context.Context) (T, error)

type Holder[T any] struct {
	name    string
	load    Loader[T]
	closeFn func(T) error

	mu    sync.Mutex
	state model.SessionState
	value T
	err   error
	done  chan struct{}
}

// New creates a holder. closeFn may be nil.
func New[T any](name string, load Loader[T], closeFn func(T) error) *Holder[T] {
	return &Holder[T]{
		name:    name,
		load:    load,
		closeFn: closeFn,
		state:   model.SessionUninitialized,
	}
}

// Get returns the session, loading it on first use. A failed load yields an
// error wrapping model.ErrModelUnavailable.
func (h *Holder[T]) Get(ctx context.Context) (T, error) {
	var zero T
	for {
		h.mu.Lock()
		switch h.state {
		case model.SessionReady:
			v := h.value
			h.mu.Unlock()
			return v, nil

		case model.SessionFailed:
			err := h.err
			h.mu.Unlock()
			return zero, fmt.Errorf("%w: %s: %v", model.ErrModelUnavailable, h.name, err)

		case model.SessionLoading:
			done := h.done
			h.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return zero, ctx.Err()
			}

		default:
			h.state = model.SessionLoading
			h.done = make(chan struct{})
			h.mu.Unlock()
			h.doLoad(ctx)
		}
	}
}

func (h *Holder[T]) doLoad(ctx context.Context) {
	log := logging.With("session")
	log.Info().Str("session", h.name).Msg("loading model session")

	// A caller going away must not fail the shared session.
	v, err := h.load(context.WithoutCancel(ctx))

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.state = model.SessionFailed
		h.err = err
		log.Error().Err(err).Str("session", h.name).Msg("model session unavailable")
	} else {
		h.state = model.SessionReady
		h.value = v
		log.Info().Str("session", h.name).Msg("model session ready")
	}
	close(h.done)
}

func (h *Holder[T]) State() model.SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Ready reports whether Get would return without loading.
func (h *Holder[T]) Ready() bool {
	return h.State() == model.SessionReady
}

// Close tears the session down and returns the holder to uninitialized.
func (h *Holder[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == model.SessionLoading {
		return fmt.Errorf("session %s is still loading", h.name)
	}

	var err error
	if h.state == model.SessionReady && h.closeFn != nil {
		err = h.closeFn(h.value)
	}
	var zero T
	h.value = zero
	h.err = nil
	h.state = model.SessionUninitialized
	return err
}
