// Package worker runs accessibility inference on a dedicated goroutine.
//
// Callers post typed messages with a fresh id; a dispatcher goroutine
// matches replies to the waiting caller. Requests are handled one at a time
// in arrival order.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"places_service/internal/domain/model"
	"places_service/internal/logging"
	"places_service/internal/metrics"
)

type MessageType string

const (
	MsgInit         MessageType = "init"
	MsgWarmup       MessageType = "warmup"
	MsgIsReady      MessageType = "isReady"
	MsgPredict      MessageType = "predict"
	MsgPredictBatch MessageType = "predictBatch"
	MsgError        MessageType = "error"
)

// Backend is the model the worker drives.
type Backend interface {
	Init(ctx context.Context) error
	Warmup(ctx context.Context) error
	Ready() bool
	PredictBatch(ctx context.Context, batch []map[string]string, explain bool) ([]model.Prediction, error)
}

type predictData struct {
	Tags    []map[string]string
	Explain bool
}

type request struct {
	ctx  context.Context
	Type MessageType
	ID   string
	Data predictData
}

type reply struct {
	Type        MessageType
	ID          string
	Ready       bool
	Predictions []model.Prediction
	Err         error
}

type Bridge struct {
	backend  Backend
	requests chan request
	replies  chan reply

	mu      sync.Mutex
	pending map[string]chan reply

	ready      atomic.Bool
	terminated atomic.Bool
	// warmed is only touched by the worker goroutine.
	warmed bool

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func NewBridge(backend Backend, queueSize int) *Bridge {
	if queueSize <= 0 {
		queueSize = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		backend:  backend,
		requests: make(chan request, queueSize),
		replies:  make(chan reply, queueSize),
		pending:  make(map[string]chan reply),
		ctx:      ctx,
		cancel:   cancel,
		log:      logging.With("inference-worker"),
	}
}

// Start launches the worker and dispatcher goroutines. Calling it again has
// no effect.
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(2)
		go b.work()
		go b.dispatch()
		b.log.Info().Msg("inference worker started")
	})
}

func (b *Bridge) work() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.requests:
			rep := b.handle(req)
			select {
			case b.replies <- rep:
			case <-b.ctx.Done():
				return
			}
		}
	}
}

func (b *Bridge) handle(req request) reply {
	// The backend sees the caller's context, cancelled also on Terminate.
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	rep := reply{Type: req.Type, ID: req.ID}
	var err error

	switch req.Type {
	case MsgInit:
		if err = b.backend.Init(ctx); err == nil {
			rep.Ready = b.backend.Ready()
		}
	case MsgWarmup:
		if b.warmed {
			break
		}
		if err = b.backend.Warmup(ctx); err == nil {
			b.warmed = true
			rep.Ready = b.backend.Ready()
		}
	case MsgIsReady:
		rep.Ready = b.backend.Ready()
	case MsgPredict, MsgPredictBatch:
		rep.Predictions, err = b.backend.PredictBatch(ctx, req.Data.Tags, req.Data.Explain)
	default:
		err = fmt.Errorf("unknown message type %q", req.Type)
	}

	if err != nil {
		return reply{Type: MsgError, ID: req.ID, Err: err}
	}
	return rep
}

func (b *Bridge) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case rep := <-b.replies:
			if rep.Type == MsgInit || rep.Type == MsgIsReady {
				b.ready.Store(rep.Ready)
			}
			b.mu.Lock()
			ch, ok := b.pending[rep.ID]
			delete(b.pending, rep.ID)
			metrics.WorkerPending.Set(float64(len(b.pending)))
			b.mu.Unlock()
			if ok {
				ch <- rep
			} else {
				b.log.Debug().Str("id", rep.ID).Str("type", string(rep.Type)).Msg("reply for abandoned request")
			}
		}
	}
}

func (b *Bridge) call(ctx context.Context, typ MessageType, data predictData) (reply, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	if b.terminated.Load() {
		b.mu.Unlock()
		return reply{}, model.ErrWorkerTerminated
	}
	b.pending[id] = ch
	metrics.WorkerPending.Set(float64(len(b.pending)))
	b.mu.Unlock()

	select {
	case b.requests <- request{ctx: ctx, Type: typ, ID: id, Data: data}:
	case <-ctx.Done():
		b.forget(id)
		return reply{}, ctx.Err()
	case <-b.ctx.Done():
		b.forget(id)
		return reply{}, model.ErrWorkerTerminated
	}

	select {
	case rep := <-ch:
		if rep.Type == MsgError {
			return reply{}, rep.Err
		}
		return rep, nil
	case <-ctx.Done():
		b.forget(id)
		return reply{}, ctx.Err()
	}
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	metrics.WorkerPending.Set(float64(len(b.pending)))
	b.mu.Unlock()
}

// Init loads the model on the worker and refreshes the readiness flag.
func (b *Bridge) Init(ctx context.Context) error {
	_, err := b.call(ctx, MsgInit, predictData{})
	return err
}

// Warmup runs one throwaway inference. Only the first successful warmup
// reaches the model.
func (b *Bridge) Warmup(ctx context.Context) error {
	_, err := b.call(ctx, MsgWarmup, predictData{})
	return err
}

// IsReady returns the readiness reported by the last init or isReady reply.
func (b *Bridge) IsReady() bool {
	return b.ready.Load()
}

// IsReadyAsync asks the worker.
func (b *Bridge) IsReadyAsync(ctx context.Context) (bool, error) {
	rep, err := b.call(ctx, MsgIsReady, predictData{})
	if err != nil {
		return false, err
	}
	return rep.Ready, nil
}

func (b *Bridge) Predict(ctx context.Context, tags map[string]string, explain bool) (model.Prediction, error) {
	rep, err := b.call(ctx, MsgPredict, predictData{Tags: []map[string]string{tags}, Explain: explain})
	if err != nil {
		return model.Prediction{}, err
	}
	if len(rep.Predictions) != 1 {
		return model.Prediction{}, fmt.Errorf("worker returned %d predictions for one place", len(rep.Predictions))
	}
	return rep.Predictions[0], nil
}

// PredictBatch sends the batch as a single message.
func (b *Bridge) PredictBatch(ctx context.Context, batch []map[string]string, explain bool) ([]model.Prediction, error) {
	if len(batch) > model.MaxPredictBatch {
		return nil, fmt.Errorf("%w: %d rows, limit is %d", model.ErrBatchTooLarge, len(batch), model.MaxPredictBatch)
	}
	if len(batch) == 0 {
		return []model.Prediction{}, nil
	}
	rep, err := b.call(ctx, MsgPredictBatch, predictData{Tags: batch, Explain: explain})
	if err != nil {
		return nil, err
	}
	return rep.Predictions, nil
}

// Pending returns the number of requests awaiting a reply.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Terminate stops the worker and fails every outstanding request with
// model.ErrWorkerTerminated.
func (b *Bridge) Terminate() {
	if !b.terminated.CompareAndSwap(false, true) {
		return
	}
	b.cancel()

	b.mu.Lock()
	failed := len(b.pending)
	for id, ch := range b.pending {
		ch <- reply{Type: MsgError, ID: id, Err: model.ErrWorkerTerminated}
		delete(b.pending, id)
	}
	metrics.WorkerPending.Set(0)
	b.mu.Unlock()

	b.wg.Wait()
	b.ready.Store(false)
	b.log.Info().Int("failed_requests", failed).Msg("inference worker terminated")
}

// Serve runs the bridge under a supervisor until ctx ends.
func (b *Bridge) Serve(ctx context.Context) error {
	b.Start()
	select {
	case <-ctx.Done():
		b.Terminate()
		return ctx.Err()
	case <-b.ctx.Done():
		return suture.ErrDoNotRestart
	}
}

func (b *Bridge) String() string {
	return "inference-worker"
}
