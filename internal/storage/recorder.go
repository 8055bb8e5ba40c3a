package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dyike/CortexQuant/internal/engine"
	"github.com/dyike/CortexQuant/models"
)

type recordEvent struct {
	req    engine.BacktestRequest
	result models.BacktestResult
}

// AsyncRecorder writes runs to the store from a background goroutine so
// request handlers never wait on SQLite. Close drains the queue.
type AsyncRecorder struct {
	store *Store
	log   logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	events chan recordEvent
	once   sync.Once
	wg     sync.WaitGroup
}

func NewAsyncRecorder(store *Store, log logrus.FieldLogger) (*AsyncRecorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &AsyncRecorder{
		store:  store,
		log:    log.WithField("component", "recorder"),
		events: make(chan recordEvent, 64),
	}

	r.wg.Add(1)
	go r.loop()
	return r, nil
}

func (r *AsyncRecorder) loop() {
	defer r.wg.Done()
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.SaveRun(ctx, ev.req, ev.result); err != nil {
			r.log.WithError(err).WithField("run_id", ev.result.RunID).Error("record run")
		}
		cancel()
	}
}

// SaveRun queues the run. It only fails after Close.
func (r *AsyncRecorder) SaveRun(ctx context.Context, req engine.BacktestRequest, result models.BacktestResult) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("recorder closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.events <- recordEvent{req: req, result: result}:
		return nil
	}
}

func (r *AsyncRecorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
		r.wg.Wait()
	})
}
