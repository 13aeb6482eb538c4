// Package watch keeps a query result fresh. A watcher re-runs its query from
// scratch on every relevant bus event and on a fixed poll interval; there are
// no incremental updates.
package watch

import (
	"context"
	"log"
	"sync"
	"time"

	"boligmarked/market/internal/events"
)

// Query computes the full view state.
type Query[T any] func(ctx context.Context) (T, error)

// Watcher holds the latest good result of a query.
type Watcher[T any] struct {
	name     string
	query    Query[T]
	bus      *events.Bus
	types    []events.EventType
	interval time.Duration

	mu      sync.RWMutex
	latest  T
	loaded  bool
	lastErr error

	changes chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a watcher. With no event types it reacts to every event, including
// the generic storage signal. A zero interval disables polling.
func New[T any](name string, query Query[T], bus *events.Bus, interval time.Duration, types ...events.EventType) *Watcher[T] {
	return &Watcher[T]{
		name:     name,
		query:    query,
		bus:      bus,
		types:    types,
		interval: interval,
		changes:  make(chan struct{}, 1),
	}
}

// Start runs the query once and keeps refreshing until ctx ends or Stop is called.
func (w *Watcher[T]) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.Refresh(ctx)

	var sub *events.Subscription
	if w.bus != nil {
		types := w.types
		if len(types) > 0 {
			types = append(append([]events.EventType{}, types...), events.StorageChanged)
		}
		sub = w.bus.Subscribe(types...)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if sub != nil {
			defer sub.Close()
		}

		var tick <-chan time.Time
		if w.interval > 0 {
			ticker := time.NewTicker(w.interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		var evC <-chan events.Event
		if sub != nil {
			evC = sub.C
		}

		for {
			select {
			case _, ok := <-evC:
				if !ok {
					evC = nil
					continue
				}
				w.Refresh(ctx)
			case <-tick:
				w.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Refresh re-runs the query now. On error the previous result is kept.
func (w *Watcher[T]) Refresh(ctx context.Context) {
	v, err := w.query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Warning: watcher %s query failed, keeping last good state: %v", w.name, err)
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.latest = v
	w.loaded = true
	w.lastErr = nil
	w.mu.Unlock()

	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// Latest returns the last good result and whether any query has succeeded yet.
func (w *Watcher[T]) Latest() (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, w.loaded
}

// Err is the error of the most recent refresh, nil after a success.
func (w *Watcher[T]) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Changes signals after each successful refresh. Signals coalesce.
func (w *Watcher[T]) Changes() <-chan struct{} {
	return w.changes
}

// Stop ends the refresh loop and waits for it.
func (w *Watcher[T]) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
