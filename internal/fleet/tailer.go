package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"fleettools/internal/event"
	"fleettools/internal/logging"
	"fleettools/internal/store"
	"fleettools/internal/types"
)

// tailerBatchSize caps how many events one handler call receives.
const tailerBatchSize = 256

// TailerHandler receives each new batch of events in sequence order.
// Returning an error leaves the cursor where it was, so the batch is
// redelivered on the next wakeup.
type TailerHandler func(ctx context.Context, batch []*event.Event) error

// TailerOptions configure a Tailer.
type TailerOptions struct {
	// Consumer names the cursor row; tailers sharing a consumer share a
	// position. Empty mints a throwaway name.
	Consumer string
	// Interval is the fallback poll period when no filesystem wakeups
	// arrive. Zero means one second.
	Interval time.Duration
	// FromStart delivers the whole log from sequence one instead of only
	// events appended after the tailer starts. Ignored when the consumer
	// already has a position.
	FromStart bool
}

// TailerStats tracks delivery activity.
type TailerStats struct {
	Batches      int
	Delivered    int
	LastSequence int64
}

// Tailer follows the event log and hands every new batch to a handler.
// Delivery is at-least-once: the cursor advances only after the handler
// returns nil, so a crashed consumer resumes from its last good position.
// The poll loop is woken early by filesystem activity on the .fleet
// directory, which the database touches on every commit; without a watchable
// directory the ticker alone drives it.
type Tailer struct {
	mu        sync.RWMutex
	coord     *Coordinator
	consumer  string
	interval  time.Duration
	fromStart bool
	handler   TailerHandler
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
	stats     TailerStats
}

// NewTailer builds a tailer over the coordinator's log.
func (c *Coordinator) NewTailer(opts TailerOptions, handler TailerHandler) (*Tailer, error) {
	if handler == nil {
		return nil, fmt.Errorf("tailer handler required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	consumer := opts.Consumer
	if consumer == "" {
		consumer = fmt.Sprintf("tailer-%s", uuid.New().String()[:8])
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Tailer{
		coord:     c,
		consumer:  consumer,
		interval:  interval,
		fromStart: opts.FromStart,
		handler:   handler,
		watcher:   watcher,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Consumer returns the cursor name this tailer advances.
func (t *Tailer) Consumer() string {
	return t.consumer
}

// Start positions the cursor and begins delivery. Non-blocking; the loop
// runs until Stop or context cancellation.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.mu.Unlock()

	if err := t.position(ctx); err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return err
	}

	// The .fleet directory may not exist for in-memory databases; the
	// ticker covers that case.
	if dir := t.coord.store.Options().FleetDir(); dir != "" {
		if err := t.watcher.Add(dir); err != nil {
			logging.FleetWarn("tailer %s: watch on %s unavailable: %v", t.consumer, dir, err)
		} else {
			logging.Fleet("tailer %s: watching %s", t.consumer, dir)
		}
	}

	go t.run(ctx)
	return nil
}

// position parks a consumer with no recorded cursor at the end of the log,
// unless the caller asked for history.
func (t *Tailer) position(ctx context.Context) error {
	if t.fromStart {
		return nil
	}
	cursor, err := t.coord.GetCursor(ctx, t.consumer, types.StreamProject, "")
	if err != nil {
		return err
	}
	if cursor.Position > 0 {
		return nil
	}
	latest, err := t.coord.store.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	if latest == 0 {
		return nil
	}
	_, err = t.coord.AdvanceCursor(ctx, t.consumer, types.StreamProject, "", latest)
	return err
}

// Stop halts delivery and waits for the loop to exit.
func (t *Tailer) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopCh)
	<-t.doneCh

	if err := t.watcher.Close(); err != nil {
		logging.FleetWarn("tailer %s: error closing watcher: %v", t.consumer, err)
	}
	logging.Fleet("tailer %s: stopped", t.consumer)
}

// IsRunning reports whether the delivery loop is live.
func (t *Tailer) IsRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// Stats returns a snapshot of delivery counters.
func (t *Tailer) Stats() TailerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Drain whatever is already pending rather than waiting out the first
	// tick.
	t.deliver(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Fleet("tailer %s: context cancelled", t.consumer)
			return

		case <-t.stopCh:
			return

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				t.deliver(ctx)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			logging.FleetWarn("tailer %s: watch error: %v", t.consumer, err)

		case <-ticker.C:
			t.deliver(ctx)
		}
	}
}

// deliver hands every event past the cursor to the handler, advancing the
// cursor batch by batch. Failures leave the cursor in place and surface on
// the next wakeup.
func (t *Tailer) deliver(ctx context.Context) {
	for {
		cursor, err := t.coord.GetCursor(ctx, t.consumer, types.StreamProject, "")
		if err != nil {
			logging.FleetWarn("tailer %s: cursor read: %v", t.consumer, err)
			return
		}
		batch, err := t.coord.store.Query(ctx, store.QueryOptions{
			AfterSequence: cursor.Position,
			Limit:         tailerBatchSize,
		})
		if err != nil {
			logging.FleetWarn("tailer %s: query: %v", t.consumer, err)
			return
		}
		if len(batch) == 0 {
			return
		}
		if err := t.handler(ctx, batch); err != nil {
			logging.FleetWarn("tailer %s: handler: %v", t.consumer, err)
			return
		}
		last := batch[len(batch)-1].Sequence
		if _, err := t.coord.AdvanceCursor(ctx, t.consumer, types.StreamProject, "", last); err != nil {
			logging.FleetWarn("tailer %s: cursor advance: %v", t.consumer, err)
			return
		}

		t.mu.Lock()
		t.stats.Batches++
		t.stats.Delivered += len(batch)
		t.stats.LastSequence = last
		t.mu.Unlock()

		if len(batch) < tailerBatchSize {
			return
		}
	}
}
