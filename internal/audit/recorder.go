// Package audit keeps a durable log of the cross-instance actions this
// instance applied. Entries are queued in memory and written in batches so
// the host loop never waits on the database.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"proxysync/internal/protocol"
)

const (
	DefaultQueueSize     = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	flushTimeout         = 30 * time.Second
)

type Options struct {
	Instance      string // identity of this instance, stored on every row
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
}

// Recorder queues actions and writes them to a Store from one background
// writer. A nil *Recorder records nothing.
type Recorder struct {
	store     Store
	opts      Options
	writeChan chan Action
	logger    *slog.Logger
	closed    atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRecorder(store Store, opts Options, logger *slog.Logger) *Recorder {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     store,
		opts:      opts,
		writeChan: make(chan Action, opts.QueueSize),
		logger:    logger.With("component", "audit"),
		done:      make(chan struct{}),
	}
}

// Start launches the batch writer.
func (r *Recorder) Start(ctx context.Context) {
	if r == nil {
		return
	}
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		go r.runBatchWriter(ctx)
	})
}

// Record queues one action. It never blocks: when the queue is full the
// entry is dropped and a warning is logged.
func (r *Recorder) Record(kind protocol.Kind, target, origin string) {
	if r == nil || r.closed.Load() {
		return
	}
	action := Action{
		Kind:      kind.String(),
		Target:    target,
		Origin:    origin,
		Instance:  r.opts.Instance,
		CreatedAt: time.Now().UTC(),
	}
	select {
	case r.writeChan <- action:
	default:
		r.logger.Warn("audit_queue_full", "kind", action.Kind, "target", target)
	}
}

func (r *Recorder) runBatchWriter(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Action, 0, r.opts.BatchSize)
	r.logger.Info("batch_writer_started", "interval", r.opts.FlushInterval.String(), "batch_size", r.opts.BatchSize)

	for {
		select {
		case <-ctx.Done():
			// drain whatever was queued before shutdown
		drain:
			for {
				select {
				case action := <-r.writeChan:
					batch = append(batch, action)
				default:
					break drain
				}
			}
			r.logger.Info("batch_writer_shutting_down", "remaining", len(batch))
			r.flushBatch(batch)
			return

		case action := <-r.writeChan:
			batch = append(batch, action)
			if len(batch) >= r.opts.BatchSize {
				r.flushBatch(batch)
				batch = make([]Action, 0, r.opts.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				r.logger.Debug("periodic_batch_flush", "count", len(batch))
				r.flushBatch(batch)
				batch = make([]Action, 0, r.opts.BatchSize)
			}
		}
	}
}

func (r *Recorder) flushBatch(batch []Action) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	start := time.Now()
	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.logger.Error("batch_insert_failed", "count", len(batch), "error", err)
		return
	}
	r.logger.Debug("batch_insert_success", "count", len(batch), "duration_ms", time.Since(start).Milliseconds())
}

// Close stops accepting entries, flushes the queue, and closes the store.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.startOnce.Do(func() {}) // no writer starts after this
		if r.cancel != nil {
			r.cancel()
			<-r.done
		} else {
			var batch []Action
			for len(r.writeChan) > 0 {
				batch = append(batch, <-r.writeChan)
			}
			r.flushBatch(batch)
		}
		err = r.store.Close()
	})
	return err
}
