// Package host provides the single-threaded execution context that owns all
// session state. Other goroutines never touch that state directly; they
// enqueue tasks here.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrLoopClosed is returned when submitting to a loop that stopped.
var ErrLoopClosed = errors.New("host loop closed")

// Loop runs submitted tasks one at a time, in submission order.
type Loop struct {
	tasks    chan func()
	stopping chan struct{} // closed when Run starts shutting down
	stopOnce sync.Once
	mu       sync.RWMutex // guards closed against in-flight Submit calls
	closed   bool
	done     chan struct{}
	logger   *slog.Logger
}

// NewLoop creates a loop whose queue holds up to size pending tasks.
func NewLoop(size int, logger *slog.Logger) *Loop {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		tasks:    make(chan func(), size),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.With("component", "host_loop"),
	}
}

// Submit enqueues task. It blocks while the queue is full, until ctx ends or
// the loop stops.
func (l *Loop) Submit(ctx context.Context, task func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLoopClosed
	}

	select {
	case l.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopping:
		return ErrLoopClosed
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Submit(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// the drain in Run may still have executed it
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// Run executes tasks until ctx ends. Tasks already queued at that point are
// still executed before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	l.logger.Info("host_loop_started", "capacity", cap(l.tasks))

	for {
		select {
		case task := <-l.tasks:
			l.execute(task)
		case <-ctx.Done():
			l.shutdown()
			return
		}
	}
}

func (l *Loop) shutdown() {
	// release blocked submitters before taking the write lock
	l.stopOnce.Do(func() { close(l.stopping) })
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	drained := 0
	for {
		select {
		case task := <-l.tasks:
			l.execute(task)
			drained++
		default:
			l.logger.Info("host_loop_stopped", "drained", drained)
			return
		}
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("host_task_panicked", "panic", r)
		}
	}()
	task()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
