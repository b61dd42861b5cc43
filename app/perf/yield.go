package perf

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Yielder gives up the processor and resumes on the next scheduling opportunity.
// Returns ctx error if the context is done.
type Yielder func(ctx context.Context) error

// Yield uses the scheduler primitive
func Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// TimerYield resumes through a zero-delay timer
func TimerYield(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(0)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewYielder returns the scheduler yield when available, the timer fallback otherwise
func NewYielder(scheduler bool) Yielder {
	if scheduler {
		return Yield
	}
	return TimerYield
}

// ForEachChunk calls fn for consecutive chunks of items, yielding between chunks
func ForEachChunk[T any](ctx context.Context, items []T, size int, yield Yielder, fn func([]T)) error {
	if size <= 0 {
		size = len(items)
	}
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		fn(items[i:end])
		if err := yield(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Debouncer runs only the last triggered func, after delay of quiet
type Debouncer struct {
	delay time.Duration
	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer makes a debouncer with the delay
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn, cancelling a previously scheduled one
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels the pending func, returns true if one was pending
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return false
	}
	res := d.timer.Stop()
	d.timer = nil
	return res
}
