// Package worker offloads CPU-bound tasks to a single background execution context.
// The broker assigns monotonic correlation ids, resolves tasks by the id of the response and
// rejects every pending task when the context fails. It never recreates a failed context and
// imposes no timeout, a lost response leaves the task pending until the caller gives up.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// errors returned by the broker
var (
	ErrUnavailable = errors.New("worker not available")
	ErrContextLost = errors.New("worker context failed")
	ErrTerminated  = errors.New("worker terminated")
)

// Task is a dispatched request waiting for its response
type Task struct {
	ID   int64
	Type TaskType

	done chan struct{}
	res  Result
	err  error
}

// Wait blocks until the task is resolved, rejected or ctx is done
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Broker owns one background context and the map of pending tasks
type Broker struct {
	mu         sync.Mutex
	bgCtx      Context
	terminated bool
	lastID     int64
	pending    map[int64]*Task
}

// NewBroker creates the background context with factory. A factory failure leaves the broker
// degraded, every call fails with ErrUnavailable.
func NewBroker(factory ContextFactory) *Broker {
	b := &Broker{pending: map[int64]*Task{}}
	if factory == nil {
		log.Printf("[WARN] worker not available, no context factory")
		return b
	}
	bgCtx, err := factory(b.handleMessage, b.handleError)
	if err != nil {
		log.Printf("[WARN] worker not available: %v", err)
		return b
	}
	b.bgCtx = bgCtx
	return b
}

// Available reports whether tasks can be dispatched
func (b *Broker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bgCtx != nil
}

// Dispatch sends a request and returns the pending task
func (b *Broker) Dispatch(taskType TaskType, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("can't marshal %s payload: %w", taskType, err)
	}

	b.mu.Lock()
	if b.bgCtx == nil {
		terminated := b.terminated
		b.mu.Unlock()
		if terminated {
			return nil, ErrTerminated
		}
		return nil, ErrUnavailable
	}
	b.lastID++
	task := &Task{ID: b.lastID, Type: taskType, done: make(chan struct{})}
	b.pending[task.ID] = task
	bgCtx := b.bgCtx
	b.mu.Unlock()

	msg, err := json.Marshal(Request{Type: taskType, Payload: data, TaskID: task.ID})
	if err != nil {
		b.drop(task.ID)
		return nil, fmt.Errorf("can't marshal %s request: %w", taskType, err)
	}
	if err := bgCtx.PostMessage(msg); err != nil {
		b.drop(task.ID)
		return nil, fmt.Errorf("can't post %s task %d: %w", taskType, task.ID, err)
	}
	return task, nil
}

// Execute dispatches a task and waits for its result
func (b *Broker) Execute(ctx context.Context, taskType TaskType, payload any) (Result, error) {
	task, err := b.Dispatch(taskType, payload)
	if err != nil {
		return Result{}, err
	}
	return task.Wait(ctx)
}

// Pending returns the number of tasks waiting for a response
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Terminate destroys the background context and forgets pending tasks without resolving them
func (b *Broker) Terminate() {
	b.mu.Lock()
	bgCtx := b.bgCtx
	b.bgCtx = nil
	b.terminated = true
	b.pending = map[int64]*Task{}
	b.mu.Unlock()

	if bgCtx != nil {
		bgCtx.Terminate()
		log.Printf("[DEBUG] worker terminated")
	}
}

func (b *Broker) drop(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
}

func (b *Broker) handleMessage(data []byte) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Printf("[WARN] can't decode worker message: %v", err)
		return
	}

	b.mu.Lock()
	task, ok := b.pending[resp.TaskID]
	if ok {
		delete(b.pending, resp.TaskID)
	}
	b.mu.Unlock()

	if !ok {
		log.Printf("[DEBUG] ignore worker response for unknown task %d", resp.TaskID)
		return
	}
	task.res = Result{Type: resp.Type, Fields: resp.Fields}
	close(task.done)
}

// handleError rejects all pending tasks, the context is kept as is
func (b *Broker) handleError(err error) {
	log.Printf("[ERROR] worker error: %v", err)
	b.mu.Lock()
	pending := b.pending
	b.pending = map[int64]*Task{}
	b.mu.Unlock()

	for _, task := range pending {
		task.err = fmt.Errorf("%w: %v", ErrContextLost, err)
		close(task.done)
	}
}
