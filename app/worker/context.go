package worker

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// Context is a background execution context exchanging json messages
type Context interface {
	PostMessage(data []byte) error
	Terminate()
}

// ContextFactory creates a context delivering responses to onMessage and context-level failures to onError
type ContextFactory func(onMessage func([]byte), onError func(error)) (Context, error)

// Handler processes a single request inside the background context
type Handler interface {
	Handle(req Request) Response
}

// HandlerFunc adapts a func to Handler
type HandlerFunc func(req Request) Response

// Handle calls f(req)
func (f HandlerFunc) Handle(req Request) Response { return f(req) }

// LocalContext runs a handler on a single goroutine, messages are processed in FIFO order
type LocalContext struct {
	handler   Handler
	onMessage func([]byte)
	onError   func(error)

	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

// NewLocalFactory returns a factory of goroutine contexts with the queue size
func NewLocalFactory(h Handler, queue int) ContextFactory {
	return func(onMessage func([]byte), onError func(error)) (Context, error) {
		if h == nil {
			return nil, fmt.Errorf("no handler for background context")
		}
		if queue <= 0 {
			queue = 1
		}
		c := &LocalContext{handler: h, onMessage: onMessage, onError: onError,
			queue: make(chan []byte, queue), done: make(chan struct{})}
		go c.run()
		return c, nil
	}
}

// PostMessage queues data, blocks while the queue is full
func (c *LocalContext) PostMessage(data []byte) error {
	select {
	case <-c.done:
		return ErrTerminated
	default:
	}
	select {
	case c.queue <- data:
		return nil
	case <-c.done:
		return ErrTerminated
	}
}

// Terminate stops the context, queued messages are dropped
func (c *LocalContext) Terminate() {
	c.once.Do(func() { close(c.done) })
}

func (c *LocalContext) run() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			c.process(data)
		}
	}
}

func (c *LocalContext) process(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[DEBUG] background context panic: %v\n%s", r, debug.Stack())
			c.fail(fmt.Errorf("background context panic: %v", r))
		}
	}()

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.fail(fmt.Errorf("can't decode message: %w", err))
		return
	}
	resp := c.handler.Handle(req)
	resp.TaskID = req.TaskID
	out, err := json.Marshal(resp)
	if err != nil {
		c.fail(fmt.Errorf("can't encode response: %w", err))
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	c.onMessage(out)
}

func (c *LocalContext) fail(err error) {
	select {
	case <-c.done:
		return
	default:
	}
	c.onError(err)
}
