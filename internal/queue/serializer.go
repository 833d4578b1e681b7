// Package queue runs tasks one at a time per key, in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned for tasks enqueued after Close.
var ErrClosed = errors.New("serializer closed")

// Task is one unit of work for a key.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

// chain holds the pending jobs for a key. A chain exists only while it has
// a running worker.
type chain struct {
	pending []job
}

// Serializer guarantees at most one in-flight task per key. Tasks for one
// key run strictly in Enqueue order; distinct keys run concurrently. A
// failing or panicking task does not stop the tasks queued behind it.
type Serializer struct {
	mu     sync.Mutex
	chains map[string]*chain
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewSerializer(logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		chains: make(map[string]*chain),
		logger: logger,
	}
}

// Enqueue schedules task after every task previously enqueued for key.
// The returned channel receives the task's result exactly once.
func (s *Serializer) Enqueue(ctx context.Context, key string, task Task) <-chan error {
	done := make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		done <- ErrClosed
		return done
	}
	j := job{ctx: ctx, task: task, done: done}
	if c, ok := s.chains[key]; ok {
		c.pending = append(c.pending, j)
		s.mu.Unlock()
		return done
	}
	c := &chain{pending: []job{j}}
	s.chains[key] = c
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(key, c)
	return done
}

// Do enqueues task and waits for it to finish or ctx to end.
func (s *Serializer) Do(ctx context.Context, key string, task Task) error {
	select {
	case err := <-s.Enqueue(ctx, key, task):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serializer) drain(key string, c *chain) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(c.pending) == 0 {
			delete(s.chains, key)
			s.mu.Unlock()
			return
		}
		j := c.pending[0]
		c.pending[0] = job{}
		c.pending = c.pending[1:]
		s.mu.Unlock()

		j.done <- s.run(key, j)
	}
}

func (s *Serializer) run(key string, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "key", key, "panic", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return j.task(j.ctx)
}

// Active returns the number of keys with queued or running tasks.
func (s *Serializer) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chains)
}

// Close rejects new tasks and waits for queued ones to finish or ctx to end.
func (s *Serializer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
