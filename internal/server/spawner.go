package server

import (
	"fmt"
	"time"
)

// Work is the body of one transfer. It owns its connection.
type Work func() error

// Handle tracks one spawned worker.
type Handle interface {
	ID() string
	// Done is closed once the worker has finished and its resources can be
	// released.
	Done() <-chan struct{}
	// Err is the worker's result. Only valid after Done is closed.
	Err() error
}

// Spawner isolates a transfer from the accept loop.
type Spawner interface {
	Spawn(id string, work Work) Handle
}

// Completion is the one-shot message a worker sends when its transfer has
// consumed a slot, successfully or not.
type Completion struct {
	ID      string
	Err     error
	Elapsed time.Duration
}

// GoSpawner runs each worker in its own goroutine.
type GoSpawner struct{}

type goHandle struct {
	id   string
	done chan struct{}
	err  error
}

func (h *goHandle) ID() string            { return h.id }
func (h *goHandle) Done() <-chan struct{} { return h.done }
func (h *goHandle) Err() error            { return h.err }

// Spawn starts work in a new goroutine. A panic in work is turned into the
// handle's error.
func (GoSpawner) Spawn(id string, work Work) Handle {
	h := &goHandle{id: id, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("worker %s panicked: %v", id, r)
			}
		}()
		h.err = work()
	}()
	return h
}
