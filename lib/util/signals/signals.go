// Package signals dispatches process signals to registered handlers:
// interrupt (SIGINT, SIGTERM), reload (SIGHUP) and status (SIGUSR1).
package signals

import (
	"fmt"
	"os"
	"sync"
)

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID identifies a registration so it can be removed again.
type HandlerID int

type registeredHandler struct {
	id HandlerID
	fn Handler
}

// registry is an ordered, concurrency-safe list of handlers for one signal
// class.
type registry struct {
	kind     string
	handlers []registeredHandler
}

var (
	mu       sync.RWMutex
	nextID   HandlerID
	stopOnce sync.Once

	reloaders    = &registry{kind: "reload"}
	interrupters = &registry{kind: "interrupt"}
	reporters    = &registry{kind: "status"}
)

func (r *registry) register(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	mu.Lock()
	defer mu.Unlock()
	id := nextID
	nextID++
	r.handlers = append(r.handlers, registeredHandler{id: id, fn: f})
	return id
}

func (r *registry) deregister(id HandlerID) {
	mu.Lock()
	defer mu.Unlock()
	for i, h := range r.handlers {
		if h.id == id {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// run calls every handler in registration order. A panicking handler does
// not prevent the rest from running.
func (r *registry) run() {
	mu.RLock()
	snapshot := make([]registeredHandler, len(r.handlers))
	copy(snapshot, r.handlers)
	mu.RUnlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					// No logger here; stderr keeps the panic visible.
					fmt.Fprintf(os.Stderr, "signals: panic in %s handler: %v\n", r.kind, rec)
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP.
// Nil handlers are ignored and return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return reloaders.register(f)
}

// DeregisterReloadHandler removes a reload handler.
func DeregisterReloadHandler(id HandlerID) {
	reloaders.deregister(id)
}

// RegisterInterruptHandler registers a handler called on SIGINT/SIGTERM.
// Nil handlers are ignored and return -1.
func RegisterInterruptHandler(f Handler) HandlerID {
	return interrupters.register(f)
}

// DeregisterInterruptHandler removes an interrupt handler.
func DeregisterInterruptHandler(id HandlerID) {
	interrupters.deregister(id)
}

// RegisterStatusHandler registers a handler called on SIGUSR1, used to
// dump relay counters on demand. Nil handlers are ignored and return -1.
func RegisterStatusHandler(f Handler) HandlerID {
	return reporters.register(f)
}

// DeregisterStatusHandler removes a status handler.
func DeregisterStatusHandler(id HandlerID) {
	reporters.deregister(id)
}

func handleReload()      { reloaders.run() }
func handleInterrupted() { interrupters.run() }
func handleStatus()      { reporters.run() }

// StopHandle makes Handle return. Safe to call multiple times.
func StopHandle() {
	stopOnce.Do(func() {
		stopNotify()
		close(sigChan)
	})
}
