package relay

import "errors"

var (
	// ErrQueueClosed is returned by blocking waits once the queue is closed
	// or the caller's context is done.
	ErrQueueClosed = errors.New("packet queue closed")

	// ErrShutdown is returned by read loops interrupted by shutdown.
	ErrShutdown = errors.New("relay shutting down")

	// ErrInvalidCapacity rejects queues that cannot hold a single packet.
	ErrInvalidCapacity = errors.New("queue capacity must be at least 2")

	// ErrInvalidMTU rejects non-positive slot sizes.
	ErrInvalidMTU = errors.New("slot MTU must be positive")

	// ErrNilSource is returned when a pump is built without a descriptor.
	ErrNilSource = errors.New("packet source cannot be nil")

	// ErrNilProcessor is returned when a dispatcher has nothing to hand packets to.
	ErrNilProcessor = errors.New("packet processor cannot be nil")
)
