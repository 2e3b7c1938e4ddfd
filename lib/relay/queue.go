package relay

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

const (
	// DefaultQueueSize is the number of slots per direction. Usable capacity
	// is one less.
	DefaultQueueSize = 32

	// DefaultPollInterval bounds how long a blocked consumer sleeps without
	// re-checking its queue and the shutdown flag.
	DefaultPollInterval = time.Second
)

// PacketQueue is a bounded ring of MTU-sized packet slots for one relay
// direction.
//
// freeIndex is the next slot to reserve and curIndex the slot most recently
// dequeued. The queue is full when they are equal and empty when
// curIndex+1 reaches the published boundary, so at most size-1 packets are
// live at once.
//
// The queue assumes a single producer. Reserve, Publish and Unreserve must
// be called from one goroutine, with at most one reservation outstanding.
type PacketQueue struct {
	name string

	mu   sync.Mutex
	cond *sync.Cond

	arena []byte
	slots []slot
	size  int
	mtu   int

	freeIndex    int
	curIndex     int
	publishIndex int
	reserved     bool
	closed       bool

	pollInterval time.Duration

	enqueued atomic.Uint64
	bytes    atomic.Uint64
	dropped  atomic.Uint64
}

// NewPacketQueue allocates an empty queue of capacity slots, each able to
// hold mtu bytes. A zero pollInterval selects DefaultPollInterval.
func NewPacketQueue(name string, capacity, mtu int, pollInterval time.Duration) (*PacketQueue, error) {
	if capacity < 2 {
		return nil, oops.
			With("queue", name).
			With("capacity", capacity).
			Wrapf(ErrInvalidCapacity, "cannot create packet queue")
	}
	if mtu < 1 {
		return nil, oops.
			With("queue", name).
			With("mtu", mtu).
			Wrapf(ErrInvalidMTU, "cannot create packet queue")
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	q := &PacketQueue{
		name:         name,
		arena:        make([]byte, capacity*mtu),
		slots:        make([]slot, capacity),
		size:         capacity,
		mtu:          mtu,
		curIndex:     capacity - 1,
		pollInterval: pollInterval,
	}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.slots {
		q.slots[i].buf = q.arena[i*mtu : (i+1)*mtu : (i+1)*mtu]
	}

	log.WithFields(logger.Fields{
		"at":       "NewPacketQueue",
		"queue":    name,
		"capacity": capacity,
		"mtu":      mtu,
	}).Debug("created packet queue")
	return q, nil
}

// Name returns the queue's direction label.
func (q *PacketQueue) Name() string {
	return q.name
}

// Cap returns the number of packets the queue can hold, one less than its
// slot count.
func (q *PacketQueue) Cap() int {
	return q.size - 1
}

// MTU returns the size of each slot.
func (q *PacketQueue) MTU() int {
	return q.mtu
}

// Len returns the number of published packets awaiting dequeue.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return (q.publishIndex - q.curIndex - 1 + q.size) % q.size
}

// IsFull reports whether a reservation would be rejected.
func (q *PacketQueue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isFullLocked()
}

// IsEmpty reports whether there is nothing to dequeue.
func (q *PacketQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isEmptyLocked()
}

func (q *PacketQueue) isFullLocked() bool {
	return q.freeIndex == q.curIndex
}

func (q *PacketQueue) isEmptyLocked() bool {
	return (q.curIndex+1)%q.size == q.publishIndex
}

// Reserve claims the next free slot for the producer. It returns false when
// the queue is full or a reservation is already outstanding; nothing about
// the queue changes in that case and the caller must discard its data.
func (q *PacketQueue) Reserve() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isFullLocked() || q.reserved {
		return 0, false
	}
	idx := q.freeIndex
	q.freeIndex = (q.freeIndex + 1) % q.size
	q.reserved = true
	return idx, true
}

// Buffer returns the full MTU-sized storage of a reserved slot. It is
// written without the queue lock; the reserving goroutine owns the slot
// until it calls Publish or Unreserve.
func (q *PacketQueue) Buffer(idx int) []byte {
	return q.slots[idx].buf
}

// Publish makes a filled slot visible to the consumer and wakes one waiter.
func (q *PacketQueue) Publish(idx, length int, from netip.AddrPort) {
	s := &q.slots[idx]
	s.length = length
	s.from = from

	q.mu.Lock()
	q.publishIndex = (idx + 1) % q.size
	q.reserved = false
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.bytes.Add(uint64(length))
	q.cond.Signal()
}

// Unreserve hands back a reservation that was never filled.
func (q *PacketQueue) Unreserve(idx int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.reserved || (idx+1)%q.size != q.freeIndex {
		log.WithFields(logger.Fields{
			"at":    "PacketQueue.Unreserve",
			"queue": q.name,
			"slot":  idx,
		}).Warn("ignoring unreserve of a slot that is not the outstanding reservation")
		return
	}
	q.freeIndex = idx
	q.reserved = false
}

// Dequeue pops the oldest published packet without blocking. The returned
// view stays valid until the next Dequeue; the slot it lives in cannot be
// reserved before then.
func (q *PacketQueue) Dequeue() (Packet, bool) {
	q.mu.Lock()
	if q.isEmptyLocked() {
		q.mu.Unlock()
		return Packet{}, false
	}
	q.curIndex = (q.curIndex + 1) % q.size
	s := &q.slots[q.curIndex]
	p := Packet{Data: s.buf[:s.length], From: s.from}
	q.mu.Unlock()
	return p, true
}

// WaitNonEmpty sleeps until a packet is available, the queue is closed or
// timeout elapses, whichever comes first. It reports whether the queue is
// non-empty; timing out is not an error.
func (q *PacketQueue) WaitNonEmpty(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.isEmptyLocked() && !q.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		q.waitLocked(remaining)
	}
	return !q.isEmptyLocked()
}

// BlockUntilNonEmpty sleeps until a packet is available. It wakes at least
// once per poll interval to re-check the queue and ctx, and returns
// ErrQueueClosed once either the queue is closed or ctx is done.
func (q *PacketQueue) BlockUntilNonEmpty(ctx context.Context) error {
	for {
		if !q.IsEmpty() {
			return nil
		}
		if q.isClosed() || ctx.Err() != nil {
			return ErrQueueClosed
		}
		if q.WaitNonEmpty(q.pollInterval) {
			return nil
		}
	}
}

func (q *PacketQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// waitLocked blocks on the wake condition for at most timeout. Wakeups may
// be spurious; callers re-check their predicate. q.mu must be held.
func (q *PacketQueue) waitLocked(timeout time.Duration) {
	t := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	q.cond.Wait()
	t.Stop()
}

// Close wakes every waiter and makes further blocking waits return.
// Packets already queued can still be dequeued.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// recordDrop counts a packet discarded because the queue was full.
func (q *PacketQueue) recordDrop() uint64 {
	return q.dropped.Add(1)
}

// Dropped returns the number of packets discarded while the queue was full.
func (q *PacketQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Enqueued returns the number of packets published so far.
func (q *PacketQueue) Enqueued() uint64 {
	return q.enqueued.Load()
}

// Bytes returns the total payload published so far.
func (q *PacketQueue) Bytes() uint64 {
	return q.bytes.Load()
}
