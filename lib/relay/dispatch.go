package relay

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"

	"github.com/go-i2p/logger"
)

// TunProcessor handles packets read from the TUN device.
// pkt is only valid for the duration of the call.
type TunProcessor interface {
	ProcessTunPacket(pkt []byte)
}

// SockProcessor handles datagrams read from the UDP socket.
// pkt is only valid for the duration of the call.
type SockProcessor interface {
	ProcessSockPacket(from netip.AddrPort, pkt []byte)
}

// TunProcessorFunc adapts a function to TunProcessor.
type TunProcessorFunc func(pkt []byte)

func (f TunProcessorFunc) ProcessTunPacket(pkt []byte) { f(pkt) }

// SockProcessorFunc adapts a function to SockProcessor.
type SockProcessorFunc func(from netip.AddrPort, pkt []byte)

func (f SockProcessorFunc) ProcessSockPacket(from netip.AddrPort, pkt []byte) { f(from, pkt) }

// Dispatcher is the consumer side of one relay direction.
type Dispatcher struct {
	name    string
	queue   *PacketQueue
	process func(Packet)

	delivered atomic.Uint64
}

// NewTunDispatcher hands packets from queue to p.
func NewTunDispatcher(queue *PacketQueue, p TunProcessor) (*Dispatcher, error) {
	if p == nil {
		return nil, ErrNilProcessor
	}
	return &Dispatcher{
		name:    queue.Name(),
		queue:   queue,
		process: func(pkt Packet) { p.ProcessTunPacket(pkt.Data) },
	}, nil
}

// NewSockDispatcher hands packets from queue, with their sender, to p.
func NewSockDispatcher(queue *PacketQueue, p SockProcessor) (*Dispatcher, error) {
	if p == nil {
		return nil, ErrNilProcessor
	}
	return &Dispatcher{
		name:    queue.Name(),
		queue:   queue,
		process: func(pkt Packet) { p.ProcessSockPacket(pkt.From, pkt.Data) },
	}, nil
}

// Dispatch processes at most one packet without blocking and reports
// whether it did. The processor runs with no queue lock held.
func (d *Dispatcher) Dispatch() bool {
	pkt, ok := d.queue.Dequeue()
	if !ok {
		return false
	}
	d.process(pkt)
	d.delivered.Add(1)
	return true
}

// Delivered returns the number of packets handed to the processor.
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Run dispatches until ctx is done or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.WithFields(logger.Fields{
		"at":    "Dispatcher.Run",
		"queue": d.name,
	}).Debug("starting dispatcher")

	for ctx.Err() == nil {
		if d.Dispatch() {
			continue
		}
		if err := d.queue.BlockUntilNonEmpty(ctx); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				break
			}
			return err
		}
	}

	log.WithFields(logger.Fields{
		"at":        "Dispatcher.Run",
		"queue":     d.name,
		"delivered": d.delivered.Load(),
	}).Debug("dispatcher stopped")
	return nil
}
