package relay

import (
	"context"
	"errors"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
)

// dropWarnInterval limits how often sustained overflow is reported.
const dropWarnInterval = 5 * time.Second

// Pump is the producer side of one relay direction. It moves packets from
// a PacketSource into a PacketQueue, discarding them when the queue is full.
type Pump struct {
	name  string
	src   PacketSource
	queue *PacketQueue
	poll  time.Duration

	scratch  []byte
	dropWarn rate.Sometimes
}

// NewPump binds src to queue. Reads are bounded by the queue's poll
// interval when src supports deadlines.
func NewPump(name string, src PacketSource, queue *PacketQueue) (*Pump, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	return &Pump{
		name:     name,
		src:      src,
		queue:    queue,
		poll:     queue.pollInterval,
		scratch:  make([]byte, queue.MTU()),
		dropWarn: rate.Sometimes{First: 1, Interval: dropWarnInterval},
	}, nil
}

// Enqueue reads one packet into the queue. When the queue is full it
// returns at once without touching the source, leaving the data pending
// at the descriptor.
func (p *Pump) Enqueue(ctx context.Context) error {
	idx, ok := p.queue.Reserve()
	if !ok {
		return nil
	}

	n, from, err := readRetry(ctx, p.name, p.src, p.queue.Buffer(idx), p.poll)
	if err != nil {
		p.queue.Unreserve(idx)
		return err
	}
	p.queue.Publish(idx, n, from)
	return nil
}

// Drain is the overflow path, used while the queue is full so the
// descriptor does not stay readable forever. It reads one packet into
// scratch and throws it away if the queue is still full once the packet
// has arrived. If the consumer freed a slot in the meantime the packet is
// enqueued instead.
func (p *Pump) Drain(ctx context.Context) error {
	n, from, err := readRetry(ctx, p.name, p.src, p.scratch, p.poll)
	if err != nil {
		return err
	}
	if idx, ok := p.queue.Reserve(); ok {
		copy(p.queue.Buffer(idx), p.scratch[:n])
		p.queue.Publish(idx, n, from)
		return nil
	}
	total := p.queue.recordDrop()
	p.dropWarn.Do(func() {
		log.WithFields(logger.Fields{
			"at":      "Pump.Drain",
			"queue":   p.name,
			"size":    n,
			"from":    from,
			"dropped": total,
		}).Warn("queue full, dropping packet")
	})
	return nil
}

// Run pumps until ctx is done or the source fails. It returns nil on
// shutdown and the read error otherwise.
func (p *Pump) Run(ctx context.Context) error {
	log.WithFields(logger.Fields{
		"at":    "Pump.Run",
		"queue": p.name,
	}).Debug("starting pump")

	for ctx.Err() == nil {
		var err error
		if p.queue.IsFull() {
			err = p.Drain(ctx)
		} else {
			err = p.Enqueue(ctx)
		}
		if errors.Is(err, ErrShutdown) {
			break
		}
		if err != nil {
			log.WithFields(logger.Fields{
				"at":    "Pump.Run",
				"queue": p.name,
			}).WithError(err).Error("packet source failed")
			return err
		}
	}

	log.WithFields(logger.Fields{
		"at":    "Pump.Run",
		"queue": p.name,
	}).Debug("pump stopped")
	return nil
}
