package relay

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

const (
	// TunQueueName labels the TUN-to-socket direction.
	TunQueueName = "tun"
	// SockQueueName labels the socket-to-TUN direction.
	SockQueueName = "sock"

	// DefaultMTU is the slot size used when none is configured.
	DefaultMTU = 1500
)

// Config sizes the two relay queues.
type Config struct {
	// QueueSize is the slot count per direction; QueueSize-1 packets fit.
	QueueSize int
	// MTU is the largest packet a slot can hold.
	MTU int
	// PollInterval is the liveness tick of blocked waits and bounded reads.
	PollInterval time.Duration
	// StatsInterval is the throughput sampling period. Zero selects one second.
	StatsInterval time.Duration
}

// DefaultConfig returns the stock relay sizing.
func DefaultConfig() Config {
	return Config{
		QueueSize:     DefaultQueueSize,
		MTU:           DefaultMTU,
		PollInterval:  DefaultPollInterval,
		StatsInterval: time.Second,
	}
}

// DirectionStats describes one relay direction.
type DirectionStats struct {
	Counters
	Delivered     uint64
	Queued        int
	PacketRate1s  uint64
	ByteRate1s    uint64
	PacketRate15s uint64
	ByteRate15s   uint64
}

// Stats is a snapshot of both relay directions.
type Stats struct {
	Tun  DirectionStats
	Sock DirectionStats
}

// direction groups everything owned by one side of the relay.
type direction struct {
	queue      *PacketQueue
	pump       *Pump
	dispatcher *Dispatcher
	rates      *RateTracker
}

func (d *direction) counters() Counters {
	return Counters{
		Packets: d.queue.Enqueued(),
		Bytes:   d.queue.Bytes(),
		Dropped: d.queue.Dropped(),
	}
}

func (d *direction) stats() DirectionStats {
	p15, b15 := d.rates.Rate15s()
	p1, b1 := d.rates.Rate1s()
	return DirectionStats{
		Counters:      d.counters(),
		Delivered:     d.dispatcher.Delivered(),
		Queued:        d.queue.Len(),
		PacketRate1s:  p1,
		ByteRate1s:    b1,
		PacketRate15s: p15,
		ByteRate15s:   b15,
	}
}

// Relay runs both directions between the TUN device and the UDP socket.
type Relay struct {
	tun  direction
	sock direction

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewRelay wires the two descriptors to their processors through a pair of
// freshly allocated queues.
func NewRelay(cfg Config, tunSrc, sockSrc PacketSource, tp TunProcessor, sp SockProcessor) (*Relay, error) {
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	r := &Relay{}
	var err error

	if r.tun.queue, err = NewPacketQueue(TunQueueName, cfg.QueueSize, cfg.MTU, cfg.PollInterval); err != nil {
		return nil, err
	}
	if r.sock.queue, err = NewPacketQueue(SockQueueName, cfg.QueueSize, cfg.MTU, cfg.PollInterval); err != nil {
		return nil, err
	}
	if r.tun.pump, err = NewPump(TunQueueName, tunSrc, r.tun.queue); err != nil {
		return nil, oops.With("direction", TunQueueName).Wrapf(err, "cannot create relay")
	}
	if r.sock.pump, err = NewPump(SockQueueName, sockSrc, r.sock.queue); err != nil {
		return nil, oops.With("direction", SockQueueName).Wrapf(err, "cannot create relay")
	}
	if r.tun.dispatcher, err = NewTunDispatcher(r.tun.queue, tp); err != nil {
		return nil, oops.With("direction", TunQueueName).Wrapf(err, "cannot create relay")
	}
	if r.sock.dispatcher, err = NewSockDispatcher(r.sock.queue, sp); err != nil {
		return nil, oops.With("direction", SockQueueName).Wrapf(err, "cannot create relay")
	}
	r.tun.rates = NewRateTracker(cfg.StatsInterval)
	r.sock.rates = NewRateTracker(cfg.StatsInterval)

	return r, nil
}

// Run relays packets until Stop is called, ctx is done, or a descriptor
// fails. A descriptor failure stops both directions and is returned; the
// caller is expected to treat it as fatal.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return nil
	}
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	r.tun.rates.Start(r.tun.counters)
	r.sock.rates.Start(r.sock.counters)
	defer r.tun.rates.Stop()
	defer r.sock.rates.Stop()

	log.WithFields(logger.Fields{
		"at":         "Relay.Run",
		"queue_size": r.tun.queue.Cap() + 1,
		"mtu":        r.tun.queue.MTU(),
	}).Info("relay started")

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range []*direction{&r.tun, &r.sock} {
		g.Go(func() error { return d.pump.Run(gctx) })
		g.Go(func() error { return d.dispatcher.Run(gctx) })
	}

	// Closing the queues wakes blocked dispatchers without waiting for
	// their next poll tick.
	go func() {
		<-gctx.Done()
		r.tun.queue.Close()
		r.sock.queue.Close()
	}()

	err := g.Wait()
	if err != nil {
		log.WithFields(logger.Fields{
			"at": "Relay.Run",
		}).WithError(err).Error("relay stopped on descriptor failure")
		return err
	}

	log.WithFields(logger.Fields{
		"at":           "Relay.Run",
		"tun_dropped":  r.tun.queue.Dropped(),
		"sock_dropped": r.sock.queue.Dropped(),
	}).Info("relay stopped")
	return nil
}

// Stop asks Run to return. Safe to call more than once and before Run.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}

// Stats returns the current counters and rates of both directions.
func (r *Relay) Stats() Stats {
	return Stats{Tun: r.tun.stats(), Sock: r.sock.stats()}
}

// TunQueue exposes the TUN-origin queue.
func (r *Relay) TunQueue() *PacketQueue {
	return r.tun.queue
}

// SockQueue exposes the socket-origin queue.
func (r *Relay) SockQueue() *PacketQueue {
	return r.sock.queue
}
