package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// rateWindow is the number of one-second samples kept for the long average.
const rateWindow = 15

// Counters is a cumulative snapshot of one direction's traffic.
type Counters struct {
	Packets uint64
	Bytes   uint64
	Dropped uint64
}

// rateSample is the traffic seen during one sampling interval.
type rateSample struct {
	timestamp time.Time
	packets   uint64
	bytes     uint64
}

// RateTracker samples a direction's cumulative counters and keeps
// 1-second and 15-second rolling averages.
type RateTracker struct {
	mu             sync.RWMutex
	samples        []rateSample
	sampleInterval time.Duration
	last           Counters

	packetRate1s  atomic.Uint64
	packetRate15s atomic.Uint64
	byteRate1s    atomic.Uint64
	byteRate15s   atomic.Uint64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateTracker creates a tracker sampling every interval. A zero interval
// selects one second.
func NewRateTracker(interval time.Duration) *RateTracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &RateTracker{
		samples:        make([]rateSample, 0, rateWindow),
		sampleInterval: interval,
		stopChan:       make(chan struct{}),
	}
}

// Start begins sampling. read must return the current cumulative counters.
func (rt *RateTracker) Start(read func() Counters) {
	rt.wg.Add(1)
	go rt.samplingLoop(read)
}

// Stop ends sampling. Safe to call more than once, or without Start.
func (rt *RateTracker) Stop() {
	rt.stopOnce.Do(func() {
		close(rt.stopChan)
	})
	rt.wg.Wait()
}

func (rt *RateTracker) samplingLoop(read func() Counters) {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.sampleInterval)
	defer ticker.Stop()

	rt.mu.Lock()
	rt.last = read()
	rt.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			rt.takeSample(read())
		case <-rt.stopChan:
			return
		}
	}
}

// takeSample records the delta since the previous sample and refreshes the
// cached rates.
func (rt *RateTracker) takeSample(now Counters) {
	at := time.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	// Counters only grow; guard against a reset source anyway.
	var packets, bytes uint64
	if now.Packets >= rt.last.Packets {
		packets = now.Packets - rt.last.Packets
	}
	if now.Bytes >= rt.last.Bytes {
		bytes = now.Bytes - rt.last.Bytes
	}

	rt.samples = append(rt.samples, rateSample{timestamp: at, packets: packets, bytes: bytes})
	if len(rt.samples) > rateWindow {
		rt.samples = rt.samples[1:]
	}
	rt.last = now

	rt.updateRates(at)
}

// updateRates must be called with rt.mu held.
func (rt *RateTracker) updateRates(now time.Time) {
	if len(rt.samples) == 0 {
		rt.packetRate1s.Store(0)
		rt.packetRate15s.Store(0)
		rt.byteRate1s.Store(0)
		rt.byteRate15s.Store(0)
		return
	}

	perSecond := func(v uint64) uint64 {
		return uint64(float64(v) / rt.sampleInterval.Seconds())
	}

	latest := rt.samples[len(rt.samples)-1]
	rt.packetRate1s.Store(perSecond(latest.packets))
	rt.byteRate1s.Store(perSecond(latest.bytes))

	window := time.Duration(rateWindow) * rt.sampleInterval
	var packets, bytes uint64
	var count int
	for i := len(rt.samples) - 1; i >= 0; i-- {
		s := rt.samples[i]
		if now.Sub(s.timestamp) > window {
			break
		}
		packets += s.packets
		bytes += s.bytes
		count++
	}
	if count == 0 {
		rt.packetRate15s.Store(0)
		rt.byteRate15s.Store(0)
		return
	}
	rt.packetRate15s.Store(perSecond(packets / uint64(count)))
	rt.byteRate15s.Store(perSecond(bytes / uint64(count)))
}

// Rate1s returns the most recent packets/s and bytes/s.
func (rt *RateTracker) Rate1s() (packets, bytes uint64) {
	return rt.packetRate1s.Load(), rt.byteRate1s.Load()
}

// Rate15s returns packets/s and bytes/s averaged over the window.
func (rt *RateTracker) Rate15s() (packets, bytes uint64) {
	return rt.packetRate15s.Load(), rt.byteRate15s.Load()
}
