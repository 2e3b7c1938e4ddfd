package relay

import (
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// readResult is one scripted outcome of fakeSource.ReadPacket.
type readResult struct {
	data []byte
	from netip.AddrPort
	err  error
}

// fakeSource is an in-memory PacketSource. Reads block for at most idle
// and then report a deadline timeout, mimicking a descriptor with a read
// deadline armed.
type fakeSource struct {
	ch    chan readResult
	idle  time.Duration
	reads atomic.Int64
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{
		ch:   make(chan readResult, buffer),
		idle: 5 * time.Millisecond,
	}
}

func (f *fakeSource) push(data []byte, from netip.AddrPort) {
	f.ch <- readResult{data: data, from: from}
}

func (f *fakeSource) fail(err error) {
	f.ch <- readResult{err: err}
}

func (f *fakeSource) ReadPacket(buf []byte) (int, netip.AddrPort, error) {
	select {
	case r := <-f.ch:
		f.reads.Add(1)
		if r.err != nil {
			return -1, netip.AddrPort{}, r.err
		}
		return copy(buf, r.data), r.from, nil
	case <-time.After(f.idle):
		return 0, netip.AddrPort{}, os.ErrDeadlineExceeded
	}
}

// deadlineSource records every deadline armed before a read.
type deadlineSource struct {
	*fakeSource
	mu        sync.Mutex
	deadlines []time.Time
	armErr    error
}

func (d *deadlineSource) SetReadDeadline(t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armErr != nil {
		return d.armErr
	}
	d.deadlines = append(d.deadlines, t)
	return nil
}

// recorder collects processed packets, copying them out of queue storage.
type recorder struct {
	mu      sync.Mutex
	packets [][]byte
	senders []netip.AddrPort
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) ProcessTunPacket(pkt []byte) {
	r.record(netip.AddrPort{}, pkt)
}

func (r *recorder) ProcessSockPacket(from netip.AddrPort, pkt []byte) {
	r.record(from, pkt)
}

func (r *recorder) record(from netip.AddrPort, pkt []byte) {
	r.mu.Lock()
	r.packets = append(r.packets, append([]byte(nil), pkt...))
	r.senders = append(r.senders, from)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func (r *recorder) snapshot() ([][]byte, []netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.packets...), append([]netip.AddrPort(nil), r.senders...)
}

// publish copies data into a fresh reservation and publishes it.
func publish(t *testing.T, q *PacketQueue, data []byte, from netip.AddrPort) {
	t.Helper()
	idx, ok := q.Reserve()
	require.True(t, ok, "reservation should succeed")
	n := copy(q.Buffer(idx), data)
	q.Publish(idx, n, from)
}

func newTestQueue(t *testing.T, capacity int) *PacketQueue {
	t.Helper()
	q, err := NewPacketQueue("test", capacity, 64, 20*time.Millisecond)
	require.NoError(t, err)
	return q
}

var (
	peerA = netip.MustParseAddrPort("192.0.2.1:3653")
	peerB = netip.MustParseAddrPort("[2001:db8::7]:3653")
)
