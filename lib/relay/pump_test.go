package relay

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestPump(t *testing.T, capacity int) (*Pump, *fakeSource, *PacketQueue) {
	t.Helper()
	q := newTestQueue(t, capacity)
	src := newFakeSource(64)
	p, err := NewPump("test", src, q)
	require.NoError(t, err)
	return p, src, q
}

func TestNewPumpRejectsNilSource(t *testing.T) {
	q := newTestQueue(t, 4)
	_, err := NewPump("test", nil, q)
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestPumpEnqueuePublishesWithSender(t *testing.T) {
	p, src, q := newTestPump(t, 4)
	src.push([]byte("hello"), peerA)

	require.NoError(t, p.Enqueue(context.Background()))

	pkt, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "hello", string(pkt.Data))
	assert.Equal(t, peerA, pkt.From)
	assert.Equal(t, uint64(1), q.Enqueued())
	assert.Equal(t, uint64(5), q.Bytes())
}

func TestPumpEnqueueWhenFullLeavesSourceUntouched(t *testing.T) {
	p, src, q := newTestPump(t, 2)
	publish(t, q, []byte("occupant"), netip.AddrPort{})
	require.True(t, q.IsFull())

	src.push([]byte("pending"), peerA)
	require.NoError(t, p.Enqueue(context.Background()))

	assert.Zero(t, src.reads.Load(), "a full queue must not consume source data")
	assert.Len(t, src.ch, 1)
	assert.Zero(t, q.Dropped())
}

func TestPumpRetriesTransientErrors(t *testing.T) {
	p, src, q := newTestPump(t, 4)
	src.fail(unix.EINTR)
	src.fail(unix.EAGAIN)
	src.fail(os.ErrDeadlineExceeded)
	src.push(nil, peerB) // zero-length read is retried, not end-of-stream
	src.push([]byte("payload"), peerB)

	require.NoError(t, p.Enqueue(context.Background()))

	pkt, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "payload", string(pkt.Data))
	assert.Equal(t, peerB, pkt.From)
	assert.Equal(t, int64(5), src.reads.Load())
}

func TestPumpFatalErrorReleasesReservation(t *testing.T) {
	p, src, q := newTestPump(t, 4)
	broken := errors.New("descriptor gone")
	src.fail(broken)

	err := p.Enqueue(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
	assert.NotErrorIs(t, err, ErrShutdown)

	assert.True(t, q.IsEmpty())
	assert.False(t, q.reserved)
	idx, ok := q.Reserve()
	require.True(t, ok)
	assert.Zero(t, idx, "the aborted slot is reserved again")
}

func TestPumpEnqueueShutdown(t *testing.T) {
	p, _, q := newTestPump(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Enqueue(ctx)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, q.reserved)
}

func TestPumpDrainDiscardsAndCounts(t *testing.T) {
	p, src, q := newTestPump(t, 2)
	publish(t, q, []byte("occupant"), netip.AddrPort{})
	src.push([]byte("victim-1"), peerA)
	src.push([]byte("victim-2"), peerA)

	require.NoError(t, p.Drain(context.Background()))
	require.NoError(t, p.Drain(context.Background()))

	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 1, q.Len())
	pkt, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "occupant", string(pkt.Data))
}

func TestPumpDrainRetriesThenFails(t *testing.T) {
	p, src, q := newTestPump(t, 2)
	src.fail(unix.EINTR)
	src.fail(unix.EBADF)

	err := p.Drain(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.Zero(t, q.Dropped())
}

func TestPumpDrainEnqueuesWhenSlotFreed(t *testing.T) {
	p, src, q := newTestPump(t, 2)
	publish(t, q, []byte("occupant"), netip.AddrPort{})
	require.True(t, q.IsFull())

	_, ok := q.Dequeue()
	require.True(t, ok)
	src.push([]byte("arrived-late"), peerB)

	require.NoError(t, p.Drain(context.Background()))

	assert.Zero(t, q.Dropped())
	pkt, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "arrived-late", string(pkt.Data))
	assert.Equal(t, peerB, pkt.From)
}

func TestPumpRunRecoversAfterOverflow(t *testing.T) {
	p, src, q := newTestPump(t, 4)
	for _, s := range []string{"a", "b", "c"} {
		publish(t, q, []byte(s), peerA)
	}
	require.True(t, q.IsFull())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// Let the pump settle into the overflow path before emptying the queue.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		_, ok := q.Dequeue()
		require.True(t, ok)
	}
	require.True(t, q.IsEmpty())

	src.push([]byte("fresh"), peerB)
	require.Eventually(t, func() bool {
		return q.Len() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, q.Dropped())
	assert.Equal(t, uint64(4), q.Enqueued())
	pkt, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "fresh", string(pkt.Data))
	assert.Equal(t, peerB, pkt.From)
}

func TestPumpRunDropsNewestWhenFull(t *testing.T) {
	p, src, q := newTestPump(t, 4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		src.push([]byte(s), peerA)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return q.Dropped() == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, want := range []string{"a", "b", "c"} {
		pkt, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, want, string(pkt.Data))
	}
	assert.True(t, q.IsEmpty())
}

func TestPumpRunStopsOnCancel(t *testing.T) {
	p, _, _ := newTestPump(t, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not observe shutdown")
	}
}

func TestPumpRunReturnsFatalError(t *testing.T) {
	p, src, _ := newTestPump(t, 4)
	src.fail(unix.EIO)

	select {
	case err := <-runAsync(p.Run):
		require.Error(t, err)
		assert.ErrorIs(t, err, unix.EIO)
	case <-time.After(time.Second):
		t.Fatal("pump did not return the read error")
	}
}

func TestPumpArmsReadDeadline(t *testing.T) {
	q := newTestQueue(t, 4)
	src := &deadlineSource{fakeSource: newFakeSource(4)}
	p, err := NewPump("deadline", src, q)
	require.NoError(t, err)

	src.push([]byte("x"), netip.AddrPort{})
	before := time.Now()
	require.NoError(t, p.Enqueue(context.Background()))

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.deadlines, 1)
	assert.WithinDuration(t, before.Add(q.pollInterval), src.deadlines[0], 100*time.Millisecond)
}

func TestPumpDeadlineFailureIsFatal(t *testing.T) {
	q := newTestQueue(t, 4)
	src := &deadlineSource{fakeSource: newFakeSource(4), armErr: os.ErrClosed}
	p, err := NewPump("deadline", src, q)
	require.NoError(t, err)

	err = p.Enqueue(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.False(t, q.reserved)
}

func runAsync(fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn(context.Background()) }()
	return done
}
