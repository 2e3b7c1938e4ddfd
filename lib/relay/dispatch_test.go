package relay

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcherRejectsNilProcessor(t *testing.T) {
	q := newTestQueue(t, 4)

	_, err := NewTunDispatcher(q, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)

	_, err = NewSockDispatcher(q, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestDispatchEmptyQueue(t *testing.T) {
	q := newTestQueue(t, 4)
	rec := newRecorder()
	d, err := NewTunDispatcher(q, rec)
	require.NoError(t, err)

	assert.False(t, d.Dispatch())
	assert.Zero(t, rec.count())
	assert.Zero(t, d.Delivered())
}

func TestTunDispatchDeliversInOrder(t *testing.T) {
	q := newTestQueue(t, 4)
	var got []string
	d, err := NewTunDispatcher(q, TunProcessorFunc(func(pkt []byte) {
		got = append(got, string(pkt))
	}))
	require.NoError(t, err)

	publish(t, q, []byte("first"), netip.AddrPort{})
	publish(t, q, []byte("second"), netip.AddrPort{})

	assert.True(t, d.Dispatch())
	assert.True(t, d.Dispatch())
	assert.False(t, d.Dispatch())
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, uint64(2), d.Delivered())
}

func TestSockDispatchPassesSender(t *testing.T) {
	q := newTestQueue(t, 4)
	type item struct {
		from netip.AddrPort
		data string
	}
	var got []item
	d, err := NewSockDispatcher(q, SockProcessorFunc(func(from netip.AddrPort, pkt []byte) {
		got = append(got, item{from, string(pkt)})
	}))
	require.NoError(t, err)

	publish(t, q, []byte("from-a"), peerA)
	publish(t, q, []byte("from-b"), peerB)
	for d.Dispatch() {
	}

	assert.Equal(t, []item{{peerA, "from-a"}, {peerB, "from-b"}}, got)
}

func TestDispatchRunsProcessorWithoutLock(t *testing.T) {
	q := newTestQueue(t, 4)
	d, err := NewTunDispatcher(q, TunProcessorFunc(func(pkt []byte) {
		// Would deadlock if the queue lock were still held.
		assert.False(t, q.IsFull())
		_, ok := q.Dequeue()
		assert.False(t, ok)
	}))
	require.NoError(t, err)

	publish(t, q, []byte("x"), netip.AddrPort{})
	assert.True(t, d.Dispatch())
}

func TestDispatcherRunWakesOnPublish(t *testing.T) {
	q, err := NewPacketQueue("wake", 4, 64, 10*time.Second)
	require.NoError(t, err)
	rec := newRecorder()
	d, err := NewTunDispatcher(q, rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	publish(t, q, []byte("ping"), netip.AddrPort{})

	select {
	case <-rec.notify:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not wake on publish")
	}

	cancel()
	q.Close()
	require.NoError(t, <-done)
	assert.Equal(t, uint64(1), d.Delivered())
}

func TestDispatcherRunStopsOnCancelTick(t *testing.T) {
	q := newTestQueue(t, 4)
	d, err := NewTunDispatcher(q, newRecorder())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher ignored cancellation")
	}
}
