package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"interrupted", unix.EINTR, true},
		{"would block", unix.EAGAIN, true},
		{"wrapped would block", fmt.Errorf("read: %w", unix.EAGAIN), true},
		{"deadline", os.ErrDeadlineExceeded, true},
		{"net timeout", &net.OpError{Op: "read", Net: "udp", Err: os.ErrDeadlineExceeded}, true},
		{"bad descriptor", unix.EBADF, false},
		{"io error", unix.EIO, false},
		{"closed", net.ErrClosed, false},
		{"eof", io.EOF, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestReadRetryReturnsShutdownWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := newFakeSource(1)
	src.push([]byte("never read"), peerA)
	_, _, err := readRetry(ctx, "test", src, make([]byte, 64), time.Millisecond)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Zero(t, src.reads.Load())
}

func TestReadRetryErrorDuringShutdownIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newFakeSource(1)
	src.idle = time.Hour

	done := make(chan error, 1)
	go func() {
		_, _, err := readRetry(ctx, "test", src, make([]byte, 64), time.Millisecond)
		done <- err
	}()

	// Closing the descriptor is how shutdown interrupts a blocked read.
	cancel()
	src.fail(net.ErrClosed)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(time.Second):
		t.Fatal("readRetry did not return")
	}
}

func TestReadRetryIdleSourceKeepsWaiting(t *testing.T) {
	src := newFakeSource(1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		src.push([]byte("late"), peerB)
	}()

	buf := make([]byte, 64)
	n, from, err := readRetry(context.Background(), "test", src, buf, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf[:n]))
	assert.Equal(t, peerB, from)
}
