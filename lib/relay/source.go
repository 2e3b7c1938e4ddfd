package relay

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"
)

// PacketSource is a descriptor that yields one packet per read.
// Sources without a peer address (the TUN device) return the zero AddrPort.
type PacketSource interface {
	ReadPacket(buf []byte) (int, netip.AddrPort, error)
}

// deadliner is implemented by sources whose blocking reads can be bounded.
// Both *os.File and *net.UDPConn qualify.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// isTransient reports whether a read error should simply be retried.
func isTransient(err error) bool {
	if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readRetry reads one packet from src into buf, retrying transient errors
// and empty reads. A descriptor never signals end-of-stream here, so a zero
// length is retried too. Any other error is fatal for the descriptor.
// When src supports deadlines each read is bounded by poll so that ctx is
// checked even while the descriptor is idle.
func readRetry(ctx context.Context, name string, src PacketSource, buf []byte, poll time.Duration) (int, netip.AddrPort, error) {
	dl, bounded := src.(deadliner)
	for {
		if ctx.Err() != nil {
			return 0, netip.AddrPort{}, ErrShutdown
		}
		if bounded {
			if err := dl.SetReadDeadline(time.Now().Add(poll)); err != nil {
				if ctx.Err() != nil {
					return 0, netip.AddrPort{}, ErrShutdown
				}
				return 0, netip.AddrPort{}, oops.
					With("source", name).
					Wrapf(err, "failed to arm read deadline on %s", name)
			}
		}

		n, from, err := src.ReadPacket(buf)
		if err != nil {
			if isTransient(err) {
				continue
			}
			if ctx.Err() != nil {
				return 0, netip.AddrPort{}, ErrShutdown
			}
			return 0, netip.AddrPort{}, oops.
				With("source", name).
				Wrapf(err, "read error on %s", name)
		}
		if n <= 0 {
			continue
		}
		return n, from, nil
	}
}
