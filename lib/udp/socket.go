// Package udp wraps the UDP socket that carries encapsulated tunnel traffic.
package udp

import (
	"net"
	"net/netip"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// DefaultListenAddr is the well-known TSP port on all interfaces.
const DefaultListenAddr = ":3653"

// Socket is a bound UDP socket. IPv4-mapped sender addresses are reported
// in their plain IPv4 form.
type Socket struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket to addr.
func Listen(addr string) (*Socket, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrapf(err, "failed to resolve listen address")
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, oops.With("addr", addr).Wrapf(err, "failed to bind udp socket")
	}

	log.WithFields(logger.Fields{
		"at":    "udp.Listen",
		"local": conn.LocalAddr().String(),
	}).Info("listening for tunnel traffic")
	return &Socket{conn: conn}, nil
}

// ReadPacket receives one datagram into buf along with its sender.
func (s *Socket) ReadPacket(buf []byte) (int, netip.AddrPort, error) {
	n, from, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return n, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), nil
}

// WriteTo sends one datagram to dst.
func (s *Socket) WriteTo(pkt []byte, dst netip.AddrPort) (int, error) {
	return s.conn.WriteToUDPAddrPort(pkt, dst)
}

// SetReadDeadline bounds the next receive.
func (s *Socket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// LocalAddr returns the bound address.
func (s *Socket) LocalAddr() netip.AddrPort {
	if ua, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

// Close releases the socket. Blocked receives return with an error.
func (s *Socket) Close() error {
	return s.conn.Close()
}
