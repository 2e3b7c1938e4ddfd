// Package forward provides point-to-point packet processors for the relay:
// packets from the TUN device go to a single UDP peer and datagrams from
// that peer go back into the TUN device.
package forward

import (
	"io"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"golang.org/x/time/rate"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

var log = logger.GetGoI2PLogger()

const errorLogInterval = 10 * time.Second

// PacketWriter sends a datagram to a peer. *udp.Socket implements it.
type PacketWriter interface {
	WriteTo(pkt []byte, dst netip.AddrPort) (int, error)
}

// Stats counts what the forwarder did with the packets it was handed.
type Stats struct {
	ToPeer      uint64
	ToTun       uint64
	NoPeer      uint64
	NotIP       uint64
	WriteErrors uint64
}

// Forwarder implements relay.TunProcessor and relay.SockProcessor.
//
// With a static peer every TUN packet is sent there and datagrams from any
// sender are accepted. Without one the most recent sender of a valid IP
// datagram becomes the peer.
type Forwarder struct {
	tun    io.Writer
	sock   PacketWriter
	static bool
	peer   atomic.Pointer[netip.AddrPort]

	toPeer      atomic.Uint64
	toTun       atomic.Uint64
	noPeer      atomic.Uint64
	notIP       atomic.Uint64
	writeErrors atomic.Uint64

	errLog rate.Sometimes
}

// New builds a forwarder writing decapsulated packets to tun and
// encapsulated ones to sock. A valid peer pins the remote end.
func New(tun io.Writer, sock PacketWriter, peer netip.AddrPort) *Forwarder {
	f := &Forwarder{
		tun:    tun,
		sock:   sock,
		errLog: rate.Sometimes{First: 1, Interval: errorLogInterval},
	}
	if peer.IsValid() {
		f.static = true
		f.peer.Store(&peer)
	}
	return f
}

// Peer returns the current remote end, if any.
func (f *Forwarder) Peer() (netip.AddrPort, bool) {
	p := f.peer.Load()
	if p == nil {
		return netip.AddrPort{}, false
	}
	return *p, true
}

// ProcessTunPacket sends a packet read from the TUN device to the peer.
func (f *Forwarder) ProcessTunPacket(pkt []byte) {
	if !validIP(pkt) {
		f.notIP.Add(1)
		return
	}
	peer, ok := f.Peer()
	if !ok {
		f.noPeer.Add(1)
		return
	}
	if _, err := f.sock.WriteTo(pkt, peer); err != nil {
		f.writeFailed("ProcessTunPacket", err)
		return
	}
	f.toPeer.Add(1)
}

// ProcessSockPacket writes a datagram's payload into the TUN device.
// Payloads that are not IP packets are tunnel control traffic and are
// left to the setup protocol.
func (f *Forwarder) ProcessSockPacket(from netip.AddrPort, pkt []byte) {
	if !validIP(pkt) {
		f.notIP.Add(1)
		return
	}
	if !f.static {
		if cur, ok := f.Peer(); !ok || cur != from {
			f.peer.Store(&from)
			log.WithFields(logger.Fields{
				"at":   "Forwarder.ProcessSockPacket",
				"peer": from.String(),
			}).Info("tunnel peer changed")
		}
	}
	if _, err := f.tun.Write(pkt); err != nil {
		f.writeFailed("ProcessSockPacket", err)
		return
	}
	f.toTun.Add(1)
}

// Stats returns the forwarding counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		ToPeer:      f.toPeer.Load(),
		ToTun:       f.toTun.Load(),
		NoPeer:      f.noPeer.Load(),
		NotIP:       f.notIP.Load(),
		WriteErrors: f.writeErrors.Load(),
	}
}

// writeFailed counts a write error. Write errors never stop the relay.
func (f *Forwarder) writeFailed(at string, err error) {
	total := f.writeErrors.Add(1)
	f.errLog.Do(func() {
		log.WithFields(logger.Fields{
			"at":     "Forwarder." + at,
			"errors": total,
		}).WithError(err).Warn("failed to forward packet")
	})
}

// validIP reports whether pkt is a well-formed IPv4 or IPv6 packet.
func validIP(pkt []byte) bool {
	switch header.IPVersion(pkt) {
	case header.IPv4Version:
		return header.IPv4(pkt).IsValid(len(pkt))
	case header.IPv6Version:
		return header.IPv6(pkt).IsValid(len(pkt))
	default:
		return false
	}
}
