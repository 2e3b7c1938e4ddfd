package relay

import "net/netip"

// slot is one fixed-size storage unit of a PacketQueue.
// from is only meaningful for slots filled from the UDP socket.
type slot struct {
	buf    []byte
	length int
	from   netip.AddrPort
}

// Packet is a dequeued view of a slot.
//
// Data aliases the queue's storage. It stays valid until the next Dequeue
// on the same queue and must not be retained past that point.
type Packet struct {
	Data []byte
	From netip.AddrPort
}

// Len returns the payload length.
func (p Packet) Len() int {
	return len(p.Data)
}
