// Package tun opens the kernel TUN device the relay reads decapsulated
// traffic from.
package tun

import (
	"errors"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

var (
	// ErrUnsupportedPlatform is returned by Open where TUN devices are not
	// available through /dev/net/tun.
	ErrUnsupportedPlatform = errors.New("tun devices are not supported on this platform")

	// ErrInvalidName rejects interface names the kernel would truncate.
	ErrInvalidName = errors.New("invalid tun interface name")
)

// Device is an open TUN interface. Each read returns exactly one IP
// packet with no packet-information header.
type Device struct {
	file *os.File
	name string
}

func newDevice(file *os.File, name string) *Device {
	return &Device{file: file, name: name}
}

// Name returns the interface name assigned by the kernel.
func (d *Device) Name() string {
	return d.name
}

// ReadPacket reads one packet into buf. The device has no peer address.
// A zero-length read is reported as such rather than as end of file; the
// relay retries it.
func (d *Device) ReadPacket(buf []byte) (int, netip.AddrPort, error) {
	n, err := d.file.Read(buf)
	if errors.Is(err, io.EOF) {
		return 0, netip.AddrPort{}, nil
	}
	return n, netip.AddrPort{}, err
}

// Write injects one packet into the kernel.
func (d *Device) Write(pkt []byte) (int, error) {
	return d.file.Write(pkt)
}

// SetReadDeadline bounds the next read.
func (d *Device) SetReadDeadline(t time.Time) error {
	return d.file.SetReadDeadline(t)
}

// Close releases the interface. Blocked reads return with an error.
func (d *Device) Close() error {
	log.WithFields(logger.Fields{
		"at":  "Device.Close",
		"tun": d.name,
	}).Debug("closing tun device")
	return d.file.Close()
}
