//go:build linux

package tun

import (
	"os"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sys/unix"
)

const cloneDevice = "/dev/net/tun"

// Open creates or attaches to the TUN interface name. A name containing
// %d lets the kernel pick the index. When mtu is positive the interface
// MTU is set as well.
func Open(name string, mtu int) (*Device, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, oops.With("name", name).Wrapf(ErrInvalidName, "interface name longer than %d bytes", unix.IFNAMSIZ-1)
	}

	fd, err := unix.Open(cloneDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, oops.With("device", cloneDevice).Wrapf(err, "failed to open %s", cloneDevice)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, oops.With("name", name).Wrapf(err, "failed to build interface request")
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, oops.With("name", name).Wrapf(err, "TUNSETIFF failed")
	}

	// A non-blocking descriptor lets the runtime poller enforce read
	// deadlines, which the relay uses to observe shutdown.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, oops.With("name", name).Wrapf(err, "failed to set non-blocking mode")
	}

	dev := newDevice(os.NewFile(uintptr(fd), cloneDevice), ifr.Name())
	if mtu > 0 {
		if err := setMTU(dev.name, mtu); err != nil {
			dev.Close()
			return nil, err
		}
	}

	log.WithFields(logger.Fields{
		"at":  "tun.Open",
		"tun": dev.name,
		"mtu": mtu,
	}).Info("opened tun device")
	return dev, nil
}

// setMTU applies mtu to the named interface through a throwaway socket.
func setMTU(name string, mtu int) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return oops.Wrapf(err, "failed to open control socket")
	}
	defer unix.Close(sock)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return oops.With("name", name).Wrapf(err, "failed to build interface request")
	}
	ifr.SetUint32(uint32(mtu))
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFMTU, ifr); err != nil {
		return oops.With("name", name).With("mtu", mtu).Wrapf(err, "SIOCSIFMTU failed")
	}
	return nil
}
