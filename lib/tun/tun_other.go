//go:build !linux

package tun

// Open is only implemented on Linux.
func Open(name string, mtu int) (*Device, error) {
	return nil, ErrUnsupportedPlatform
}
