package config

import (
	"net/netip"
	"time"

	"github.com/go-i2p/go-tsps/lib/relay"
	"github.com/go-i2p/go-tsps/lib/udp"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

// TunConfig selects the TUN interface.
type TunConfig struct {
	// Name may contain %d to let the kernel choose the index.
	Name string
	MTU  int
}

// UDPConfig selects the encapsulation socket.
type UDPConfig struct {
	Listen string
	// Peer pins the remote tunnel end. Empty means learn it from traffic.
	Peer string
}

// QueueConfig sizes the relay queues.
type QueueConfig struct {
	// Size is the slot count per direction; one slot is always kept free.
	Size         int
	PollInterval time.Duration
}

// StatsConfig controls throughput sampling and periodic reporting.
type StatsConfig struct {
	Interval    time.Duration
	LogInterval time.Duration
}

// RelayConfig is the complete relay server configuration.
type RelayConfig struct {
	Tun   TunConfig
	UDP   UDPConfig
	Queue QueueConfig
	Stats StatsConfig
}

// DefaultRelayConfig returns the settings used when nothing is configured.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Tun: TunConfig{
			Name: "tsps%d",
			MTU:  relay.DefaultMTU,
		},
		UDP: UDPConfig{
			Listen: udp.DefaultListenAddr,
		},
		Queue: QueueConfig{
			Size:         relay.DefaultQueueSize,
			PollInterval: relay.DefaultPollInterval,
		},
		Stats: StatsConfig{
			Interval:    time.Second,
			LogInterval: time.Minute,
		},
	}
}

// NewRelayConfigFromViper builds a RelayConfig from the current viper
// settings.
func NewRelayConfigFromViper() *RelayConfig {
	return &RelayConfig{
		Tun: TunConfig{
			Name: viper.GetString("tun.name"),
			MTU:  viper.GetInt("tun.mtu"),
		},
		UDP: UDPConfig{
			Listen: viper.GetString("udp.listen"),
			Peer:   viper.GetString("udp.peer"),
		},
		Queue: QueueConfig{
			Size:         viper.GetInt("queue.size"),
			PollInterval: viper.GetDuration("queue.poll_interval"),
		},
		Stats: StatsConfig{
			Interval:    viper.GetDuration("stats.interval"),
			LogInterval: viper.GetDuration("stats.log_interval"),
		},
	}
}

// Validate rejects settings the relay cannot run with.
func (c *RelayConfig) Validate() error {
	if c.Tun.Name == "" {
		return oops.Errorf("tun.name must not be empty")
	}
	if c.Tun.MTU < 68 || c.Tun.MTU > 65535 {
		return oops.With("tun.mtu", c.Tun.MTU).Errorf("tun.mtu must be between 68 and 65535")
	}
	if c.UDP.Listen == "" {
		return oops.Errorf("udp.listen must not be empty")
	}
	if _, err := c.PeerAddrPort(); err != nil {
		return err
	}
	if c.Queue.Size < 2 {
		return oops.With("queue.size", c.Queue.Size).Errorf("queue.size must be at least 2")
	}
	if c.Queue.PollInterval <= 0 {
		return oops.With("queue.poll_interval", c.Queue.PollInterval).Errorf("queue.poll_interval must be positive")
	}
	return nil
}

// PeerAddrPort parses udp.peer. An empty value yields the zero AddrPort.
func (c *RelayConfig) PeerAddrPort() (netip.AddrPort, error) {
	if c.UDP.Peer == "" {
		return netip.AddrPort{}, nil
	}
	ap, err := netip.ParseAddrPort(c.UDP.Peer)
	if err != nil {
		return netip.AddrPort{}, oops.With("udp.peer", c.UDP.Peer).Wrapf(err, "invalid udp.peer")
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// RelayOptions converts the queue and stats settings for relay.NewRelay.
func (c *RelayConfig) RelayOptions() relay.Config {
	return relay.Config{
		QueueSize:     c.Queue.Size,
		MTU:           c.Tun.MTU,
		PollInterval:  c.Queue.PollInterval,
		StatsInterval: c.Stats.Interval,
	}
}
