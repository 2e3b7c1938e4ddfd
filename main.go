package main

import (
	"context"
	"time"

	"github.com/go-i2p/go-tsps/lib/config"
	"github.com/go-i2p/go-tsps/lib/forward"
	"github.com/go-i2p/go-tsps/lib/relay"
	"github.com/go-i2p/go-tsps/lib/tun"
	"github.com/go-i2p/go-tsps/lib/udp"
	"github.com/go-i2p/go-tsps/lib/util"
	"github.com/go-i2p/go-tsps/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetGoI2PLogger()

var rootCmd = &cobra.Command{
	Use:           "go-tsps",
	Short:         "Tunnel broker packet relay between a TUN device and a UDP socket",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

func init() {
	defaults := config.DefaultRelayConfig()
	flags := rootCmd.Flags()

	flags.StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-tsps/config.yaml)")
	flags.String("tun", defaults.Tun.Name, "tun interface name, %d picks the next free index")
	flags.Int("mtu", defaults.Tun.MTU, "tun MTU and relay slot size")
	flags.String("listen", defaults.UDP.Listen, "udp listen address")
	flags.String("peer", defaults.UDP.Peer, "fixed remote tunnel end (host:port); learned from traffic when empty")
	flags.Int("queue-size", defaults.Queue.Size, "slots per relay direction")

	for key, flag := range map[string]string{
		"tun.name":   "tun",
		"tun.mtu":    "mtu",
		"udp.listen": "listen",
		"udp.peer":   "peer",
		"queue.size": "queue-size",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Fatalf("could not bind flag %s: %s", flag, err)
		}
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(); err != nil {
		return err
	}
	cfg := config.NewRelayConfigFromViper()
	if err := cfg.Validate(); err != nil {
		return err
	}
	peer, err := cfg.PeerAddrPort()
	if err != nil {
		return err
	}

	defer util.CloseAll()

	dev, err := tun.Open(cfg.Tun.Name, cfg.Tun.MTU)
	if err != nil {
		return err
	}
	util.RegisterCloser("tun", dev)

	sock, err := udp.Listen(cfg.UDP.Listen)
	if err != nil {
		return err
	}
	util.RegisterCloser("udp", sock)

	fwd := forward.New(dev, sock, peer)
	r, err := relay.NewRelay(cfg.RelayOptions(), dev, sock, fwd, fwd)
	if err != nil {
		return err
	}

	go signals.Handle()
	defer signals.StopHandle()
	signals.RegisterInterruptHandler(func() {
		log.Info("shutting down relay")
		r.Stop()
	})
	signals.RegisterStatusHandler(func() {
		logStats(r, fwd)
	})
	signals.RegisterReloadHandler(func() {
		log.Warn("configuration reload is not supported, restart to apply changes")
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go statsLoop(ctx, cfg.Stats.LogInterval, r, fwd)

	log.WithFields(logger.Fields{
		"at":         "runRelay",
		"tun":        dev.Name(),
		"listen":     sock.LocalAddr().String(),
		"peer":       cfg.UDP.Peer,
		"tun_slots":  r.TunQueue().Cap(),
		"sock_slots": r.SockQueue().Cap(),
		"mtu":        r.TunQueue().MTU(),
	}).Info("tunnel broker relay running")
	return r.Run(ctx)
}

func statsLoop(ctx context.Context, interval time.Duration, r *relay.Relay, fwd *forward.Forwarder) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			logStats(r, fwd)
		case <-ctx.Done():
			return
		}
	}
}

func logStats(r *relay.Relay, fwd *forward.Forwarder) {
	s := r.Stats()
	f := fwd.Stats()
	log.WithFields(logger.Fields{
		"tun_packets":    s.Tun.Packets,
		"tun_delivered":  s.Tun.Delivered,
		"tun_dropped":    s.Tun.Dropped,
		"tun_queued":     s.Tun.Queued,
		"tun_pps_1s":     s.Tun.PacketRate1s,
		"tun_bps_1s":     s.Tun.ByteRate1s,
		"tun_pps_15s":    s.Tun.PacketRate15s,
		"tun_bps_15s":    s.Tun.ByteRate15s,
		"sock_packets":   s.Sock.Packets,
		"sock_delivered": s.Sock.Delivered,
		"sock_dropped":   s.Sock.Dropped,
		"sock_queued":    s.Sock.Queued,
		"sock_pps_1s":    s.Sock.PacketRate1s,
		"sock_bps_1s":    s.Sock.ByteRate1s,
		"sock_pps_15s":   s.Sock.PacketRate15s,
		"sock_bps_15s":   s.Sock.ByteRate15s,
		"to_peer":        f.ToPeer,
		"to_tun":         f.ToTun,
		"no_peer":        f.NoPeer,
		"not_ip":         f.NotIP,
		"write_errors":   f.WriteErrors,
	}).Info("relay statistics")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("relay terminated: %s", err)
	}
}
