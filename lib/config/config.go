package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/go-i2p/go-tsps/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOTSPS_BASE_DIR = ".go-tsps"

// InitConfig loads the configuration file into viper. Without an explicit
// CfgFile it looks for config.yaml under $HOME/.go-tsps and writes one
// with the defaults if none exists yet.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildConfigDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	return handleConfigFile()
}

func setDefaults() {
	defaults := DefaultRelayConfig()

	viper.SetDefault("tun.name", defaults.Tun.Name)
	viper.SetDefault("tun.mtu", defaults.Tun.MTU)

	viper.SetDefault("udp.listen", defaults.UDP.Listen)
	viper.SetDefault("udp.peer", defaults.UDP.Peer)

	viper.SetDefault("queue.size", defaults.Queue.Size)
	viper.SetDefault("queue.poll_interval", defaults.Queue.PollInterval)

	viper.SetDefault("stats.interval", defaults.Stats.Interval)
	viper.SetDefault("stats.log_interval", defaults.Stats.LogInterval)
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		return oops.With("dir", defaultConfigDir).Wrapf(err, "could not create config directory")
	}

	if err := viper.WriteConfigAs(defaultConfigFile); err != nil {
		return oops.With("file", defaultConfigFile).Wrapf(err, "could not write default config file")
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	switch {
	case CfgFile != "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		return oops.With("file", CfgFile).Wrapf(err, "config file not found")
	case errors.As(err, &notFound):
		return createDefaultConfig(BuildConfigDirPath())
	default:
		return oops.Wrapf(err, "error reading config file")
	}
}

// BuildConfigDirPath returns $HOME/.go-tsps.
func BuildConfigDirPath() string {
	return filepath.Join(util.UserHome(), GOTSPS_BASE_DIR)
}
