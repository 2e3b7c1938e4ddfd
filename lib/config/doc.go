// Package config loads the relay server configuration with viper.
//
// Settings come from $HOME/.go-tsps/config.yaml (created with defaults on
// first run), or from the file named by CfgFile, and may be overridden by
// command-line flags bound into viper.
//
//	tun:
//	  name: tsps%d
//	  mtu: 1500
//	udp:
//	  listen: ":3653"
//	  peer: ""
//	queue:
//	  size: 32
//	  poll_interval: 1s
//	stats:
//	  interval: 1s
//	  log_interval: 1m
package config
