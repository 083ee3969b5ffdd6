// Package config loads runtime configuration for the demo server binary
// from a file and environment variables, layered with spf13/viper:
// environment variables override the config file, which overrides the
// defaults set here. No command-line flags are bound; cmd/raknetd's only
// flag, --config, names the file.
//
// Grounded on the teacher's core/main.go loadConfig (a fixed struct of
// server/session knobs returned from a hardcoded literal), generalized
// from SA-MP's world/weather/gamemode fields into this transport's
// connection and NAT-detection tunables.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raknet-go/raknet/internal/natpunch"
	"github.com/raknet-go/raknet/internal/nattype"
	"github.com/raknet-go/raknet/internal/peer"
	"github.com/raknet-go/raknet/internal/reliability"
	"github.com/raknet-go/raknet/internal/security"
)

// Config is every knob the demo binary (cmd/raknetd) exposes.
type Config struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxConnections int    `mapstructure:"max_connections"`

	PingInterval time.Duration `mapstructure:"ping_interval"`
	TickInterval time.Duration `mapstructure:"tick_interval"`

	MTU               int           `mapstructure:"mtu"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	NATFacilitator bool   `mapstructure:"nat_facilitator"`
	NATTypeServer  bool   `mapstructure:"nat_type_server"`
	NATAuxIP2      string `mapstructure:"nat_aux_ip2"`
	NATAuxIP3      string `mapstructure:"nat_aux_ip3"`
	NATAuxIP4      string `mapstructure:"nat_aux_ip4"`

	// EncryptionKey, if set, is a hex-encoded security.KeySize-byte
	// pre-shared key that turns on the optional AEAD layer for every
	// connected datagram. Empty disables encryption entirely.
	EncryptionKey string `mapstructure:"encryption_key"`

	LogLevel string `mapstructure:"log_level"`
}

// setDefaults mirrors the teacher's loadConfig literal: every field gets a
// sane standalone-server value here, so a Config is runnable with no file
// or env present at all.
func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 19132)
	v.SetDefault("max_connections", 64)
	v.SetDefault("ping_interval", 3*time.Second)
	v.SetDefault("tick_interval", 10*time.Millisecond)
	v.SetDefault("mtu", 1492)
	v.SetDefault("connection_timeout", 10*time.Second)
	v.SetDefault("nat_facilitator", false)
	v.SetDefault("nat_type_server", false)
	v.SetDefault("nat_aux_ip2", "")
	v.SetDefault("nat_aux_ip3", "")
	v.SetDefault("nat_aux_ip4", "")
	v.SetDefault("encryption_key", "")
	v.SetDefault("log_level", "info")
}

// Load reads configFile (if non-empty) layered under environment variables
// prefixed RAKNET_ (RAKNET_PORT, RAKNET_MAX_CONNECTIONS, ...) and the
// defaults above. A missing configFile is not an error - standalone runs
// rely on env/defaults alone.
func Load(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("raknet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// PeerConfig translates the flat Config into internal/peer.Config.
func (c Config) PeerConfig() (peer.Config, error) {
	cfg := peer.DefaultConfig()
	cfg.Network = "udp4"
	cfg.Port = c.Port
	cfg.MaxConnections = c.MaxConnections
	cfg.PingInterval = c.PingInterval
	cfg.TickInterval = c.TickInterval
	cfg.LayerConfig = c.layerConfig()
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return peer.Config{}, fmt.Errorf("config: encryption_key: %w", err)
		}
		if len(key) != security.KeySize {
			return peer.Config{}, fmt.Errorf("config: encryption_key: want %d bytes hex-encoded, got %d", security.KeySize, len(key))
		}
		cfg.EncryptionKey = key
	}
	return cfg, nil
}

func (c Config) layerConfig() reliability.Config {
	cfg := reliability.DefaultConfig()
	cfg.MTU = c.MTU
	cfg.TimeoutTime = c.ConnectionTimeout
	return cfg
}

// NatPunchConfig translates the flat Config into natpunch.Config.
func (c Config) NatPunchConfig() natpunch.Config {
	return natpunch.DefaultConfig()
}

// NatTypeConfig translates the flat Config into nattype.Config.
func (c Config) NatTypeConfig() nattype.Config {
	return nattype.DefaultConfig()
}
