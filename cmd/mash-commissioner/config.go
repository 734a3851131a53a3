package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
)

// Config holds the commissioner configuration. Values come from an
// optional YAML file and are overridden by flags.
type Config struct {
	VendorID string `yaml:"vendor_id"`
	FabricID string `yaml:"fabric_id"`

	StateDir    string `yaml:"state_dir"`
	Reset       bool   `yaml:"reset"`
	LogLevel    string `yaml:"log_level"`
	ProtocolLog string `yaml:"protocol_log"`
	Interactive bool   `yaml:"interactive"`

	// Intermediate issues device certificates through an intermediate CA.
	Intermediate bool          `yaml:"intermediate"`
	NOCValidity  time.Duration `yaml:"noc_validity"`

	MDNS MDNSConfig `yaml:"mdns"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MDNSConfig configures device discovery.
type MDNSConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MQTTConfig configures event publishing. Disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() Config {
	return Config{
		VendorID: "0xFFF1",
		FabricID: "1",
		StateDir: "mash-commissioner-state",
		LogLevel: "info",
		MDNS: MDNSConfig{
			Enabled: true,
			Timeout: 5 * time.Second,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := c.Vendor(); err != nil {
		return err
	}
	if _, err := c.Fabric(); err != nil {
		return err
	}
	if c.StateDir == "" {
		return errors.New("state directory is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.NOCValidity < 0 {
		return errors.New("noc validity must not be negative")
	}
	return nil
}

// Vendor parses VendorID.
func (c Config) Vendor() (fabric.VendorID, error) {
	v, err := strconv.ParseUint(c.VendorID, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid vendor id %q: %w", c.VendorID, err)
	}
	return fabric.VendorID(v), nil
}

// Fabric parses FabricID.
func (c Config) Fabric() (fabric.FabricID, error) {
	v, err := strconv.ParseUint(c.FabricID, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fabric id %q: %w", c.FabricID, err)
	}
	return fabric.FabricID(v), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", s)
	}
}
