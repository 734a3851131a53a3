package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-commissioner/pkg/fabric"
	"github.com/mash-protocol/mash-commissioner/pkg/setupcode"
)

const sampleConfig = `
vendor_id: "0x1234"
fabric_id: "0xFAB"
state_dir: /var/lib/commissioner
log_level: debug
noc_validity: 720h
mdns:
  enabled: false
  timeout: 2s
mqtt:
  broker: tcp://broker:1883
  topic_prefix: site-1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commissioner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	vendor, err := cfg.Vendor()
	require.NoError(t, err)
	assert.Equal(t, fabric.VendorID(0x1234), vendor)

	fid, err := cfg.Fabric()
	require.NoError(t, err)
	assert.Equal(t, fabric.FabricID(0xFAB), fid)

	assert.Equal(t, "/var/lib/commissioner", cfg.StateDir)
	assert.Equal(t, 720*time.Hour, cfg.NOCValidity)
	assert.False(t, cfg.MDNS.Enabled)
	assert.Equal(t, 2*time.Second, cfg.MDNS.Timeout)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "site-1", cfg.MQTT.TopicPrefix)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "mdns: [unterminated"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"vendor":    func(c *Config) { c.VendorID = "0x10000" },
		"fabric":    func(c *Config) { c.FabricID = "fabric" },
		"state dir": func(c *Config) { c.StateDir = "" },
		"log level": func(c *Config) { c.LogLevel = "verbose" },
		"validity":  func(c *Config) { c.NOCValidity = -time.Hour },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseFlagsOverlaysConfig(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, opts, err := parseFlags([]string{"-config", path, "-state-dir", "/tmp/state", "-mdns=true", "-node", "0x2A", "-code", "5154162775417"})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/state", cfg.StateDir)
	assert.True(t, cfg.MDNS.Enabled)
	assert.Equal(t, "0x1234", cfg.VendorID, "unset flags keep file values")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0x2A", opts.node)
	assert.Equal(t, "5154162775417", opts.code)
}

func TestParseFlagsRejectsPartialOneShot(t *testing.T) {
	_, _, err := parseFlags([]string{"-node", "0x2A"})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"-node", "1", "-code", "5154162775417", "-interactive"})
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"-node", "1", "-code", "34970112332"})
	assert.ErrorIs(t, err, setupcode.ErrInvalidManualCode, "11 digits is not a manual code")

	_, _, err = parseFlags([]string{"-vendor-id", "0"})
	assert.NoError(t, err, "reserved vendors are rejected at startup, not by flag parsing")
}
