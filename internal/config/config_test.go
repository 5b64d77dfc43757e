package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netprobe/internal/errors"
	"github.com/anstrom/netprobe/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Scanning.Workers)
	assert.Equal(t, ICMPModeAuto, cfg.ICMP.Mode)
	assert.True(t, cfg.ICMP.Enabled)
	assert.Less(t, cfg.Scanning.BannerTimeout, cfg.Scanning.ConnectTimeout)
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default().Scanning, cfg.Scanning)
	})

	t.Run("yaml overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "netprobe.yaml")
		content := `
scanning:
  workers: 8
  connect_timeout: 750ms
  banner_size: 64
icmp:
  mode: unprivileged
logging:
  level: debug
  format: json
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Scanning.Workers)
		assert.Equal(t, 750*time.Millisecond, cfg.Scanning.ConnectTimeout)
		assert.Equal(t, 64, cfg.Scanning.BannerSize)
		assert.Equal(t, ICMPModeUnprivileged, cfg.ICMP.Mode)
		// untouched fields keep defaults
		assert.Equal(t, Default().Scanning.ProbeTimeout, cfg.Scanning.ProbeTimeout)

		logCfg := cfg.LoggingOptions()
		assert.Equal(t, logging.LevelDebug, logCfg.Level)
		assert.Equal(t, logging.FormatJSON, logCfg.Format)
		assert.True(t, logCfg.AddSource)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scanning: [unclosed"), 0600))

		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("scanning:\n  workers: 0\n"), 0600))

		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
		assert.Contains(t, err.Error(), "Workers")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown icmp mode", func(c *Config) { c.ICMP.Mode = "raw" }, "Mode"},
		{"zero connect timeout", func(c *Config) { c.Scanning.ConnectTimeout = 0 }, "ConnectTimeout"},
		{"negative rate", func(c *Config) { c.Scanning.RateLimit = -1 }, "RateLimit"},
		{"oversized banner", func(c *Config) { c.Scanning.BannerSize = 70000 }, "BannerSize"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "Level"},
		{"bad timing", func(c *Config) { c.External.Timing = 6 }, "Timing"},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddr = ""
		}, "ListenAddr"},
		{"bad v4 listen address", func(c *Config) { c.ICMP.ListenV4 = "::1" }, "ListenV4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "netprobe.yaml")

	cfg := Default()
	cfg.Scanning.Workers = 3
	cfg.External.NmapPath = "/opt/nmap/bin/nmap"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
