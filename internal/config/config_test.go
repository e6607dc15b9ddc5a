package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptime-industries/pixcut-link/internal/config"
	"github.com/uptime-industries/pixcut-link/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(config.New(), writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "/dev/rfcomm0", cfg.Port)
	assert.Equal(t, transport.DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, transport.DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, uint32(1), cfg.Origin)
	assert.Equal(t, uint8(1), cfg.Copies)
	assert.Equal(t, "DHP700", cfg.Device.Model)
	assert.False(t, cfg.Encryption.Enabled)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
port: /dev/ttyUSB1
baud_rate: 9600
call_timeout: 3s
origin: 649
terminal_id: 7
copies: 2
encryption:
  enabled: true
  key: 4b6579
device:
  canvas: 4x6
`)
	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1", cfg.Port)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 3*time.Second, cfg.CallTimeout)
	assert.Equal(t, uint32(649), cfg.Origin)
	assert.Equal(t, uint32(7), cfg.TerminalID)
	assert.Equal(t, uint8(2), cfg.Copies)
	assert.True(t, cfg.Encryption.Enabled)
	assert.Equal(t, "4b6579", cfg.Encryption.Key)
	assert.Equal(t, "4x6", cfg.Device.Canvas)
	assert.Equal(t, "DHP700", cfg.Device.Model)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("PIXCUT_PORT", "/dev/rfcomm3")
	t.Setenv("PIXCUT_ENCRYPTION_KEY", "00ff")

	cfg, err := config.Load(config.New(), writeConfig(t, "port: /dev/rfcomm1\n"))
	require.NoError(t, err)
	assert.Equal(t, "/dev/rfcomm3", cfg.Port)
	assert.Equal(t, "00ff", cfg.Encryption.Key)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() config.Config {
		return config.Config{
			SerialOpts:  transport.SerialOpts{Port: "/dev/rfcomm0", BaudRate: 115200},
			CallTimeout: time.Second,
			Origin:      1,
			Copies:      1,
		}
	}

	testcases := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.Config) {}},
		{name: "zero baud rate", mutate: func(c *config.Config) { c.BaudRate = 0 }, wantErr: "baud_rate"},
		{name: "zero call timeout", mutate: func(c *config.Config) { c.CallTimeout = 0 }, wantErr: "call_timeout"},
		{name: "negative poll", mutate: func(c *config.Config) { c.PollInterval = -time.Second }, wantErr: "poll_interval"},
		{name: "zero origin", mutate: func(c *config.Config) { c.Origin = 0 }, wantErr: "origin"},
		{name: "zero copies", mutate: func(c *config.Config) { c.Copies = 0 }, wantErr: "copies"},
		{name: "non hex key", mutate: func(c *config.Config) { c.Encryption.Key = "xyz" }, wantErr: "not hex"},
		{
			name:    "encryption without key",
			mutate:  func(c *config.Config) { c.Encryption.Enabled = true },
			wantErr: "requires encryption.key",
		},
	}

	for _, tcl := range testcases {
		tc := tcl
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
