package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/sequence"
	"github.com/uptime-industries/pixcut-link/pkg/transport"
)

const EnvPrefix = "PIXCUT"

// EncryptionConfig enables RC4 on outbound packets.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Key is the hex encoded RC4 key. It is also used to decrypt inbound
	// packets flagged as encrypted.
	Key string `mapstructure:"key"`
}

type DeviceConfig struct {
	Model string `mapstructure:"model"`
	// Canvas selects the media; empty uses the mode default.
	Canvas string `mapstructure:"canvas"`
}

// Config is the pixcutctl configuration.
type Config struct {
	transport.SerialOpts `mapstructure:",squash"`

	// CallTimeout bounds every device call.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// PollInterval is how often job state is polled while waiting for a job.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// StaleAfter evicts partial inbound packages idle for this long. Zero keeps them.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// TerminalID pins the terminal id field; zero mirrors the message number.
	TerminalID uint32 `mapstructure:"terminal_id"`
	// Origin is the first host message number.
	Origin uint32 `mapstructure:"origin"`

	Encryption EncryptionConfig `mapstructure:"encryption"`
	Device     DeviceConfig     `mapstructure:"device"`
	Copies     uint8            `mapstructure:"copies"`

	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	JournalPath string `mapstructure:"journal_path"`
}

// DefaultDir is the directory holding the config file and the job journal.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pixcut")
	}
	return ".pixcut"
}

// SetDefaults registers default values for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "/dev/rfcomm0")
	v.SetDefault("baud_rate", transport.DefaultBaudRate)
	v.SetDefault("read_timeout", transport.DefaultReadTimeout)
	v.SetDefault("call_timeout", 10*time.Second)
	v.SetDefault("poll_interval", 2*time.Second)
	v.SetDefault("stale_after", 30*time.Second)
	v.SetDefault("terminal_id", 0)
	v.SetDefault("origin", sequence.DefaultOrigin)
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.key", "")
	v.SetDefault("device.model", "DHP700")
	v.SetDefault("device.canvas", "")
	v.SetDefault("copies", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9667")
	v.SetDefault("journal_path", filepath.Join(DefaultDir(), "journal.db"))
}

// New returns a viper instance with defaults and environment binding. Keys
// map to PIXCUT_<KEY>, nested keys use underscores (PIXCUT_ENCRYPTION_KEY).
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file into v and decodes the result. An explicit path
// must exist; the default location is optional.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", c.BaudRate))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call_timeout must be positive"))
	}
	if c.PollInterval < 0 || c.StaleAfter < 0 {
		errs = append(errs, errors.New("poll_interval and stale_after must not be negative"))
	}
	if c.Origin == 0 {
		errs = append(errs, errors.New("origin must be at least 1"))
	}
	if c.Copies == 0 {
		errs = append(errs, errors.New("copies must be at least 1"))
	}
	if c.Encryption.Key != "" {
		if _, err := hex.DecodeString(c.Encryption.Key); err != nil {
			errs = append(errs, fmt.Errorf("encryption.key is not hex: %w", err))
		}
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" {
		errs = append(errs, errors.New("encryption.enabled requires encryption.key"))
	}
	return errors.Join(errs...)
}
