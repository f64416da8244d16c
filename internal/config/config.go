// Package config loads process settings from a YAML/TOML file, FOLDERSHARE_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

const EnvPrefix = "FOLDERSHARE"

// Config is the full process configuration.
type Config struct {
	// ListenAddr is where the API listens.
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// MetricsAddr serves /metrics when set; empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// PublicURL is returned by setup and printed at startup. Defaults to
	// http://<request host>.
	PublicURL string `mapstructure:"public_url" validate:"omitempty,url"`

	// StateDir holds the thumbnail cache. Never inside the share root.
	StateDir string `mapstructure:"state_dir" validate:"required"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Logging    LoggingConfig    `mapstructure:"logging"`
	Share      ShareConfig      `mapstructure:"share"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	WebDAV     WebDAVConfig     `mapstructure:"webdav"`
	Thumbnails ThumbnailsConfig `mapstructure:"thumbnails"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

// ShareConfig preconfigures the share at startup. Leave Root empty to wait
// for the setup call instead.
type ShareConfig struct {
	Root string `mapstructure:"root"`
	// Reserved is a byte size such as "10GB" or "512MiB".
	Reserved string `mapstructure:"reserved"`
	// Password is hashed on load and then cleared. Prefer PasswordHash.
	Password     string `mapstructure:"password"`
	PasswordHash string `mapstructure:"password_hash"`

	ReservedBytes int64 `mapstructure:"-"`
}

type AuthConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
}

type UploadConfig struct {
	MaxRequestSize string `mapstructure:"max_request_size" validate:"required"`
	MemoryBuffer   string `mapstructure:"memory_buffer" validate:"required"`

	MaxRequestBytes   int64 `mapstructure:"-"`
	MemoryBufferBytes int64 `mapstructure:"-"`
}

type QuotaConfig struct {
	// ReconcileInterval rescans the share on this period; 0 disables it.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gte=0"`
}

type WebDAVConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ThumbnailsConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxDimension int  `mapstructure:"max_dimension" validate:"gte=16,lte=4096"`
}

// Configured reports whether the share should be set up at startup.
func (c *Config) Configured() bool { return c.Share.Root != "" }

// Load reads configPath (optional; a missing file is not an error), applies
// environment overrides and defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load with explicit key overrides (for example from
// command-line flags) that win over the file and the environment.
func LoadWithOverrides(configPath string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}
	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// registered so AutomaticEnv can see them during Unmarshal
	for key, val := range defaultValues() {
		v.SetDefault(key, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.AddConfigPath(".")
	v.SetConfigName("foldershare")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foldershare")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "foldershare")
}

// ParseSize parses a human byte size ("10GB", "256MiB", "1048576").
func ParseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(n), nil
}
