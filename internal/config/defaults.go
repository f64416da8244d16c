package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultListenAddr        = ":8000"
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultMaxRequestSize    = "16GB"
	DefaultMemoryBuffer      = "32MiB"
	DefaultReconcileInterval = 5 * time.Minute
	DefaultThumbDimension    = 256
)

func defaultStateDir() string {
	return filepath.Join(os.TempDir(), "foldershare")
}

func defaultValues() map[string]any {
	return map[string]any{
		"listen_addr":              DefaultListenAddr,
		"metrics_addr":             "",
		"public_url":               "",
		"state_dir":                defaultStateDir(),
		"shutdown_timeout":         DefaultShutdownTimeout,
		"logging.level":            "info",
		"logging.format":           "console",
		"logging.output":           "stderr",
		"share.root":               "",
		"share.reserved":           "",
		"share.password":           "",
		"share.password_hash":      "",
		"auth.bcrypt_cost":         bcrypt.DefaultCost,
		"upload.max_request_size":  DefaultMaxRequestSize,
		"upload.memory_buffer":     DefaultMemoryBuffer,
		"quota.reconcile_interval": DefaultReconcileInterval,
		"webdav.enabled":           true,
		"thumbnails.enabled":       true,
		"thumbnails.max_dimension": DefaultThumbDimension,
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{WebDAV: WebDAVConfig{Enabled: true}, Thumbnails: ThumbnailsConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields. Booleans are left alone; their
// defaults come from viper.
func ApplyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyLoggingDefaults(&cfg.Logging)
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Upload.MaxRequestSize == "" {
		cfg.Upload.MaxRequestSize = DefaultMaxRequestSize
	}
	if cfg.Upload.MemoryBuffer == "" {
		cfg.Upload.MemoryBuffer = DefaultMemoryBuffer
	}
	if cfg.Thumbnails.MaxDimension == 0 {
		cfg.Thumbnails.MaxDimension = DefaultThumbDimension
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}
