package config

import (
	"strings"
	"time"

	"github.com/marmos91/varbus/internal/bytesize"
	"github.com/marmos91/varbus/pkg/shm"
)

// Default values applied to unspecified fields.
const (
	DefaultStreamAddr      = "0.0.0.0:4545"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultAdminAddr       = "127.0.0.1:8420"
	DefaultWorkBufferSize  = bytesize.ByteSize(16 * bytesize.KiB)
)

// ApplyDefaults fills unspecified configuration fields. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAdminDefaults(&cfg.Admin)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.StreamAddr == "" && cfg.SharedMemoryDir == "" {
		cfg.StreamAddr = DefaultStreamAddr
	}
	if cfg.SharedMemoryDir == "auto" {
		cfg.SharedMemoryDir = shm.DefaultDir()
	}
	if cfg.WorkBufferSize == 0 {
		cfg.WorkBufferSize = DefaultWorkBufferSize
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Enabled && cfg.Addr == "" {
		cfg.Addr = DefaultAdminAddr
	}
}

// GetDefaultConfig returns a fully defaulted configuration, used when no
// config file exists.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
