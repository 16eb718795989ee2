package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-tag rules plus
// the cross-field constraints tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			msgs := make([]string, 0, len(errs))
			for _, fe := range errs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Server.StreamAddr == "" && cfg.Server.SharedMemoryDir == "" {
		return fmt.Errorf("invalid configuration: at least one transport binding (server.stream_addr or server.shared_memory_dir) is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Addr == "" {
		return fmt.Errorf("invalid configuration: admin.addr is required when admin.enabled is true")
	}
	if cfg.Metrics.Enabled && !cfg.Admin.Enabled {
		return fmt.Errorf("invalid configuration: metrics.enabled requires admin.enabled (metrics are served on the admin address)")
	}
	return nil
}
