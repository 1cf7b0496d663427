package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// minStaleTTL is the floor for server.stale_ttl. Anything shorter could
// let the cleanup sweep reap an upload that a client is still retrying
// with backoff.
const minStaleTTL = time.Minute

// Validate checks the configuration for errors.
//
// Field-level constraints are expressed as validate struct tags and
// checked with go-playground/validator; rules the tags cannot express
// (cross-field and cross-section) are checked explicitly afterwards.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			// Report the first violation with a readable field path
			fe := verrs[0]
			return fmt.Errorf("field %s failed on the '%s' rule (value: %v)",
				fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if cfg.Server.StaleTTL != 0 && cfg.Server.StaleTTL < minStaleTTL {
		return fmt.Errorf("server stale_ttl must be at least %s, got %s",
			minStaleTTL, cfg.Server.StaleTTL)
	}
	if cfg.Server.CleanupInterval < 0 {
		return fmt.Errorf("server cleanup_interval must not be negative, got %s",
			cfg.Server.CleanupInterval)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling endpoint is required when profiling is enabled")
	}

	if err := cfg.Offload.Validate(); err != nil {
		return err
	}

	return nil
}
