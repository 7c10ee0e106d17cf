package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Accounts
	switch c.Accounts.Backend {
	case "postgres":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required for the postgres accounts backend")
		}
	case "file":
		if c.Accounts.File == "" {
			errs = append(errs, "ACCOUNTS_FILE is required for the file accounts backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("ACCOUNTS_BACKEND must be postgres or file, got %q", c.Accounts.Backend))
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	// Provider
	switch c.Provider.Kind {
	case "http":
		if c.Provider.BaseURL == "" {
			errs = append(errs, "PROVIDER_BASE_URL is required for the http provider")
		}
	case "openai":
	default:
		errs = append(errs, fmt.Sprintf("PROVIDER_KIND must be http or openai, got %q", c.Provider.Kind))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, "PROVIDER_API_KEY is required")
	}
	if len(c.Provider.Models) == 0 {
		errs = append(errs, "PROVIDER_MODELS must list at least one model")
	}
	if c.Provider.MaxReferenceImages < 1 {
		errs = append(errs, "PROVIDER_MAX_REFERENCE_IMAGES must be positive")
	}

	// Quota
	if c.Quota.GuestBackend != "memory" && c.Quota.GuestBackend != "redis" {
		errs = append(errs, fmt.Sprintf("QUOTA_GUEST_BACKEND must be memory or redis, got %q", c.Quota.GuestBackend))
	}
	if c.Quota.GuestTrialLimit < 0 {
		errs = append(errs, "QUOTA_GUEST_TRIAL_LIMIT must not be negative")
	}
	if c.Quota.GuestWindow <= 0 {
		errs = append(errs, "QUOTA_GUEST_WINDOW must be positive")
	}

	if c.History.Limit < 1 {
		errs = append(errs, "HISTORY_LIMIT must be positive")
	}
	if c.Materialize.Concurrency < 1 {
		errs = append(errs, "MATERIALIZE_CONCURRENCY must be positive")
	}
	if c.Outpaint.MaxCanvasSide < 1 || c.Outpaint.MaxSourceSide < 1 {
		errs = append(errs, "OUTPAINT_MAX_CANVAS_SIDE and OUTPAINT_MAX_SOURCE_SIDE must be positive")
	}

	// Storage: warn only, generation still works with inline images
	if c.Storage.Dir == "" {
		slog.Warn("STORAGE_DIR is empty, generated images will be returned inline as data URLs")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
