package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for errors. It collects ALL errors
// rather than stopping at the first one, returning them as a joined
// message.
func Validate(cfg *Config) error {
	var errs []string

	// ── Listen ──
	if cfg.Listen.Port < 1 || cfg.Listen.Port > 65535 {
		errs = append(errs, fmt.Sprintf("listen.port must be 1-65535 (got %d)", cfg.Listen.Port))
	}
	if cfg.Listen.MaxConnections < 0 {
		errs = append(errs, fmt.Sprintf("listen.max_connections must not be negative (got %d)", cfg.Listen.MaxConnections))
	}
	if cfg.Listen.MaxBodySize < 1024 {
		errs = append(errs, fmt.Sprintf("listen.max_body_size must be at least 1024 bytes (got %d)", cfg.Listen.MaxBodySize))
	}

	// ── Verification ──
	if cfg.Verification.Timeout.Duration < 0 {
		errs = append(errs, "verification.timeout must be positive")
	}
	if cfg.Verification.CacheTTL.Duration < 0 {
		errs = append(errs, "verification.cache_ttl must be positive")
	}
	if cfg.Verification.FailureCooldown.Duration < 0 {
		errs = append(errs, "verification.failure_cooldown must be positive")
	}

	// ── Probe ──
	if cfg.Probe.Timeout.Duration < 0 {
		errs = append(errs, "probe.timeout must be positive")
	}

	// ── Rate Limit ──
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.PerIP < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.per_ip must be at least 1 (got %d)", cfg.RateLimit.PerIP))
		}
		if cfg.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.burst must be at least 1 (got %d)", cfg.RateLimit.Burst))
		}
	}

	// ── Logging ──
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format must be one of: json, text (got %q)", cfg.Logging.Format))
	}
	switch cfg.Logging.Output {
	case "stdout", "stderr":
	default:
		errs = append(errs, fmt.Sprintf("logging.output must be one of: stdout, stderr (got %q)", cfg.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
