package config

import "time"

// ApplyDefaults fills zero-valued fields with their defaults. It is
// called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	// ── Listen ──
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 8080
	}
	if cfg.Listen.MaxConnections == 0 {
		cfg.Listen.MaxConnections = 1000
	}
	if cfg.Listen.MaxBodySize == 0 {
		cfg.Listen.MaxBodySize = 1048576 // 1MB
	}

	// ── Verification ──
	if cfg.Verification.Timeout.Duration == 0 {
		cfg.Verification.Timeout.Duration = 10 * time.Second
	}
	if cfg.Verification.CacheTTL.Duration == 0 {
		cfg.Verification.CacheTTL.Duration = 5 * time.Minute
	}
	if cfg.Verification.FailureCooldown.Duration == 0 {
		cfg.Verification.FailureCooldown.Duration = 30 * time.Second
	}
	// allow_insecure defaults to false (zero value)

	// ── Probe ──
	// probe.enabled defaults to false (zero value)
	if cfg.Probe.Timeout.Duration == 0 {
		cfg.Probe.Timeout.Duration = 10 * time.Second
	}

	// ── Rate Limit ──
	if cfg.RateLimit.PerIP == 0 {
		cfg.RateLimit.PerIP = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 30
	}
	if cfg.RateLimit.CleanupInterval.Duration == 0 {
		cfg.RateLimit.CleanupInterval.Duration = 5 * time.Minute
	}

	// ── Logging ──
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	// ── Shutdown ──
	if cfg.Shutdown.Timeout.Duration == 0 {
		cfg.Shutdown.Timeout.Duration = 10 * time.Second
	}

	// ── Reload ──
	if cfg.Reload.Debounce.Duration == 0 {
		cfg.Reload.Debounce.Duration = 2 * time.Second
	}
}
