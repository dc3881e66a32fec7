package config

import "fmt"

// Change describes one configuration field that differs between two
// configs. Non-reloadable changes require a process restart.
type Change struct {
	Field      string
	OldValue   any
	NewValue   any
	Reloadable bool
}

// Diff compares two configurations field by field. Listener and
// logging transport settings are fixed at startup; verification,
// probe, and rate-limit settings can be applied at runtime.
func Diff(old, new *Config) []Change {
	var changes []Change

	add := func(field string, oldVal, newVal any, reloadable bool) {
		if fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
			changes = append(changes, Change{Field: field, OldValue: oldVal, NewValue: newVal, Reloadable: reloadable})
		}
	}

	add("listen.host", old.Listen.Host, new.Listen.Host, false)
	add("listen.port", old.Listen.Port, new.Listen.Port, false)
	add("listen.max_connections", old.Listen.MaxConnections, new.Listen.MaxConnections, false)
	add("listen.max_body_size", old.Listen.MaxBodySize, new.Listen.MaxBodySize, true)

	add("verification.timeout", old.Verification.Timeout.Duration, new.Verification.Timeout.Duration, true)
	add("verification.allow_insecure", old.Verification.AllowInsecure, new.Verification.AllowInsecure, true)
	add("verification.cache_ttl", old.Verification.CacheTTL.Duration, new.Verification.CacheTTL.Duration, true)
	add("verification.failure_cooldown", old.Verification.FailureCooldown.Duration, new.Verification.FailureCooldown.Duration, true)

	add("probe.enabled", old.Probe.Enabled, new.Probe.Enabled, true)
	add("probe.timeout", old.Probe.Timeout.Duration, new.Probe.Timeout.Duration, true)

	add("rate_limit.enabled", old.RateLimit.Enabled, new.RateLimit.Enabled, true)
	add("rate_limit.per_ip", old.RateLimit.PerIP, new.RateLimit.PerIP, true)
	add("rate_limit.burst", old.RateLimit.Burst, new.RateLimit.Burst, true)
	add("rate_limit.cleanup_interval", old.RateLimit.CleanupInterval.Duration, new.RateLimit.CleanupInterval.Duration, true)

	add("logging.level", old.Logging.Level, new.Logging.Level, false)
	add("logging.format", old.Logging.Format, new.Logging.Format, false)
	add("logging.output", old.Logging.Output, new.Logging.Output, false)

	add("shutdown.timeout", old.Shutdown.Timeout.Duration, new.Shutdown.Timeout.Duration, true)

	add("reload.enabled", old.Reload.Enabled, new.Reload.Enabled, false)
	add("reload.watch_file", old.Reload.WatchFile, new.Reload.WatchFile, false)
	add("reload.debounce", old.Reload.Debounce.Duration, new.Reload.Debounce.Duration, false)

	return changes
}
