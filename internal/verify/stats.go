package verify

import "time"

// StatsRecorder receives verification and key-resolution events for
// metrics export. Implementations must be safe for concurrent use.
// The metrics package provides a Prometheus-backed implementation.
type StatsRecorder interface {
	// RecordSignature is called once per verified signature entry.
	RecordSignature(valid bool, algorithm string)
	// RecordKeyFetch is called once per network fetch of a key set.
	// Outcome is "success", "timeout", or "error".
	RecordKeyFetch(outcome string, duration time.Duration)
	// RecordCacheLookup is called once per cache consultation.
	RecordCacheLookup(hit bool)
}

// nopStats discards all events.
type nopStats struct{}

func (nopStats) RecordSignature(bool, string)         {}
func (nopStats) RecordKeyFetch(string, time.Duration) {}
func (nopStats) RecordCacheLookup(bool)               {}
