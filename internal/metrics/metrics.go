// Package metrics defines the minimal metrics surface the sync core emits to.
//
// The core depends only on Backend; concrete backends (see the datadog
// subpackage) are wired by the caller. A nil backend is replaced by Noop so
// call sites never branch.
package metrics

// Labels are metric dimensions, e.g. {"type": "person", "kind": "inserted"}.
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use; the core may emit from
// whatever goroutine the caller runs syncs on.
type Backend interface {
	// IncCounter adds delta to a monotonically increasing counter.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered observations, if the backend buffers.
	Flush() error

	// Close stops background work and performs a final Flush.
	Close() error
}

// Metric names emitted by the sync core.
const (
	// SchemaExtendTotal counts dynamically discovered fields persisted to the
	// catalog. Labels: type.
	SchemaExtendTotal = "jsonsync_schema_extend_total"

	// SyncRowsTotal counts rows written. Labels: type, kind (inserted|updated).
	SyncRowsTotal = "jsonsync_sync_rows_total"

	// SyncDurationSeconds measures one top-level Sync/BulkSync call.
	// Labels: type.
	SyncDurationSeconds = "jsonsync_sync_duration_seconds"
)

// Noop discards all observations.
type Noop struct{}

func (Noop) IncCounter(string, float64, Labels)       {}
func (Noop) ObserveHistogram(string, float64, Labels) {}
func (Noop) Flush() error                             { return nil }
func (Noop) Close() error                             { return nil }

// OrNoop returns b, or Noop when b is nil.
func OrNoop(b Backend) Backend {
	if b == nil {
		return Noop{}
	}
	return b
}
