package storage

import (
	"context"
	"fmt"
	"sync"
)

// Row is a fully resolved row representation: column name -> value.
//
// Values are plain Go scalars (string, int64, float64, bool, nil) or, for
// json-typed columns, anything encodable by encoding/json.
type Row map[string]any

// Config is the minimal configuration needed to open an Engine.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Engine is a backend-agnostic interface for the relational storage consumed
// by the sync core.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the sync engine needs. Each backend implements these semantics
// in its own idiomatic way (Postgres RETURNING, SQLite last_insert_rowid,
// MSSQL OUTPUT INSERTED, etc).
type Engine interface {
	// Close releases any backend resources (connections, prepared statements, etc).
	// Callers should treat Close as "call once" at shutdown.
	Close()

	// HasTable reports whether the named table exists.
	HasTable(ctx context.Context, name string) (bool, error)

	// DefineTable creates the table if absent and additively migrates it
	// otherwise: columns missing from storage are added as nullable columns,
	// existing columns and their data are never dropped or altered.
	DefineTable(ctx context.Context, spec TableSpec) error

	// RedefineTable rebuilds the table definition from spec with the same
	// additive, data-preserving semantics as DefineTable.
	RedefineTable(ctx context.Context, spec TableSpec) error

	// LookupRow fetches a single row by primary key. The second return value
	// is false when no row exists.
	LookupRow(ctx context.Context, table string, id int64) (Row, bool, error)

	// UpdateRow applies values to the row with the given primary key.
	UpdateRow(ctx context.Context, table string, id int64, values Row) error

	// InsertRow inserts one row and returns the generated primary key.
	InsertRow(ctx context.Context, table string, values Row) (int64, error)

	// BulkInsertRows inserts rows in order and returns their generated
	// primary keys, aligned with the input order.
	BulkInsertRows(ctx context.Context, table string, values []Row) ([]int64, error)

	// Query returns all rows matching the equality predicate (ANDed).
	// An empty predicate returns every row in the table.
	Query(ctx context.Context, table string, where map[string]any) ([]Row, error)
}

// ---- backend factories (mirrors the single Engine per Config model) ----

type factory func(ctx context.Context, cfg Config) (Engine, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a storage backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. The kind string
// becomes the lookup key used by Open.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Open constructs an Engine using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func Open(ctx context.Context, cfg Config) (Engine, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	factoryMu.RLock()
	f := factories[cfg.Kind]
	factoryMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
