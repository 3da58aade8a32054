// Package jsontype maps semi-structured JSON documents onto a relational
// schema that evolves as new fields are encountered, and upserts documents
// (including nested and list-valued references to other types) into that
// schema.
//
// Usage: construct a Registry over a storage engine, declare types with
// DefineType, then call Sync/BulkSync on a type with decoded documents.
// Fields never declared in code are discovered from the data, recorded in a
// persisted catalog, and added to the table as nullable columns.
package jsontype

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"jsonsync/internal/metrics"
	"jsonsync/internal/storage"
)

// catalogTable persists every dynamically discovered field per type.
// Append-only; the unique constraint on (type, fieldname) is the only guard
// against two callers discovering the same field concurrently.
const catalogTable = "json_type_registry"

// Logger is the minimal logging seam the registry writes to.
type Logger interface {
	Printf(format string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Printf(string, ...any) {}

// Registry owns all type definitions and the known-fields catalog, and
// mediates every schema change.
//
// A Registry is not safe for concurrent DefineType calls; define all types
// up front, then sync from as many goroutines as the storage engine and
// catalog constraints tolerate.
type Registry struct {
	engine  storage.Engine
	log     Logger
	metrics metrics.Backend

	types map[string]*Type
	order []*Type

	catalogMu    sync.Mutex
	catalogReady atomic.Bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger routes diagnostic lines to l. The default discards them.
func WithLogger(l Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches a metrics backend. The default is a no-op.
func WithMetrics(b metrics.Backend) RegistryOption {
	return func(r *Registry) { r.metrics = metrics.OrNoop(b) }
}

// NewRegistry constructs a Registry over the given storage engine.
func NewRegistry(engine storage.Engine, opts ...RegistryOption) *Registry {
	r := &Registry{
		engine:  engine,
		log:     discardLogger{},
		metrics: metrics.Noop{},
		types:   make(map[string]*Type),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefineType registers a new type definition.
//
// Errors (all *DefinitionError):
//   - empty name, or a name already registered
//   - duplicate fieldnames within fields
func (r *Registry) DefineType(name string, fields []*Field, opts ...TypeOption) (*Type, error) {
	if name == "" {
		return nil, &DefinitionError{Msg: "type needs a name"}
	}
	if _, exists := r.types[name]; exists {
		return nil, &DefinitionError{Type: name, Msg: "type already defined"}
	}

	t := &Type{
		registry:            r,
		name:                name,
		tableName:           name,
		removeMissingFields: true,
		fields:              append([]*Field(nil), fields...),
		fieldsByName:        make(map[string]*Field, len(fields)),
	}
	for _, f := range t.fields {
		if f == nil {
			return nil, &DefinitionError{Type: name, Msg: "nil field"}
		}
		if _, dup := t.fieldsByName[f.Fieldname]; dup {
			return nil, &DefinitionError{Type: name, Field: f.Fieldname, Msg: "duplicate fieldname"}
		}
		t.fieldsByName[f.Fieldname] = f
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.tableName == "" {
		t.tableName = name
	}

	r.types[name] = t
	r.order = append(r.order, t)
	return t, nil
}

// Type looks up a registered type by name.
func (r *Registry) Type(name string) (*Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, &ReferenceError{Type: name}
	}
	return t, nil
}

// KnownFields returns the union of t's declared fields and the catalog
// entries recorded for t. Catalog-only entries become synthetic field
// descriptors carrying the stored column name and db type. Declared fields
// win on collision.
func (r *Registry) KnownFields(ctx context.Context, t *Type) (map[string]*Field, error) {
	known := make(map[string]*Field, len(t.fields))
	for _, f := range t.fields {
		known[f.Fieldname] = f
	}

	rows, err := r.engine.Query(ctx, catalogTable, map[string]any{"type": t.name})
	if err != nil {
		return nil, fmt.Errorf("jsontype: read field catalog for %s: %w", t.name, err)
	}
	for _, row := range rows {
		fieldname := asString(row["fieldname"])
		if fieldname == "" {
			continue
		}
		if _, declared := known[fieldname]; declared {
			continue
		}
		column := asString(row["column_name"])
		if column == "" {
			column = fieldname
		}
		dbType := asString(row["db_type"])
		if dbType == "" {
			dbType = storage.TypeString
		}
		f, err := NewField(fieldname, dbType, WithColumnName(column))
		if err != nil {
			return nil, fmt.Errorf("jsontype: corrupt catalog entry %s.%s: %w", t.name, fieldname, err)
		}
		known[fieldname] = f
	}
	return known, nil
}

// ApplySchema creates or additively migrates t's table from KnownFields.
// Existing columns and data are never dropped or altered.
func (r *Registry) ApplySchema(ctx context.Context, t *Type) error {
	known, err := r.KnownFields(ctx, t)
	if err != nil {
		return err
	}
	spec, err := r.tableSpec(t, known)
	if err != nil {
		return err
	}

	exists, err := r.engine.HasTable(ctx, t.tableName)
	if err != nil {
		return fmt.Errorf("jsontype: check table %s: %w", t.tableName, err)
	}
	if exists {
		err = r.engine.RedefineTable(ctx, spec)
	} else {
		err = r.engine.DefineTable(ctx, spec)
	}
	if err != nil {
		return fmt.Errorf("jsontype: apply schema for %s: %w", t.name, err)
	}
	t.schemaApplied.Store(true)
	return nil
}

// ApplyAllSchemas applies the schema of every registered type, in definition
// order. Call it at startup to materialize tables before the first sync.
func (r *Registry) ApplyAllSchemas(ctx context.Context) error {
	for _, t := range r.order {
		if err := r.ApplySchema(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ExtendFields persists newly discovered fields (fieldname -> column type)
// into the catalog, then applies the extended schema. This is the only path
// through which a table's schema mutates.
//
// A no-op when newFields is empty. Concurrent extenders racing on the same
// field surface the catalog's unique-constraint violation as a storage error.
func (r *Registry) ExtendFields(ctx context.Context, t *Type, newFields map[string]string) error {
	if len(newFields) == 0 {
		return nil
	}
	if err := r.ensureCatalog(ctx); err != nil {
		return err
	}

	names := make([]string, 0, len(newFields))
	for name := range newFields {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]storage.Row, 0, len(names))
	for _, name := range names {
		rows = append(rows, storage.Row{
			"type":        t.name,
			"fieldname":   name,
			"column_name": storage.NormalizeIdent(name),
			"db_type":     newFields[name],
		})
	}
	if _, err := r.engine.BulkInsertRows(ctx, catalogTable, rows); err != nil {
		return fmt.Errorf("jsontype: extend field catalog for %s: %w", t.name, err)
	}

	r.log.Printf("stage=schema_extend type=%s new_fields=%d", t.name, len(rows))
	r.metrics.IncCounter(metrics.SchemaExtendTotal, float64(len(rows)), metrics.Labels{"type": t.name})

	return r.ApplySchema(ctx, t)
}

func (r *Registry) ensureCatalog(ctx context.Context) error {
	if r.catalogReady.Load() {
		return nil
	}
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()
	if r.catalogReady.Load() {
		return nil
	}
	ok, err := r.engine.HasTable(ctx, catalogTable)
	if err != nil {
		return fmt.Errorf("jsontype: check field catalog: %w", err)
	}
	if !ok {
		spec := storage.TableSpec{
			Name: catalogTable,
			Columns: []storage.ColumnSpec{
				{Name: "type", Type: storage.TypeString, NotNull: true},
				{Name: "fieldname", Type: storage.TypeString, NotNull: true},
				{Name: "column_name", Type: storage.TypeString},
				{Name: "db_type", Type: storage.TypeString, NotNull: true},
			},
			Constraints: []storage.ConstraintSpec{
				{Kind: "unique", Columns: []string{"type", "fieldname"}},
			},
		}
		if err := r.engine.DefineTable(ctx, spec); err != nil {
			return fmt.Errorf("jsontype: create field catalog: %w", err)
		}
	}
	r.catalogReady.Store(true)
	return nil
}

// tableSpec renders KnownFields as a table spec: declared fields first in
// declaration order, then catalog extras sorted by fieldname. Reference types
// are rewritten from the referenced type's name to its table name.
func (r *Registry) tableSpec(t *Type, known map[string]*Field) (storage.TableSpec, error) {
	ordered := make([]*Field, 0, len(known))
	for _, f := range t.fields {
		ordered = append(ordered, f)
	}
	extras := make([]*Field, 0, len(known)-len(t.fields))
	for name, f := range known {
		if _, declared := t.fieldsByName[name]; !declared {
			extras = append(extras, f)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Fieldname < extras[j].Fieldname })
	ordered = append(ordered, extras...)

	spec := storage.TableSpec{Name: t.tableName, Columns: make([]storage.ColumnSpec, 0, len(ordered))}
	for _, f := range ordered {
		typ, err := r.columnType(f)
		if err != nil {
			return storage.TableSpec{}, err
		}
		spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: f.ColumnName, Type: typ})
	}
	return spec, nil
}

// columnType resolves "reference <Type>" to "reference <table>"; scalar and
// temporal types pass through.
func (r *Registry) columnType(f *Field) (string, error) {
	kind, target, ok := storage.ParseReference(f.Type)
	if !ok {
		return f.Type, nil
	}
	ref, err := r.Type(target)
	if err != nil {
		return "", err
	}
	return kind + " " + ref.tableName, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
