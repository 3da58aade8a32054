package jsontype

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"jsonsync/internal/metrics"
	"jsonsync/internal/storage"
	"jsonsync/internal/temporal"
)

// Type is a named document schema: an ordered set of fields, a target table,
// and a policy for fields absent from an incoming document. Types may
// reference each other by name through "reference <Type>" and
// "list:reference <Type>" fields; cycles are permitted since resolution is
// driven by the data, not the schema.
type Type struct {
	registry *Registry

	name                string
	tableName           string
	removeMissingFields bool

	fields       []*Field
	fieldsByName map[string]*Field

	// Syncs may run from multiple goroutines; the mutex serializes the
	// first-use schema apply so concurrent callers do not race DDL.
	schemaMu      sync.Mutex
	schemaApplied atomic.Bool
}

// TypeOption configures a Type at definition time.
type TypeOption func(*Type)

// WithTableName overrides the target table name (defaults to the type name).
func WithTableName(name string) TypeOption {
	return func(t *Type) { t.tableName = name }
}

// WithKeepMissingFields leaves columns untouched on update when the incoming
// document omits them. The default nulls them out, treating each document as
// authoritative full state.
func WithKeepMissingFields() TypeOption {
	return func(t *Type) { t.removeMissingFields = false }
}

// Name returns the logical type name.
func (t *Type) Name() string { return t.name }

// TableName returns the storage table the type syncs into.
func (t *Type) TableName() string { return t.tableName }

// Fields returns the declared fields in declaration order.
func (t *Type) Fields() []*Field { return append([]*Field(nil), t.fields...) }

// Sync upserts a single document and returns the fully resolved row,
// including the generated id on insert. With partial=true, fields absent
// from doc are left untouched in storage instead of being cleared.
func (t *Type) Sync(ctx context.Context, doc Document, partial bool) (storage.Row, error) {
	start := time.Now()
	c := newContext(nil, t, doc, nil, partial)
	row, err := t.syncContext(ctx, c)
	t.registry.metrics.ObserveHistogram(metrics.SyncDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"type": t.name})
	return row, err
}

// BulkSync upserts a batch of documents and returns their resolved rows in
// input order. Schema discovery runs once over the union of all documents;
// rows that fail to update (new rows) are inserted together in one bulk
// insert at the end.
func (t *Type) BulkSync(ctx context.Context, docs []Document, partial bool) ([]storage.Row, error) {
	start := time.Now()
	c := newContext(nil, t, nil, docs, partial)
	rows, err := t.bulkSyncContext(ctx, c)
	t.registry.metrics.ObserveHistogram(metrics.SyncDurationSeconds, time.Since(start).Seconds(), metrics.Labels{"type": t.name})
	return rows, err
}

func (t *Type) syncContext(ctx context.Context, c *Context) (storage.Row, error) {
	if err := t.ensureSchema(ctx); err != nil {
		return nil, err
	}
	known, err := t.registry.KnownFields(ctx, t)
	if err != nil {
		return nil, err
	}
	known, err = t.extendFromDocs(ctx, known, c.Data)
	if err != nil {
		return nil, err
	}

	row, err := t.buildRow(ctx, c, known)
	if err != nil {
		return nil, err
	}

	updated, err := t.upsertRow(ctx, row, c.Partial)
	if err != nil {
		return nil, err
	}
	kind := "updated"
	if !updated {
		id, err := t.registry.engine.InsertRow(ctx, t.tableName, row)
		if err != nil {
			return nil, fmt.Errorf("jsontype: insert into %s: %w", t.tableName, err)
		}
		row[storage.IDColumn] = id
		kind = "inserted"
	}
	t.registry.metrics.IncCounter(metrics.SyncRowsTotal, 1, metrics.Labels{"type": t.name, "kind": kind})
	return row, nil
}

func (t *Type) bulkSyncContext(ctx context.Context, c *Context) ([]storage.Row, error) {
	if err := t.ensureSchema(ctx); err != nil {
		return nil, err
	}
	known, err := t.registry.KnownFields(ctx, t)
	if err != nil {
		return nil, err
	}
	known, err = t.extendFromDocs(ctx, known, c.Seq...)
	if err != nil {
		return nil, err
	}

	rows := make([]storage.Row, 0, len(c.Seq))
	var pending []storage.Row
	var pendingIdx []int
	updated := 0

	for i, doc := range c.Seq {
		c.Index = i
		c.Data = doc
		row, err := t.buildRow(ctx, c, known)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)

		ok, err := t.upsertRow(ctx, row, c.Partial)
		if err != nil {
			return nil, err
		}
		if ok {
			updated++
			continue
		}
		pending = append(pending, row)
		pendingIdx = append(pendingIdx, i)
	}

	if len(pending) > 0 {
		ids, err := t.registry.engine.BulkInsertRows(ctx, t.tableName, pending)
		if err != nil {
			return nil, fmt.Errorf("jsontype: bulk insert into %s: %w", t.tableName, err)
		}
		for i, id := range ids {
			rows[pendingIdx[i]][storage.IDColumn] = id
		}
		t.registry.metrics.IncCounter(metrics.SyncRowsTotal, float64(len(pending)), metrics.Labels{"type": t.name, "kind": "inserted"})
	}
	if updated > 0 {
		t.registry.metrics.IncCounter(metrics.SyncRowsTotal, float64(updated), metrics.Labels{"type": t.name, "kind": "updated"})
	}
	return rows, nil
}

// ensureSchema materializes the table on first use, so a caller that skipped
// ApplyAllSchemas can still sync against a fresh database. A failed apply is
// retried on the next call.
func (t *Type) ensureSchema(ctx context.Context) error {
	if t.schemaApplied.Load() {
		return nil
	}
	t.schemaMu.Lock()
	defer t.schemaMu.Unlock()
	if t.schemaApplied.Load() {
		return nil
	}
	return t.registry.ApplySchema(ctx, t)
}

// extendFromDocs discovers fields unknown to the type across docs, infers
// their column types, persists and applies the extension, and returns the
// refreshed known-field set. Returns the input set unchanged when nothing
// new was seen.
func (t *Type) extendFromDocs(ctx context.Context, known map[string]*Field, docs ...Document) (map[string]*Field, error) {
	extra := make(map[string]map[string]bool)
	for _, doc := range docs {
		t.discoverExtraFields(known, doc, extra)
	}
	if len(extra) == 0 {
		return known, nil
	}

	newFields := make(map[string]string, len(extra))
	for name, kinds := range extra {
		newFields[name] = inferDBType(kinds)
	}
	if err := t.registry.ExtendFields(ctx, t, newFields); err != nil {
		return nil, err
	}
	return t.registry.KnownFields(ctx, t)
}

// discoverExtraFields accumulates the set of value kinds observed for each
// top-level key not already known. Known keys, the id key, and null values
// are skipped; null carries no type information.
func (t *Type) discoverExtraFields(known map[string]*Field, doc Document, extra map[string]map[string]bool) {
	for fieldname, value := range doc {
		if _, ok := known[fieldname]; ok {
			continue
		}
		if fieldname == storage.IDColumn {
			continue
		}
		if value == nil {
			continue
		}
		kinds := extra[fieldname]
		if kinds == nil {
			kinds = make(map[string]bool)
			extra[fieldname] = kinds
		}
		kinds[kindOf(value)] = true
	}
}

const (
	kindInteger   = "integer"
	kindDouble    = "double"
	kindBoolean   = "boolean"
	kindString    = "string"
	kindComposite = "composite"
	kindOther     = "other"
)

func kindOf(v any) string {
	switch v := v.(type) {
	case bool:
		return kindBoolean
	case string:
		return kindString
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return kindInteger
		}
		return kindDouble
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInteger
	case float32, float64:
		return kindDouble
	case map[string]any, []any:
		return kindComposite
	default:
		return kindOther
	}
}

// inferDBType maps an observed kind set to a column type. Exactly one kind
// maps directly; zero, multiple, or unmappable kinds fall back to string,
// which loses typing but never data.
func inferDBType(kinds map[string]bool) string {
	if len(kinds) == 1 {
		for kind := range kinds {
			switch kind {
			case kindInteger:
				return storage.TypeInteger
			case kindComposite:
				return storage.TypeJSON
			case kindBoolean:
				return storage.TypeBoolean
			case kindDouble:
				return storage.TypeDouble
			}
		}
	}
	return storage.TypeString
}

// buildRow resolves one document into a row keyed by column name. Undeclared
// keys pass through (when non-null, or when the column already exists);
// declared fields are computed, parsed, or recursively resolved in
// declaration order.
func (t *Type) buildRow(ctx context.Context, c *Context, known map[string]*Field) (storage.Row, error) {
	row := make(storage.Row)

	for fieldname, value := range c.Data {
		if _, declared := t.fieldsByName[fieldname]; declared {
			continue
		}
		if fieldname == storage.IDColumn {
			if value != nil {
				row[storage.IDColumn] = value
			}
			continue
		}
		kf, isKnown := known[fieldname]
		if value == nil && !isKnown {
			continue
		}
		column := fieldname
		if isKnown {
			column = kf.ColumnName
		}
		row[column] = value
	}

	for _, f := range t.fields {
		if f.Compute != nil {
			value, err := f.Compute(row, c)
			if err != nil {
				return nil, fmt.Errorf("jsontype: compute %s.%s: %w", t.name, f.Fieldname, err)
			}
			row[f.ColumnName] = value
			continue
		}

		value, present := c.Data[f.Fieldname]
		if c.Partial && !present {
			continue
		}
		if value == nil {
			row[f.ColumnName] = nil
			continue
		}

		if f.isTemporal() {
			parsed, err := t.parseTemporal(f, value)
			if err != nil {
				return nil, err
			}
			row[f.ColumnName] = parsed
			continue
		}

		if kind, target, ok := storage.ParseReference(f.Type); ok {
			resolved, err := t.resolveReference(ctx, c, f, kind, target, value)
			if err != nil {
				return nil, err
			}
			row[f.ColumnName] = resolved
			continue
		}

		row[f.ColumnName] = value
	}
	return row, nil
}

// parseTemporal parses a temporal field value. The raw value is logged before
// a ParseError propagates. Values with explicit zone information are
// normalized to local time; date and time fields are truncated to their
// component.
func (t *Type) parseTemporal(f *Field, value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		t.registry.log.Printf("stage=parse_temporal type=%s field=%s value=%#v err=not_a_string", t.name, f.Fieldname, value)
		return nil, &ParseError{Type: t.name, Field: f.Fieldname, Value: value, Err: fmt.Errorf("temporal value is %T, want string", value)}
	}

	var (
		parsed time.Time
		err    error
	)
	if f.DateFormat != "" {
		parsed, err = temporal.ParseLayout(s, f.DateFormat, f.DateOptions)
	} else {
		parsed, err = temporal.Parse(s, f.DateOptions)
	}
	if err != nil {
		t.registry.log.Printf("stage=parse_temporal type=%s field=%s value=%q err=%v", t.name, f.Fieldname, s, err)
		return nil, &ParseError{Type: t.name, Field: f.Fieldname, Value: s, Err: err}
	}

	// A location differing from the assumed one means the value carried its
	// own zone; normalize those to local time.
	assumed := f.DateOptions.Location
	if assumed == nil {
		assumed = time.Local
	}
	if parsed.Location() != assumed {
		parsed = parsed.In(time.Local)
	}

	switch f.Type {
	case storage.TypeDate:
		return parsed.Format("2006-01-02"), nil
	case storage.TypeTime:
		return parsed.Format("15:04:05"), nil
	default:
		return parsed, nil
	}
}

// resolveReference turns a reference or list:reference value into foreign-key
// identifiers, recursively syncing nested documents first. Integer values
// pass through unchanged with no existence check.
func (t *Type) resolveReference(ctx context.Context, c *Context, f *Field, kind, target string, value any) (any, error) {
	ref, err := t.registry.Type(target)
	if err != nil {
		return nil, err
	}

	if kind == "reference" {
		if id, ok := asID(value); ok {
			return id, nil
		}
		doc, ok := asDocument(value)
		if !ok {
			return nil, fmt.Errorf("jsontype: %s.%s: reference value is %T, want id or document", t.name, f.Fieldname, value)
		}
		child := newContext(c, ref, doc, nil, c.Partial)
		childRow, err := ref.syncContext(ctx, child)
		if err != nil {
			return nil, err
		}
		return rowID(ref, childRow)
	}

	// list:reference: a scalar is a one-element list. Elements that are
	// already ids keep their slots; the rest sync as one child batch and
	// their generated ids are spliced back positionally.
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	ids := make([]int64, len(items))
	var seq []Document
	var indexes []int
	for i, item := range items {
		if id, ok := asID(item); ok {
			ids[i] = id
			continue
		}
		doc, ok := asDocument(item)
		if !ok {
			return nil, fmt.Errorf("jsontype: %s.%s[%d]: list element is %T, want id or document", t.name, f.Fieldname, i, item)
		}
		seq = append(seq, doc)
		indexes = append(indexes, i)
	}
	if len(seq) > 0 {
		child := newContext(c, ref, nil, seq, c.Partial)
		childRows, err := ref.bulkSyncContext(ctx, child)
		if err != nil {
			return nil, err
		}
		for i, childRow := range childRows {
			id, err := rowID(ref, childRow)
			if err != nil {
				return nil, err
			}
			ids[indexes[i]] = id
		}
	}
	return ids, nil
}

// upsertRow updates the stored row matching row's id, if any. Returns false
// (caller inserts) when row has no id or no stored row matches. With
// removeMissingFields, stored columns absent from row are nulled so a
// document omitting a field clears it; a partial sync suppresses the
// null-fill, leaving untouched columns as they are.
func (t *Type) upsertRow(ctx context.Context, row storage.Row, partial bool) (bool, error) {
	id, ok := asID(row[storage.IDColumn])
	if !ok {
		return false, nil
	}

	stored, found, err := t.registry.engine.LookupRow(ctx, t.tableName, id)
	if err != nil {
		return false, fmt.Errorf("jsontype: lookup %s id=%d: %w", t.tableName, id, err)
	}
	if !found {
		return false, nil
	}

	values := make(storage.Row, len(row))
	for column, value := range row {
		if column == storage.IDColumn {
			continue
		}
		values[column] = value
	}
	if t.removeMissingFields && !partial {
		for column := range stored {
			if column == storage.IDColumn {
				continue
			}
			if _, present := row[column]; !present {
				values[column] = nil
			}
		}
	}

	if err := t.registry.engine.UpdateRow(ctx, t.tableName, id, values); err != nil {
		return false, fmt.Errorf("jsontype: update %s id=%d: %w", t.tableName, id, err)
	}
	return true, nil
}

// asID reports whether v is usable as an integer identifier.
func asID(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		return 0, false
	case float64:
		// Decoders without UseNumber deliver ids as floats.
		if v == float64(int64(v)) {
			return int64(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func asDocument(v any) (Document, bool) {
	doc, ok := v.(map[string]any)
	return doc, ok
}

func rowID(t *Type, row storage.Row) (int64, error) {
	id, ok := asID(row[storage.IDColumn])
	if !ok {
		return 0, fmt.Errorf("jsontype: synced %s row has no id", t.name)
	}
	return id, nil
}
