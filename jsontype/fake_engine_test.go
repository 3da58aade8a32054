package jsontype

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"jsonsync/internal/storage"
)

// fakeEngine is an in-memory storage.Engine for unit tests. It implements
// the contract the sync core relies on: additive migration, full-width row
// lookups, generated ids aligned with insert order, unique-constraint
// enforcement on the catalog table, and safe concurrent use (the real
// backends serialize through their drivers).
type fakeEngine struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
	ops    []string
}

type fakeTable struct {
	columns map[string]string // column -> type
	unique  [][]string
	uniqSet map[string]bool

	rows   map[int64]storage.Row
	order  []int64
	nextID int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tables: make(map[string]*fakeTable)}
}

func (e *fakeEngine) op(format string, args ...any) {
	e.ops = append(e.ops, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) countOps(prefix string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, op := range e.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) Close() {}

func (e *fakeEngine) HasTable(_ context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tables[name]
	return ok, nil
}

func (e *fakeEngine) DefineTable(_ context.Context, spec storage.TableSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("DefineTable:%s", spec.Name)
	return e.define(spec)
}

func (e *fakeEngine) RedefineTable(_ context.Context, spec storage.TableSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("RedefineTable:%s", spec.Name)
	return e.define(spec)
}

func (e *fakeEngine) define(spec storage.TableSpec) error {
	t := e.tables[spec.Name]
	if t == nil {
		t = &fakeTable{
			columns: map[string]string{storage.IDColumn: storage.TypeInteger},
			uniqSet: make(map[string]bool),
			rows:    make(map[int64]storage.Row),
			nextID:  1,
		}
		for _, c := range spec.Constraints {
			if c.Kind == "unique" {
				t.unique = append(t.unique, c.Columns)
			}
		}
		e.tables[spec.Name] = t
	}
	// Additive only: never drop or retype existing columns.
	for _, col := range spec.Columns {
		if _, exists := t.columns[col.Name]; !exists {
			t.columns[col.Name] = col.Type
		}
	}
	return nil
}

func (e *fakeEngine) LookupRow(_ context.Context, table string, id int64) (storage.Row, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("LookupRow:%s:%d", table, id)
	t := e.tables[table]
	if t == nil {
		return nil, false, fmt.Errorf("fake: no such table %s", table)
	}
	stored, ok := t.rows[id]
	if !ok {
		return nil, false, nil
	}
	// Full width, like SELECT *: every column present, nil where unset.
	out := make(storage.Row, len(t.columns))
	for col := range t.columns {
		out[col] = stored[col]
	}
	return out, true, nil
}

func (e *fakeEngine) UpdateRow(_ context.Context, table string, id int64, values storage.Row) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("UpdateRow:%s:%d", table, id)
	t := e.tables[table]
	if t == nil {
		return fmt.Errorf("fake: no such table %s", table)
	}
	stored, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("fake: update of missing row %s id=%d", table, id)
	}
	for col, v := range values {
		stored[col] = v
	}
	return nil
}

func (e *fakeEngine) InsertRow(_ context.Context, table string, values storage.Row) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("InsertRow:%s", table)
	return e.insert(table, values)
}

func (e *fakeEngine) BulkInsertRows(_ context.Context, table string, values []storage.Row) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("BulkInsertRows:%s:%d", table, len(values))
	ids := make([]int64, 0, len(values))
	for _, row := range values {
		id, err := e.insert(table, row)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *fakeEngine) insert(table string, values storage.Row) (int64, error) {
	t := e.tables[table]
	if t == nil {
		return 0, fmt.Errorf("fake: no such table %s", table)
	}
	for _, cols := range t.unique {
		key := uniqueKey(cols, values)
		if t.uniqSet[key] {
			return 0, fmt.Errorf("fake: unique constraint violation on %s (%s)", table, key)
		}
		t.uniqSet[key] = true
	}

	id, ok := asID(values[storage.IDColumn])
	if !ok {
		id = t.nextID
	}
	if id >= t.nextID {
		t.nextID = id + 1
	}

	stored := make(storage.Row, len(values)+1)
	for col, v := range values {
		stored[col] = v
	}
	stored[storage.IDColumn] = id
	t.rows[id] = stored
	t.order = append(t.order, id)
	return id, nil
}

func (e *fakeEngine) Query(_ context.Context, table string, where map[string]any) ([]storage.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.op("Query:%s", table)
	t := e.tables[table]
	if t == nil {
		// Matches the real backends: reading a never-created table yields
		// no rows, not an error.
		return nil, nil
	}
	var out []storage.Row
	for _, id := range t.order {
		row := t.rows[id]
		match := true
		for col, want := range where {
			if !reflect.DeepEqual(row[col], want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func uniqueKey(cols []string, values storage.Row) string {
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, fmt.Sprint(values[col]))
	}
	return strings.Join(parts, "\x00")
}

var _ storage.Engine = (*fakeEngine)(nil)
