package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"jsonsync/internal/storage"
)

// Engine implements storage.Engine for SQLite.
//
// Key design points vs Postgres:
//   - "id INTEGER PRIMARY KEY AUTOINCREMENT" aliases the rowid, so generated
//     keys come back via LastInsertId without a RETURNING clause.
//   - SQLite has no native date/time types; temporal and json values arrive
//     pre-bound as TEXT (see storage.BindValue) for reliable round-trips.
//   - ALTER TABLE ADD COLUMN cannot add constraints, so additive migration
//     adds plain nullable columns and enforces uniqueness via indexes.
type Engine struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() { _ = e.db.Close() }

func (e *Engine) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// columnType translates the shared column vocabulary into SQLite storage types.
func columnType(typ string) string {
	switch typ {
	case storage.TypeInteger, storage.TypeBoolean:
		return "INTEGER"
	case storage.TypeDouble:
		return "REAL"
	default:
		if kind, _, ok := storage.ParseReference(typ); ok {
			if kind == "reference" {
				return "INTEGER"
			}
			// list:reference stores an ordered JSON array of ids.
			return "TEXT"
		}
		// string/text/json/date/time/datetime
		return "TEXT"
	}
}

func (e *Engine) DefineTable(ctx context.Context, spec storage.TableSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("sqlite: table name is empty")
	}

	exists, err := e.HasTable(ctx, spec.Name)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := e.db.ExecContext(ctx, createTableSQL(spec)); err != nil {
			return fmt.Errorf("create table %s: %w", spec.Name, err)
		}
	} else if err := e.addMissingColumns(ctx, spec); err != nil {
		return err
	}

	return e.ensureUniqueIndexes(ctx, spec)
}

// RedefineTable has the same additive semantics as DefineTable: existing
// columns and their data are preserved, missing columns are added nullable.
func (e *Engine) RedefineTable(ctx context.Context, spec storage.TableSpec) error {
	return e.DefineTable(ctx, spec)
}

func createTableSQL(spec storage.TableSpec) string {
	parts := []string{storage.QuoteIdent(storage.IDColumn) + " INTEGER PRIMARY KEY AUTOINCREMENT"}
	for _, c := range spec.Columns {
		col := storage.QuoteIdent(c.Name) + " " + columnType(c.Type)
		if c.NotNull {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", storage.QuoteIdent(spec.Name), strings.Join(parts, ",\n  "))
}

func (e *Engine) addMissingColumns(ctx context.Context, spec storage.TableSpec) error {
	existing, err := e.tableColumns(ctx, spec.Name)
	if err != nil {
		return err
	}
	for _, c := range spec.Columns {
		if existing[strings.ToLower(c.Name)] {
			continue
		}
		// Added columns are always nullable so existing rows stay valid.
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			storage.QuoteIdent(spec.Name), storage.QuoteIdent(c.Name), columnType(c.Type))
		if _, err := e.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("add column %s.%s: %w", spec.Name, c.Name, err)
		}
	}
	return nil
}

func (e *Engine) ensureUniqueIndexes(ctx context.Context, spec storage.TableSpec) error {
	for _, con := range spec.Constraints {
		if con.Kind != "unique" {
			return fmt.Errorf("sqlite: %s unsupported constraint kind: %s", spec.Name, con.Kind)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, storage.QuoteIdent(c))
		}
		name := "ux_" + spec.Name + "_" + strings.Join(con.Columns, "_")
		q := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			storage.QuoteIdent(name), storage.QuoteIdent(spec.Name), strings.Join(cols, ", "))
		if _, err := e.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("unique index on %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (e *Engine) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", storage.QuoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}

func (e *Engine) LookupRow(ctx context.Context, table string, id int64) (storage.Row, bool, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?",
		storage.QuoteIdent(table), storage.QuoteIdent(storage.IDColumn))
	rows, err := e.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, false, err
	}
	return row, true, rows.Err()
}

func (e *Engine) UpdateRow(ctx context.Context, table string, id int64, values storage.Row) error {
	columns := sortedColumns(values)
	if len(columns) == 0 {
		return nil
	}
	args, err := storage.BindRow(columns, values)
	if err != nil {
		return err
	}

	setParts := make([]string, 0, len(columns))
	for _, c := range columns {
		setParts = append(setParts, storage.QuoteIdent(c)+" = ?")
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		storage.QuoteIdent(table), strings.Join(setParts, ", "), storage.QuoteIdent(storage.IDColumn))

	_, err = e.db.ExecContext(ctx, q, append(args, id)...)
	return err
}

func (e *Engine) InsertRow(ctx context.Context, table string, values storage.Row) (int64, error) {
	return insertOne(ctx, e.db, table, values)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOne(ctx context.Context, ex execer, table string, values storage.Row) (int64, error) {
	columns := sortedColumns(values)
	args, err := storage.BindRow(columns, values)
	if err != nil {
		return 0, err
	}

	var q string
	if len(columns) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", storage.QuoteIdent(table))
	} else {
		cols := make([]string, 0, len(columns))
		for _, c := range columns {
			cols = append(cols, storage.QuoteIdent(c))
		}
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			storage.QuoteIdent(table),
			strings.Join(cols, ", "),
			strings.TrimRight(strings.Repeat("?,", len(columns)), ","))
	}

	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// BulkInsertRows inserts rows one statement at a time inside a transaction.
// Rows in a batch may carry different column sets, so a single multi-VALUES
// statement is not an option; the transaction keeps the batch on one
// write-lock acquisition.
func (e *Engine) BulkInsertRows(ctx context.Context, table string, values []storage.Row) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, 0, len(values))
	for i, v := range values {
		id, err := insertOne(ctx, tx, table, v)
		if err != nil {
			return nil, fmt.Errorf("bulk insert row %d: %w", i, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) Query(ctx context.Context, table string, where map[string]any) ([]storage.Row, error) {
	q := "SELECT * FROM " + storage.QuoteIdent(table)

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v, err := storage.BindValue(where[k])
			if err != nil {
				return nil, err
			}
			parts = append(parts, storage.QuoteIdent(k)+" = ?")
			args = append(args, v)
		}
		q += " WHERE " + strings.Join(parts, " AND ")
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		// Querying a table that was never defined returns no rows rather
		// than an error; the catalog is read before it is first created.
		if isNoSuchTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func sortedColumns(values storage.Row) []string {
	out := make([]string, 0, len(values))
	for c := range values {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func scanRow(rows *sql.Rows) (storage.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	vals := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range vals {
		scan[i] = &vals[i]
	}
	if err := rows.Scan(scan...); err != nil {
		return nil, err
	}

	out := make(storage.Row, len(cols))
	for i, c := range cols {
		v := vals[i]
		// TEXT can scan as []byte depending on driver internals.
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[c] = v
	}
	return out, nil
}
