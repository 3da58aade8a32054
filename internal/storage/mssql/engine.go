package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"jsonsync/internal/storage"
)

// Engine implements storage.Engine for SQL Server.
//
// Key design points vs Postgres:
//   - Generated keys are read back with OUTPUT INSERTED.<id>, which works for
//     single statements without a second round-trip.
//   - There is no ADD COLUMN IF NOT EXISTS; additive migration diffs
//     sys.columns first.
type Engine struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`SELECT COUNT(*) FROM sys.tables WHERE name = @p1 AND schema_id = SCHEMA_ID()`, name,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func columnType(typ string) string {
	switch typ {
	case storage.TypeInteger:
		return "BIGINT"
	case storage.TypeDouble:
		return "FLOAT"
	case storage.TypeBoolean:
		return "BIT"
	case storage.TypeDate, storage.TypeTime, storage.TypeDatetime:
		return "NVARCHAR(64)"
	case storage.TypeString:
		return "NVARCHAR(MAX)"
	default:
		if kind, _, ok := storage.ParseReference(typ); ok {
			if kind == "reference" {
				return "BIGINT"
			}
			return "NVARCHAR(MAX)"
		}
		// text/json
		return "NVARCHAR(MAX)"
	}
}

func (e *Engine) DefineTable(ctx context.Context, spec storage.TableSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("mssql: table name is empty")
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

func (e *Engine) RedefineTable(ctx context.Context, spec storage.TableSpec) error {
	return e.DefineTable(ctx, spec)
}

func createTableSQL(spec storage.TableSpec) string {
	parts := []string{storage.QuoteIdent(storage.IDColumn) + " BIGINT IDENTITY(1,1) PRIMARY KEY"}
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
	rows, err := e.db.QueryContext(ctx,
		`SELECT c.name FROM sys.columns c JOIN sys.tables t ON c.object_id = t.object_id WHERE t.name = @p1 AND t.schema_id = SCHEMA_ID()`,
		spec.Name,
	)
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[strings.ToLower(name)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range spec.Columns {
		if existing[strings.ToLower(c.Name)] {
			continue
		}
		// Added columns are always nullable so existing rows stay valid.
		q := fmt.Sprintf("ALTER TABLE %s ADD %s %s NULL",
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
			return fmt.Errorf("mssql: %s unsupported constraint kind: %s", spec.Name, con.Kind)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, storage.QuoteIdent(c))
		}
		name := "ux_" + spec.Name + "_" + strings.Join(con.Columns, "_")
		q := fmt.Sprintf(
			`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = '%s' AND object_id = OBJECT_ID('%s'))
CREATE UNIQUE INDEX %s ON %s (%s)`,
			name, spec.Name,
			storage.QuoteIdent(name), storage.QuoteIdent(spec.Name), strings.Join(cols, ", "))
		if _, err := e.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("unique index on %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (e *Engine) LookupRow(ctx context.Context, table string, id int64) (storage.Row, bool, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = @p1",
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
	for i, c := range columns {
		setParts = append(setParts, fmt.Sprintf("%s = @p%d", storage.QuoteIdent(c), i+1))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = @p%d",
		storage.QuoteIdent(table), strings.Join(setParts, ", "),
		storage.QuoteIdent(storage.IDColumn), len(columns)+1)

	_, err = e.db.ExecContext(ctx, q, append(args, id)...)
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertSQL builds the insert statement for the given column set. Rows that
// carry an explicit id target the IDENTITY column, which SQL Server rejects
// unless IDENTITY_INSERT is on; the toggle is batched around the insert so
// all three statements share one connection.
func insertSQL(table string, columns []string) string {
	qt := storage.QuoteIdent(table)
	idCol := storage.QuoteIdent(storage.IDColumn)

	var stmt string
	if len(columns) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s OUTPUT INSERTED.%s DEFAULT VALUES", qt, idCol)
	} else {
		cols := make([]string, 0, len(columns))
		ph := make([]string, 0, len(columns))
		for i, c := range columns {
			cols = append(cols, storage.QuoteIdent(c))
			ph = append(ph, fmt.Sprintf("@p%d", i+1))
		}
		stmt = fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)",
			qt, strings.Join(cols, ", "), idCol, strings.Join(ph, ", "))
	}

	if hasColumn(columns, storage.IDColumn) {
		stmt = fmt.Sprintf("SET IDENTITY_INSERT %s ON; %s; SET IDENTITY_INSERT %s OFF;", qt, stmt, qt)
	}
	return stmt
}

func hasColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

func insertOne(ctx context.Context, q querier, table string, values storage.Row) (int64, error) {
	columns := sortedColumns(values)
	args, err := storage.BindRow(columns, values)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRowContext(ctx, insertSQL(table, columns), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) InsertRow(ctx context.Context, table string, values storage.Row) (int64, error) {
	return insertOne(ctx, e.db, table, values)
}

// BulkInsertRows inserts rows one statement at a time inside a transaction.
// Rows in a batch may carry different column sets.
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
	exists, err := e.HasTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		// The catalog is read before it is first created.
		return nil, nil
	}

	q := "SELECT * FROM " + storage.QuoteIdent(table)

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	if len(keys) > 0 {
		parts := make([]string, 0, len(keys))
		for i, k := range keys {
			v, err := storage.BindValue(where[k])
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprintf("%s = @p%d", storage.QuoteIdent(k), i+1))
			args = append(args, v)
		}
		q += " WHERE " + strings.Join(parts, " AND ")
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
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
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[c] = v
	}
	return out, nil
}
