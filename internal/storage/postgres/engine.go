package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jsonsync/internal/storage"
)

// Engine implements storage.Engine for Postgres.
//
// Generated keys come back via INSERT ... RETURNING id; bulk inserts are
// pipelined with pgx.Batch to keep one round-trip per batch.
type Engine struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", Open)
}

func Open(ctx context.Context, cfg storage.Config) (storage.Engine, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Engine{pool: pool}, nil
}

func (e *Engine) Close() { e.pool.Close() }

func (e *Engine) HasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := e.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		name,
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
		return "DOUBLE PRECISION"
	case storage.TypeBoolean:
		return "BOOLEAN"
	case storage.TypeJSON:
		return "JSONB"
	case storage.TypeDate, storage.TypeTime, storage.TypeDatetime:
		// Stored as text: values are pre-formatted strings (see
		// storage.BindValue) and round-trip identically on all backends.
		return "TEXT"
	default:
		if kind, _, ok := storage.ParseReference(typ); ok {
			if kind == "reference" {
				return "BIGINT"
			}
			return "JSONB"
		}
		return "TEXT"
	}
}

func (e *Engine) DefineTable(ctx context.Context, spec storage.TableSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("postgres: table name is empty")
	}

	exists, err := e.HasTable(ctx, spec.Name)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := e.pool.Exec(ctx, createTableSQL(spec)); err != nil {
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
	parts := []string{storage.QuoteIdent(storage.IDColumn) + " BIGSERIAL PRIMARY KEY"}
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
	rows, err := e.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`,
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
		q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			storage.QuoteIdent(spec.Name), storage.QuoteIdent(c.Name), columnType(c.Type))
		if _, err := e.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("add column %s.%s: %w", spec.Name, c.Name, err)
		}
	}
	return nil
}

func (e *Engine) ensureUniqueIndexes(ctx context.Context, spec storage.TableSpec) error {
	for _, con := range spec.Constraints {
		if con.Kind != "unique" {
			return fmt.Errorf("postgres: %s unsupported constraint kind: %s", spec.Name, con.Kind)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, storage.QuoteIdent(c))
		}
		name := "ux_" + spec.Name + "_" + strings.Join(con.Columns, "_")
		q := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			storage.QuoteIdent(name), storage.QuoteIdent(spec.Name), strings.Join(cols, ", "))
		if _, err := e.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("unique index on %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (e *Engine) LookupRow(ctx context.Context, table string, id int64) (storage.Row, bool, error) {
	q := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1",
		storage.QuoteIdent(table), storage.QuoteIdent(storage.IDColumn))
	rows, err := e.pool.Query(ctx, q, id)
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
	return row, true, nil
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
		setParts = append(setParts, fmt.Sprintf("%s = $%d", storage.QuoteIdent(c), i+1))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		storage.QuoteIdent(table), strings.Join(setParts, ", "),
		storage.QuoteIdent(storage.IDColumn), len(columns)+1)

	_, err = e.pool.Exec(ctx, q, append(args, id)...)
	return err
}

func insertSQL(table string, columns []string) string {
	idCol := storage.QuoteIdent(storage.IDColumn)
	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", storage.QuoteIdent(table), idCol)
	}
	cols := make([]string, 0, len(columns))
	ph := make([]string, 0, len(columns))
	for i, c := range columns {
		cols = append(cols, storage.QuoteIdent(c))
		ph = append(ph, fmt.Sprintf("$%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		storage.QuoteIdent(table), strings.Join(cols, ", "), strings.Join(ph, ", "), idCol)
}

// syncSerialSQL realigns the id sequence with the table's current max id.
// Explicit-id inserts bypass nextval, so without this a later id-less insert
// would draw an id that collides with an explicitly inserted row.
func syncSerialSQL(table string) string {
	return fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence('%s', '%s'), (SELECT COALESCE(MAX(%s), 1) FROM %s))",
		table, storage.IDColumn,
		storage.QuoteIdent(storage.IDColumn), storage.QuoteIdent(table))
}

func (e *Engine) InsertRow(ctx context.Context, table string, values storage.Row) (int64, error) {
	columns := sortedColumns(values)
	args, err := storage.BindRow(columns, values)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := e.pool.QueryRow(ctx, insertSQL(table, columns), args...).Scan(&id); err != nil {
		return 0, err
	}
	if _, explicit := values[storage.IDColumn]; explicit {
		if _, err := e.pool.Exec(ctx, syncSerialSQL(table)); err != nil {
			return 0, fmt.Errorf("sync id sequence for %s: %w", table, err)
		}
	}
	return id, nil
}

// BulkInsertRows pipelines one INSERT ... RETURNING per row via pgx.Batch.
// Rows in a batch may carry different column sets.
func (e *Engine) BulkInsertRows(ctx context.Context, table string, values []storage.Row) ([]int64, error) {
	if len(values) == 0 {
		return nil, nil
	}

	explicit := false
	batch := &pgx.Batch{}
	for _, v := range values {
		columns := sortedColumns(v)
		args, err := storage.BindRow(columns, v)
		if err != nil {
			return nil, err
		}
		if _, ok := v[storage.IDColumn]; ok {
			explicit = true
		}
		batch.Queue(insertSQL(table, columns), args...)
	}
	if explicit {
		batch.Queue(syncSerialSQL(table))
	}

	br := e.pool.SendBatch(ctx, batch)
	defer br.Close()

	ids := make([]int64, 0, len(values))
	for i := range values {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("bulk insert row %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	if explicit {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("sync id sequence for %s: %w", table, err)
		}
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
			parts = append(parts, fmt.Sprintf("%s = $%d", storage.QuoteIdent(k), i+1))
			args = append(args, v)
		}
		q += " WHERE " + strings.Join(parts, " AND ")
	}

	rows, err := e.pool.Query(ctx, q, args...)
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

// scanRow reads the current pgx row into a storage.Row keyed by column name.
// This is the standard pgx pattern for scanning a dynamic column list.
func scanRow(rows pgx.Rows) (storage.Row, error) {
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()

	out := make(storage.Row, len(fields))
	for i, f := range fields {
		v := vals[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		out[f.Name] = v
	}
	return out, nil
}
