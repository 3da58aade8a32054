package postgres

import (
	"strings"
	"testing"

	"jsonsync/internal/storage"
)

func TestColumnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{storage.TypeInteger, "BIGINT"},
		{storage.TypeDouble, "DOUBLE PRECISION"},
		{storage.TypeBoolean, "BOOLEAN"},
		{storage.TypeJSON, "JSONB"},
		{storage.TypeString, "TEXT"},
		{storage.TypeDatetime, "TEXT"},
		{"reference person", "BIGINT"},
		{"list:reference person", "JSONB"},
	}
	for _, tt := range tests {
		if got := columnType(tt.in); got != tt.want {
			t.Fatalf("columnType(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name: "person",
		Columns: []storage.ColumnSpec{
			{Name: "name", Type: storage.TypeString, NotNull: true},
			{Name: "age", Type: storage.TypeInteger},
		},
	}
	got := createTableSQL(spec)
	for _, want := range []string{
		`CREATE TABLE "person"`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"name" TEXT NOT NULL`,
		`"age" BIGINT`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("createTableSQL()=%q, missing %q", got, want)
		}
	}
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	got := insertSQL("person", []string{"age", "name"})
	want := `INSERT INTO "person" ("age", "name") VALUES ($1, $2) RETURNING "id"`
	if got != want {
		t.Fatalf("insertSQL()=%q, want %q", got, want)
	}

	if got := insertSQL("person", nil); !strings.Contains(got, "DEFAULT VALUES") {
		t.Fatalf("insertSQL(no columns)=%q, want DEFAULT VALUES form", got)
	}
}

// Explicit-id inserts bypass nextval; the follow-up statement must move the
// serial sequence past the table's max id so a later generated id cannot
// collide with an externally keyed row.
func TestSyncSerialSQL(t *testing.T) {
	t.Parallel()

	got := syncSerialSQL("person")
	for _, want := range []string{
		`pg_get_serial_sequence('person', 'id')`,
		`setval(`,
		`MAX("id")`,
		`FROM "person"`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("syncSerialSQL()=%q, missing %q", got, want)
		}
	}
}
