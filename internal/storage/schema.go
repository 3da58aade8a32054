// To keep the core generic, the TableSpec types need to live in a place both
// the sync engine and backend packages can import without circular deps.
package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// IDColumn is the generated integer primary key every synced table carries.
// Backends create it implicitly; specs never list it as a column.
const IDColumn = "id"

type TableSpec struct {
	Name        string           `json:"name"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name string `json:"name"`
	// Type is one of the column type vocabulary, see ValidateColumnType.
	Type string `json:"type"`
	// NotNull requests NOT NULL. Columns added by additive migration are
	// always nullable regardless of this flag.
	NotNull bool `json:"not_null,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// Column type vocabulary exposed to the sync core. "string" and "text" are
// both accepted; backends map them to the same storage type.
const (
	TypeString   = "string"
	TypeText     = "text"
	TypeInteger  = "integer"
	TypeDouble   = "double"
	TypeBoolean  = "boolean"
	TypeJSON     = "json"
	TypeDate     = "date"
	TypeTime     = "time"
	TypeDatetime = "datetime"
)

var refPattern = regexp.MustCompile(`^(reference|list:reference) (\w+)$`)

// ParseReference splits a relational column type into its kind and target.
// Returns ok=false for scalar/temporal types.
func ParseReference(typ string) (kind, target string, ok bool) {
	m := refPattern.FindStringSubmatch(typ)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ValidateColumnType checks a declared column type against the vocabulary.
// Field descriptors call this at definition time so that an invalid type
// string fails startup rather than the first sync.
func ValidateColumnType(typ string) error {
	switch typ {
	case TypeString, TypeText, TypeInteger, TypeDouble, TypeBoolean,
		TypeJSON, TypeDate, TypeTime, TypeDatetime:
		return nil
	}
	if _, _, ok := ParseReference(typ); ok {
		return nil
	}
	return fmt.Errorf("storage: unknown column type %q", typ)
}

// QuoteIdent renders a double-quoted SQL identifier. All three shipped
// backends accept this form (MSSQL via QUOTED_IDENTIFIER, which is on by
// default for the drivers we use).
func QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
