package jsontype

import (
	"jsonsync/internal/storage"
	"jsonsync/internal/temporal"
)

// ComputeFunc derives a field value from the row built so far and the
// traversal context. Computed fields are never read from the input document.
type ComputeFunc func(row storage.Row, c *Context) (any, error)

// Field describes one logical document attribute: its key in the JSON
// payload, the storage column it maps to, its column type, and optional
// compute/date-parsing behavior.
type Field struct {
	Fieldname  string
	ColumnName string
	Type       string

	// DateFormat is an explicit time.Parse layout for temporal fields.
	// When empty, values go through the general parser (see internal/temporal).
	DateFormat  string
	DateOptions temporal.Options

	Compute ComputeFunc
}

// FieldOption configures a Field at construction time.
type FieldOption func(*Field)

// WithColumnName maps the field to a column named differently from the
// JSON key.
func WithColumnName(name string) FieldOption {
	return func(f *Field) { f.ColumnName = name }
}

// WithDateFormat sets an explicit parse layout for a temporal field.
func WithDateFormat(layout string) FieldOption {
	return func(f *Field) { f.DateFormat = layout }
}

// WithDateOptions configures the general date parser for a temporal field.
func WithDateOptions(o temporal.Options) FieldOption {
	return func(f *Field) { f.DateOptions = o }
}

// WithCompute makes the field derived: fn supplies the value and the input
// document key is ignored.
func WithCompute(fn ComputeFunc) FieldOption {
	return func(f *Field) { f.Compute = fn }
}

// NewField constructs a field descriptor. The column type is validated here
// so an invalid type string fails at definition time, not mid-sync.
//
// An empty typ defaults to "string". ColumnName defaults to fieldname.
func NewField(fieldname, typ string, opts ...FieldOption) (*Field, error) {
	if fieldname == "" {
		return nil, &DefinitionError{Msg: "field needs a name"}
	}
	if typ == "" {
		typ = storage.TypeString
	}
	if err := storage.ValidateColumnType(typ); err != nil {
		return nil, &DefinitionError{Field: fieldname, Err: err}
	}

	f := &Field{
		Fieldname:  fieldname,
		ColumnName: fieldname,
		Type:       typ,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.ColumnName == "" {
		f.ColumnName = fieldname
	}
	return f, nil
}

// MustField is NewField that panics on error, for static schema declarations.
func MustField(fieldname, typ string, opts ...FieldOption) *Field {
	f, err := NewField(fieldname, typ, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Field) isTemporal() bool {
	switch f.Type {
	case storage.TypeDate, storage.TypeTime, storage.TypeDatetime:
		return true
	}
	return false
}
