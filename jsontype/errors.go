package jsontype

import "fmt"

// DefinitionError reports an invalid field or type definition. It surfaces at
// definition time so that bad configuration fails startup rather than the
// first sync.
type DefinitionError struct {
	Type  string // type name; empty for field-level failures
	Field string // fieldname; empty for type-level failures
	Msg   string
	Err   error
}

func (e *DefinitionError) Error() string {
	scope := e.Type
	if e.Field != "" {
		if scope != "" {
			scope += "."
		}
		scope += e.Field
	}
	if scope == "" {
		scope = "definition"
	}
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("jsontype: %s: %s: %v", scope, e.Msg, e.Err)
		}
		return fmt.Sprintf("jsontype: %s: %v", scope, e.Err)
	}
	return fmt.Sprintf("jsontype: %s: %s", scope, e.Msg)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// ParseError reports a temporal field value that failed to parse. Value keeps
// the offending raw value for the caller; the core also logs it before this
// error propagates.
type ParseError struct {
	Type  string
	Field string
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("jsontype: %s.%s: cannot parse %#v: %v", e.Type, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReferenceError reports a reference to a type name that is not registered.
type ReferenceError struct {
	Type string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("jsontype: unknown type %q", e.Type)
}
