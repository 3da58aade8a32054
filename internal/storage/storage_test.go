package storage

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

type stubEngine struct{ Engine }

// TestRegisterAndOpen verifies factory registration, lookup, and the panic
// paths for bad registrations.
func TestRegisterAndOpen(t *testing.T) {
	Register("stub", func(ctx context.Context, cfg Config) (Engine, error) {
		return stubEngine{}, nil
	})

	eng, err := Open(context.Background(), Config{Kind: "stub", DSN: "ignored"})
	if err != nil {
		t.Fatalf("Open(stub) err=%v", err)
	}
	if _, ok := eng.(stubEngine); !ok {
		t.Fatalf("Open(stub)=%T, want stubEngine", eng)
	}

	if _, err := Open(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("Open(nope) err=nil, want unsupported-kind error")
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("Open(empty) err=nil, want missing-kind error")
	}

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: want panic", name)
			}
		}()
		fn()
	}
	mustPanic("empty_kind", func() { Register("", func(context.Context, Config) (Engine, error) { return nil, nil }) })
	mustPanic("nil_factory", func() { Register("x", nil) })
	mustPanic("duplicate", func() {
		Register("stub", func(context.Context, Config) (Engine, error) { return nil, nil })
	})
}

// TestValidateColumnType covers the full type vocabulary.
func TestValidateColumnType(t *testing.T) {
	t.Parallel()

	valid := []string{
		TypeString, TypeText, TypeInteger, TypeDouble, TypeBoolean,
		TypeJSON, TypeDate, TypeTime, TypeDatetime,
		"reference person", "list:reference tag",
	}
	for _, typ := range valid {
		if err := ValidateColumnType(typ); err != nil {
			t.Fatalf("ValidateColumnType(%q)=%v, want nil", typ, err)
		}
	}

	invalid := []string{
		"", "varchar", "int", "reference", "reference ", "list:reference",
		"reference two words", "Reference person",
	}
	for _, typ := range invalid {
		if err := ValidateColumnType(typ); err == nil {
			t.Fatalf("ValidateColumnType(%q)=nil, want error", typ)
		}
	}
}

// TestParseReference verifies kind/target splitting.
func TestParseReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		kind   string
		target string
		ok     bool
	}{
		{in: "reference person", kind: "reference", target: "person", ok: true},
		{in: "list:reference tag", kind: "list:reference", target: "tag", ok: true},
		{in: "integer", ok: false},
		{in: "reference", ok: false},
	}
	for _, tc := range tests {
		kind, target, ok := ParseReference(tc.in)
		if kind != tc.kind || target != tc.target || ok != tc.ok {
			t.Fatalf("ParseReference(%q)=(%q,%q,%v), want (%q,%q,%v)",
				tc.in, kind, target, ok, tc.kind, tc.target, tc.ok)
		}
	}
}

// TestQuoteIdent verifies quoting and embedded-quote escaping.
func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := QuoteIdent("person"); got != `"person"` {
		t.Fatalf("QuoteIdent(person)=%s", got)
	}
	if got := QuoteIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("QuoteIdent escaping=%s", got)
	}
}

// TestNormalizeIdent covers folding, separators, and truncation.
func TestNormalizeIdent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "passthrough", in: "first_name", want: "first_name"},
		{name: "lowercase", in: "FirstName", want: "firstname"},
		{name: "separators_collapse", in: "Total - Amount / EUR", want: "total_amount_eur"},
		{name: "accents_fold", in: "Prénom Âge", want: "prenom_age"},
		{name: "leading_trailing_trim", in: "  --name--  ", want: "name"},
		{name: "symbols_dropped", in: "amount(%)", want: "amount"},
		{name: "empty", in: "   ", want: ""},
		{name: "truncated", in: strings.Repeat("a", 100), want: strings.Repeat("a", 63)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeIdent(tc.in); got != tc.want {
				t.Fatalf("NormalizeIdent(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestBindValue covers the cross-backend value conversions.
func TestBindValue(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "string", in: "x", want: "x"},
		{name: "bool", in: true, want: true},
		{name: "int64", in: int64(7), want: int64(7)},
		{name: "time_utc_rfc3339", in: ts, want: "2024-03-01T08:30:00Z"},
		{name: "number_integral", in: json.Number("42"), want: int64(42)},
		{name: "number_float", in: json.Number("4.5"), want: 4.5},
		{name: "slice_to_json", in: []int64{1, 2, 3}, want: "[1,2,3]"},
		{name: "map_to_json", in: map[string]any{"a": 1}, want: `{"a":1}`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := BindValue(tc.in)
			if err != nil {
				t.Fatalf("BindValue(%#v) err=%v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("BindValue(%#v)=%#v, want %#v", tc.in, got, tc.want)
			}
		})
	}

	if _, err := BindValue(json.Number("not-a-number")); err == nil {
		t.Fatalf("BindValue(bad number) err=nil, want error")
	}
}

// TestBindRow verifies positional alignment with the column list.
func TestBindRow(t *testing.T) {
	t.Parallel()

	row := Row{"a": int64(1), "b": "x"}
	got, err := BindRow([]string{"b", "a", "missing"}, row)
	if err != nil {
		t.Fatalf("BindRow() err=%v", err)
	}
	want := []any{"x", int64(1), nil}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BindRow()=%v, want %v", got, want)
	}
}
