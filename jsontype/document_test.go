package jsontype

import (
	"encoding/json"
	"strings"
	"testing"
)

// TestDecodeDocuments covers the accepted payload shapes and the decoder's
// number handling.
func TestDecodeDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		wantLen   int
		wantError bool
	}{
		{name: "root_array", in: `[{"a":1},{"a":2}]`, wantLen: 2},
		{name: "root_array_skips_nulls", in: `[{"a":1},null,{"a":2}]`, wantLen: 2},
		{name: "single_object", in: `{"a":1}`, wantLen: 1},
		{name: "ndjson", in: "{\"a\":1}\n{\"a\":2}\n{\"a\":3}", wantLen: 3},
		{name: "empty_input", in: "", wantLen: 0},
		{name: "root_scalar", in: `42`, wantError: true},
		{name: "array_of_scalars", in: `[1,2]`, wantError: true},
		{name: "truncated", in: `{"a":`, wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			docs, err := DecodeDocuments(strings.NewReader(tc.in))
			if tc.wantError {
				if err == nil {
					t.Fatalf("DecodeDocuments(%q) err=nil, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDocuments(%q) err=%v", tc.in, err)
			}
			if len(docs) != tc.wantLen {
				t.Fatalf("docs=%d, want %d", len(docs), tc.wantLen)
			}
		})
	}

	t.Run("numbers_decode_as_json_number", func(t *testing.T) {
		t.Parallel()
		docs, err := DecodeDocuments(strings.NewReader(`[{"n":3,"f":3.5}]`))
		if err != nil {
			t.Fatalf("DecodeDocuments() err=%v", err)
		}
		if _, ok := docs[0]["n"].(json.Number); !ok {
			t.Fatalf("n is %T, want json.Number", docs[0]["n"])
		}
		if kindOf(docs[0]["n"]) != kindInteger || kindOf(docs[0]["f"]) != kindDouble {
			t.Fatalf("kinds=%s/%s, want integer/double", kindOf(docs[0]["n"]), kindOf(docs[0]["f"]))
		}
	})
}

// TestFindRecordList covers envelope unwrapping.
func TestFindRecordList(t *testing.T) {
	t.Parallel()

	t.Run("unwraps_object_array", func(t *testing.T) {
		t.Parallel()
		records, ok := FindRecordList(Document{
			"meta": "v1",
			"data": []any{map[string]any{"a": 1}, nil, map[string]any{"a": 2}},
		})
		if !ok || len(records) != 2 {
			t.Fatalf("records=%v ok=%v, want 2 records", records, ok)
		}
	})

	t.Run("no_candidate", func(t *testing.T) {
		t.Parallel()
		if _, ok := FindRecordList(Document{"a": 1, "b": "x", "c": []any{}}); ok {
			t.Fatalf("ok=true, want false for document without object arrays")
		}
	})

	t.Run("mixed_array_rejected", func(t *testing.T) {
		t.Parallel()
		if _, ok := FindRecordList(Document{"data": []any{map[string]any{"a": 1}, "stray"}}); ok {
			t.Fatalf("ok=true, want false for array mixing objects and scalars")
		}
	})

	// Map iteration order must not leak into the result: with several
	// candidate arrays the largest wins, every run.
	t.Run("largest_candidate_wins", func(t *testing.T) {
		t.Parallel()
		doc := Document{
			"links":   []any{map[string]any{"href": "x"}},
			"records": []any{map[string]any{"a": 1}, map[string]any{"a": 2}},
		}
		for i := 0; i < 20; i++ {
			records, ok := FindRecordList(doc)
			if !ok || len(records) != 2 {
				t.Fatalf("records=%v ok=%v, want the 2-element array", records, ok)
			}
			if records[0]["a"] != 1 {
				t.Fatalf("records[0]=%v, want element of the records array", records[0])
			}
		}
	})

	t.Run("equal_size_ties_break_on_key", func(t *testing.T) {
		t.Parallel()
		doc := Document{
			"zebra": []any{map[string]any{"k": "z"}},
			"alpha": []any{map[string]any{"k": "a"}},
		}
		for i := 0; i < 20; i++ {
			records, ok := FindRecordList(doc)
			if !ok || len(records) != 1 {
				t.Fatalf("records=%v ok=%v, want 1 record", records, ok)
			}
			if records[0]["k"] != "a" {
				t.Fatalf("records[0]=%v, want the alpha array (smallest key)", records[0])
			}
		}
	})
}
