package jsontype

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// TestStreamDocuments verifies streaming matches DecodeDocuments on shape
// handling while never buffering the payload.
func TestStreamDocuments(t *testing.T) {
	t.Parallel()

	collect := func(in string) ([]Document, error) {
		var docs []Document
		err := StreamDocuments(context.Background(), strings.NewReader(in), func(d Document) error {
			docs = append(docs, d)
			return nil
		})
		return docs, err
	}

	tests := []struct {
		name      string
		in        string
		wantLen   int
		wantError bool
	}{
		{name: "root_array", in: `[{"a":1},{"a":2},{"a":3}]`, wantLen: 3},
		{name: "array_skips_nulls", in: `[{"a":1},null,{"a":2}]`, wantLen: 2},
		{name: "single_object", in: `{"a":1}`, wantLen: 1},
		{name: "ndjson", in: "{\"a\":1}\n{\"a\":2}", wantLen: 2},
		{name: "array_then_trailing", in: "[{\"a\":1}]\n{\"a\":2}", wantLen: 2},
		{name: "empty", in: "   \n ", wantLen: 0},
		{name: "scalar_element", in: `[{"a":1},5]`, wantError: true},
		{name: "root_scalar", in: `17`, wantError: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			docs, err := collect(tc.in)
			if tc.wantError {
				if err == nil {
					t.Fatalf("StreamDocuments(%q) err=nil, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("StreamDocuments(%q) err=%v", tc.in, err)
			}
			if len(docs) != tc.wantLen {
				t.Fatalf("docs=%d, want %d", len(docs), tc.wantLen)
			}
		})
	}

	t.Run("numbers_decode_as_json_number", func(t *testing.T) {
		t.Parallel()
		docs, err := collect(`[{"n":7}]`)
		if err != nil {
			t.Fatalf("StreamDocuments() err=%v", err)
		}
		if _, ok := docs[0]["n"].(json.Number); !ok {
			t.Fatalf("n is %T, want json.Number", docs[0]["n"])
		}
	})

	t.Run("emit_error_stops_stream", func(t *testing.T) {
		t.Parallel()
		stop := errors.New("stop")
		seen := 0
		err := StreamDocuments(context.Background(), strings.NewReader(`[{"a":1},{"a":2}]`), func(Document) error {
			seen++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Fatalf("err=%v, want the emit error", err)
		}
		if seen != 1 {
			t.Fatalf("emit calls=%d, want 1", seen)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := StreamDocuments(ctx, strings.NewReader(`[{"a":1}]`), func(Document) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", err)
		}
	})
}
