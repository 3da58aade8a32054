package jsontype

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Document is a decoded JSON object: nested mappings, sequences, and scalars.
type Document = map[string]any

// DecodeDocuments reads JSON documents from r. Accepted shapes:
//   - a root array of objects (null elements are skipped)
//   - a single root object, optionally followed by more objects (NDJSON)
//
// Numbers decode as json.Number, preserving the integer/double distinction
// field-type inference depends on. For enveloped payloads (an object wrapping
// the record list), see FindRecordList.
func DecodeDocuments(r io.Reader) ([]Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("jsontype: decode documents: %w", err)
	}

	var docs []Document
	switch v := root.(type) {
	case []any:
		docs = make([]Document, 0, len(v))
		for i, item := range v {
			if item == nil {
				continue
			}
			doc, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("jsontype: decode documents: element %d is %T, want object", i, item)
			}
			docs = append(docs, doc)
		}
		return docs, nil

	case map[string]any:
		docs = append(docs, v)

	default:
		return nil, fmt.Errorf("jsontype: decode documents: root is %T, want object or array", root)
	}

	// Further top-level objects (NDJSON / concatenated documents).
	for {
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("jsontype: decode documents: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FindRecordList unwraps an envelope document: among fields whose value is a
// non-empty array of objects (null elements skipped), it returns the largest
// one. Ties break on the smallest key, so the choice is stable across runs.
// Returns ok=false when no field qualifies.
func FindRecordList(doc Document) ([]Document, bool) {
	var best []Document
	var bestKey string
	for key, v := range doc {
		items, ok := v.([]any)
		if !ok || len(items) == 0 {
			continue
		}
		records := make([]Document, 0, len(items))
		valid := true
		for _, item := range items {
			if item == nil {
				continue
			}
			m, ok := item.(map[string]any)
			if !ok {
				valid = false
				break
			}
			records = append(records, m)
		}
		if !valid || len(records) == 0 {
			continue
		}
		if len(records) > len(best) || (len(records) == len(best) && key < bestKey) {
			best, bestKey = records, key
		}
	}
	return best, best != nil
}
