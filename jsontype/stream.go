package jsontype

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// StreamDocuments decodes documents from r and passes each to emit, without
// buffering the whole payload: a root array is consumed element by element,
// so arbitrarily large exports can feed BulkSync in caller-sized batches.
//
// Accepted shapes match DecodeDocuments: a root array of objects (nulls
// skipped), or one-or-more concatenated objects (NDJSON). An error from emit
// stops the stream and is returned as-is. ctx is checked between documents.
func StreamDocuments(ctx context.Context, r io.Reader, emit func(Document) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("jsontype: stream documents: %w", err)
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()

	if first == '[' {
		if _, err := dec.Token(); err != nil { // consume '['
			return fmt.Errorf("jsontype: stream documents: %w", err)
		}
		i := 0
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var elem any
			if err := dec.Decode(&elem); err != nil {
				return fmt.Errorf("jsontype: stream documents: element %d: %w", i, err)
			}
			if elem == nil {
				i++
				continue
			}
			doc, ok := elem.(map[string]any)
			if !ok {
				return fmt.Errorf("jsontype: stream documents: element %d is %T, want object", i, elem)
			}
			if err := emit(doc); err != nil {
				return err
			}
			i++
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return fmt.Errorf("jsontype: stream documents: %w", err)
		}
	}

	// Root object(s), or trailing NDJSON after a root array.
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("jsontype: stream documents: %w", err)
		}
		if doc == nil {
			continue
		}
		if err := emit(doc); err != nil {
			return err
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
