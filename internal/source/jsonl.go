// Package source reads dispatch requests lazily.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

// DefaultMetadataField is the top-level member carrying request metadata.
const DefaultMetadataField = "metadata"

// JSONLReader yields one request per non-blank, non-comment line.
//
// Lines starting with "//" or "#" are skipped. When a line is a JSON object
// with the metadata member, that member becomes the request metadata and is
// removed from the payload. Lines that are not JSON objects are passed
// through untouched; the dispatcher records them as invalid without sending.
type JSONLReader struct {
	r             *bufio.Reader
	closer        io.Closer
	metadataField string
	line          int
}

// Option configures a JSONLReader.
type Option func(*JSONLReader)

// WithMetadataField changes the metadata member name. An empty name
// disables extraction. The name is a gjson path, so nested members work.
func WithMetadataField(field string) Option {
	return func(r *JSONLReader) {
		r.metadataField = field
	}
}

// NewJSONLReader reads from r.
func NewJSONLReader(r io.Reader, opts ...Option) *JSONLReader {
	jr := &JSONLReader{
		r:             bufio.NewReaderSize(r, 64<<10),
		metadataField: DefaultMetadataField,
	}
	for _, opt := range opts {
		opt(jr)
	}
	return jr
}

// OpenJSONL opens the file at path.
func OpenJSONL(path string, opts ...Option) (*JSONLReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	jr := NewJSONLReader(f, opts...)
	jr.closer = f
	return jr, nil
}

// Line returns the number of lines consumed so far.
func (r *JSONLReader) Line() int {
	return r.line
}

// Next returns the next request or io.EOF.
func (r *JSONLReader) Next(ctx context.Context) (dispatch.Request, error) {
	for {
		if err := ctx.Err(); err != nil {
			return dispatch.Request{}, err
		}

		raw, err := r.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				return dispatch.Request{}, io.EOF
			}
			return dispatch.Request{}, fmt.Errorf("source: read line %d: %w", r.line+1, err)
		}
		if err != nil && err != io.EOF {
			return dispatch.Request{}, fmt.Errorf("source: read line %d: %w", r.line+1, err)
		}
		r.line++

		line := bytes.TrimSpace(raw)
		if skipLine(line) {
			continue
		}
		return r.request(line)
	}
}

func skipLine(line []byte) bool {
	return len(line) == 0 || bytes.HasPrefix(line, []byte("//")) || bytes.HasPrefix(line, []byte("#"))
}

func (r *JSONLReader) request(line []byte) (dispatch.Request, error) {
	if r.metadataField == "" || !gjson.ValidBytes(line) {
		return dispatch.Request{Payload: line}, nil
	}

	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return dispatch.Request{Payload: line}, nil
	}

	meta := root.Get(r.metadataField)
	if !meta.Exists() {
		return dispatch.Request{Payload: line}, nil
	}

	payload, err := sjson.DeleteBytes(line, r.metadataField)
	if err != nil {
		return dispatch.Request{}, fmt.Errorf("source: line %d: strip metadata: %w", r.line, err)
	}

	return dispatch.Request{
		Payload:  payload,
		Metadata: []byte(meta.Raw),
	}, nil
}

// Close closes the underlying file if the reader owns one.
func (r *JSONLReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Slice yields a fixed list of requests.
type Slice struct {
	requests []dispatch.Request
	next     int
}

// FromSlice returns a source over requests.
func FromSlice(requests []dispatch.Request) *Slice {
	return &Slice{requests: requests}
}

// Next returns the next request or io.EOF.
func (s *Slice) Next(ctx context.Context) (dispatch.Request, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Request{}, err
	}
	if s.next >= len(s.requests) {
		return dispatch.Request{}, io.EOF
	}
	req := s.requests[s.next]
	s.next++
	return req, nil
}

var (
	_ dispatch.Source = (*JSONLReader)(nil)
	_ dispatch.Source = (*Slice)(nil)
)
