package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

// JSONLWriter writes one [payload, result, metadata] array per line.
type JSONLWriter struct {
	w      *bufio.Writer
	file   *os.File
	mu     sync.Mutex
	count  int64
	closed bool
}

// CreateJSONL creates (or truncates) the file at path.
func CreateJSONL(path string) (*JSONLWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", path, err)
	}
	jw := NewJSONLWriter(f)
	jw.file = f
	return jw, nil
}

// NewJSONLWriter writes to w. Close flushes but does not close w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Record appends rec and flushes it.
func (j *JSONLWriter) Record(rec dispatch.ResultRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sink: encode record %d: %w", rec.Seq, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("sink: write record %d: %w", rec.Seq, err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("sink: write record %d: %w", rec.Seq, err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("sink: flush record %d: %w", rec.Seq, err)
	}
	j.count++
	return nil
}

// Count returns the number of records written.
func (j *JSONLWriter) Count() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Close flushes, syncs and closes the underlying file if it owns one.
func (j *JSONLWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("sink: flush: %w", err)
	}
	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return fmt.Errorf("sink: sync: %w", err)
	}
	return j.file.Close()
}

// ReadJSONL decodes every record from r, as written by JSONLWriter.
// Seq is set to the line position (0-based), not the original item index.
// The status is inferred from each result's shape, so a successful response
// that is an array of {"error":{...}} envelopes reads back as exhausted. Use
// the SQLite sink when the exact status matters.
func ReadJSONL(r io.Reader) ([]dispatch.ResultRecord, error) {
	var records []dispatch.ResultRecord
	dec := json.NewDecoder(r)
	for {
		var rec dispatch.ResultRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, fmt.Errorf("sink: decode record %d: %w", len(records), err)
		}
		rec.Seq = int64(len(records))
		records = append(records, rec)
	}
}

var _ Sink = (*JSONLWriter)(nil)
