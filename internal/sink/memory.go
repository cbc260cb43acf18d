package sink

import (
	"sync"

	"github.com/samber/lo"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

// Memory keeps records in memory, for tests and programmatic callers.
type Memory struct {
	records []dispatch.ResultRecord
	mu      sync.Mutex
	closed  bool
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends rec.
func (m *Memory) Record(rec dispatch.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of every record in completion order.
func (m *Memory) Records() []dispatch.ResultRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.ResultRecord, len(m.records))
	copy(out, m.records)
	return out
}

// BySeq returns the records keyed by item sequence index.
func (m *Memory) BySeq() map[int64]dispatch.ResultRecord {
	return lo.KeyBy(m.Records(), func(rec dispatch.ResultRecord) int64 {
		return rec.Seq
	})
}

// Close marks the sink closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Sink = (*Memory)(nil)
