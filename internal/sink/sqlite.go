package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

const sqliteBusyTimeoutMS = 5000

// uriPathEscaper escapes what would end the path part of a file: URI. SQLite
// decodes %HH sequences in the path before opening it.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// SQLite stores records in a results table. Each Record is its own
// transaction, so a crash loses nothing already recorded.
type SQLite struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	path       string
	mu         sync.Mutex
	closed     bool
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sink: sqlite path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)",
		uriPathEscaper.Replace(path), sqliteBusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db, path: path}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: initialize schema: %w", err)
	}

	s.insertStmt, err = db.Prepare(`
		INSERT INTO results (seq, status, attempts, payload, result, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sink: prepare insert: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		seq INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		payload TEXT NOT NULL,
		result TEXT NOT NULL,
		metadata TEXT,
		recorded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_seq ON results(seq);
	CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record inserts rec.
func (s *SQLite) Record(rec dispatch.ResultRecord) error {
	result, err := rec.Result()
	if err != nil {
		return fmt.Errorf("sink: encode record %d: %w", rec.Seq, err)
	}

	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		metadata = sql.NullString{String: string(rec.Metadata), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	_, err = s.insertStmt.ExecContext(context.Background(),
		rec.Seq,
		string(rec.Status),
		rec.Attempts,
		string(rec.Payload),
		string(result),
		metadata,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sink: insert record %d: %w", rec.Seq, err)
	}
	return nil
}

// ReadAll returns every stored record in insertion order. Status comes
// from the stored column, so it is exact whatever shape the response has.
func (s *SQLite) ReadAll(ctx context.Context) ([]dispatch.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, status, attempts, payload, result, metadata FROM results ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sink: query results: %w", err)
	}
	defer rows.Close()

	var records []dispatch.ResultRecord
	for rows.Next() {
		var (
			seq      int64
			status   string
			attempts int
			payload  string
			result   string
			metadata sql.NullString
		)
		if err := rows.Scan(&seq, &status, &attempts, &payload, &result, &metadata); err != nil {
			return nil, fmt.Errorf("sink: scan result: %w", err)
		}

		meta := json.RawMessage("null")
		if metadata.Valid {
			meta = json.RawMessage(metadata.String)
		}
		triple, err := json.Marshal([]json.RawMessage{json.RawMessage(payload), json.RawMessage(result), meta})
		if err != nil {
			return nil, fmt.Errorf("sink: rebuild record %d: %w", seq, err)
		}

		var rec dispatch.ResultRecord
		if err := json.Unmarshal(triple, &rec); err != nil {
			return nil, err
		}
		if dispatch.RecordStatus(status) == dispatch.StatusSuccess {
			rec.Response = json.RawMessage(result)
			rec.Errors = nil
		}
		rec.Seq = seq
		rec.Status = dispatch.RecordStatus(status)
		rec.Attempts = attempts
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close finalizes the statement and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		_ = s.insertStmt.Close()
	}
	return s.db.Close()
}

var _ Sink = (*SQLite)(nil)
