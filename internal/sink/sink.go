// Package sink records terminal dispatch results.
//
// Every implementation appends in call order, serializes concurrent callers,
// and makes each record durable before Record returns (JSONL is flushed to
// the file, SQLite commits per insert).
package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
)

// Output formats.
const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

var (
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("sink: closed")

	// ErrUnknownFormat is returned for an unsupported output format.
	ErrUnknownFormat = errors.New("sink: unknown output format")
)

// Sink is a dispatch.Sink that owns a resource.
type Sink interface {
	dispatch.Sink
	Close() error
}

// DetectFormat returns format if set, otherwise guesses from the file
// extension (.db, .sqlite, .sqlite3 mean SQLite; anything else JSONL).
func DetectFormat(path, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatSQLite:
		return FormatSQLite, nil
	case "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	default:
		return FormatJSONL, nil
	}
}

// Open creates the sink for path in the given (or detected) format.
// A JSONL file is truncated; a SQLite table is appended to.
func Open(path, format string) (Sink, error) {
	resolved, err := DetectFormat(path, format)
	if err != nil {
		return nil, err
	}
	if resolved == FormatSQLite {
		return OpenSQLite(path)
	}
	return CreateJSONL(path)
}
