// Package logsink routes task output to per-entry append-only files.
// Output payloads are never parsed or persisted anywhere else; the files
// exist for operators, not for the engine.
package logsink

import (
	"io"
	"os"
	"path/filepath"

	"github.com/apoplexi24/kuber-cron/internal/domain"
)

// Sink opens the output destination for a task attempt.
type Sink interface {
	Open(key domain.EntryKey) (io.WriteCloser, error)
}

// DirSink appends each entry's output to <dir>/<entry-key>.log.
type DirSink struct {
	dir string
}

// NewDirSink creates the sink, ensuring the directory exists.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir}, nil
}

// Open returns an append-only file handle for the entry.
func (s *DirSink) Open(key domain.EntryKey) (io.WriteCloser, error) {
	path := filepath.Join(s.dir, string(key)+".log")
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Discard is a sink that drops all output. Used in tests and when no
// log directory is configured.
type Discard struct{}

func (Discard) Open(key domain.EntryKey) (io.WriteCloser, error) {
	return nopCloser{io.Discard}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
