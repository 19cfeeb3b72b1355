package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"orbBot/internal/ports"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileSink appends timestamped lines to <dir>/<destination>.log. Each write
// opens the file in append mode, so lines survive a crash of the process.
type FileSink struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ ports.LogSink = (*FileSink)(nil)

// NewFileSink creates a sink writing under dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory must be set: %w", ports.ErrConfigurationError)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

// Path returns the file a destination is written to.
func (s *FileSink) Path(destination string) string {
	name := unsafeName.ReplaceAllString(destination, "_")
	if name == "" {
		name = "journal"
	}
	return filepath.Join(s.dir, name+".log")
}

// Write appends line to the destination's file.
func (s *FileSink) Write(line, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(destination), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal for %s: %w", destination, err)
	}
	if _, err := fmt.Fprintf(f, "%s %s\n", s.now().UTC().Format(time.RFC3339), line); err != nil {
		f.Close()
		return fmt.Errorf("write journal for %s: %w", destination, err)
	}
	return f.Close()
}
