package trace

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Logger receives trace events. Implementations must be safe for
// concurrent use.
type Logger interface {
	Log(e Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// MultiLogger fans events out to several loggers.
type MultiLogger []Logger

func (m MultiLogger) Log(e Event) {
	for _, l := range m {
		l.Log(e)
	}
}

// FileLogger appends CBOR events to a file.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, encoder: encMode.NewEncoder(f)}, nil
}

// Log writes e. Encoding errors are dropped; events after Close are ignored.
func (l *FileLogger) Log(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	_ = l.encoder.Encode(e)
}

// Close is idempotent.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var (
	_ Logger = NoopLogger{}
	_ Logger = MultiLogger(nil)
	_ Logger = (*FileLogger)(nil)
)
