package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Entry is one mutating operation as seen at the HTTP edge.
type Entry struct {
	Principal string        `json:"principal"`
	Operation string        `json:"operation"`
	CaseID    string        `json:"case_id,omitempty"`
	FileID    string        `json:"file_id,omitempty"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	RemoteIP  string        `json:"remote_ip,omitempty"`
	Time      time.Time     `json:"time"`
}

// Logger writes entries as JSON lines.
type Logger struct {
	enabled bool
	mu      sync.Mutex
	out     io.Writer
	closer  io.Closer
}

// New creates a logger writing to out, or stderr when out is nil.
func New(enabled bool, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{enabled: enabled, out: out}
}

// Open appends to the file at path. An empty path logs to stderr.
func Open(enabled bool, path string) (*Logger, error) {
	if !enabled || path == "" {
		return New(enabled, nil), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	l := New(true, f)
	l.closer = f
	return l, nil
}

// Log writes an audit entry if enabled.
func (l *Logger) Log(entry Entry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	entry.Time = entry.Time.UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(data, '\n'))
}

func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
