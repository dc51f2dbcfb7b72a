package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/radio-control/daxiq/internal/smartsdr"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	Source    string                 `json:"source"`
	Action    string                 `json:"action"`
	Command   string                 `json:"command,omitempty"`
	Seq       uint32                 `json:"seq,omitempty"`
	Status    string                 `json:"status,omitempty"`
	LatencyMs float64                `json:"latencyMs"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
}

// Options configures rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
}

// Logger appends entries to <dir>/audit.jsonl.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
}

// NewLogger creates the directory if needed and opens the audit log.
func NewLogger(dir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	path := filepath.Join(dir, "audit.jsonl")
	return &Logger{
		filePath: path,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
	}, nil
}

// Path returns the active audit file.
func (l *Logger) Path() string {
	return l.filePath
}

// LogCommand records one completed radio command.
func (l *Logger) LogCommand(source string, rec smartsdr.CommandRecord) {
	outcome := "SUCCESS"
	if rec.Err != nil {
		outcome = "FAILED"
	}
	l.write(Entry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Action:    "command",
		Command:   rec.Command,
		Seq:       rec.Seq,
		Status:    fmt.Sprintf("0x%08X", rec.Status),
		LatencyMs: float64(rec.Latency.Microseconds()) / 1000,
		Outcome:   outcome,
		Code:      CodeFromError(rec.Err),
	})
}

// LogAction records a session level action such as start or stop.
func (l *Logger) LogAction(source, action string, params map[string]interface{}, latency time.Duration, err error) {
	outcome := "SUCCESS"
	if err != nil {
		outcome = err.Error()
	}
	l.write(Entry{
		Timestamp: time.Now().UTC(),
		Source:    source,
		Action:    action,
		LatencyMs: float64(latency.Microseconds()) / 1000,
		Params:    params,
		Outcome:   outcome,
		Code:      CodeFromError(err),
	})
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.out.(*lumberjack.Logger); ok {
		return r.Rotate()
	}
	return nil
}

// Close releases the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

func (l *Logger) write(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal audit entry: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		log.Printf("[ERROR] Failed to write audit entry: %v", err)
	}
}

// CodeFromError maps command channel errors to audit codes.
func CodeFromError(err error) string {
	return smartsdr.Outcome(err)
}
