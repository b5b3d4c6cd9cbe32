// Package funclog implements the per-function log streams handlers write
// to via registry.FunctionLogger (component C1). Each function gets its
// own rotating, JSON-lines log file plus an in-memory tail buffer that
// backs the Control Plane's "GET .../logs" endpoint and its live push
// channel. This is distinct from internal/logger, which is the
// process-level logger funcdock itself writes to.
package funclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reaatech/funcdock/internal/events"
)

// Entry is one structured line a Stream writes, in the same shape whether
// it ends up in the rotating file, the tail buffer, or the event bus.
type Entry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         string                 `json:"level"`
	PID           int                    `json:"pid"`
	Function      string                 `json:"function"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Manager creates and caches one Stream per function name, and owns the
// system-wide app/error log streams.
type Manager struct {
	logDir        string
	maxLogSize    int64
	maxLogFiles   int
	tailBufferLen int
	bus           *events.Bus

	mu      sync.Mutex
	streams map[string]*Stream

	App   *Stream
	Error *Stream
}

// NewManager creates a Manager rooted at logDir. maxLogSize is the
// per-file rotation threshold in bytes, maxLogFiles bounds the retained
// rotated generations, and tailBufferLen bounds each Stream's in-memory
// ring buffer.
func NewManager(logDir string, maxLogSize int64, maxLogFiles, tailBufferLen int, bus *events.Bus) (*Manager, error) {
	m := &Manager{
		logDir:        logDir,
		maxLogSize:    maxLogSize,
		maxLogFiles:   maxLogFiles,
		tailBufferLen: tailBufferLen,
		bus:           bus,
		streams:       make(map[string]*Stream),
	}
	if err := os.MkdirAll(filepath.Join(logDir, "functions"), 0o755); err != nil {
		return nil, fmt.Errorf("creating function log directory: %w", err)
	}

	app, err := newFileStream(filepath.Join(logDir, "app.log"), "", maxLogSize, maxLogFiles, tailBufferLen, nil)
	if err != nil {
		return nil, err
	}
	errStream, err := newFileStream(filepath.Join(logDir, "error.log"), "", maxLogSize, maxLogFiles, tailBufferLen, nil)
	if err != nil {
		return nil, err
	}
	m.App, m.Error = app, errStream
	return m, nil
}

// For returns (creating if necessary) the Stream for a function name,
// sanitized per SanitizeFunctionName. It implements registry.FunctionLogger
// by returning a value usable directly as one.
func (m *Manager) For(functionName string) (*Stream, error) {
	name, err := SanitizeFunctionName(functionName)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[name]; ok {
		return s, nil
	}

	path := filepath.Join(m.logDir, "functions", name+".log")
	errPath := filepath.Join(m.logDir, "functions", name+"-error.log")
	s, err := newFileStream(path, errPath, m.maxLogSize, m.maxLogFiles, m.tailBufferLen, m.bus)
	if err != nil {
		return nil, err
	}
	s.function = name
	m.streams[name] = s
	return s, nil
}

// Stream is one function's (or the system's) log sink: it appends
// JSON-lines to a rotating file, mirrors into a fixed-size ring buffer for
// fast tail reads, and for per-function streams publishes every entry onto
// the event bus on topic log.<function>.
type Stream struct {
	function string
	bus      *events.Bus

	mu       sync.Mutex
	main     *rotatingFile
	errFile  *rotatingFile // nil for the system app/error streams
	tail     *ring
}

func newFileStream(mainPath, errPath string, maxSize int64, maxFiles, tailLen int, bus *events.Bus) (*Stream, error) {
	main, err := newRotatingFile(mainPath, maxSize, maxFiles)
	if err != nil {
		return nil, err
	}
	s := &Stream{main: main, bus: bus, tail: newRing(tailLen)}
	if errPath != "" {
		ef, err := newRotatingFile(errPath, maxSize, maxFiles)
		if err != nil {
			return nil, err
		}
		s.errFile = ef
	}
	return s, nil
}

func (s *Stream) write(level, msg string, fields map[string]interface{}) {
	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		PID:       os.Getpid(),
		Function:  s.function,
		Message:   msg,
		Fields:    fields,
	}
	if id, ok := fields["correlationId"].(string); ok {
		entry.CorrelationID = id
	}

	line, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "funclog: failed to marshal entry for %s: %v\n", s.function, err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	if werr := s.main.write(line); werr != nil {
		fmt.Fprintf(os.Stderr, "funclog: write failed for %s: %v\n", s.function, werr)
	}
	if (level == "error" || level == "warn") && s.errFile != nil {
		if werr := s.errFile.write(line); werr != nil {
			fmt.Fprintf(os.Stderr, "funclog: error-log write failed for %s: %v\n", s.function, werr)
		}
	}
	s.mu.Unlock()

	s.tail.push(entry)

	if s.bus != nil && s.function != "" {
		s.bus.Emit(events.LogTopic(s.function), entry)
	}
}

// Tail returns up to n of the most recently written entries, most recent
// last, for the Control Plane's "GET .../logs?limit=N" endpoint.
func (s *Stream) Tail(n int) []Entry {
	return s.tail.last(n)
}

func (s *Stream) Debug(msg string, fields map[string]interface{}) { s.write("debug", msg, fields) }
func (s *Stream) Info(msg string, fields map[string]interface{})  { s.write("info", msg, fields) }
func (s *Stream) Warn(msg string, fields map[string]interface{})  { s.write("warn", msg, fields) }
func (s *Stream) Error(msg string, fields map[string]interface{}) { s.write("error", msg, fields) }
func (s *Stream) Cron(msg string, fields map[string]interface{})  { s.write("cron", msg, fields) }
