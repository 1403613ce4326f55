package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger logs provider requests and stream events to a JSONL file.
// Each run gets its own file named after the run ID.
type DebugLogger struct {
	runID     string
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	closeOnce sync.Once
	closed    bool
}

type debugLogEntry struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Type      string `json:"type"` // "run_start", "request" or "event"
}

type debugRequestEntry struct {
	debugLogEntry
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Messages   []Message `json:"messages"`
	Tools      []string  `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`
	MaxOutput  int       `json:"max_output_tokens,omitempty"`
}

type debugEventEntry struct {
	debugLogEntry
	EventType string `json:"event_type"`
	Data      any    `json:"data,omitempty"`
}

type debugRunStartEntry struct {
	debugLogEntry
	Args []string `json:"args"`
	Cwd  string   `json:"cwd"`
}

// NewDebugLogger creates a DebugLogger writing to baseDir/<runID>.jsonl.
// Old log files (>7 days) are cleaned up.
func NewDebugLogger(baseDir, runID string) (*DebugLogger, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	_ = CleanupOldLogs(baseDir, 7*24*time.Hour)

	file, err := os.OpenFile(filepath.Join(baseDir, runID+".jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &DebugLogger{runID: runID, file: file, writer: bufio.NewWriter(file)}, nil
}

func (l *DebugLogger) header(kind string) debugLogEntry {
	return debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     l.runID,
		Type:      kind,
	}
}

// LogRunStart records the invocation.
func (l *DebugLogger) LogRunStart(args []string, cwd string) {
	if l == nil {
		return
	}
	l.writeEntry(debugRunStartEntry{debugLogEntry: l.header("run_start"), Args: args, Cwd: cwd})
	l.Flush()
}

// LogRequest records a provider request.
func (l *DebugLogger) LogRequest(provider string, req Request) {
	if l == nil {
		return
	}
	entry := debugRequestEntry{
		debugLogEntry: l.header("request"),
		Provider:      provider,
		Model:         req.Model,
		Messages:      req.Messages,
		ToolChoice:    string(req.ToolChoice.Mode),
		MaxOutput:     req.MaxOutputTokens,
	}
	for _, t := range req.Tools {
		entry.Tools = append(entry.Tools, t.Name)
	}
	l.writeEntry(entry)
}

// LogEvent records a stream event. Text deltas are kept whole; errors are
// stored as strings.
func (l *DebugLogger) LogEvent(event Event) {
	if l == nil {
		return
	}
	entry := debugEventEntry{debugLogEntry: l.header("event"), EventType: string(event.Type)}
	switch event.Type {
	case EventTextDelta:
		entry.Data = map[string]string{"text": event.Text}
	case EventToolCall:
		if event.Tool != nil {
			entry.Data = map[string]any{"id": event.Tool.ID, "name": event.Tool.Name, "arguments": event.Tool.Arguments}
		}
	case EventUsage:
		if event.Use != nil {
			entry.Data = event.Use
		}
	case EventError:
		if event.Err != nil {
			entry.Data = map[string]string{"error": event.Err.Error()}
		}
	case EventRetry:
		entry.Data = map[string]any{
			"attempt":      event.RetryAttempt,
			"max_attempts": event.RetryMaxAttempts,
			"wait_secs":    event.RetryWaitSecs,
		}
	}
	l.writeEntry(entry)

	// Flush once per response rather than per delta
	if event.Type == EventDone || event.Type == EventError {
		l.Flush()
	}
}

// Close flushes and closes the log file. It is safe to call more than once.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if err := l.writer.Flush(); err != nil {
			closeErr = err
		}
		if err := l.file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.closed = true
	})
	return closeErr
}

func (l *DebugLogger) writeEntry(entry any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.writer.Write(data)
	l.writer.WriteString("\n")
}

// Flush flushes the buffered writer to disk.
func (l *DebugLogger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.writer.Flush()
	}
}

// CleanupOldLogs removes JSONL log files older than maxAge from baseDir.
func CleanupOldLogs(baseDir string, maxAge time.Duration) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(baseDir, entry.Name()))
		}
	}
	return nil
}

// DebugProvider tees every request and event of an inner provider into a
// DebugLogger.
type DebugProvider struct {
	inner  Provider
	logger *DebugLogger
}

// WrapWithDebugLog wraps p so its traffic is logged. A nil logger returns p.
func WrapWithDebugLog(p Provider, logger *DebugLogger) Provider {
	if logger == nil {
		return p
	}
	return &DebugProvider{inner: p, logger: logger}
}

func (d *DebugProvider) Name() string               { return d.inner.Name() }
func (d *DebugProvider) Credential() string         { return d.inner.Credential() }
func (d *DebugProvider) Capabilities() Capabilities { return d.inner.Capabilities() }

func (d *DebugProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	d.logger.LogRequest(d.inner.Name(), req)
	stream, err := d.inner.Stream(ctx, req)
	if err != nil {
		d.logger.LogEvent(Event{Type: EventError, Err: err})
		return nil, err
	}
	return &debugStream{inner: stream, logger: d.logger}, nil
}

type debugStream struct {
	inner  Stream
	logger *DebugLogger
}

func (s *debugStream) Recv() (Event, error) {
	ev, err := s.inner.Recv()
	switch {
	case err == nil:
		s.logger.LogEvent(ev)
	case !errors.Is(err, io.EOF):
		s.logger.LogEvent(Event{Type: EventError, Err: err})
	}
	return ev, err
}

func (s *debugStream) Close() error {
	return s.inner.Close()
}
