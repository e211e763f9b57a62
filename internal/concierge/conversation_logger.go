package concierge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	VisitorID  string         `json:"visitor_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// ConversationLogConfig controls where events are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// FileConversationLogger appends events as NDJSON, one file per
// visitor/session plus an optional global file. Writes happen on a
// background goroutine; events are dropped when the queue is full.
type FileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	events chan ConversationLogEvent
	done   chan struct{}

	files   map[string]*os.File
	dropped atomic.Int64

	closeOnce sync.Once
}

// NewConversationLogger creates a logger. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &FileConversationLogger{
		cfg:    cfg,
		logger: logger,
		events: make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	go l.run()
	return l, nil
}

// Log queues an event. It never blocks.
func (l *FileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	select {
	case l.events <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Close flushes queued events and closes all files.
func (l *FileConversationLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.events)
		<-l.done
	})
	return nil
}

func (l *FileConversationLogger) run() {
	defer close(l.done)
	defer func() {
		for path, f := range l.files {
			if err := f.Close(); err != nil {
				l.logger.Warn("failed to close conversation log", "path", path, "error", err)
			}
		}
	}()

	for event := range l.events {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeName(event.VisitorID), safeName(event.SessionID)+".ndjson")
		l.write(path, line)
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *FileConversationLogger) write(path string, line []byte) {
	f, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			l.logger.Warn("failed to create conversation log dir", "path", path, "error", err)
			return
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.logger.Warn("failed to open conversation log", "path", path, "error", err)
			return
		}
		l.files[path] = f
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafeNameChars.ReplaceAllString(s, "_")
}

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)
	blankRunPattern   = regexp.MustCompile(`[ \t]+`)
	newlineRunPattern = regexp.MustCompile(`\n{3,}`)
)

// cleanForReadability strips terminal escapes, normalizes to NFC and
// collapses runs of blanks.
func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRunPattern.ReplaceAllString(s, " ")
	s = newlineRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
