package fireglobe

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ConversationLogger records conversations and results on the local
// filesystem. It performs no locking; the Tester writes sequentially.
type ConversationLogger struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewConversationLogger creates a logger writing under dir. A nil logger
// uses slog.Default().
func NewConversationLogger(dir string, logger *slog.Logger) *ConversationLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationLogger{dir: dir, logger: logger, now: time.Now}
}

// Dir returns the output directory.
func (l *ConversationLogger) Dir() string { return l.dir }

// ConversationPath returns the JSONL file for a conversation.
func (l *ConversationLogger) ConversationPath(conversationID string) string {
	return filepath.Join(l.dir, "conversation_"+conversationID+".jsonl")
}

// LogMessage appends msg as one JSON line to the conversation's file.
// Failures are logged and returned; callers treat them as non-fatal.
func (l *ConversationLogger) LogMessage(conversationID string, msg ConversationMessage) error {
	if err := l.writeLine(conversationID, msg); err != nil {
		l.logger.Warn("fireglobe: log message failed", "conversation_id", conversationID, "error", err)
		return err
	}
	return nil
}

func (l *ConversationLogger) writeLine(conversationID string, msg ConversationMessage) error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	f, err := os.OpenFile(l.ConversationPath(conversationID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append conversation log: %w", err)
	}
	return f.Close()
}

// SaveTestResults writes results as indented JSON and returns the path.
func (l *ConversationLogger) SaveTestResults(results *TestResults) (string, error) {
	path := filepath.Join(l.dir, "test_results_"+fileTimestamp(l.now())+".json")
	data, err := json.MarshalIndent(results, "", "  ")
	if err == nil {
		err = l.writeFile(path, data)
	}
	if err != nil {
		l.logger.Warn("fireglobe: save test results failed", "path", path, "error", err)
		return "", err
	}
	l.logger.Info("fireglobe: test results saved", "path", path)
	return path, nil
}

// SaveConversationsAsHTML renders a static HTML report and returns the path.
func (l *ConversationLogger) SaveConversationsAsHTML(results *TestResults) (string, error) {
	path := filepath.Join(l.dir, "test_report_"+fileTimestamp(l.now())+".html")
	var sb strings.Builder
	err := RenderHTMLReport(&sb, results)
	if err == nil {
		err = l.writeFile(path, []byte(sb.String()))
	}
	if err != nil {
		l.logger.Warn("fireglobe: save html report failed", "path", path, "error", err)
		return "", err
	}
	l.logger.Info("fireglobe: html report saved", "path", path)
	return path, nil
}

func (l *ConversationLogger) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(path, data, 0o640)
}

// LoadTestResults reads a results file written by SaveTestResults.
func LoadTestResults(path string) (*TestResults, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-provided path
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var r TestResults
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode results %s: %w", path, err)
	}
	return &r, nil
}

// ReadConversationLog reads back a conversation's JSONL file.
func ReadConversationLog(path string) ([]ConversationMessage, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-provided path
	if err != nil {
		return nil, err
	}
	var msgs []ConversationMessage
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m ConversationMessage
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// fileTimestamp formats t as an RFC 3339 UTC timestamp safe for file names.
func fileTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}
