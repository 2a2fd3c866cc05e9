package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Completion actions recorded in finalized metadata.
const (
	ActionMerge   = "merge"
	ActionReview  = "review"
	ActionDiscard = "discard"
)

// ErrRecorderClosed indicates a write after Finalize.
var ErrRecorderClosed = errors.New("session recorder is finalized")

// Metadata is the session-level summary. It is mutable until Finalize
// overwrites it with the terminal record.
type Metadata struct {
	SessionID       string       `json:"session_id"`
	SessionNumber   int          `json:"session_number"`
	StartedAt       time.Time    `json:"started_at"`
	DurationSecs    int64        `json:"duration_secs"`
	Model           string       `json:"model"`
	PromptSummary   string       `json:"prompt_summary"`
	ResponseSummary string       `json:"response_summary"`
	Action          string       `json:"action,omitempty"`
	Tokens          *TokenTotals `json:"tokens,omitempty"`
	CommandCount    int          `json:"command_count,omitempty"`
}

// Recorder streams session events to disk as they happen.
//
// Record is the crash-safety boundary: once it returns, the event is synced
// to stable storage and a process kill cannot lose it.
type Recorder struct {
	dir    string
	logger *zap.Logger

	mu        sync.Mutex
	events    *os.File
	finalized bool
}

// Open creates the session directory, writes the initial metadata record,
// and opens the event stream for appending. Opening an existing session
// directory (resume) preserves previously recorded events.
func Open(historyDir string, meta Metadata, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if meta.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	dir := filepath.Join(historyDir, meta.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir %s: %w", dir, err)
	}

	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}

	events, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}

	logger.Debug("session recorder opened",
		zap.String("session_id", meta.SessionID),
		zap.String("dir", dir))

	return &Recorder{dir: dir, logger: logger, events: events}, nil
}

// Dir returns the session directory.
func (r *Recorder) Dir() string { return r.dir }

// Record appends one event and syncs it to stable storage before returning.
// A zero timestamp is stamped with the current time.
func (r *Recorder) Record(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return ErrRecorderClosed
	}

	e = stamped(e)
	line, err := MarshalEvent(e)
	if err != nil {
		return err
	}
	if _, err := r.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	if err := r.events.Sync(); err != nil {
		return fmt.Errorf("syncing event stream: %w", err)
	}
	return nil
}

// Finalize overwrites the metadata record with the terminal summary and
// closes the event stream. Calling it again with the same summary is not an
// error.
func (r *Recorder) Finalize(meta Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return writeMetadata(r.dir, meta)
	}
	r.finalized = true

	if err := r.events.Close(); err != nil {
		r.logger.Warn("closing event stream", zap.Error(err))
	}
	return writeMetadata(r.dir, meta)
}

// writeMetadata replaces metadata.json atomically so a crash mid-write never
// leaves a torn metadata record.
func writeMetadata(dir string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}
	tmp := filepath.Join(dir, ".metadata.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "metadata.json")); err != nil {
		return fmt.Errorf("replacing metadata: %w", err)
	}
	return nil
}

// stamped fills in a zero timestamp without mutating the caller's event.
func stamped(e Event) Event {
	if !e.At().IsZero() {
		return e
	}
	now := time.Now().UTC()
	switch ev := e.(type) {
	case Message:
		ev.TS = now
		return ev
	case Command:
		ev.TS = now
		return ev
	case TokenCount:
		ev.TS = now
		return ev
	case Approval:
		ev.TS = now
		return ev
	case Unknown:
		ev.TS = now
		return ev
	default:
		return e
	}
}
