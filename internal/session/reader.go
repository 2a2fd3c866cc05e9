package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// LoadMetadata reads a session's metadata by id, trying the directory
// format first and falling back to the legacy history/<id>.json file.
func LoadMetadata(historyDir, sessionID string) (Metadata, error) {
	var meta Metadata

	metaPath := filepath.Join(historyDir, sessionID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		data, err = os.ReadFile(filepath.Join(historyDir, sessionID+".json"))
	}
	if err != nil {
		return meta, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parsing session metadata: %w", err)
	}
	return meta, nil
}

// List loads all session metadata records, sorted by session number.
// Both the directory format and the legacy single-file format are read;
// unparseable entries are skipped.
func List(historyDir string, logger *zap.Logger) ([]Metadata, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(historyDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history dir: %w", err)
	}

	var records []Metadata
	for _, entry := range entries {
		var path string
		if entry.IsDir() {
			path = filepath.Join(historyDir, entry.Name(), "metadata.json")
		} else if strings.HasSuffix(entry.Name(), ".json") {
			path = filepath.Join(historyDir, entry.Name())
		} else {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			logger.Warn("skipping unreadable session record",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		records = append(records, meta)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SessionNumber < records[j].SessionNumber
	})
	return records, nil
}

// Recent returns the n most recent session records in chronological order.
func Recent(historyDir string, n int, logger *zap.Logger) ([]Metadata, error) {
	all, err := List(historyDir, logger)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// Count counts session records without loading them.
func Count(historyDir string) int {
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			if _, err := os.Stat(filepath.Join(historyDir, entry.Name(), "metadata.json")); err == nil {
				count++
			}
		} else if strings.HasSuffix(entry.Name(), ".json") {
			count++
		}
	}
	return count
}

// EventScanner streams a session's events in write order. Re-opening the
// scanner restarts from the beginning. A truncated trailing record (partial
// write from a crash) is skipped rather than failing the read.
type EventScanner struct {
	f       *os.File
	scanner *bufio.Scanner
	current Event
	err     error
}

// OpenEvents opens a session's event stream for reading. A session without
// an events file (legacy format) yields an empty scanner.
func OpenEvents(historyDir, sessionID string) (*EventScanner, error) {
	f, err := os.Open(filepath.Join(historyDir, sessionID, "events.jsonl"))
	if os.IsNotExist(err) {
		return &EventScanner{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &EventScanner{f: f, scanner: scanner}, nil
}

// Next advances to the next readable event.
func (s *EventScanner) Next() bool {
	if s.scanner == nil {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		event, err := UnmarshalEvent([]byte(line))
		if err != nil {
			// Torn record, most likely the tail of a crashed write.
			continue
		}
		s.current = event
		return true
	}
	s.err = s.scanner.Err()
	return false
}

// Event returns the event at the current position.
func (s *EventScanner) Event() Event { return s.current }

// Err returns the first non-EOF error encountered while scanning.
func (s *EventScanner) Err() error { return s.err }

// Close releases the underlying file.
func (s *EventScanner) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

var _ io.Closer = (*EventScanner)(nil)

// ReadEvents loads a session's full event stream into memory.
func ReadEvents(historyDir, sessionID string) ([]Event, error) {
	scanner, err := OpenEvents(historyDir, sessionID)
	if err != nil {
		return nil, err
	}
	defer scanner.Close()

	var events []Event
	for scanner.Next() {
		events = append(events, scanner.Event())
	}
	return events, scanner.Err()
}
