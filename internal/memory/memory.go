// Package memory persists a bot's long-lived notes between runs: a small
// key-value store plus an append-only history of past iterations. Both feed
// into the prompt so the next turn knows what already happened.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// IterationRecord summarizes one completed iteration.
type IterationRecord struct {
	Iteration       int       `json:"iteration"`
	Timestamp       time.Time `json:"timestamp"`
	PromptExcerpt   string    `json:"prompt_excerpt"`
	ResponseExcerpt string    `json:"response_excerpt"`
}

// Store is the in-memory form of memory.json. It is not safe for concurrent
// use; the loop owns it for the duration of a run.
type Store struct {
	path    string
	entries map[string]string
	history []IterationRecord
}

type fileFormat struct {
	Entries map[string]string `json:"entries"`
	History []IterationRecord `json:"history"`
}

// Load reads the store at path. A missing file yields an empty store so a
// fresh bot starts without setup.
func Load(path string) (*Store, error) {
	s := &Store{path: path, entries: map[string]string{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading memory file: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.Entries != nil {
		s.entries = f.Entries
	}
	s.history = f.History
	return s, nil
}

// Save writes the store atomically, creating parent directories as needed.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating memory dir: %w", err)
	}

	data, err := json.MarshalIndent(fileFormat{Entries: s.entries, History: s.history}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing memory file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing memory file: %w", err)
	}
	return nil
}

func (s *Store) Set(key, value string) { s.entries[key] = value }

// Remove deletes a key and reports whether it was present.
func (s *Store) Remove(key string) bool {
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Clear drops all key-value entries. History is append-only and survives.
func (s *Store) Clear() { s.entries = map[string]string{} }

func (s *Store) Get(key string) (string, bool) {
	v, ok := s.entries[key]
	return v, ok
}

// Keys returns the entry keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int { return len(s.entries) }

// AppendRecord adds one iteration to the history.
func (s *Store) AppendRecord(r IterationRecord) {
	s.history = append(s.history, r)
}

// Recent returns up to n of the newest history records in chronological
// order, oldest first.
func (s *Store) Recent(n int) []IterationRecord {
	if n <= 0 || len(s.history) == 0 {
		return nil
	}
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]IterationRecord, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// HistoryLen reports the total number of recorded iterations.
func (s *Store) HistoryLen() int { return len(s.history) }
