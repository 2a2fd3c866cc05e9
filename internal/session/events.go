// Package session provides durable session recording and history reading.
//
// Each session is a directory under the workspace history dir:
//
//	history/<session_id>/metadata.json   session-level summary
//	history/<session_id>/events.jsonl    append-only event stream
//
// Events are written one JSON object per line and are never mutated after
// being written. Legacy history/<session_id>.json single-file records remain
// readable through the same metadata abstraction.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event kind discriminants, stored in the "type" field of each record.
const (
	KindMessage    = "message"
	KindCommand    = "command"
	KindTokenCount = "token_count"
	KindApproval   = "approval"
)

// Event is one record in a session's event stream. The set of concrete
// types is closed: Message, Command, TokenCount, Approval, plus Unknown for
// records written by newer or older versions.
type Event interface {
	Kind() string
	At() time.Time
}

// Message is a chunk of assistant output text.
type Message struct {
	TS      time.Time `json:"ts"`
	Content string    `json:"content"`
}

func (Message) Kind() string    { return KindMessage }
func (e Message) At() time.Time { return e.TS }

// Command records a shell invocation the agent executed.
type Command struct {
	TS         time.Time `json:"ts"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
}

func (Command) Kind() string    { return KindCommand }
func (e Command) At() time.Time { return e.TS }

// TokenTotals is a usage snapshot, embedded in both the token_count event
// and finalized metadata.
type TokenTotals struct {
	InputTokens           int64 `json:"input_tokens"`
	CachedInputTokens     int64 `json:"cached_input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens"`
	ContextWindow         int64 `json:"context_window,omitempty"`
}

// TokenCount is a usage snapshot captured during the session.
type TokenCount struct {
	TS time.Time `json:"ts"`
	TokenTotals
}

func (TokenCount) Kind() string    { return KindTokenCount }
func (e TokenCount) At() time.Time { return e.TS }

// Approval is the audit record of a command-approval decision.
type Approval struct {
	TS       time.Time `json:"ts"`
	Command  string    `json:"command"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
}

func (Approval) Kind() string    { return KindApproval }
func (e Approval) At() time.Time { return e.TS }

// Unknown preserves records whose type this version does not recognize.
// Readers keep them intact rather than failing the whole stream.
type Unknown struct {
	TS   time.Time
	Type string
	Raw  json.RawMessage
}

func (e Unknown) Kind() string  { return e.Type }
func (e Unknown) At() time.Time { return e.TS }

// MarshalEvent renders an event as a single flat JSON object carrying the
// "type" discriminant alongside the kind-specific fields.
func MarshalEvent(e Event) ([]byte, error) {
	if u, ok := e.(Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("serializing %s event: %w", e.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("reshaping %s event: %w", e.Kind(), err)
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", e.Kind()))
	return json.Marshal(fields)
}

// UnmarshalEvent parses one event record. Records with an unrecognized type
// come back as Unknown; a record that is not valid JSON is an error (the
// reader treats a trailing one as a truncated partial write and skips it).
func UnmarshalEvent(line []byte) (Event, error) {
	var head struct {
		Type string    `json:"type"`
		TS   time.Time `json:"ts"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("parsing event record: %w", err)
	}
	switch head.Type {
	case KindMessage:
		var e Message
		return e, json.Unmarshal(line, &e)
	case KindCommand:
		var e Command
		return e, json.Unmarshal(line, &e)
	case KindTokenCount:
		var e TokenCount
		return e, json.Unmarshal(line, &e)
	case KindApproval:
		var e Approval
		return e, json.Unmarshal(line, &e)
	default:
		return Unknown{TS: head.TS, Type: head.Type, Raw: append(json.RawMessage(nil), line...)}, nil
	}
}

// ReconstructResponse joins all Message events into the full response text.
func ReconstructResponse(events []Event) string {
	var out []byte
	for _, e := range events {
		if m, ok := e.(Message); ok {
			out = append(out, m.Content...)
		}
	}
	return string(out)
}

// ExtractCommands returns the command events from a stream in order.
func ExtractCommands(events []Event) []Command {
	var cmds []Command
	for _, e := range events {
		if c, ok := e.(Command); ok {
			cmds = append(cmds, c)
		}
	}
	return cmds
}
