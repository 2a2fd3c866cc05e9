package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire protocol: the runtime process speaks newline-delimited JSON on
// stdio. Each line is an object with a "type" discriminant; requests flow
// in on stdin, events flow out on stdout.

type wireEvent struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`
	ID   string `json:"id,omitempty"`

	Command    string `json:"command,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	Reason         string `json:"reason,omitempty"`
	EscalatedRetry bool   `json:"escalated_retry,omitempty"`

	InputTokens           int64 `json:"input_tokens,omitempty"`
	CachedInputTokens     int64 `json:"cached_input_tokens,omitempty"`
	OutputTokens          int64 `json:"output_tokens,omitempty"`
	ReasoningOutputTokens int64 `json:"reasoning_output_tokens,omitempty"`
	ContextWindow         int64 `json:"context_window,omitempty"`

	Action  string `json:"action,omitempty"`
	Summary string `json:"summary,omitempty"`

	Message string `json:"message,omitempty"`
}

type wireRequest struct {
	Type string `json:"type"`

	Prompt  string `json:"prompt,omitempty"`
	ID      string `json:"id,omitempty"`
	Approve *bool  `json:"approve,omitempty"`
}

// DecodeEvent parses one protocol line. A kind this side does not know is
// returned as Unknown rather than an error so newer runtimes stay usable.
func DecodeEvent(line []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decoding engine event: %w", err)
	}

	switch w.Type {
	case "message":
		return Message{Text: w.Text}, nil
	case "message_delta":
		return MessageDelta{Text: w.Text}, nil
	case "command_begin":
		return CommandBegin{ID: w.ID, Command: w.Command}, nil
	case "command_end":
		return CommandEnd{
			ID:       w.ID,
			Command:  w.Command,
			ExitCode: w.ExitCode,
			Duration: time.Duration(w.DurationMS) * time.Millisecond,
		}, nil
	case "approval_request":
		return ApprovalRequest{
			ID:             w.ID,
			Command:        w.Command,
			RiskContext:    w.Reason,
			EscalatedRetry: w.EscalatedRetry,
		}, nil
	case "token_count":
		return TokenUsage{
			InputTokens:           w.InputTokens,
			CachedInputTokens:     w.CachedInputTokens,
			OutputTokens:          w.OutputTokens,
			ReasoningOutputTokens: w.ReasoningOutputTokens,
			ContextWindow:         w.ContextWindow,
		}, nil
	case "turn_complete":
		return TurnComplete{Action: w.Action, Summary: w.Summary}, nil
	case "turn_aborted":
		return TurnAborted{Reason: w.Reason}, nil
	case "error":
		return Error{Message: w.Message}, nil
	case "shutdown_complete":
		return ShutdownComplete{}, nil
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return Unknown{Kind: w.Type, Raw: raw}, nil
	}
}

func encodeSubmitTurn(prompt string) ([]byte, error) {
	return json.Marshal(wireRequest{Type: "submit_turn", Prompt: prompt})
}

func encodeApprovalResponse(id string, approve bool) ([]byte, error) {
	return json.Marshal(wireRequest{Type: "approval_response", ID: id, Approve: &approve})
}

func encodeShutdown() ([]byte, error) {
	return json.Marshal(wireRequest{Type: "shutdown"})
}
