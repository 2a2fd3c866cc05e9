// Package engine defines the boundary to the agent runtime that actually
// talks to a model and executes commands. The orchestrator consumes this
// interface; it never implements model inference itself.
package engine

import (
	"context"
	"encoding/json"
	"time"
)

// ThreadOptions configure a new or resumed conversation thread.
type ThreadOptions struct {
	// Model selects the backing model; empty means the runtime's default.
	Model string

	// Sandbox is the execution restriction handed to the runtime
	// (read-only, workspace-write, danger-full-access).
	Sandbox string

	// WorkDir is the directory commands execute in, typically an
	// isolated worktree checkout.
	WorkDir string
}

// Engine creates conversation threads against the agent runtime.
type Engine interface {
	StartThread(ctx context.Context, opts ThreadOptions) (Thread, error)

	// ResumeThread reattaches to a previous conversation so a new turn
	// carries its full context.
	ResumeThread(ctx context.Context, id string, opts ThreadOptions) (Thread, error)
}

// Thread is one live conversation. Events delivers everything the runtime
// emits, in order; the channel closes when the thread ends.
type Thread interface {
	SessionID() string
	Model() string

	SubmitTurn(ctx context.Context, prompt string) error
	Events() <-chan Event

	// RespondApproval relays the gate's verdict for a pending
	// ApprovalRequest back to the runtime.
	RespondApproval(ctx context.Context, id string, approve bool) error

	// Shutdown asks the runtime to stop. The context bounds the wait;
	// implementations must terminate the runtime on expiry.
	Shutdown(ctx context.Context) error
}

// Event is one runtime notification. The set is closed on this side of the
// boundary; kinds the runtime adds later surface as Unknown.
type Event interface {
	engineEvent()
}

// Message is a completed assistant message.
type Message struct {
	Text string
}

// MessageDelta is an incremental chunk of an in-flight assistant message.
type MessageDelta struct {
	Text string
}

// CommandBegin reports a command the runtime started executing.
type CommandBegin struct {
	ID      string
	Command string
}

// CommandEnd reports a finished command with its outcome.
type CommandEnd struct {
	ID       string
	Command  string
	ExitCode int
	Duration time.Duration
}

// ApprovalRequest asks permission before executing a command. EscalatedRetry
// marks the retry of an attempt that just failed under sandbox restriction.
type ApprovalRequest struct {
	ID             string
	Command        string
	RiskContext    string
	EscalatedRetry bool
}

// TokenUsage reports cumulative token consumption for the conversation.
// Fields are int64 to match the persisted session totals.
type TokenUsage struct {
	InputTokens           int64
	CachedInputTokens     int64
	OutputTokens          int64
	ReasoningOutputTokens int64
	ContextWindow         int64
}

// TurnComplete ends a turn normally. Action, when set, is the runtime's
// requested completion handling (merge, review, discard) with a summary.
type TurnComplete struct {
	Action  string
	Summary string
}

// TurnAborted ends a turn without a normal completion.
type TurnAborted struct {
	Reason string
}

// Error reports a runtime failure scoped to the current turn.
type Error struct {
	Message string
}

// ShutdownComplete acknowledges a Shutdown request.
type ShutdownComplete struct{}

// Unknown carries an event kind this side does not understand.
type Unknown struct {
	Kind string
	Raw  json.RawMessage
}

func (Message) engineEvent()          {}
func (MessageDelta) engineEvent()     {}
func (CommandBegin) engineEvent()     {}
func (CommandEnd) engineEvent()       {}
func (ApprovalRequest) engineEvent()  {}
func (TokenUsage) engineEvent()       {}
func (TurnComplete) engineEvent()     {}
func (TurnAborted) engineEvent()      {}
func (Error) engineEvent()            {}
func (ShutdownComplete) engineEvent() {}
func (Unknown) engineEvent()          {}
