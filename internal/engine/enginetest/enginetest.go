// Package enginetest provides a scripted in-memory engine for exercising
// the orchestration loop without a real agent runtime.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"github.com/montanaflynn/openbot/internal/engine"
)

// Response records one approval verdict relayed to the thread.
type Response struct {
	ID      string
	Approve bool
}

// Engine hands out a single scripted thread. Each element of Script is the
// event batch emitted for one submitted turn, in order.
type Engine struct {
	ID     string
	Script [][]engine.Event

	mu       sync.Mutex
	thread   *Thread
	ResumeID string
	Started  engine.ThreadOptions
}

// New builds a scripted engine with the given per-turn event batches.
func New(id string, script ...[]engine.Event) *Engine {
	return &Engine{ID: id, Script: script}
}

func (e *Engine) StartThread(_ context.Context, opts engine.ThreadOptions) (engine.Thread, error) {
	return e.attach("", opts)
}

func (e *Engine) ResumeThread(_ context.Context, id string, opts engine.ThreadOptions) (engine.Thread, error) {
	return e.attach(id, opts)
}

func (e *Engine) attach(resumeID string, opts engine.ThreadOptions) (engine.Thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.thread != nil {
		return nil, errors.New("enginetest: thread already started")
	}
	id := e.ID
	if resumeID != "" {
		id = resumeID
		e.ResumeID = resumeID
	}
	e.Started = opts
	e.thread = &Thread{
		id:     id,
		model:  opts.Model,
		script: e.Script,
		events: make(chan engine.Event, 16),
		resp:   make(chan Response),
	}
	return e.thread, nil
}

// Thread returns the scripted thread once started, for post-run assertions.
func (e *Engine) Thread() *Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thread
}

// Thread replays scripted event batches. An ApprovalRequest in a batch
// blocks further emission until RespondApproval delivers a verdict, the
// same way a real runtime suspends the command.
type Thread struct {
	id     string
	model  string
	script [][]engine.Event
	events chan engine.Event
	resp   chan Response

	mu        sync.Mutex
	turn      int
	Prompts   []string
	Responses []Response
	Shutdowns int
}

func (t *Thread) SessionID() string           { return t.id }
func (t *Thread) Model() string               { return t.model }
func (t *Thread) Events() <-chan engine.Event { return t.events }

func (t *Thread) SubmitTurn(ctx context.Context, prompt string) error {
	t.mu.Lock()
	t.Prompts = append(t.Prompts, prompt)
	turn := t.turn
	t.turn++
	t.mu.Unlock()

	if turn >= len(t.script) {
		return errors.New("enginetest: no scripted batch for this turn")
	}

	go func() {
		for _, ev := range t.script[turn] {
			select {
			case t.events <- ev:
			case <-ctx.Done():
				return
			}
			if _, ok := ev.(engine.ApprovalRequest); ok {
				select {
				case <-t.resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (t *Thread) RespondApproval(ctx context.Context, id string, approve bool) error {
	r := Response{ID: id, Approve: approve}
	t.mu.Lock()
	t.Responses = append(t.Responses, r)
	t.mu.Unlock()

	select {
	case t.resp <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Thread) Shutdown(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Shutdowns++
	if t.Shutdowns == 1 {
		close(t.events)
	}
	return nil
}
