// Package runner drives the iteration loop: prepare a prompt, submit it to
// the engine, stream the turn's events into the session record, summarize,
// then sleep or stop. One run is one recorded session; iterations are turns
// within it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/approval"
	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/engine"
	"github.com/montanaflynn/openbot/internal/memory"
	"github.com/montanaflynn/openbot/internal/prompt"
	"github.com/montanaflynn/openbot/internal/session"
	"github.com/montanaflynn/openbot/internal/skills"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StatePreparing   State = "preparing"
	StateSubmitted   State = "submitted"
	StateStreaming   State = "streaming"
	StateSummarizing State = "summarizing"
	StateSleeping    State = "sleeping"
	StateStopped     State = "stopped"
	StateAborted     State = "aborted"
)

// Excerpt limits for iteration records and session summaries.
const (
	promptExcerptBytes   = 100
	responseExcerptBytes = 500
)

// Options configure one run.
type Options struct {
	BotName  string
	Config   config.BotConfig
	Settings config.Settings

	HistoryDir string
	MemoryPath string

	// WorkDir and Branch describe where the engine executes, typically an
	// isolated worktree.
	WorkDir string
	Branch  string

	// ResumeID continues an earlier engine conversation instead of
	// starting a new one.
	ResumeID string

	// InitialInput is operator text folded into the first prompt.
	InitialInput string

	// Input delivers operator lines typed while the run is in progress:
	// they wake a sleeping loop and answer approval prompts.
	Input <-chan string

	Skills   *skills.Loader
	Prompter approval.Prompter
}

// Result reports how a run ended.
type Result struct {
	SessionID  string
	Iterations int
	Final      State

	// Action is the engine's requested completion handling, if any.
	Action string
}

// Controller owns one run of the loop.
type Controller struct {
	engine engine.Engine
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// New builds a controller. The engine outlives the controller; everything
// else in opts is scoped to this run.
func New(eng engine.Engine, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		engine: eng,
		opts:   opts,
		logger: logger.Named("runner").With(zap.String("bot", opts.BotName)),
		now:    time.Now,
		state:  StateIdle,
	}
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Debug("state", zap.String("state", string(s)))
}

// Run executes the loop until a stop condition or cancellation. The session
// is always finalized and the engine always asked to shut down, even when a
// turn fails.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	cfg := c.opts.Config

	thread, meta, err := c.openThread(ctx)
	if err != nil {
		c.setState(StateAborted)
		return Result{Final: StateAborted}, err
	}
	defer c.shutdown(thread)

	rec, err := session.Open(c.opts.HistoryDir, meta, c.logger)
	if err != nil {
		c.setState(StateAborted)
		return Result{Final: StateAborted}, err
	}

	gate := approval.NewGate(
		cfg.ResolveApprovalPolicy(),
		c.opts.Prompter,
		c.opts.Settings.ApprovalTimeout,
		rec,
		c.logger,
	)

	run := &runState{meta: meta, startedAt: c.now()}
	pendingInput := c.opts.InitialInput

	result := Result{SessionID: meta.SessionID}
	var runErr error

loop:
	for {
		result.Iterations++

		turn, err := c.iterate(ctx, thread, rec, gate, run, result.Iterations, pendingInput)
		pendingInput = ""
		if err != nil {
			runErr = err
			result.Final = StateAborted
			break
		}

		switch {
		case turn.aborted:
			result.Final = StateAborted
			break loop
		case turn.action != "":
			result.Action = turn.action
			result.Final = StateStopped
			break loop
		case cfg.StopPhrase != "" && strings.Contains(turn.response, cfg.StopPhrase):
			c.logger.Info("stop phrase found in response")
			result.Final = StateStopped
			break loop
		case cfg.MaxIterations > 0 && result.Iterations >= cfg.MaxIterations:
			c.logger.Info("iteration limit reached", zap.Int("iterations", result.Iterations))
			result.Final = StateStopped
			break loop
		}

		// Cancellation during sleep is still an interrupt: the run ends
		// aborted so the session id is reported as a resume token.
		input, awake := c.sleep(ctx)
		if !awake {
			result.Final = StateAborted
			break
		}
		pendingInput = input
	}

	run.action = result.Action
	c.finalize(rec, run)
	c.setState(result.Final)
	return result, runErr
}

// runState accumulates across iterations for the final session metadata.
type runState struct {
	meta      session.Metadata
	startedAt time.Time

	promptSummary   string
	responseSummary string
	action          string
	commandCount    int
	tokens          *session.TokenTotals
}

func (c *Controller) openThread(ctx context.Context) (engine.Thread, session.Metadata, error) {
	topts := engine.ThreadOptions{
		Model:   c.opts.Config.Model,
		Sandbox: c.opts.Config.Sandbox,
		WorkDir: c.opts.WorkDir,
	}

	if id := c.opts.ResumeID; id != "" {
		meta, err := session.LoadMetadata(c.opts.HistoryDir, id)
		if err != nil {
			return nil, session.Metadata{}, fmt.Errorf("loading session %s for resume: %w", id, err)
		}
		thread, err := c.engine.ResumeThread(ctx, id, topts)
		if err != nil {
			return nil, session.Metadata{}, fmt.Errorf("resuming engine thread: %w", err)
		}
		c.logger.Info("resuming session", zap.String("session_id", id))
		return thread, meta, nil
	}

	thread, err := c.engine.StartThread(ctx, topts)
	if err != nil {
		return nil, session.Metadata{}, fmt.Errorf("starting engine thread: %w", err)
	}
	meta := session.Metadata{
		SessionID:     thread.SessionID(),
		SessionNumber: session.Count(c.opts.HistoryDir) + 1,
		StartedAt:     c.now().UTC(),
		Model:         c.opts.Config.Model,
	}
	c.logger.Info("starting session",
		zap.String("session_id", meta.SessionID),
		zap.Int("session_number", meta.SessionNumber))
	return thread, meta, nil
}

// turnOutcome is what one iteration produced.
type turnOutcome struct {
	response string
	action   string
	aborted  bool
}

func (c *Controller) iterate(
	ctx context.Context,
	thread engine.Thread,
	rec *session.Recorder,
	gate *approval.Gate,
	run *runState,
	iteration int,
	userInput string,
) (turnOutcome, error) {
	c.setState(StatePreparing)

	mem, err := memory.Load(c.opts.MemoryPath)
	if err != nil {
		return turnOutcome{}, fmt.Errorf("preparing iteration %d: %w", iteration, err)
	}

	var loaded []skills.Skill
	if c.opts.Skills != nil {
		loaded = c.opts.Skills.Load()
	}

	text := prompt.Assemble(prompt.Input{
		BotName:       c.opts.BotName,
		Instructions:  c.opts.Config.Instructions,
		Iteration:     iteration,
		MaxIterations: c.opts.Config.MaxIterations,
		SessionNumber: run.meta.SessionNumber,
		Branch:        c.opts.Branch,
		WorkDir:       c.opts.WorkDir,
		Skills:        loaded,
		Memory:        mem,
		UserInput:     userInput,
		StopPhrase:    c.opts.Config.StopPhrase,
	})
	if run.promptSummary == "" {
		run.promptSummary = excerpt(text, promptExcerptBytes)
	}

	c.setState(StateSubmitted)
	if err := thread.SubmitTurn(ctx, text); err != nil {
		return turnOutcome{}, fmt.Errorf("submitting iteration %d: %w", iteration, err)
	}

	c.setState(StateStreaming)
	outcome, err := c.stream(ctx, thread, rec, gate, run)
	if err != nil {
		return turnOutcome{}, err
	}

	c.setState(StateSummarizing)
	mem.AppendRecord(memory.IterationRecord{
		Iteration:       mem.HistoryLen() + 1,
		Timestamp:       c.now().UTC(),
		PromptExcerpt:   excerpt(text, promptExcerptBytes),
		ResponseExcerpt: excerpt(outcome.response, responseExcerptBytes),
	})
	if err := mem.Save(); err != nil {
		return turnOutcome{}, fmt.Errorf("saving memory after iteration %d: %w", iteration, err)
	}
	if outcome.response != "" {
		run.responseSummary = excerpt(outcome.response, responseExcerptBytes)
	}
	return outcome, nil
}

// stream consumes engine events until the turn ends. Cancellation gives the
// in-flight turn a bounded grace period before abandoning it.
func (c *Controller) stream(
	ctx context.Context,
	thread engine.Thread,
	rec *session.Recorder,
	gate *approval.Gate,
	run *runState,
) (turnOutcome, error) {
	var out turnOutcome
	var deltas strings.Builder
	var deadline <-chan time.Time

	for {
		select {
		case ev, ok := <-thread.Events():
			if !ok {
				out.aborted = true
				return out, nil
			}
			done, err := c.handleEvent(ctx, thread, rec, gate, run, ev, &out, &deltas)
			if err != nil {
				return out, err
			}
			if done {
				if out.response == "" {
					out.response = deltas.String()
				}
				return out, nil
			}

		case <-ctxDoneOnce(ctx, deadline):
			grace := c.opts.Settings.InterruptGrace
			c.logger.Info("interrupted, waiting for in-flight turn", zap.Duration("grace", grace))
			timer := time.NewTimer(grace)
			defer timer.Stop()
			deadline = timer.C

		case <-deadline:
			c.logger.Warn("in-flight turn did not finish within grace period")
			out.aborted = true
			out.response = deltas.String()
			return out, nil
		}
	}
}

// ctxDoneOnce returns ctx.Done() until the grace timer is armed, then nil so
// the cancellation branch fires only once.
func ctxDoneOnce(ctx context.Context, deadline <-chan time.Time) <-chan struct{} {
	if deadline != nil {
		return nil
	}
	return ctx.Done()
}

func (c *Controller) handleEvent(
	ctx context.Context,
	thread engine.Thread,
	rec *session.Recorder,
	gate *approval.Gate,
	run *runState,
	ev engine.Event,
	out *turnOutcome,
	deltas *strings.Builder,
) (bool, error) {
	switch ev := ev.(type) {
	case engine.Message:
		if err := rec.Record(session.Message{Content: ev.Text}); err != nil {
			return false, err
		}
		out.response = ev.Text

	case engine.MessageDelta:
		deltas.WriteString(ev.Text)

	case engine.CommandBegin:
		c.logger.Debug("command started", zap.String("command", ev.Command))

	case engine.CommandEnd:
		run.commandCount++
		err := rec.Record(session.Command{
			Command:    ev.Command,
			ExitCode:   ev.ExitCode,
			DurationMS: ev.Duration.Milliseconds(),
		})
		if err != nil {
			return false, err
		}

	case engine.ApprovalRequest:
		decision, err := gate.Decide(ctx, approval.Request{
			ID:             ev.ID,
			Command:        ev.Command,
			RiskContext:    ev.RiskContext,
			EscalatedRetry: ev.EscalatedRetry,
		})
		if err != nil {
			return false, err
		}
		if err := thread.RespondApproval(ctx, ev.ID, decision.Approve); err != nil {
			return false, fmt.Errorf("relaying approval decision: %w", err)
		}

	case engine.TokenUsage:
		totals := session.TokenTotals{
			InputTokens:           ev.InputTokens,
			CachedInputTokens:     ev.CachedInputTokens,
			OutputTokens:          ev.OutputTokens,
			ReasoningOutputTokens: ev.ReasoningOutputTokens,
			ContextWindow:         ev.ContextWindow,
		}
		run.tokens = &totals
		if err := rec.Record(session.TokenCount{TokenTotals: totals}); err != nil {
			return false, err
		}

	case engine.TurnComplete:
		out.action = ev.Action
		if ev.Summary != "" && out.response == "" {
			out.response = ev.Summary
		}
		return true, nil

	case engine.TurnAborted:
		c.logger.Warn("turn aborted", zap.String("reason", ev.Reason))
		out.aborted = true
		return true, nil

	case engine.Error:
		// A turn-scoped engine failure ends the turn, not the run.
		c.logger.Error("engine error", zap.String("message", ev.Message))
		if err := rec.Record(session.Unknown{
			Type: "error",
			Raw:  []byte(fmt.Sprintf(`{"type":"error","message":%q}`, ev.Message)),
		}); err != nil {
			return false, err
		}
		return true, nil

	case engine.ShutdownComplete:
		out.aborted = true
		return true, nil

	default:
		c.logger.Debug("ignoring unrecognized engine event")
	}
	return false, nil
}

// sleep waits out the configured pause. An operator line wakes the loop
// immediately and is folded into the next prompt; cancellation stops the run.
func (c *Controller) sleep(ctx context.Context) (input string, awake bool) {
	c.setState(StateSleeping)

	pause := time.Duration(c.opts.Config.SleepSecs) * time.Second
	if pause <= 0 {
		select {
		case <-ctx.Done():
			return "", false
		default:
			return "", true
		}
	}

	timer := time.NewTimer(pause)
	defer timer.Stop()

	select {
	case <-timer.C:
		return "", true
	case line, ok := <-c.opts.Input:
		if !ok {
			// stdin closed; keep looping on the timer alone.
			select {
			case <-timer.C:
				return "", true
			case <-ctx.Done():
				return "", false
			}
		}
		c.logger.Info("operator input received, waking")
		if err := c.recordUserInput(line); err != nil {
			c.logger.Warn("saving operator input to memory", zap.Error(err))
		}
		return line, true
	case <-ctx.Done():
		return "", false
	}
}

func (c *Controller) recordUserInput(line string) error {
	mem, err := memory.Load(c.opts.MemoryPath)
	if err != nil {
		return err
	}
	mem.Set("user_input", line)
	return mem.Save()
}

func (c *Controller) finalize(rec *session.Recorder, run *runState) {
	meta := run.meta
	meta.DurationSecs = int64(c.now().Sub(run.startedAt).Seconds())
	meta.PromptSummary = run.promptSummary
	meta.ResponseSummary = run.responseSummary
	meta.Action = run.action
	meta.CommandCount = run.commandCount
	meta.Tokens = run.tokens

	if err := rec.Finalize(meta); err != nil {
		c.logger.Error("finalizing session", zap.Error(err))
	}
}

func (c *Controller) shutdown(thread engine.Thread) {
	timeout := c.opts.Settings.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := thread.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("engine shutdown", zap.Error(err))
	}
}

// excerpt truncates s to at most max bytes without splitting a rune.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
