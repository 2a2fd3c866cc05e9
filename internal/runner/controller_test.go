package runner

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/approval"
	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/engine"
	"github.com/montanaflynn/openbot/internal/engine/enginetest"
	"github.com/montanaflynn/openbot/internal/memory"
	"github.com/montanaflynn/openbot/internal/session"
)

type promptFunc func(ctx context.Context, req approval.Request) (bool, error)

func (f promptFunc) Confirm(ctx context.Context, req approval.Request) (bool, error) {
	return f(ctx, req)
}

func approveAll(context.Context, approval.Request) (bool, error) { return true, nil }
func denyAll(context.Context, approval.Request) (bool, error)    { return false, nil }

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultBotConfig()
	cfg.Instructions = "Fix the build."
	cfg.MaxIterations = 1
	cfg.SleepSecs = 0
	cfg.Sandbox = config.SandboxReadOnly

	return Options{
		BotName:    "smith",
		Config:     cfg,
		Settings:   config.Settings{ApprovalTimeout: time.Second, ShutdownTimeout: time.Second, InterruptGrace: 50 * time.Millisecond},
		HistoryDir: filepath.Join(dir, "history"),
		MemoryPath: filepath.Join(dir, "memory.json"),
		WorkDir:    "/repo",
		Branch:     "openbot/smith-1700000000",
		Prompter:   promptFunc(approveAll),
	}
}

func TestRunSingleIteration(t *testing.T) {
	eng := enginetest.New("sess-1", []engine.Event{
		engine.CommandBegin{ID: "c1", Command: "go test ./..."},
		engine.CommandEnd{ID: "c1", Command: "go test ./...", ExitCode: 0, Duration: 2 * time.Second},
		engine.TokenUsage{InputTokens: 900, OutputTokens: 120, ContextWindow: 128000},
		engine.Message{Text: "Tests pass after fixing the import cycle."},
		engine.TurnComplete{},
	})

	opts := testOptions(t)
	c := New(eng, opts, zap.NewNop())
	assert.Equal(t, StateIdle, c.State())

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, StateStopped, res.Final)
	assert.Equal(t, StateStopped, c.State())

	meta, err := session.LoadMetadata(opts.HistoryDir, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.SessionNumber)
	assert.Equal(t, 1, meta.CommandCount)
	require.NotNil(t, meta.Tokens)
	assert.Equal(t, int64(900), meta.Tokens.InputTokens)
	assert.Contains(t, meta.ResponseSummary, "import cycle")
	assert.NotEmpty(t, meta.PromptSummary)
	assert.LessOrEqual(t, len(meta.PromptSummary), 100)

	events, err := session.ReadEvents(opts.HistoryDir, "sess-1")
	require.NoError(t, err)
	cmds := session.ExtractCommands(events)
	require.Len(t, cmds, 1)
	assert.Equal(t, "go test ./...", cmds[0].Command)
	assert.Equal(t, "Tests pass after fixing the import cycle.", session.ReconstructResponse(events))

	mem, err := memory.Load(opts.MemoryPath)
	require.NoError(t, err)
	require.Equal(t, 1, mem.HistoryLen())
	assert.Contains(t, mem.Recent(1)[0].ResponseExcerpt, "import cycle")

	assert.Equal(t, 1, eng.Thread().Shutdowns)
}

func TestRunStopsOnStopPhrase(t *testing.T) {
	eng := enginetest.New("sess-1",
		[]engine.Event{engine.Message{Text: "Still investigating."}, engine.TurnComplete{}},
		[]engine.Event{engine.Message{Text: "All fixed. TASK COMPLETE"}, engine.TurnComplete{}},
	)

	opts := testOptions(t)
	opts.Config.MaxIterations = 10

	res, err := New(eng, opts, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, StateStopped, res.Final)
}

func TestRunStopsOnCompletionAction(t *testing.T) {
	eng := enginetest.New("sess-1", []engine.Event{
		engine.Message{Text: "Refactor done."},
		engine.TurnComplete{Action: "review", Summary: "refactored the parser"},
	})

	opts := testOptions(t)
	opts.Config.MaxIterations = 10

	res, err := New(eng, opts, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "review", res.Action)

	meta, err := session.LoadMetadata(opts.HistoryDir, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "review", meta.Action)
}

func TestRunRelaysApprovalDecision(t *testing.T) {
	request := engine.ApprovalRequest{ID: "a1", Command: "rm -r build", RiskContext: "deletes files"}
	script := []engine.Event{request, engine.Message{Text: "done"}, engine.TurnComplete{}}

	t.Run("operator denies", func(t *testing.T) {
		eng := enginetest.New("sess-1", script)
		opts := testOptions(t)
		opts.Prompter = promptFunc(denyAll)

		_, err := New(eng, opts, zap.NewNop()).Run(context.Background())
		require.NoError(t, err)

		responses := eng.Thread().Responses
		require.Len(t, responses, 1)
		assert.Equal(t, "a1", responses[0].ID)
		assert.False(t, responses[0].Approve)
	})

	t.Run("never policy denies without asking", func(t *testing.T) {
		eng := enginetest.New("sess-1", script)
		opts := testOptions(t)
		opts.Config.Sandbox = config.SandboxDangerFullAccess
		opts.Prompter = promptFunc(approveAll)

		_, err := New(eng, opts, zap.NewNop()).Run(context.Background())
		require.NoError(t, err)

		responses := eng.Thread().Responses
		require.Len(t, responses, 1)
		assert.False(t, responses[0].Approve)
	})

	t.Run("decision is audited", func(t *testing.T) {
		eng := enginetest.New("sess-1", script)
		opts := testOptions(t)
		opts.Prompter = promptFunc(approveAll)

		_, err := New(eng, opts, zap.NewNop()).Run(context.Background())
		require.NoError(t, err)

		events, err := session.ReadEvents(opts.HistoryDir, "sess-1")
		require.NoError(t, err)
		var audits []session.Approval
		for _, ev := range events {
			if a, ok := ev.(session.Approval); ok {
				audits = append(audits, a)
			}
		}
		require.Len(t, audits, 1)
		assert.Equal(t, "rm -r build", audits[0].Command)
		assert.Equal(t, "approve", audits[0].Decision)
	})
}

func TestRunResumeKeepsSessionIdentity(t *testing.T) {
	opts := testOptions(t)

	// A prior run left a finalized session behind.
	prior, err := session.Open(opts.HistoryDir, session.Metadata{
		SessionID:     "resume-1",
		SessionNumber: 3,
		StartedAt:     time.Now().UTC(),
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, prior.Record(session.Message{Content: "earlier work"}))
	require.NoError(t, prior.Finalize(session.Metadata{SessionID: "resume-1", SessionNumber: 3}))

	eng := enginetest.New("ignored", []engine.Event{
		engine.Message{Text: "picked up where we left off"},
		engine.TurnComplete{},
	})
	opts.ResumeID = "resume-1"

	res, err := New(eng, opts, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "resume-1", res.SessionID)
	assert.Equal(t, "resume-1", eng.ResumeID)

	meta, err := session.LoadMetadata(opts.HistoryDir, "resume-1")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.SessionNumber, "resumed session keeps its number")

	events, err := session.ReadEvents(opts.HistoryDir, "resume-1")
	require.NoError(t, err)
	require.Len(t, events, 2, "resume appends to the existing event log")
}

func TestRunEngineErrorEndsTurnNotRun(t *testing.T) {
	eng := enginetest.New("sess-1",
		[]engine.Event{engine.Error{Message: "model overloaded"}},
		[]engine.Event{engine.Message{Text: "recovered"}, engine.TurnComplete{}},
	)

	opts := testOptions(t)
	opts.Config.MaxIterations = 2

	res, err := New(eng, opts, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, StateStopped, res.Final)
}

func TestRunInterruptFinalizesSession(t *testing.T) {
	// The scripted turn never completes, like a hung in-flight turn.
	eng := enginetest.New("sess-1", []engine.Event{
		engine.MessageDelta{Text: "partial answer"},
	})

	opts := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := New(eng, opts, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.Final)
	assert.Equal(t, "sess-1", res.SessionID, "session id is the resume token")

	// The record must be finalized even though the turn was abandoned.
	meta, err := session.LoadMetadata(opts.HistoryDir, "sess-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, meta.DurationSecs, int64(0))

	mem, err := memory.Load(opts.MemoryPath)
	require.NoError(t, err)
	require.Equal(t, 1, mem.HistoryLen())
	assert.Contains(t, mem.Recent(1)[0].ResponseExcerpt, "partial answer")
}

func TestRunOperatorInputWakesSleep(t *testing.T) {
	eng := enginetest.New("sess-1",
		[]engine.Event{engine.Message{Text: "first pass"}, engine.TurnComplete{}},
		[]engine.Event{engine.Message{Text: "second pass"}, engine.TurnComplete{}},
	)

	input := make(chan string, 1)
	input <- "focus on the session timeout"

	opts := testOptions(t)
	opts.Config.MaxIterations = 2
	opts.Config.SleepSecs = 3600
	opts.Input = input

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := New(eng, opts, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Iterations, "input should wake the loop long before the timer")

	prompts := eng.Thread().Prompts
	require.Len(t, prompts, 2)
	assert.True(t, strings.Contains(prompts[1], "focus on the session timeout"),
		"woken iteration folds the operator input into the prompt")

	mem, err := memory.Load(opts.MemoryPath)
	require.NoError(t, err)
	v, ok := mem.Get("user_input")
	require.True(t, ok)
	assert.Equal(t, "focus on the session timeout", v)
}

func TestRunInterruptDuringSleepAborts(t *testing.T) {
	eng := enginetest.New("sess-1", []engine.Event{
		engine.Message{Text: "first pass"}, engine.TurnComplete{},
	})

	opts := testOptions(t)
	opts.Config.MaxIterations = 5
	opts.Config.SleepSecs = 3600

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := New(eng, opts, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.Final, "a run interrupted while sleeping is aborted, not finished")
	assert.Equal(t, "sess-1", res.SessionID, "session id stays available as the resume token")

	meta, err := session.LoadMetadata(opts.HistoryDir, "sess-1")
	require.NoError(t, err)
	assert.Contains(t, meta.ResponseSummary, "first pass")
}

func TestRunAbortedTurnEndsRun(t *testing.T) {
	eng := enginetest.New("sess-1", []engine.Event{
		engine.MessageDelta{Text: "half"},
		engine.TurnAborted{Reason: "interrupted"},
	})

	opts := testOptions(t)
	opts.Config.MaxIterations = 10

	res, err := New(eng, opts, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateAborted, res.Final)
	assert.Equal(t, 1, res.Iterations)
}

func TestExcerptRespectsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("é", 60) // 2 bytes per rune
	got := excerpt(s, 99)
	assert.Equal(t, 98, len(got))
	assert.True(t, strings.HasSuffix(got, "é"))
}
