package prompt

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montanaflynn/openbot/internal/memory"
	"github.com/montanaflynn/openbot/internal/skills"
)

func testMemory(t *testing.T, records int) *memory.Store {
	t.Helper()
	s, err := memory.Load(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	for i := 1; i <= records; i++ {
		s.AppendRecord(memory.IterationRecord{
			Iteration:       i,
			Timestamp:       time.Date(2026, 8, 30, 10, i, 0, 0, time.UTC),
			PromptExcerpt:   "prompt",
			ResponseExcerpt: "response",
		})
	}
	return s
}

func TestAssembleSectionOrder(t *testing.T) {
	mem := testMemory(t, 2)
	mem.Set("focus", "auth bug")

	out := Assemble(Input{
		BotName:       "smith",
		Instructions:  "Fix the login regression.",
		Iteration:     3,
		MaxIterations: 10,
		SessionNumber: 4,
		Branch:        "openbot/smith-1700000000",
		WorkDir:       "/repo",
		Skills:        []skills.Skill{{Name: "debugging", Description: "Read logs first", Body: "Start from the stack trace."}},
		Memory:        mem,
		UserInput:     "prioritize the session timeout",
		StopPhrase:    "TASK COMPLETE",
	})

	sections := []string{"# Status", "# Skills", "# Memory", "# User Input", "# Recent History", "# Instructions"}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %s", s)
		assert.Greater(t, idx, last, "section %s out of order", s)
		last = idx
	}

	assert.Contains(t, out, "iteration 3 of 10 in session 4")
	assert.Contains(t, out, "openbot/smith-1700000000")
	assert.Contains(t, out, "## debugging")
	assert.Contains(t, out, "- focus: auth bug")
	assert.Contains(t, out, "prioritize the session timeout")
	assert.Contains(t, out, `"TASK COMPLETE"`)
	assert.Contains(t, out, "merge, review, or discard")
}

func TestAssembleOmitsEmptySections(t *testing.T) {
	out := Assemble(Input{
		BotName:      "smith",
		Instructions: "Do the thing.",
		Iteration:    1,
		WorkDir:      "/repo",
		StopPhrase:   "TASK COMPLETE",
	})

	assert.NotContains(t, out, "# Skills")
	assert.NotContains(t, out, "# Memory")
	assert.NotContains(t, out, "# User Input")
	assert.NotContains(t, out, "# Recent History")
	assert.Contains(t, out, "This is iteration 1 in session 0.")
}

func TestAssembleLimitsRecentHistory(t *testing.T) {
	out := Assemble(Input{
		BotName:      "smith",
		Instructions: "Go.",
		Memory:       testMemory(t, 8),
		StopPhrase:   "TASK COMPLETE",
	})

	assert.NotContains(t, out, "iteration 3 (")
	assert.Contains(t, out, "iteration 4 (")
	assert.Contains(t, out, "iteration 8 (")
}
