// Package prompt assembles the text submitted to the engine each iteration.
// The layout is fixed so the model sees a stable structure across turns:
// status first, then capabilities and accumulated context, instructions last.
package prompt

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/openbot/internal/memory"
	"github.com/montanaflynn/openbot/internal/skills"
)

// Actions the model may request when it considers the task finished.
const (
	ActionMerge   = "merge"
	ActionReview  = "review"
	ActionDiscard = "discard"
)

// recentHistoryWindow is how many past iterations are surfaced each turn.
const recentHistoryWindow = 5

// Input carries everything one assembled prompt depends on.
type Input struct {
	BotName      string
	Instructions string

	Iteration     int
	MaxIterations int // 0 means unlimited
	SessionNumber int

	Branch  string
	WorkDir string

	Skills    []skills.Skill
	Memory    *memory.Store
	UserInput string

	StopPhrase string
}

// Assemble renders the full prompt for one turn.
func Assemble(in Input) string {
	var b strings.Builder

	b.WriteString("# Status\n\n")
	fmt.Fprintf(&b, "You are %q, an autonomous agent working in %s.\n", in.BotName, in.WorkDir)
	if in.MaxIterations > 0 {
		fmt.Fprintf(&b, "This is iteration %d of %d in session %d.\n", in.Iteration, in.MaxIterations, in.SessionNumber)
	} else {
		fmt.Fprintf(&b, "This is iteration %d in session %d.\n", in.Iteration, in.SessionNumber)
	}
	if in.Branch != "" {
		fmt.Fprintf(&b, "Your changes go to branch %s.\n", in.Branch)
	}

	if len(in.Skills) > 0 {
		b.WriteString("\n# Skills\n")
		for _, s := range in.Skills {
			fmt.Fprintf(&b, "\n## %s\n", s.Name)
			if s.Description != "" {
				fmt.Fprintf(&b, "%s\n", s.Description)
			}
			if s.Body != "" {
				fmt.Fprintf(&b, "\n%s\n", s.Body)
			}
		}
	}

	if in.Memory != nil && in.Memory.Len() > 0 {
		b.WriteString("\n# Memory\n\n")
		for _, k := range in.Memory.Keys() {
			v, _ := in.Memory.Get(k)
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	if in.UserInput != "" {
		b.WriteString("\n# User Input\n\n")
		b.WriteString(in.UserInput)
		b.WriteString("\n")
	}

	if in.Memory != nil {
		if recent := in.Memory.Recent(recentHistoryWindow); len(recent) > 0 {
			b.WriteString("\n# Recent History\n\n")
			for _, r := range recent {
				fmt.Fprintf(&b, "- iteration %d (%s): %s -> %s\n",
					r.Iteration,
					r.Timestamp.Format("2006-01-02 15:04"),
					r.PromptExcerpt,
					r.ResponseExcerpt)
			}
		}
	}

	b.WriteString("\n# Instructions\n\n")
	b.WriteString(strings.TrimSpace(in.Instructions))
	b.WriteString("\n\n")
	fmt.Fprintf(&b,
		"When the task is fully complete, end your response with %q and state whether the work should be handled as %s, %s, or %s.\n",
		in.StopPhrase, ActionMerge, ActionReview, ActionDiscard)

	return b.String()
}
