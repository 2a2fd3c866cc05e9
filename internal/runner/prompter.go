package runner

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/montanaflynn/openbot/internal/approval"
)

// InputPrompter answers approval requests from the same operator line
// channel that wakes the sleep phase. The phases are sequential, so only one
// consumer reads the channel at a time.
type InputPrompter struct {
	In  <-chan string
	Out io.Writer
}

var _ approval.Prompter = (*InputPrompter)(nil)

// Confirm prints the request and waits for a yes/no line. Anything that is
// not an explicit yes counts as no.
func (p *InputPrompter) Confirm(ctx context.Context, req approval.Request) (bool, error) {
	fmt.Fprintf(p.Out, "\nThe agent wants to run:\n\n    %s\n", req.Command)
	if req.RiskContext != "" {
		fmt.Fprintf(p.Out, "\nReason: %s\n", req.RiskContext)
	}
	fmt.Fprint(p.Out, "\nAllow? [y/N] ")

	select {
	case line, ok := <-p.In:
		if !ok {
			return false, fmt.Errorf("operator input closed")
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
