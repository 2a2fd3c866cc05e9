// Package approval decides whether the engine may execute a requested
// side-effecting command.
//
// The policy is derived from configuration (sandbox mode plus an optional
// explicit policy) before the run starts and is never defaulted to a
// permissive value here. Denial is final: the decision returned by the gate
// is exactly what gets relayed to the engine, and every decision is recorded
// to the session's event stream for audit.
package approval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/session"
)

// Request names a command the engine wants to execute and its risk context.
type Request struct {
	// ID correlates the decision back to the engine's request.
	ID string

	// Command is the shell invocation under review.
	Command string

	// RiskContext is the engine's stated reason for needing approval.
	RiskContext string

	// EscalatedRetry marks a documented retry-with-escalated-privilege of
	// an attempt that just failed under sandbox restriction.
	EscalatedRetry bool
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Approve bool
	Reason  string
}

// Prompter surfaces a request to the operator and blocks for a verdict.
// Implementations must honor context cancellation.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// Auditor persists approval decisions. *session.Recorder satisfies it.
type Auditor interface {
	Record(e session.Event) error
}

// Gate evaluates approval requests against the configured policy.
type Gate struct {
	policy   string
	prompter Prompter
	timeout  time.Duration
	auditor  Auditor
	logger   *zap.Logger
}

// NewGate builds a gate for the resolved policy. The timeout bounds the
// interactive wait; on expiry the decision is deny.
func NewGate(policy string, prompter Prompter, timeout time.Duration, auditor Auditor, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		policy:   policy,
		prompter: prompter,
		timeout:  timeout,
		auditor:  auditor,
		logger:   logger,
	}
}

// Decide produces the verdict for one request. The verdict is deterministic
// in (policy, request, operator response); the returned error reports only
// audit-persistence failure, for which the caller must stop the run rather
// than continue without an audit trail.
func (g *Gate) Decide(ctx context.Context, req Request) (Decision, error) {
	decision := g.evaluate(ctx, req)

	g.logger.Info("approval decision",
		zap.String("command", req.Command),
		zap.Bool("approve", decision.Approve),
		zap.String("reason", decision.Reason))

	if g.auditor != nil {
		event := session.Approval{
			Command:  req.Command,
			Decision: decisionLabel(decision),
			Reason:   decision.Reason,
		}
		if err := g.auditor.Record(event); err != nil {
			return decision, fmt.Errorf("recording approval decision: %w", err)
		}
	}
	return decision, nil
}

func (g *Gate) evaluate(ctx context.Context, req Request) Decision {
	switch g.policy {
	case config.ApprovalNever:
		// No approval flow is expected under this policy; a request
		// arriving anyway means a contract violation upstream. Refuse.
		return Decision{Approve: false, Reason: "approval policy is never; unexpected request refused"}

	case config.ApprovalOnFailure:
		if req.EscalatedRetry {
			return Decision{Approve: true, Reason: "retry of sandbox-restricted failure"}
		}
		// Not a documented escalated retry: fall back to asking.
		return g.ask(ctx, req)

	case config.ApprovalOnRequest, config.ApprovalUnlessTrusted:
		return g.ask(ctx, req)

	default:
		// An unrecognized policy must never widen access.
		return Decision{Approve: false, Reason: fmt.Sprintf("unrecognized approval policy %q", g.policy)}
	}
}

// ask blocks on the operator for up to the configured timeout. Timeout,
// cancellation, and prompter failure all resolve to deny.
func (g *Gate) ask(ctx context.Context, req Request) Decision {
	if g.prompter == nil {
		return Decision{Approve: false, Reason: "no operator channel available"}
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	approve, err := g.prompter.Confirm(ctx, req)
	if err != nil {
		reason := "operator prompt failed"
		if ctx.Err() != nil {
			reason = "no operator decision before timeout or cancellation"
		}
		return Decision{Approve: false, Reason: reason}
	}
	if !approve {
		return Decision{Approve: false, Reason: "denied by operator"}
	}
	return Decision{Approve: true, Reason: "approved by operator"}
}

func decisionLabel(d Decision) string {
	if d.Approve {
		return "approve"
	}
	return "deny"
}
