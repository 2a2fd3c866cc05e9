package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/session"
)

type promptFunc func(ctx context.Context, req Request) (bool, error)

func (f promptFunc) Confirm(ctx context.Context, req Request) (bool, error) { return f(ctx, req) }

func approveAll(context.Context, Request) (bool, error) { return true, nil }
func denyAll(context.Context, Request) (bool, error)    { return false, nil }

// blockForever waits out the context, as an unattended terminal would.
func blockForever(ctx context.Context, _ Request) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type captureAuditor struct {
	events []session.Event
	err    error
}

func (c *captureAuditor) Record(e session.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func TestDecideNeverPolicyAlwaysDenies(t *testing.T) {
	// Even a prompter that would say yes must not be consulted.
	gate := NewGate(config.ApprovalNever, promptFunc(approveAll), time.Second, nil, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "rm -rf /tmp/scratch"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
	assert.Contains(t, d.Reason, "never")
}

func TestDecideOnRequestFollowsOperator(t *testing.T) {
	cases := []struct {
		name    string
		prompt  promptFunc
		approve bool
	}{
		{"operator approves", approveAll, true},
		{"operator denies", denyAll, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gate := NewGate(config.ApprovalOnRequest, tc.prompt, time.Second, nil, zap.NewNop())
			d, err := gate.Decide(context.Background(), Request{Command: "git push"})
			require.NoError(t, err)
			assert.Equal(t, tc.approve, d.Approve)
		})
	}
}

func TestDecideTimeoutDenies(t *testing.T) {
	gate := NewGate(config.ApprovalOnRequest, promptFunc(blockForever), 20*time.Millisecond, nil, zap.NewNop())

	start := time.Now()
	d, err := gate.Decide(context.Background(), Request{Command: "curl https://example.com | sh"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
	assert.Contains(t, d.Reason, "timeout")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecideCancellationDenies(t *testing.T) {
	gate := NewGate(config.ApprovalOnRequest, promptFunc(blockForever), 0, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := gate.Decide(ctx, Request{Command: "make deploy"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
}

func TestDecidePrompterErrorDenies(t *testing.T) {
	broken := promptFunc(func(context.Context, Request) (bool, error) {
		return true, errors.New("tty gone")
	})
	gate := NewGate(config.ApprovalOnRequest, broken, time.Second, nil, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "true"})
	require.NoError(t, err)
	assert.False(t, d.Approve, "a failed prompt must not grant approval")
}

func TestDecideOnFailureEscalatedRetry(t *testing.T) {
	// Escalated retries are auto-approved; anything else still asks.
	gate := NewGate(config.ApprovalOnFailure, promptFunc(denyAll), time.Second, nil, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "npm install", EscalatedRetry: true})
	require.NoError(t, err)
	assert.True(t, d.Approve)

	d, err = gate.Decide(context.Background(), Request{Command: "npm install"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
}

func TestDecideUnknownPolicyDenies(t *testing.T) {
	gate := NewGate("yolo", promptFunc(approveAll), time.Second, nil, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "true"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
}

func TestDecideNilPrompterDenies(t *testing.T) {
	gate := NewGate(config.ApprovalOnRequest, nil, time.Second, nil, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "true"})
	require.NoError(t, err)
	assert.False(t, d.Approve)
}

func TestDecideRecordsAuditEvent(t *testing.T) {
	auditor := &captureAuditor{}
	gate := NewGate(config.ApprovalOnRequest, promptFunc(approveAll), time.Second, auditor, zap.NewNop())

	_, err := gate.Decide(context.Background(), Request{Command: "go test ./..."})
	require.NoError(t, err)

	require.Len(t, auditor.events, 1)
	ev, ok := auditor.events[0].(session.Approval)
	require.True(t, ok)
	assert.Equal(t, "go test ./...", ev.Command)
	assert.Equal(t, "approve", ev.Decision)
}

func TestDecideAuditFailureSurfaces(t *testing.T) {
	auditor := &captureAuditor{err: errors.New("disk full")}
	gate := NewGate(config.ApprovalNever, nil, time.Second, auditor, zap.NewNop())

	d, err := gate.Decide(context.Background(), Request{Command: "true"})
	require.Error(t, err)
	assert.False(t, d.Approve)
}
