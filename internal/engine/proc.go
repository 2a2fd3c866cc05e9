package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxLineBytes bounds a single protocol line. Messages larger than this
// indicate a misbehaving runtime, not a legitimate event.
const maxLineBytes = 4 << 20

var errThreadClosed = errors.New("engine: thread closed")

// ProcEngine runs the agent runtime as a child process speaking the JSONL
// protocol on stdio.
type ProcEngine struct {
	command []string
	logger  *zap.Logger
}

// NewProcEngine builds an engine around the runtime's argv. The command is
// invoked once per thread.
func NewProcEngine(command []string, logger *zap.Logger) *ProcEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcEngine{command: command, logger: logger}
}

func (e *ProcEngine) StartThread(ctx context.Context, opts ThreadOptions) (Thread, error) {
	return e.spawn(ctx, uuid.NewString(), opts, nil)
}

func (e *ProcEngine) ResumeThread(ctx context.Context, id string, opts ThreadOptions) (Thread, error) {
	return e.spawn(ctx, id, opts, []string{"--resume", id})
}

func (e *ProcEngine) spawn(ctx context.Context, id string, opts ThreadOptions, extra []string) (Thread, error) {
	if len(e.command) == 0 {
		return nil, errors.New("engine: no runtime command configured")
	}

	args := append([]string{}, e.command[1:]...)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Sandbox != "" {
		args = append(args, "--sandbox", opts.Sandbox)
	}
	args = append(args, extra...)

	cmd := exec.Command(e.command[0], args...)
	cmd.Dir = opts.WorkDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %q: %w", e.command[0], err)
	}

	t := &procThread{
		id:     id,
		model:  opts.Model,
		cmd:    cmd,
		stdin:  stdin,
		events: make(chan Event, 64),
		exited: make(chan struct{}),
		logger: e.logger.With(zap.String("session_id", id)),
	}

	go t.drainStderr(stderr)
	go t.readEvents(stdout)
	go func() {
		t.waitErr = cmd.Wait()
		close(t.exited)
	}()

	e.logger.Info("engine started",
		zap.String("session_id", id),
		zap.String("command", e.command[0]))
	return t, nil
}

type procThread struct {
	id    string
	model string
	cmd   *exec.Cmd

	writeMu sync.Mutex
	closed  bool
	stdin   io.WriteCloser

	events  chan Event
	exited  chan struct{}
	waitErr error

	logger *zap.Logger
}

func (t *procThread) SessionID() string { return t.id }
func (t *procThread) Model() string     { return t.model }

func (t *procThread) Events() <-chan Event { return t.events }

func (t *procThread) SubmitTurn(ctx context.Context, prompt string) error {
	line, err := encodeSubmitTurn(prompt)
	if err != nil {
		return err
	}
	return t.writeLine(ctx, line)
}

func (t *procThread) RespondApproval(ctx context.Context, id string, approve bool) error {
	line, err := encodeApprovalResponse(id, approve)
	if err != nil {
		return err
	}
	return t.writeLine(ctx, line)
}

// Shutdown asks the runtime to exit and waits for it, killing the process
// if the context expires first.
func (t *procThread) Shutdown(ctx context.Context) error {
	t.writeMu.Lock()
	if !t.closed {
		t.closed = true
		if line, err := encodeShutdown(); err == nil {
			if _, werr := t.stdin.Write(append(line, '\n')); werr != nil {
				t.logger.Debug("shutdown request not delivered", zap.Error(werr))
			}
		}
		t.stdin.Close()
	}
	t.writeMu.Unlock()

	select {
	case <-t.exited:
		return t.exitStatus()
	case <-ctx.Done():
		t.logger.Warn("engine did not exit in time, killing process")
		if err := t.cmd.Process.Kill(); err != nil {
			t.logger.Warn("killing engine process", zap.Error(err))
		}
		<-t.exited
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (t *procThread) exitStatus() error {
	if t.waitErr != nil {
		return fmt.Errorf("engine exited: %w", t.waitErr)
	}
	return nil
}

func (t *procThread) writeLine(ctx context.Context, line []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return errThreadClosed
	}
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing to engine: %w", err)
	}
	return nil
}

func (t *procThread) readEvents(stdout io.Reader) {
	defer close(t.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := DecodeEvent(line)
		if err != nil {
			t.logger.Warn("undecodable engine output", zap.Error(err))
			continue
		}
		t.events <- ev
	}
	if err := scanner.Err(); err != nil {
		t.logger.Warn("reading engine output", zap.Error(err))
	}
}

func (t *procThread) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		t.logger.Debug("engine stderr", zap.String("line", scanner.Text()))
	}
}
