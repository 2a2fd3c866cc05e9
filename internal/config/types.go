package config

import (
	"errors"
	"fmt"
	"time"
)

// Sandbox modes understood by the execution engine.
const (
	SandboxReadOnly         = "read-only"
	SandboxWorkspaceWrite   = "workspace-write"
	SandboxDangerFullAccess = "danger-full-access"
)

// Approval policies governing side-effecting commands.
const (
	ApprovalNever         = "never"
	ApprovalOnRequest     = "on-request"
	ApprovalOnFailure     = "on-failure"
	ApprovalUnlessTrusted = "unless-trusted"
)

var (
	// ErrInvalidSandbox indicates an unrecognized sandbox mode string.
	ErrInvalidSandbox = errors.New("invalid sandbox mode")

	// ErrInvalidApprovalPolicy indicates an unrecognized approval policy string.
	ErrInvalidApprovalPolicy = errors.New("invalid approval policy")
)

// Settings holds global openbot settings loaded from config.yaml.
type Settings struct {
	// LogLevel is the zap level name ("debug", "info", "warn", "error").
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoder ("console" or "json").
	LogFormat string `koanf:"log_format"`

	// BranchNamespace prefixes worktree branch names (default "openbot").
	BranchNamespace string `koanf:"branch_namespace"`

	// ApprovalTimeout bounds the interactive approval wait.
	ApprovalTimeout time.Duration `koanf:"approval_timeout"`

	// ShutdownTimeout bounds the engine shutdown wait.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// InterruptGrace bounds how long an in-flight turn may run after an
	// operator interrupt before the session is finalized anyway.
	InterruptGrace time.Duration `koanf:"interrupt_grace"`

	// EngineCommand is the agent runtime argv, invoked once per session.
	EngineCommand []string `koanf:"engine_command"`
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q (expected console or json)", s.LogFormat)
	}
	if s.BranchNamespace == "" {
		return errors.New("branch_namespace cannot be empty")
	}
	if s.ApprovalTimeout <= 0 {
		return errors.New("approval_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	if s.InterruptGrace <= 0 {
		return errors.New("interrupt_grace must be positive")
	}
	if len(s.EngineCommand) == 0 {
		return errors.New("engine_command cannot be empty")
	}
	return nil
}

// BotConfig is the runtime configuration for one bot run, loaded from the
// bot's config.md and refined by CLI overrides.
type BotConfig struct {
	// Description is a short human-readable description of the bot.
	Description string

	// Instructions is the base prompt for the agent (config.md body).
	Instructions string

	// MaxIterations caps the loop; 0 means unlimited.
	MaxIterations int

	// SleepSecs is the pause between iterations; 0 means never sleep.
	SleepSecs int

	// StopPhrase ends the loop when it appears in a response.
	StopPhrase string

	// Model overrides the engine's default model selection.
	Model string

	// Sandbox is one of the Sandbox* constants.
	Sandbox string

	// ApprovalPolicy, when set, overrides the sandbox-derived policy.
	ApprovalPolicy string

	// SkipRepoCheck allows running outside a git repository.
	SkipRepoCheck bool

	// SkipIsolation disables the per-run worktree and runs in place.
	SkipIsolation bool

	// Project, when set, overrides the workspace slug derived from the
	// repository root.
	Project string

	// ResumeSessionID continues a prior engine conversation.
	ResumeSessionID string
}

// DefaultBotConfig returns the documented defaults for a bot with no config.md.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Instructions:  "You are an autonomous AI agent. Complete tasks thoroughly and report your progress.",
		MaxIterations: 10,
		SleepSecs:     30,
		StopPhrase:    "TASK COMPLETE",
		Sandbox:       SandboxWorkspaceWrite,
	}
}

// Validate checks sandbox and approval policy values.
func (c *BotConfig) Validate() error {
	switch c.Sandbox {
	case SandboxReadOnly, SandboxWorkspaceWrite, SandboxDangerFullAccess:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSandbox, c.Sandbox)
	}
	if c.ApprovalPolicy != "" {
		switch c.ApprovalPolicy {
		case ApprovalNever, ApprovalOnRequest, ApprovalOnFailure, ApprovalUnlessTrusted:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidApprovalPolicy, c.ApprovalPolicy)
		}
	}
	if c.MaxIterations < 0 {
		return errors.New("max_iterations cannot be negative")
	}
	if c.SleepSecs < 0 {
		return errors.New("sleep_secs cannot be negative")
	}
	return nil
}

// ResolveApprovalPolicy returns the effective approval policy for the
// configured sandbox mode. An explicit ApprovalPolicy always wins; otherwise
// tighter sandboxes get more interactive policies. The gate treats any
// request arriving under "never" as a contract violation and denies it.
func (c *BotConfig) ResolveApprovalPolicy() string {
	if c.ApprovalPolicy != "" {
		return c.ApprovalPolicy
	}
	switch c.Sandbox {
	case SandboxReadOnly:
		return ApprovalOnRequest
	case SandboxDangerFullAccess:
		return ApprovalNever
	default:
		return ApprovalOnFailure
	}
}

// Overrides carries optional CLI-level overrides for a bot run. Pointer
// fields distinguish "not given" from an explicit zero.
type Overrides struct {
	MaxIterations   *int
	Model           string
	Sleep           *int
	Sandbox         string
	ApprovalPolicy  string
	SkipRepoCheck   bool
	SkipIsolation   bool
	Project         string
	ResumeSessionID string
}

// Apply folds CLI overrides into the config.
func (c BotConfig) Apply(o Overrides) BotConfig {
	if o.MaxIterations != nil {
		c.MaxIterations = *o.MaxIterations
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Sleep != nil {
		c.SleepSecs = *o.Sleep
	}
	if o.Sandbox != "" {
		c.Sandbox = o.Sandbox
	}
	if o.ApprovalPolicy != "" {
		c.ApprovalPolicy = o.ApprovalPolicy
	}
	if o.SkipRepoCheck {
		c.SkipRepoCheck = true
	}
	if o.SkipIsolation {
		c.SkipIsolation = true
	}
	if o.Project != "" {
		c.Project = o.Project
	}
	if o.ResumeSessionID != "" {
		c.ResumeSessionID = o.ResumeSessionID
	}
	return c
}
