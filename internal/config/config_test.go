package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBotConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     func(t *testing.T, cfg BotConfig)
		wantErr  bool
	}{
		{
			name: "full frontmatter",
			contents: `+++
description = "Test bot"
max_iterations = 3
sleep_secs = 0
stop_phrase = "DONE"
model = "o4-mini"
sandbox = "read-only"
+++

Do the thing.`,
			want: func(t *testing.T, cfg BotConfig) {
				assert.Equal(t, "Test bot", cfg.Description)
				assert.Equal(t, 3, cfg.MaxIterations)
				assert.Equal(t, 0, cfg.SleepSecs)
				assert.Equal(t, "DONE", cfg.StopPhrase)
				assert.Equal(t, "o4-mini", cfg.Model)
				assert.Equal(t, SandboxReadOnly, cfg.Sandbox)
				assert.Equal(t, "Do the thing.", cfg.Instructions)
			},
		},
		{
			name:     "no frontmatter is all instructions",
			contents: "Just do it.\n",
			want: func(t *testing.T, cfg BotConfig) {
				assert.Equal(t, "Just do it.", cfg.Instructions)
				assert.Equal(t, 10, cfg.MaxIterations)
			},
		},
		{
			name:     "empty body keeps default instructions",
			contents: "+++\nmax_iterations = 1\n+++\n",
			want: func(t *testing.T, cfg BotConfig) {
				assert.Equal(t, 1, cfg.MaxIterations)
				assert.Equal(t, DefaultBotConfig().Instructions, cfg.Instructions)
			},
		},
		{
			name:     "unterminated frontmatter",
			contents: "+++\nmax_iterations = 1\n",
			wantErr:  true,
		},
		{
			name:     "invalid sandbox rejected",
			contents: "+++\nsandbox = \"yolo\"\n+++\n\nhi",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseBotConfig(tt.contents)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestSerializeBotConfigRoundTrip(t *testing.T) {
	cfg := DefaultBotConfig()
	cfg.Description = "Round trip"
	cfg.MaxIterations = 5
	cfg.Model = "gpt-4.1"
	cfg.ApprovalPolicy = ApprovalOnRequest
	cfg.Instructions = "Fix the flaky tests."

	parsed, err := ParseBotConfig(SerializeBotConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestResolveApprovalPolicy(t *testing.T) {
	tests := []struct {
		name     string
		sandbox  string
		explicit string
		want     string
	}{
		{name: "read-only maps to on-request", sandbox: SandboxReadOnly, want: ApprovalOnRequest},
		{name: "workspace-write maps to on-failure", sandbox: SandboxWorkspaceWrite, want: ApprovalOnFailure},
		{name: "full access maps to never", sandbox: SandboxDangerFullAccess, want: ApprovalNever},
		{name: "explicit policy wins", sandbox: SandboxDangerFullAccess, explicit: ApprovalUnlessTrusted, want: ApprovalUnlessTrusted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BotConfig{Sandbox: tt.sandbox, ApprovalPolicy: tt.explicit}
			assert.Equal(t, tt.want, cfg.ResolveApprovalPolicy())
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	zero := 0
	cfg := DefaultBotConfig().Apply(Overrides{
		MaxIterations:   &zero,
		Sleep:           &zero,
		SkipIsolation:   true,
		Project:         "alt-slug",
		ResumeSessionID: "abc-123",
	})

	assert.Equal(t, 0, cfg.MaxIterations, "explicit zero must override the default")
	assert.Equal(t, 0, cfg.SleepSecs)
	assert.True(t, cfg.SkipIsolation)
	assert.Equal(t, "alt-slug", cfg.Project)
	assert.Equal(t, "abc-123", cfg.ResumeSessionID)
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nbranch_namespace: bots\napproval_timeout: 30s\n"), 0o600))

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", settings.LogLevel)
	assert.Equal(t, "bots", settings.BranchNamespace)
	assert.Equal(t, 30*time.Second, settings.ApprovalTimeout)
	// Defaults fill the rest.
	assert.Equal(t, 5*time.Second, settings.ShutdownTimeout)
	assert.Equal(t, "console", settings.LogFormat)
}

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "openbot", settings.BranchNamespace)
	assert.Equal(t, 2*time.Minute, settings.ApprovalTimeout)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("OPENBOT_LOG_LEVEL", "error")
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "error", settings.LogLevel)
}
