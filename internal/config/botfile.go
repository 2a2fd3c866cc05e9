package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrMissingFrontmatterClose indicates an unterminated +++ block in config.md.
var ErrMissingFrontmatterClose = errors.New("config.md: missing closing +++")

// frontmatter holds the TOML fields of a bot's config.md. Instructions come
// from the markdown body, not from frontmatter.
type frontmatter struct {
	Description   *string `toml:"description"`
	MaxIterations *int    `toml:"max_iterations"`
	SleepSecs     *int    `toml:"sleep_secs"`
	StopPhrase    *string `toml:"stop_phrase"`
	Model         *string `toml:"model"`
	Sandbox       *string `toml:"sandbox"`
	Approval      *string `toml:"approval_policy"`
	SkipRepoCheck *bool   `toml:"skip_repo_check"`
	SkipIsolation *bool   `toml:"skip_isolation"`
}

// LoadBot loads a bot's configuration from its config.md. A missing file
// yields the documented defaults.
func LoadBot(name string) (BotConfig, error) {
	path, err := BotConfigPath(name)
	if err != nil {
		return BotConfig{}, err
	}
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultBotConfig(), nil
	}
	if err != nil {
		return BotConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseBotConfig(string(contents))
}

// ParseBotConfig parses config.md contents: optional TOML frontmatter
// delimited by +++ fences, followed by a markdown body used as the bot's
// instructions. A file without frontmatter is all instructions.
func ParseBotConfig(contents string) (BotConfig, error) {
	cfg := DefaultBotConfig()

	trimmed := strings.TrimLeft(contents, " \t\r\n")
	if !strings.HasPrefix(trimmed, "+++") {
		if body := strings.TrimSpace(contents); body != "" {
			cfg.Instructions = body
		}
		return cfg, nil
	}

	rest := strings.TrimPrefix(trimmed, "+++")
	rest = strings.TrimPrefix(rest, "\n")
	close := strings.Index(rest, "\n+++")
	if close < 0 {
		return BotConfig{}, ErrMissingFrontmatterClose
	}

	var fm frontmatter
	if err := toml.Unmarshal([]byte(rest[:close]), &fm); err != nil {
		return BotConfig{}, fmt.Errorf("parsing config.md frontmatter: %w", err)
	}

	if fm.Description != nil {
		cfg.Description = *fm.Description
	}
	if fm.MaxIterations != nil {
		cfg.MaxIterations = *fm.MaxIterations
	}
	if fm.SleepSecs != nil {
		cfg.SleepSecs = *fm.SleepSecs
	}
	if fm.StopPhrase != nil {
		cfg.StopPhrase = *fm.StopPhrase
	}
	if fm.Model != nil {
		cfg.Model = *fm.Model
	}
	if fm.Sandbox != nil {
		cfg.Sandbox = *fm.Sandbox
	}
	if fm.Approval != nil {
		cfg.ApprovalPolicy = *fm.Approval
	}
	if fm.SkipRepoCheck != nil {
		cfg.SkipRepoCheck = *fm.SkipRepoCheck
	}
	if fm.SkipIsolation != nil {
		cfg.SkipIsolation = *fm.SkipIsolation
	}

	if body := strings.TrimSpace(rest[close+len("\n+++"):]); body != "" {
		cfg.Instructions = body
	}

	if err := cfg.Validate(); err != nil {
		return BotConfig{}, err
	}
	return cfg, nil
}

// SerializeBotConfig renders a BotConfig back to config.md format. Only
// fields differing from the defaults are written to frontmatter.
func SerializeBotConfig(cfg BotConfig) string {
	defaults := DefaultBotConfig()
	var fm strings.Builder
	fm.WriteString("+++\n")

	if cfg.Description != "" {
		fmt.Fprintf(&fm, "description = %q\n", cfg.Description)
	}
	if cfg.MaxIterations != defaults.MaxIterations {
		fmt.Fprintf(&fm, "max_iterations = %d\n", cfg.MaxIterations)
	}
	if cfg.SleepSecs != defaults.SleepSecs {
		fmt.Fprintf(&fm, "sleep_secs = %d\n", cfg.SleepSecs)
	}
	if cfg.StopPhrase != defaults.StopPhrase {
		fmt.Fprintf(&fm, "stop_phrase = %q\n", cfg.StopPhrase)
	}
	if cfg.Model != "" {
		fmt.Fprintf(&fm, "model = %q\n", cfg.Model)
	}
	if cfg.Sandbox != defaults.Sandbox {
		fmt.Fprintf(&fm, "sandbox = %q\n", cfg.Sandbox)
	}
	if cfg.ApprovalPolicy != "" {
		fmt.Fprintf(&fm, "approval_policy = %q\n", cfg.ApprovalPolicy)
	}
	if cfg.SkipRepoCheck {
		fm.WriteString("skip_repo_check = true\n")
	}
	if cfg.SkipIsolation {
		fm.WriteString("skip_isolation = true\n")
	}

	fm.WriteString("\n+++\n\n")
	fm.WriteString(cfg.Instructions)
	fm.WriteString("\n")
	return fm.String()
}
