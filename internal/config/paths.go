// Package config provides configuration loading for openbot.
//
// Two layers of configuration exist: global settings loaded from
// ~/.openbot/config.yaml (with OPENBOT_* environment overrides), and
// per-bot configuration loaded from the bot's config.md frontmatter.
// CLI flags are folded in last by the caller; nothing in this package
// reads ambient process state beyond the documented files and variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Home returns the openbot home directory (~/.openbot).
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".openbot"), nil
}

// BotDir returns a bot's directory (~/.openbot/bots/<name>).
func BotDir(name string) (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "bots", name), nil
}

// GlobalSkillsDir returns the shared skills directory (~/.openbot/skills).
func GlobalSkillsDir() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "skills"), nil
}

// BotSkillsDir returns a bot's local skills directory.
func BotSkillsDir(name string) (string, error) {
	dir, err := BotDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skills"), nil
}

// BotConfigPath returns the path to a bot's config.md.
func BotConfigPath(name string) (string, error) {
	dir, err := BotDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.md"), nil
}

// WorkspaceDir returns the per-project workspace directory for a bot
// (~/.openbot/bots/<name>/workspaces/<slug>). Memory and session history
// are scoped here so multiple projects never share state.
func WorkspaceDir(name, slug string) (string, error) {
	dir, err := BotDir(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspaces", slug), nil
}

// HistoryDir returns the session history directory for a bot's workspace.
func HistoryDir(name, slug string) (string, error) {
	dir, err := WorkspaceDir(name, slug)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// MemoryPath returns the memory.json path for a bot's workspace.
func MemoryPath(name, slug string) (string, error) {
	dir, err := WorkspaceDir(name, slug)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "memory.json"), nil
}

// EnsureBotDirs creates the directory structure for a bot.
func EnsureBotDirs(name string) error {
	skillsDir, err := BotSkillsDir(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return fmt.Errorf("creating bot directories: %w", err)
	}
	return nil
}

// ListBots returns the names of all bots under ~/.openbot/bots, sorted
// by the directory listing order (lexical on most filesystems).
func ListBots() ([]string, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	botsDir := filepath.Join(home, "bots")
	entries, err := os.ReadDir(botsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bots directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
