// Package main implements the openbot CLI for running autonomous bots
// against a repository.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/logging"
	"github.com/montanaflynn/openbot/internal/workspace"
)

// version information
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "openbot",
	Short: "Run autonomous agent bots against a repository",
	Long: `openbot runs named bots in an iterative loop against a code repository.
Each run works on an isolated git worktree, records a crash-safe session
history, and gates risky commands behind an approval policy.

Bots are configured under ~/.openbot/bots/<name>/config.md.`,
	Version:      version,
	SilenceUsage: true,
}

// setup loads global settings and builds the logger shared by all commands.
func setup() (*config.Settings, *zap.Logger, error) {
	settings, err := config.LoadSettings("")
	if err != nil {
		return nil, nil, fmt.Errorf("loading settings: %w", err)
	}
	logger, err := logging.New(settings.LogLevel, settings.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return settings, logger, nil
}

// workspacePaths resolves where a bot keeps state for the repository around
// the current directory. The slug override lets commands target another
// project's workspace.
func workspacePaths(botName, overrideSlug string) (historyDir, memoryPath string, err error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	ws, err := workspace.Resolve(wd, true, overrideSlug)
	if err != nil {
		return "", "", err
	}
	historyDir, err = config.HistoryDir(botName, ws.Slug)
	if err != nil {
		return "", "", err
	}
	memoryPath, err = config.MemoryPath(botName, ws.Slug)
	if err != nil {
		return "", "", err
	}
	return historyDir, memoryPath, nil
}
