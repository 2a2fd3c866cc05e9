package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/engine"
	"github.com/montanaflynn/openbot/internal/runner"
	"github.com/montanaflynn/openbot/internal/skills"
	"github.com/montanaflynn/openbot/internal/workspace"
	"github.com/montanaflynn/openbot/internal/worktree"
)

var runFlags struct {
	prompt         string
	maxIterations  int
	model          string
	sleep          int
	resume         string
	skipIsolation  bool
	skipRepoCheck  bool
	project        string
	sandbox        string
	approvalPolicy string
}

var runCmd = &cobra.Command{
	Use:   "run <bot>",
	Short: "Run a bot's iteration loop in the current repository",
	Long: `Run a bot against the repository containing the current directory.

The bot works on an isolated git worktree so the primary checkout stays
untouched; its changes accumulate on a dedicated branch that survives the
run. Type a line while the bot sleeps to wake it with extra input.

Examples:
  # Run with the bot's configured instructions
  openbot run smith

  # One focused task, a single iteration
  openbot run smith --prompt "fix the failing auth test" -n 1

  # Pick up an interrupted session
  openbot run smith --resume 6f1c9b4a-...`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.prompt, "prompt", "", "task input for the first iteration")
	runCmd.Flags().IntVarP(&runFlags.maxIterations, "max-iterations", "n", 0, "iteration limit for this run (0 = unlimited)")
	runCmd.Flags().StringVar(&runFlags.model, "model", "", "model override")
	runCmd.Flags().IntVar(&runFlags.sleep, "sleep", 0, "seconds to sleep between iterations")
	runCmd.Flags().StringVar(&runFlags.resume, "resume", "", "session id to resume")
	runCmd.Flags().BoolVar(&runFlags.skipIsolation, "skip-isolation", false, "run in the checkout instead of an isolated worktree")
	runCmd.Flags().BoolVar(&runFlags.skipRepoCheck, "skip-repo-check", false, "allow running outside a git repository")
	runCmd.Flags().StringVar(&runFlags.project, "project", "", "workspace slug override")
	runCmd.Flags().StringVar(&runFlags.sandbox, "sandbox", "", "sandbox mode (read-only, workspace-write, danger-full-access)")
	runCmd.Flags().StringVar(&runFlags.approvalPolicy, "approval-policy", "", "approval policy override (never, on-request, on-failure, unless-trusted)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	botName := args[0]

	settings, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.LoadBot(botName)
	if err != nil {
		return err
	}

	ov := config.Overrides{
		Model:           runFlags.model,
		Sandbox:         runFlags.sandbox,
		ApprovalPolicy:  runFlags.approvalPolicy,
		SkipRepoCheck:   runFlags.skipRepoCheck,
		SkipIsolation:   runFlags.skipIsolation,
		Project:         runFlags.project,
		ResumeSessionID: runFlags.resume,
	}
	if cmd.Flags().Changed("max-iterations") {
		ov.MaxIterations = &runFlags.maxIterations
	}
	if cmd.Flags().Changed("sleep") {
		ov.Sleep = &runFlags.sleep
	}
	cfg = cfg.Apply(ov)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.EnsureBotDirs(botName); err != nil {
		return err
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	ws, err := workspace.Resolve(wd, cfg.SkipRepoCheck, cfg.Project)
	if err != nil {
		return fmt.Errorf("%w (use --skip-repo-check to run anyway)", err)
	}

	historyDir, err := config.HistoryDir(botName, ws.Slug)
	if err != nil {
		return err
	}
	memoryPath, err := config.MemoryPath(botName, ws.Slug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Isolation needs an actual repository to branch from.
	isolate := !cfg.SkipIsolation
	if _, err := os.Stat(ws.Root + "/.git"); err != nil {
		isolate = false
	}

	lifecycle := worktree.NewLifecycle(settings.BranchNamespace, logger)
	handle, err := lifecycle.Acquire(ctx, ws.Root, botName, isolate)
	if err != nil {
		return fmt.Errorf("preparing worktree: %w", err)
	}
	defer lifecycle.Release(handle)

	globalSkills, err := config.GlobalSkillsDir()
	if err != nil {
		return err
	}
	botSkills, err := config.BotSkillsDir(botName)
	if err != nil {
		return err
	}
	loader := skills.NewLoader([]string{botSkills, globalSkills}, logger)
	if err := loader.Watch(); err != nil {
		logger.Warn("skills watching unavailable, rescanning each iteration", zap.Error(err))
	}
	defer loader.Close() //nolint:errcheck

	input := make(chan string)
	go func() {
		defer close(input)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
	}()

	eng := engine.NewProcEngine(settings.EngineCommand, logger)
	ctrl := runner.New(eng, runner.Options{
		BotName:      botName,
		Config:       cfg,
		Settings:     *settings,
		HistoryDir:   historyDir,
		MemoryPath:   memoryPath,
		WorkDir:      handle.Dir,
		Branch:       handle.Branch,
		ResumeID:     cfg.ResumeSessionID,
		InitialInput: runFlags.prompt,
		Input:        input,
		Skills:       loader,
		Prompter:     &runner.InputPrompter{In: input, Out: os.Stderr},
	}, logger)

	res, runErr := ctrl.Run(ctx)

	fmt.Println()
	switch res.Final {
	case runner.StateAborted:
		fmt.Println(warnStyle.Render(fmt.Sprintf("Session %s aborted after %d iteration(s)", res.SessionID, res.Iterations)))
		if res.SessionID != "" {
			fmt.Printf("Resume with: openbot run %s --resume %s\n", botName, res.SessionID)
		}
	default:
		fmt.Println(okStyle.Render(fmt.Sprintf("Session %s finished after %d iteration(s)", res.SessionID, res.Iterations)))
	}
	if res.Action != "" {
		fmt.Printf("Completion action requested: %s\n", res.Action)
	}
	if handle.Isolated() {
		fmt.Printf("Changes are on branch %s (base %s)\n", handle.Branch, handle.BaseBranch)
	}

	return runErr
}
