package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/montanaflynn/openbot/internal/session"
)

var sessionsProject string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect a bot's recorded sessions for this project",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list <bot>",
	Short: "List recorded sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <bot> <session-id>",
	Short: "Show one session's metadata and event log",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsShow,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsProject, "project", "", "workspace slug override")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	historyDir, _, err := workspacePaths(args[0], sessionsProject)
	if err != nil {
		return err
	}

	sessions, err := session.List(historyDir, logger)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println(dimStyle.Render("no recorded sessions"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Sessions for %s", args[0])))
	for _, m := range sessions {
		line := fmt.Sprintf("#%-3d %s  %s  %s",
			m.SessionNumber,
			m.SessionID,
			m.StartedAt.Local().Format("2006-01-02 15:04"),
			(time.Duration(m.DurationSecs) * time.Second).String())
		if m.Action != "" {
			line += "  " + okStyle.Render(m.Action)
		}
		fmt.Println(line)
		if m.ResponseSummary != "" {
			fmt.Println(dimStyle.Render("     " + m.ResponseSummary))
		}
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	historyDir, _, err := workspacePaths(args[0], sessionsProject)
	if err != nil {
		return err
	}

	meta, err := session.LoadMetadata(historyDir, args[1])
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Session #%d %s", meta.SessionNumber, meta.SessionID)))
	fmt.Printf("started:  %s\n", meta.StartedAt.Local().Format(time.RFC1123))
	fmt.Printf("duration: %s\n", (time.Duration(meta.DurationSecs) * time.Second).String())
	if meta.Model != "" {
		fmt.Printf("model:    %s\n", meta.Model)
	}
	if meta.Action != "" {
		fmt.Printf("action:   %s\n", meta.Action)
	}
	if meta.Tokens != nil {
		fmt.Printf("tokens:   %d in / %d out\n", meta.Tokens.InputTokens, meta.Tokens.OutputTokens)
	}

	events, err := session.ReadEvents(historyDir, args[1])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Println()
	fmt.Println(headerStyle.Render("Events"))
	for _, ev := range events {
		switch ev := ev.(type) {
		case session.Message:
			fmt.Printf("%s %s\n", dimStyle.Render("message "), ev.Content)
		case session.Command:
			status := okStyle.Render("ok")
			if ev.ExitCode != 0 {
				status = errorStyle.Render(fmt.Sprintf("exit %d", ev.ExitCode))
			}
			fmt.Printf("%s %s (%s)\n", dimStyle.Render("command "), ev.Command, status)
		case session.Approval:
			style := okStyle
			if ev.Decision != "approve" {
				style = errorStyle
			}
			fmt.Printf("%s %s %s\n", dimStyle.Render("approval"), style.Render(ev.Decision), ev.Command)
		case session.TokenCount:
			fmt.Printf("%s %d in / %d out\n", dimStyle.Render("tokens  "), ev.InputTokens, ev.OutputTokens)
		case session.Unknown:
			fmt.Printf("%s %s\n", dimStyle.Render("other   "), ev.Type)
		}
	}
	return nil
}
