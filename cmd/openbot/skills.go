package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/montanaflynn/openbot/internal/config"
	"github.com/montanaflynn/openbot/internal/skills"
)

var skillsCmd = &cobra.Command{
	Use:   "skills <bot>",
	Short: "List the skills available to a bot",
	Long: `List skills loaded for a bot: its own skills directory first, then the
shared ~/.openbot/skills directory. A bot-local skill shadows a global one
with the same name.`,
	Args: cobra.ExactArgs(1),
	RunE: runSkills,
}

func init() {
	rootCmd.AddCommand(skillsCmd)
}

func runSkills(cmd *cobra.Command, args []string) error {
	_, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	globalDir, err := config.GlobalSkillsDir()
	if err != nil {
		return err
	}
	botDir, err := config.BotSkillsDir(args[0])
	if err != nil {
		return err
	}

	loaded := skills.NewLoader([]string{botDir, globalDir}, logger).Load()
	if len(loaded) == 0 {
		fmt.Println(dimStyle.Render("no skills found"))
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Skills for %s", args[0])))
	for _, s := range loaded {
		fmt.Println(headerStyle.Render(s.Name))
		if s.Description != "" {
			fmt.Printf("  %s\n", s.Description)
		}
		fmt.Println(dimStyle.Render("  " + s.Path))
	}
	return nil
}
