package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/montanaflynn/openbot/internal/memory"
)

var memoryProject string

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit a bot's memory for this project",
}

var memoryShowCmd = &cobra.Command{
	Use:   "show <bot>",
	Short: "Show memory entries and recent iteration history",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryShow,
}

var memorySetCmd = &cobra.Command{
	Use:   "set <bot> <key> <value>",
	Short: "Set a memory entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runMemorySet,
}

var memoryRemoveCmd = &cobra.Command{
	Use:   "remove <bot> <key>",
	Short: "Remove a memory entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runMemoryRemove,
}

var memoryClearCmd = &cobra.Command{
	Use:   "clear <bot>",
	Short: "Remove all memory entries (history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryClear,
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memoryProject, "project", "", "workspace slug override")
	memoryCmd.AddCommand(memoryShowCmd)
	memoryCmd.AddCommand(memorySetCmd)
	memoryCmd.AddCommand(memoryRemoveCmd)
	memoryCmd.AddCommand(memoryClearCmd)
	rootCmd.AddCommand(memoryCmd)
}

func loadBotMemory(botName string) (*memory.Store, error) {
	_, memoryPath, err := workspacePaths(botName, memoryProject)
	if err != nil {
		return nil, err
	}
	return memory.Load(memoryPath)
}

func runMemoryShow(cmd *cobra.Command, args []string) error {
	mem, err := loadBotMemory(args[0])
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Memory for %s", args[0])))
	if mem.Len() == 0 {
		fmt.Println(dimStyle.Render("no entries"))
	}
	for _, k := range mem.Keys() {
		v, _ := mem.Get(k)
		fmt.Printf("%s: %s\n", headerStyle.Render(k), v)
	}

	recent := mem.Recent(5)
	if len(recent) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Recent iterations"))
		for _, r := range recent {
			fmt.Printf("%s %s\n",
				dimStyle.Render(fmt.Sprintf("#%d %s", r.Iteration, r.Timestamp.Format("2006-01-02 15:04"))),
				r.ResponseExcerpt)
		}
	}
	return nil
}

func runMemorySet(cmd *cobra.Command, args []string) error {
	mem, err := loadBotMemory(args[0])
	if err != nil {
		return err
	}
	mem.Set(args[1], args[2])
	return mem.Save()
}

func runMemoryRemove(cmd *cobra.Command, args []string) error {
	mem, err := loadBotMemory(args[0])
	if err != nil {
		return err
	}
	if !mem.Remove(args[1]) {
		return fmt.Errorf("no memory entry %q", args[1])
	}
	return mem.Save()
}

func runMemoryClear(cmd *cobra.Command, args []string) error {
	mem, err := loadBotMemory(args[0])
	if err != nil {
		return err
	}
	mem.Clear()
	return mem.Save()
}
