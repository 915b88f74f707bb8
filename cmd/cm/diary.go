package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var diaryCmd = &cobra.Command{
	Use:   "diary",
	Short: "Browse session diaries",
	Long: `Read the structured summaries reflection writes for each session.

Subcommands:
  list    All diary entries, newest first
  show    One entry in full`,
}

var diaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List diary entries, newest first",
	RunE:  runDiaryList,
}

var diaryShowCmd = &cobra.Command{
	Use:   "show <diary-id>",
	Short: "Show one diary entry in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiaryShow,
}

func init() {
	rootCmd.AddCommand(diaryCmd)
	diaryCmd.AddCommand(diaryListCmd)
	diaryCmd.AddCommand(diaryShowCmd)
}

func runDiaryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	entries, err := store.ListDiaries()
	if err != nil {
		return err
	}

	if activeJSON {
		return emitDataMeta(cmd, entries, map[string]any{"total": len(entries)})
	}

	if len(entries) == 0 {
		fmt.Println("No diary entries yet. Run cm reflect to create some.")
		return nil
	}
	for _, e := range entries {
		status := string(e.Status)
		if status == "" {
			status = "-"
		}
		fmt.Printf("  %-26s %s  %-8s %s\n",
			e.ID, e.Timestamp.Format("2006-01-02 15:04"), status, e.SessionPath)
	}
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

func runDiaryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	if _, statErr := os.Stat(filepath.Join(cfg.DiaryDirPath(), args[0]+".json")); os.IsNotExist(statErr) {
		return fmt.Errorf("no diary with id %s: %w", args[0], types.ErrValidation)
	}
	entry, err := store.LoadDiary(args[0])
	if err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, entry)
	}

	fmt.Printf("%s (%s)\n", entry.ID, entry.Timestamp.Format(time.RFC3339))
	fmt.Printf("  Session:   %s\n", entry.SessionPath)
	if entry.Agent != "" {
		fmt.Printf("  Agent:     %s\n", entry.Agent)
	}
	if entry.Workspace != "" {
		fmt.Printf("  Workspace: %s\n", entry.Workspace)
	}
	if entry.Status != "" {
		fmt.Printf("  Status:    %s\n", entry.Status)
	}
	printDiarySection("Accomplishments", entry.Accomplishments)
	printDiarySection("Decisions", entry.Decisions)
	printDiarySection("Challenges", entry.Challenges)
	printDiarySection("Preferences", entry.Preferences)
	printDiarySection("Key learnings", entry.KeyLearnings)
	printDiarySection("Tags", entry.Tags)
	return nil
}

func printDiarySection(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n  %s:\n", title)
	for _, item := range items {
		fmt.Printf("    - %s\n", item)
	}
}
