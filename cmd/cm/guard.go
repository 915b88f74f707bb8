package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/trauma"
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Check commands against the trauma list",
}

var guardCheckCmd = &cobra.Command{
	Use:   "check <command-string>",
	Short: "Decide whether a command may run",
	Long: `Match one command string against the active trauma patterns from the
global list and the repo overlay.

Built for pre-execution hooks: exit 0 allows the command, exit 2 denies
it. An unreadable trauma list fails open.

Examples:
  cm guard check "rm -rf /tmp/build"
  cm guard check "git push --force origin main" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runGuardCheck,
}

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardCheckCmd)
}

func runGuardCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	guard := trauma.New(store, trauma.WithLogger(diag))
	decision := guard.Check(args[0])

	if activeJSON {
		if err := emitData(cmd, decision); err != nil {
			return err
		}
	} else if decision.Denied() {
		fmt.Printf("BLOCKED: %s\n", decision.Reason)
		fmt.Printf("  Pattern: %s (%s)\n", decision.Pattern, decision.EntryID)
		fmt.Printf("  To lift the ban: cm trauma heal %s\n", decision.EntryID)
	} else {
		fmt.Println("allowed")
	}

	if decision.Denied() {
		os.Exit(2)
	}
	return nil
}
