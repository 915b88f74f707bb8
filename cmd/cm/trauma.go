package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/trauma"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var (
	traumaAddSeverity string
	traumaAddScope    string
	traumaAddMessage  string
	traumaAddSession  string
)

var traumaCmd = &cobra.Command{
	Use:   "trauma",
	Short: "Manage the banned-command list",
	Long: `Maintain the trauma list: regular expressions for commands that once
caused serious damage and must not run again.

Subcommands:
  add     Ban a command pattern
  list    Show all entries, healed included
  heal    Lift a ban (the entry is kept for audit)`,
}

var traumaAddCmd = &cobra.Command{
	Use:   "add <pattern>",
	Short: "Ban a command pattern",
	Long: `Record a new trauma entry. The pattern is a regular expression
matched case-insensitively against full command strings by cm guard.

Examples:
  cm trauma add "rm -rf /" --severity FATAL --message "wiped a prod volume"
  cm trauma add "git push --force origin main" --scope workspace`,
	Args: cobra.ExactArgs(1),
	RunE: runTraumaAdd,
}

var traumaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trauma entries from both tiers",
	RunE:  runTraumaList,
}

var traumaHealCmd = &cobra.Command{
	Use:   "heal <trauma-id>",
	Short: "Lift a ban",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraumaHeal,
}

func init() {
	rootCmd.AddCommand(traumaCmd)
	traumaCmd.AddCommand(traumaAddCmd)
	traumaCmd.AddCommand(traumaListCmd)
	traumaCmd.AddCommand(traumaHealCmd)

	traumaAddCmd.Flags().StringVar(&traumaAddSeverity, "severity", "", "CRITICAL (default) or FATAL")
	traumaAddCmd.Flags().StringVar(&traumaAddScope, "scope", "global", "Which tier records the ban: global or workspace")
	traumaAddCmd.Flags().StringVar(&traumaAddMessage, "message", "", "What happened, in your own words")
	traumaAddCmd.Flags().StringVar(&traumaAddSession, "session", "", "Session where the damage happened")
}

func runTraumaAdd(cmd *cobra.Command, args []string) error {
	severity := types.TraumaSeverity(strings.ToUpper(traumaAddSeverity))
	if severity != "" && severity != types.SeverityCritical && severity != types.SeverityFatal {
		return fmt.Errorf("severity must be CRITICAL or FATAL, got %q: %w", traumaAddSeverity, types.ErrValidation)
	}

	scope := types.Scope(traumaAddScope)
	if scope != types.ScopeGlobal && scope != types.ScopeWorkspace {
		return fmt.Errorf("scope must be global or workspace, got %q: %w", traumaAddScope, types.ErrValidation)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)
	if err := store.Init(); err != nil {
		return err
	}

	path := cfg.TraumasPath()
	if scope == types.ScopeWorkspace {
		path = cfg.RepoTraumasPath()
		if path == "" {
			return fmt.Errorf("workspace scope needs a repository; run inside one or use --scope global: %w", types.ErrValidation)
		}
	}

	guard := trauma.New(store, trauma.WithLogger(diag))
	entry, err := guard.Record(path, trauma.Spec{
		Pattern:      args[0],
		Severity:     severity,
		Scope:        scope,
		SessionPath:  traumaAddSession,
		HumanMessage: traumaAddMessage,
	}, time.Now().UTC())
	if err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, entry)
	}
	fmt.Printf("✓ Banned pattern %q (%s, %s)\n", entry.Pattern, entry.Severity, entry.ID)
	return nil
}

func runTraumaList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	guard := trauma.New(store, trauma.WithLogger(diag))
	entries := guard.List()

	if activeJSON {
		return emitDataMeta(cmd, entries, map[string]any{"total": len(entries)})
	}

	if len(entries) == 0 {
		fmt.Println("No trauma entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %-26s %-8s %-7s %s\n", e.ID, e.Severity, e.Status, e.Pattern)
		if msg := e.TriggerEvent.HumanMessage; msg != "" {
			fmt.Printf("  %-26s %s\n", "", msg)
		}
	}
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

func runTraumaHeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	guard := trauma.New(store, trauma.WithLogger(diag))
	found, err := guard.Heal(args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no active trauma entry with id %s: %w", args[0], types.ErrValidation)
	}

	if activeJSON {
		return emitData(cmd, map[string]any{"id": args[0], "status": string(types.TraumaHealed)})
	}
	fmt.Printf("✓ Healed %s\n", args[0])
	return nil
}
