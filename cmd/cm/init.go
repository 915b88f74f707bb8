package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the global memory directory",
	Long: `Set up ~/.cass-memory/ for first use.

This creates:
  diary/           - Session diary entries
  reflections/     - Per-run reflection reports
  embeddings/      - Reserved for local embedding caches
  cost/            - Oracle usage ledger
  playbook.yaml    - Empty playbook
  config.json      - Default configuration (only when absent)

Safe to run multiple times (idempotent). Existing files are never
overwritten.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := openStore(cfg)

	if err := store.Init(); err != nil {
		return err
	}
	if err := store.EnsurePlaybook(cfg.GlobalPlaybookPath()); err != nil {
		return err
	}

	configPath := filepath.Join(cfg.ResolveHome(), "config.json")
	wroteConfig, err := ensureDefaultConfig(configPath)
	if err != nil {
		return err
	}

	if activeJSON {
		return emitData(cmd, map[string]any{
			"home":          cfg.ResolveHome(),
			"playbook":      cfg.GlobalPlaybookPath(),
			"config":        configPath,
			"configWritten": wroteConfig,
		})
	}

	fmt.Printf("✓ Initialized cass-memory in %s\n", cfg.ResolveHome())
	fmt.Println()
	fmt.Println("Created:")
	fmt.Println("  diary/")
	fmt.Println("  reflections/")
	fmt.Println("  embeddings/")
	fmt.Println("  cost/")
	fmt.Printf("  %s\n", filepath.Base(cfg.GlobalPlaybookPath()))
	if wroteConfig {
		fmt.Println("  config.json")
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  cm doctor              - Check the installation")
	fmt.Println("  cm context \"<task>\"    - Assemble context for a task")
	return nil
}

// ensureDefaultConfig writes the default configuration when no config
// file exists yet. Reports whether it wrote one.
func ensureDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	data, err := json.MarshalIndent(config.Default(), "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode default config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}
