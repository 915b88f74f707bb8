package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/cost"
	"github.com/Dicklesworthstone/cass-memory-system/internal/oracle"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check memory system health",
	Long: `Run health checks on the memory installation.

Required checks cover the memory home, configuration, and playbook.
Optional components (history tool, oracle, budget) are reported as
warnings but do not cause failure.

Examples:
  cm doctor
  cm doctor --json`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks  []doctorCheck `json:"checks"`
	Result  string        `json:"result"` // "HEALTHY", "DEGRADED", "UNHEALTHY"
	Summary string        `json:"summary"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfgCheck := doctorCheck{Name: "Config", Status: "pass", Detail: "loaded and valid", Required: true}
	cfg, err := loadConfig()
	if err != nil {
		cfgCheck.Status = "fail"
		cfgCheck.Detail = err.Error()
		cfg = config.Default()
	}

	output := computeResult(gatherDoctorChecks(cmd.Context(), cfg, cfgCheck))

	if activeJSON {
		if err := emitData(cmd, output); err != nil {
			return err
		}
		if hasRequiredFailure(output.Checks) {
			os.Exit(1)
		}
		return nil
	}

	renderDoctorTable(os.Stdout, output)
	if hasRequiredFailure(output.Checks) {
		return fmt.Errorf("doctor failed: one or more required checks did not pass")
	}
	return nil
}

// gatherDoctorChecks runs all doctor checks and returns the results.
func gatherDoctorChecks(ctx context.Context, cfg *config.Config, cfgCheck doctorCheck) []doctorCheck {
	return []doctorCheck{
		{Name: "cm CLI", Status: "pass", Detail: fmt.Sprintf("v%s", version), Required: true},
		cfgCheck,
		checkMemoryHome(cfg),
		checkLockDir(cfg),
		checkPlaybook(cfg, openStore(cfg)),
		checkDiaries(cfg),
		checkHistoryTool(ctx, cfg),
		checkOracle(cfg),
		checkBudget(cfg),
	}
}

// checkMemoryHome verifies the memory home and its subdirectories exist.
func checkMemoryHome(cfg *config.Config) doctorCheck {
	home := cfg.ResolveHome()
	if _, err := os.Stat(home); os.IsNotExist(err) {
		return doctorCheck{Name: "Memory home", Status: "fail", Detail: home + " missing — run 'cm init'", Required: true}
	}

	var missing []string
	for _, dir := range []string{cfg.DiaryDirPath(), cfg.ReflectionsDirPath()} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			missing = append(missing, filepath.Base(dir))
		}
	}
	if len(missing) > 0 {
		return doctorCheck{
			Name:     "Memory home",
			Status:   "warn",
			Detail:   fmt.Sprintf("missing %s — run 'cm init'", strings.Join(missing, ", ")),
			Required: true,
		}
	}

	return doctorCheck{Name: "Memory home", Status: "pass", Detail: home, Required: true}
}

// checkLockDir verifies the memory home accepts writes. Every mutation
// creates lock sidecars and temp files next to the playbook.
func checkLockDir(cfg *config.Config) doctorCheck {
	f, err := os.CreateTemp(cfg.ResolveHome(), ".doctor-probe-*")
	if err != nil {
		return doctorCheck{
			Name:     "Lock dir",
			Status:   "fail",
			Detail:   fmt.Sprintf("home not writable: %v", err),
			Required: true,
		}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return doctorCheck{Name: "Lock dir", Status: "pass", Detail: "home accepts writes", Required: true}
}

// checkPlaybook parses the global playbook and counts its rules.
func checkPlaybook(cfg *config.Config, store *storage.Store) doctorCheck {
	pb, err := store.LoadPlaybook(cfg.GlobalPlaybookPath())
	if err != nil {
		return doctorCheck{Name: "Playbook", Status: "fail", Detail: err.Error(), Required: true}
	}

	active := 0
	for i := range pb.Bullets {
		if pb.Bullets[i].State == types.StateActive {
			active++
		}
	}
	return doctorCheck{
		Name:     "Playbook",
		Status:   "pass",
		Detail:   fmt.Sprintf("%d rule(s), %d active", len(pb.Bullets), active),
		Required: true,
	}
}

// checkDiaries reports how many diaries exist and how fresh the newest one is.
func checkDiaries(cfg *config.Config) doctorCheck {
	noDiaries := doctorCheck{
		Name:     "Diaries",
		Status:   "warn",
		Detail:   "No diaries yet — run 'cm reflect' to process recent sessions",
		Required: false,
	}

	entries, err := os.ReadDir(cfg.DiaryDirPath())
	if err != nil || len(entries) == 0 {
		return noDiaries
	}

	count := 0
	for _, e := range entries {
		if !e.IsDir() {
			count++
		}
	}
	newest := newestFileModTime(entries)
	if count == 0 || newest.IsZero() {
		return noDiaries
	}

	age := time.Since(newest)
	detail := fmt.Sprintf("%d diaries, newest %s ago", count, formatDuration(age))
	if age > 14*24*time.Hour {
		return doctorCheck{
			Name:     "Diaries",
			Status:   "warn",
			Detail:   detail + " — memory may be stale",
			Required: false,
		}
	}
	return doctorCheck{Name: "Diaries", Status: "pass", Detail: detail, Required: false}
}

// checkHistoryTool probes for the cass binary. Its absence degrades context
// assembly to playbook-only, so this is never a failure.
func checkHistoryTool(ctx context.Context, cfg *config.Config) doctorCheck {
	ad, err := cass.New(cfg, cass.WithLogger(diag))
	if err != nil {
		return doctorCheck{Name: "History tool", Status: "warn", Detail: err.Error(), Required: false}
	}
	if !ad.Available(ctx) {
		return doctorCheck{
			Name:     "History tool",
			Status:   "warn",
			Detail:   cass.HandleUnavailable().Message,
			Required: false,
		}
	}
	return doctorCheck{Name: "History tool", Status: "pass", Detail: "cass binary available", Required: false}
}

// checkOracle verifies the reflection oracle is configured.
func checkOracle(cfg *config.Config) doctorCheck {
	if cfg.OracleDisabled() {
		return doctorCheck{
			Name:     "Oracle",
			Status:   "warn",
			Detail:   "disabled — 'cm reflect' needs an LLM provider",
			Required: false,
		}
	}
	if _, err := oracle.New(cfg); err != nil {
		return doctorCheck{Name: "Oracle", Status: "warn", Detail: err.Error(), Required: false}
	}
	return doctorCheck{
		Name:     "Oracle",
		Status:   "pass",
		Detail:   fmt.Sprintf("%s (%s)", cfg.Provider, cfg.Model),
		Required: false,
	}
}

// checkBudget compares today's oracle spend against the advisory daily cap.
func checkBudget(cfg *config.Config) doctorCheck {
	spent, err := cost.NewLedger(cfg.UsageLogPath()).SpentToday(time.Now())
	if err != nil {
		return doctorCheck{
			Name:     "Budget",
			Status:   "warn",
			Detail:   fmt.Sprintf("cannot read usage ledger: %v", err),
			Required: false,
		}
	}

	limit := cfg.Budget.MaxUSDPerDay
	if limit <= 0 {
		return doctorCheck{
			Name:     "Budget",
			Status:   "pass",
			Detail:   fmt.Sprintf("$%.2f spent today (no daily cap)", spent),
			Required: false,
		}
	}

	detail := fmt.Sprintf("$%.2f of $%.2f spent today", spent, limit)
	if spent >= limit {
		return doctorCheck{
			Name:     "Budget",
			Status:   "warn",
			Detail:   detail + " — daily budget exhausted",
			Required: false,
		}
	}
	return doctorCheck{Name: "Budget", Status: "pass", Detail: detail, Required: false}
}

// doctorStatusIcon returns the display icon for a check status.
func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

// renderDoctorTable writes the formatted doctor output table.
func renderDoctorTable(w io.Writer, output doctorOutput) {
	fmt.Fprintln(w, "cm doctor")
	fmt.Fprintln(w, "─────────")

	maxName := 0
	for _, c := range output.Checks {
		if len(c.Name) > maxName {
			maxName = len(c.Name)
		}
	}

	for _, c := range output.Checks {
		padding := strings.Repeat(" ", maxName-len(c.Name))
		fmt.Fprintf(w, "%s %s%s  %s\n", doctorStatusIcon(c.Status), c.Name, padding, c.Detail)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", output.Summary)
}

// hasRequiredFailure returns true if any required check has failed.
func hasRequiredFailure(checks []doctorCheck) bool {
	for _, c := range checks {
		if c.Required && c.Status == "fail" {
			return true
		}
	}
	return false
}

// newestFileModTime returns the most recent modification time among regular
// files in entries. Returns zero time if no regular files are found.
func newestFileModTime(entries []os.DirEntry) time.Time {
	var newest time.Time
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}

// formatDuration produces a human-readable duration string like "2h", "5d", "3m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// countCheckStatuses tallies pass, fail, and warn counts from checks.
func countCheckStatuses(checks []doctorCheck) (passes, fails, warns int) {
	for _, c := range checks {
		switch c.Status {
		case "pass":
			passes++
		case "fail":
			fails++
		case "warn":
			warns++
		}
	}
	return passes, fails, warns
}

// buildDoctorSummary constructs a human-readable summary from check tallies.
func buildDoctorSummary(passes, fails, warns, total int) string {
	switch {
	case fails == 0 && warns == 0:
		return fmt.Sprintf("%d/%d checks passed", passes, total)
	case fails == 0:
		summary := fmt.Sprintf("%d/%d checks passed, %d warning", passes, total, warns)
		if warns > 1 {
			summary += "s"
		}
		return summary
	default:
		parts := []string{fmt.Sprintf("%d/%d checks passed", passes, total)}
		if warns > 0 {
			w := fmt.Sprintf("%d warning", warns)
			if warns > 1 {
				w += "s"
			}
			parts = append(parts, w)
		}
		parts = append(parts, fmt.Sprintf("%d failed", fails))
		return strings.Join(parts, ", ")
	}
}

func computeResult(checks []doctorCheck) doctorOutput {
	passes, fails, warns := countCheckStatuses(checks)

	result := "HEALTHY"
	switch {
	case fails > 0:
		result = "UNHEALTHY"
	case warns > 0:
		result = "DEGRADED"
	}

	return doctorOutput{
		Checks:  checks,
		Result:  result,
		Summary: buildDoctorSummary(passes, fails, warns, len(checks)),
	}
}
