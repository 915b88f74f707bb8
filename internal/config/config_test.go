package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// setupHome points HOME at a temp dir and returns the global state root.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CASS_PATH", "")
	t.Setenv("CASS_MEMORY_VERBOSE", "")
	t.Setenv("CASS_MEMORY_LLM", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	return filepath.Join(home, RootDirName)
}

// writeGlobal writes the global config.json with the given content.
func writeGlobal(t *testing.T, root, content string) {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "config.json"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// setupRepo creates a fake repository with a .cass overlay dir and returns
// its root.
func setupRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(repo, OverlayDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	return repo
}

func writeOverlay(t *testing.T, repo, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repo, OverlayDirName, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setupHome(t)

	cfg, err := Load(&Flags{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", cfg.Provider)
	}
	if cfg.MaxBulletsInContext != 10 || cfg.MaxHistoryInContext != 10 {
		t.Errorf("context caps = %d/%d, want 10/10", cfg.MaxBulletsInContext, cfg.MaxHistoryInContext)
	}
	if cfg.DecayHalfLifeDays != 90 || cfg.HarmfulMultiplier != 4 {
		t.Errorf("scoring defaults wrong: halfLife=%v multiplier=%v", cfg.DecayHalfLifeDays, cfg.HarmfulMultiplier)
	}
	if cfg.MaxReflectorIterations != 3 {
		t.Errorf("MaxReflectorIterations = %d, want 3", cfg.MaxReflectorIterations)
	}
	if !cfg.Sanitization.Enabled {
		t.Error("sanitization should default to enabled")
	}
	if cfg.RepoRoot != "" {
		t.Errorf("RepoRoot = %q outside any repo", cfg.RepoRoot)
	}
	if cfg.OracleDisabled() {
		t.Error("oracle should be enabled by default")
	}
}

func TestLoadGlobalFile(t *testing.T) {
	root := setupHome(t)
	writeGlobal(t, root, `{
		"model": "claude-opus-4-1",
		"maxBulletsInContext": 5,
		"sanitization": {"enabled": false, "auditLevel": "none"}
	}`)

	cfg, err := Load(&Flags{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Model != "claude-opus-4-1" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxBulletsInContext != 5 {
		t.Errorf("MaxBulletsInContext = %d, want 5", cfg.MaxBulletsInContext)
	}
	if cfg.Sanitization.Enabled {
		t.Error("explicit sanitization.enabled=false was not honored")
	}
	if cfg.MaxHistoryInContext != 10 {
		t.Errorf("untouched key lost its default: %d", cfg.MaxHistoryInContext)
	}
}

func TestLoadRepoOverlayWins(t *testing.T) {
	root := setupHome(t)
	writeGlobal(t, root, `{"model": "global-model", "harmfulMultiplier": 4}`)

	repo := setupRepo(t)
	writeOverlay(t, repo, "config.yaml", "model: repo-model\nharmfulMultiplier: 6\n")

	cfg, err := Load(&Flags{Cwd: repo})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Model != "repo-model" {
		t.Errorf("Model = %q, want repo-model", cfg.Model)
	}
	if cfg.HarmfulMultiplier != 6 {
		t.Errorf("HarmfulMultiplier = %v, want 6", cfg.HarmfulMultiplier)
	}
	if cfg.RepoRoot != repo {
		t.Errorf("RepoRoot = %q, want %q", cfg.RepoRoot, repo)
	}
}

func TestLoadRepoOverlayJSONBeatsYAML(t *testing.T) {
	setupHome(t)
	repo := setupRepo(t)
	writeOverlay(t, repo, "config.yaml", "model: from-yaml\n")
	writeOverlay(t, repo, "config.json", `{"model": "from-json"}`)

	cfg, err := Load(&Flags{Cwd: repo})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "from-json" {
		t.Errorf("Model = %q, want from-json", cfg.Model)
	}
}

func TestLoadRepoOverlayDropsSecurityKeys(t *testing.T) {
	root := setupHome(t)
	writeGlobal(t, root, `{"cassPath": "/usr/local/bin/cass"}`)

	repo := setupRepo(t)
	writeOverlay(t, repo, "config.json", `{
		"model": "kept",
		"cassPath": "/tmp/evil",
		"home": "/tmp/evil-home",
		"playbookPath": "/tmp/evil-playbook.yaml",
		"diaryDir": "/tmp/evil-diary",
		"cwd": "/tmp/elsewhere"
	}`)

	cfg, err := Load(&Flags{Cwd: repo})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Model != "kept" {
		t.Errorf("benign key lost: Model = %q", cfg.Model)
	}
	if cfg.CassPath != "/usr/local/bin/cass" {
		t.Errorf("repo overrode cassPath: %q", cfg.CassPath)
	}
	if cfg.Home != "" || cfg.PlaybookPath != "" || cfg.DiaryDir != "" {
		t.Errorf("security paths leaked: home=%q playbook=%q diary=%q",
			cfg.Home, cfg.PlaybookPath, cfg.DiaryDir)
	}
	if cfg.Cwd != repo {
		t.Errorf("Cwd = %q, want %q", cfg.Cwd, repo)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setupHome(t)
	t.Setenv("CASS_PATH", "/opt/cass")
	t.Setenv("CASS_MEMORY_VERBOSE", "1")
	t.Setenv("CASS_MEMORY_LLM", "none")

	cfg, err := Load(&Flags{Cwd: t.TempDir()})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.CassPath != "/opt/cass" {
		t.Errorf("CassPath = %q", cfg.CassPath)
	}
	if !cfg.Verbose {
		t.Error("CASS_MEMORY_VERBOSE not applied")
	}
	if !cfg.OracleDisabled() {
		t.Error("CASS_MEMORY_LLM=none should disable the oracle")
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	setupHome(t)

	cfg, err := Load(&Flags{Cwd: t.TempDir(), JSON: true, Verbose: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.JSONOutput || !cfg.Verbose {
		t.Errorf("flags not applied: json=%v verbose=%v", cfg.JSONOutput, cfg.Verbose)
	}
}

func TestLoadRejectsMalformedGlobal(t *testing.T) {
	root := setupHome(t)
	writeGlobal(t, root, `{not json`)

	_, err := Load(&Flags{Cwd: t.TempDir()})
	if !errors.Is(err, types.ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	root := setupHome(t)
	writeGlobal(t, root, `{"decayHalfLifeDays": -1}`)

	_, err := Load(&Flags{Cwd: t.TempDir()})
	if !errors.Is(err, types.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestValidateAuditLevel(t *testing.T) {
	cfg := Default()
	cfg.Sanitization.AuditLevel = "everything"
	if err := cfg.Validate(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
}

func TestScoringParamsSubsectionOverrides(t *testing.T) {
	cfg := Default()
	cfg.DecayHalfLifeDays = 90
	cfg.Scoring.DecayHalfLifeDays = 7
	cfg.Scoring.MinHelpfulForProven = 20
	cfg.Scoring.MaxHarmfulRatioForProven = 0.05

	p := cfg.ScoringParams()
	if p.DecayHalfLifeDays != 7 {
		t.Errorf("DecayHalfLifeDays = %v, want 7", p.DecayHalfLifeDays)
	}
	if p.MaturityProvenThreshold != 20 {
		t.Errorf("MaturityProvenThreshold = %v, want 20", p.MaturityProvenThreshold)
	}
	if p.MaxHarmfulRatioForProven != 0.05 {
		t.Errorf("MaxHarmfulRatioForProven = %v, want 0.05", p.MaxHarmfulRatioForProven)
	}
	if p.HarmfulMultiplier != 4 {
		t.Errorf("HarmfulMultiplier = %v, want inherited 4", p.HarmfulMultiplier)
	}
}

func TestFindRepoRoot(t *testing.T) {
	repo := setupRepo(t)
	nested := filepath.Join(repo, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok := FindRepoRoot(nested)
	if !ok || got != repo {
		t.Errorf("FindRepoRoot(%q) = (%q, %v), want (%q, true)", nested, got, ok, repo)
	}

	if _, ok := FindRepoRoot(t.TempDir()); ok {
		t.Error("found a repo root in a bare temp dir")
	}
}

func TestPathAccessors(t *testing.T) {
	cfg := Default()
	cfg.Home = "/state"
	cfg.RepoRoot = "/work/repo"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"playbook", cfg.GlobalPlaybookPath(), "/state/playbook.yaml"},
		{"diary", cfg.DiaryDirPath(), "/state/diary"},
		{"processed", cfg.ProcessedLogPath(), "/state/reflections/processed.log"},
		{"outcomes", cfg.OutcomesPath(), "/state/outcomes.jsonl"},
		{"traumas", cfg.TraumasPath(), "/state/traumas.jsonl"},
		{"toxic", cfg.ToxicLogPath(), "/state/toxic_bullets.log"},
		{"usage", cfg.UsageLogPath(), "/state/cost/usage.jsonl"},
		{"repo playbook", cfg.RepoPlaybookPath(), "/work/repo/.cass/playbook.yaml"},
		{"repo traumas", cfg.RepoTraumasPath(), "/work/repo/.cass/traumas.jsonl"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	cfg.PlaybookPath = "/explicit/pb.yaml"
	if cfg.GlobalPlaybookPath() != "/explicit/pb.yaml" {
		t.Errorf("explicit playbookPath ignored: %q", cfg.GlobalPlaybookPath())
	}
}
