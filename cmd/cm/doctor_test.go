package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/cost"
	"github.com/Dicklesworthstone/cass-memory-system/internal/oracle"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
)

// doctorConfig returns a default config rooted in a fresh temp home.
func doctorConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	return cfg
}

func TestComputeResult(t *testing.T) {
	tests := []struct {
		name       string
		checks     []doctorCheck
		wantResult string
	}{
		{
			name: "all pass",
			checks: []doctorCheck{
				{Name: "a", Status: "pass", Required: true},
				{Name: "b", Status: "pass"},
			},
			wantResult: "HEALTHY",
		},
		{
			name: "warnings degrade",
			checks: []doctorCheck{
				{Name: "a", Status: "pass", Required: true},
				{Name: "b", Status: "warn"},
			},
			wantResult: "DEGRADED",
		},
		{
			name: "any failure is unhealthy",
			checks: []doctorCheck{
				{Name: "a", Status: "fail", Required: true},
				{Name: "b", Status: "warn"},
			},
			wantResult: "UNHEALTHY",
		},
		{
			name:       "empty checks",
			checks:     nil,
			wantResult: "HEALTHY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := computeResult(tt.checks)
			if output.Result != tt.wantResult {
				t.Errorf("result = %q, want %q", output.Result, tt.wantResult)
			}
		})
	}
}

func TestBuildDoctorSummary(t *testing.T) {
	tests := []struct {
		name                        string
		passes, fails, warns, total int
		want                        string
	}{
		{"clean", 8, 0, 0, 8, "8/8 checks passed"},
		{"one warning", 7, 0, 1, 8, "7/8 checks passed, 1 warning"},
		{"plural warnings", 6, 0, 2, 8, "6/8 checks passed, 2 warnings"},
		{"failures only", 6, 2, 0, 8, "6/8 checks passed, 2 failed"},
		{"failures and warnings", 5, 2, 1, 8, "5/8 checks passed, 1 warning, 2 failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildDoctorSummary(tt.passes, tt.fails, tt.warns, tt.total)
			if got != tt.want {
				t.Errorf("buildDoctorSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasRequiredFailure(t *testing.T) {
	if hasRequiredFailure([]doctorCheck{{Status: "fail", Required: false}}) {
		t.Error("optional failure should not count")
	}
	if hasRequiredFailure([]doctorCheck{{Status: "warn", Required: true}}) {
		t.Error("required warning should not count")
	}
	if !hasRequiredFailure([]doctorCheck{{Status: "fail", Required: true}}) {
		t.Error("required failure should count")
	}
}

func TestRenderDoctorTable(t *testing.T) {
	var buf bytes.Buffer
	renderDoctorTable(&buf, doctorOutput{
		Checks: []doctorCheck{
			{Name: "Playbook", Status: "pass", Detail: "3 rule(s), 2 active"},
			{Name: "Oracle", Status: "warn", Detail: "disabled"},
		},
		Summary: "1/2 checks passed, 1 warning",
	})

	out := buf.String()
	for _, want := range []string{"cm doctor", "\u2713 Playbook", "! Oracle", "1/2 checks passed, 1 warning"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckMemoryHome(t *testing.T) {
	t.Run("initialized home passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		if err := storage.New(cfg).Init(); err != nil {
			t.Fatal(err)
		}
		res := checkMemoryHome(cfg)
		if res.Status != "pass" {
			t.Errorf("status = %q, want pass (detail: %s)", res.Status, res.Detail)
		}
	})

	t.Run("missing home fails", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.Home = filepath.Join(cfg.Home, "never-created")
		res := checkMemoryHome(cfg)
		if res.Status != "fail" || !strings.Contains(res.Detail, "cm init") {
			t.Errorf("status = %q detail = %q, want fail pointing at cm init", res.Status, res.Detail)
		}
	})

	t.Run("missing subdirectories warn", func(t *testing.T) {
		cfg := doctorConfig(t)
		res := checkMemoryHome(cfg)
		if res.Status != "warn" {
			t.Errorf("status = %q, want warn (detail: %s)", res.Status, res.Detail)
		}
	})
}

func TestCheckLockDir(t *testing.T) {
	t.Run("writable home passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		res := checkLockDir(cfg)
		if res.Status != "pass" {
			t.Errorf("status = %q, want pass (detail: %s)", res.Status, res.Detail)
		}
	})

	t.Run("missing home fails", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.Home = filepath.Join(cfg.Home, "never-created")
		res := checkLockDir(cfg)
		if res.Status != "fail" {
			t.Errorf("status = %q, want fail (detail: %s)", res.Status, res.Detail)
		}
	})
}

func TestCheckPlaybook(t *testing.T) {
	t.Run("fresh store passes with zero rules", func(t *testing.T) {
		cfg := doctorConfig(t)
		store := storage.New(cfg)
		if err := store.Init(); err != nil {
			t.Fatal(err)
		}
		res := checkPlaybook(cfg, store)
		if res.Status != "pass" || !strings.Contains(res.Detail, "0 rule(s)") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("corrupt playbook fails", func(t *testing.T) {
		cfg := doctorConfig(t)
		store := storage.New(cfg)
		if err := store.Init(); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(cfg.GlobalPlaybookPath(), []byte("bullets: [unclosed"), 0o600); err != nil {
			t.Fatal(err)
		}
		res := checkPlaybook(cfg, store)
		if res.Status != "fail" {
			t.Errorf("status = %q, want fail (detail: %s)", res.Status, res.Detail)
		}
	})
}

func TestCheckDiaries(t *testing.T) {
	t.Run("no diaries warns", func(t *testing.T) {
		cfg := doctorConfig(t)
		if err := os.MkdirAll(cfg.DiaryDirPath(), 0o700); err != nil {
			t.Fatal(err)
		}
		res := checkDiaries(cfg)
		if res.Status != "warn" || !strings.Contains(res.Detail, "No diaries") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("fresh diary passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		if err := os.MkdirAll(cfg.DiaryDirPath(), 0o700); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(cfg.DiaryDirPath(), "d-1.json")
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
		res := checkDiaries(cfg)
		if res.Status != "pass" || !strings.Contains(res.Detail, "1 diaries") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("old diary warns", func(t *testing.T) {
		cfg := doctorConfig(t)
		if err := os.MkdirAll(cfg.DiaryDirPath(), 0o700); err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(cfg.DiaryDirPath(), "d-old.json")
		if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-30 * 24 * time.Hour)
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
		res := checkDiaries(cfg)
		if res.Status != "warn" || !strings.Contains(res.Detail, "stale") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})
}

func TestCheckHistoryTool(t *testing.T) {
	t.Run("missing binary degrades to playbook-only", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.CassPath = filepath.Join(t.TempDir(), "cass-not-here")
		res := checkHistoryTool(context.Background(), cfg)
		if res.Status != "warn" || !strings.Contains(res.Detail, "playbook-only") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("working binary passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		fake := filepath.Join(t.TempDir(), "cass")
		if err := os.WriteFile(fake, []byte("#!/bin/sh\necho cass 1.0.0\n"), 0o755); err != nil {
			t.Fatal(err)
		}
		cfg.CassPath = fake
		res := checkHistoryTool(context.Background(), cfg)
		if res.Status != "pass" {
			t.Errorf("status = %q, want pass (detail: %s)", res.Status, res.Detail)
		}
	})
}

func TestCheckOracle(t *testing.T) {
	t.Run("disabled warns", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.LLMMode = "none"
		res := checkOracle(cfg)
		if res.Status != "warn" || !strings.Contains(res.Detail, "disabled") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("missing api key warns", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.APIKey = ""
		res := checkOracle(cfg)
		if res.Status != "warn" {
			t.Errorf("status = %q, want warn (detail: %s)", res.Status, res.Detail)
		}
	})

	t.Run("configured provider passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.APIKey = "sk-test"
		res := checkOracle(cfg)
		if res.Status != "pass" || !strings.Contains(res.Detail, cfg.Provider) {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})
}

func TestCheckBudget(t *testing.T) {
	t.Run("zero spend under cap passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.Budget.MaxUSDPerDay = 5
		res := checkBudget(cfg)
		if res.Status != "pass" || !strings.Contains(res.Detail, "$0.00 of $5.00") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("no cap passes", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.Budget.MaxUSDPerDay = 0
		res := checkBudget(cfg)
		if res.Status != "pass" || !strings.Contains(res.Detail, "no daily cap") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})

	t.Run("spend over cap warns", func(t *testing.T) {
		cfg := doctorConfig(t)
		cfg.Budget.MaxUSDPerDay = 1
		ledger := cost.NewLedger(cfg.UsageLogPath())
		usage := oracle.Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
		if _, err := ledger.Add("reflect", "claude-opus-4", usage, time.Now()); err != nil {
			t.Fatal(err)
		}
		res := checkBudget(cfg)
		if res.Status != "warn" || !strings.Contains(res.Detail, "exhausted") {
			t.Errorf("status = %q detail = %q", res.Status, res.Detail)
		}
	})
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name  string
		input time.Duration
		want  string
	}{
		{"seconds", 30 * time.Second, "30s"},
		{"minutes", 5 * time.Minute, "5m"},
		{"hours", 3 * time.Hour, "3h"},
		{"days", 48 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatDuration(tt.input)
			if got != tt.want {
				t.Errorf("formatDuration() = %q, want %q", got, tt.want)
			}
		})
	}
}
