package assembler

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var assembleNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubRunner answers the version probe and hands search calls to handler.
type stubRunner struct {
	handler func(args []string) ([]byte, int, error)
}

func (r stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, int, error) {
	if len(args) > 0 && args[0] == "--version" {
		return []byte("cass 1.0.0"), cass.ExitSuccess, nil
	}
	return r.handler(args)
}

func testAssembler(t *testing.T, handler func(args []string) ([]byte, int, error)) (*Assembler, *storage.Store, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Home = t.TempDir()
	store := storage.New(cfg)
	if err := store.Init(); err != nil {
		t.Fatalf("store init: %v", err)
	}

	adapterOpts := []cass.Option{cass.WithBinaryPath("")}
	if handler != nil {
		adapterOpts = []cass.Option{
			cass.WithBinaryPath("/fake/cass"),
			cass.WithRunner(stubRunner{handler: handler}),
		}
	}
	adapter, err := cass.New(cfg, adapterOpts...)
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	return New(cfg, store, adapter, WithClock(func() time.Time { return assembleNow })), store, cfg
}

func seedBullet(id, content, category string) types.PlaybookBullet {
	return types.PlaybookBullet{
		ID:        id,
		Content:   content,
		Category:  category,
		Scope:     types.ScopeGlobal,
		State:     types.StateActive,
		Maturity:  types.MaturityCandidate,
		CreatedAt: assembleNow.Add(-24 * time.Hour),
		UpdatedAt: assembleNow.Add(-24 * time.Hour),
	}
}

func seedPlaybook(t *testing.T, store *storage.Store, cfg *config.Config, fn func(pb *types.Playbook)) {
	t.Helper()
	if _, err := store.MutatePlaybook(cfg.GlobalPlaybookPath(), "seed", func(pb *types.Playbook) error {
		fn(pb)
		return nil
	}); err != nil {
		t.Fatalf("seed playbook: %v", err)
	}
}

func ids(list []RankedBullet) []string {
	out := make([]string, len(list))
	for i, rb := range list {
		out[i] = rb.ID
	}
	return out
}

func TestAssembleRanksByRelevance(t *testing.T) {
	a, store, cfg := testAssembler(t, nil)
	seedPlaybook(t, store, cfg, func(pb *types.Playbook) {
		matchOnly := seedBullet("b-match", "Run gofmt before committing Go code", "go")

		endorsed := seedBullet("b-endorsed", "Write tests before committing code", "testing")
		for i := 0; i < 2; i++ {
			endorsed.RecordFeedback(types.FeedbackEvent{Type: types.FeedbackHelpful, Timestamp: assembleNow})
		}

		offTopic := seedBullet("b-off", "Pin Docker base image versions", "docker")

		harmful := seedBullet("b-harmful", "Commit generated code directly", "workflow")
		harmful.RecordFeedback(types.FeedbackEvent{Type: types.FeedbackHarmful, Timestamp: assembleNow})

		retired := seedBullet("b-retired", "Run gofmt twice for good measure", "go")
		retired.State = types.StateRetired
		retired.Maturity = types.MaturityDeprecated
		retired.Deprecated = true

		anti := seedBullet("b-anti", "AVOID: Committing code without running gofmt", "go")
		anti.Kind = types.KindAntiPattern
		anti.IsNegative = true

		pb.Bullets = append(pb.Bullets, matchOnly, endorsed, offTopic, harmful, retired, anti)
	})

	out, err := a.Assemble(context.Background(), "run gofmt on the Go code before commit", Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// Two helpful events triple the endorsed rule's score, outranking the
	// stronger keyword match.
	want := []string{"b-endorsed", "b-match"}
	got := ids(out.RelevantBullets)
	if len(got) != len(want) {
		t.Fatalf("relevantBullets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("relevantBullets[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if out.RelevantBullets[0].Score <= out.RelevantBullets[1].Score {
		t.Errorf("scores not descending: %+v", out.RelevantBullets)
	}

	if anti := ids(out.AntiPatterns); len(anti) != 1 || anti[0] != "b-anti" {
		t.Errorf("antiPatterns = %v, want [b-anti]", anti)
	}
	if out.Task != "run gofmt on the Go code before commit" {
		t.Errorf("task = %q", out.Task)
	}
	if len(out.HistorySnippets) != 0 {
		t.Errorf("history without the tool = %v, want empty", out.HistorySnippets)
	}
}

func TestAssembleCategoryBoost(t *testing.T) {
	a, store, cfg := testAssembler(t, nil)
	seedPlaybook(t, store, cfg, func(pb *types.Playbook) {
		pb.Bullets = append(pb.Bullets,
			seedBullet("b-cat", "Enable build caching", "docker"),
			seedBullet("b-plain", "Turn on build caching", "misc"),
		)
	})

	out, err := a.Assemble(context.Background(), "speed up docker build caching", Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	got := ids(out.RelevantBullets)
	if len(got) != 2 || got[0] != "b-cat" {
		t.Errorf("relevantBullets = %v, want b-cat boosted first", got)
	}
}

func TestAssembleCapsBullets(t *testing.T) {
	a, store, cfg := testAssembler(t, nil)
	seedPlaybook(t, store, cfg, func(pb *types.Playbook) {
		pb.Bullets = append(pb.Bullets,
			seedBullet("b-1", "Check migration ordering first", "db"),
			seedBullet("b-2", "Test migration rollback paths", "db"),
			seedBullet("b-3", "Run migration dry-run locally", "db"),
			seedBullet("b-4", "Backup before migration applies", "db"),
		)
	})

	out, err := a.Assemble(context.Background(), "database migration", Options{MaxBullets: 2})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(out.RelevantBullets) != 2 {
		t.Errorf("relevantBullets = %d, want capped at 2", len(out.RelevantBullets))
	}
}

func TestAssembleEmptyTask(t *testing.T) {
	a, _, _ := testAssembler(t, nil)
	if _, err := a.Assemble(context.Background(), "   ", Options{}); err == nil {
		t.Fatal("want error for blank task")
	}
}

func TestAssembleDegradesOnBrokenPlaybook(t *testing.T) {
	a, _, cfg := testAssembler(t, nil)
	if err := os.WriteFile(cfg.GlobalPlaybookPath(), []byte("{{{ not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := a.Assemble(context.Background(), "deploy the service", Options{})
	if err != nil {
		t.Fatalf("Assemble should degrade, got %v", err)
	}
	if len(out.RelevantBullets) != 0 || len(out.AntiPatterns) != 0 {
		t.Errorf("degraded bundle still has bullets: %+v", out)
	}
	if len(out.SuggestedQueries) == 0 {
		t.Error("degraded bundle lost suggested queries")
	}
}

func TestAssembleDeprecatedWarnings(t *testing.T) {
	a, store, cfg := testAssembler(t, nil)
	seedPlaybook(t, store, cfg, func(pb *types.Playbook) {
		pb.DeprecatedPatterns = append(pb.DeprecatedPatterns,
			types.DeprecatedPattern{
				Pattern:      "npm install --force on conflicts",
				Replacement:  "AVOID: npm install --force on conflicts",
				Reason:       "repeatedly harmful",
				DeprecatedAt: assembleNow,
			},
			types.DeprecatedPattern{
				Pattern:      "terraform apply without plan",
				DeprecatedAt: assembleNow,
			},
		)
	})

	out, err := a.Assemble(context.Background(), "npm install keeps failing", Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(out.DeprecatedWarnings) != 1 {
		t.Fatalf("deprecatedWarnings = %+v, want the npm pattern only", out.DeprecatedWarnings)
	}
	w := out.DeprecatedWarnings[0]
	if !strings.Contains(w.Pattern, "npm install") || w.Reason != "repeatedly harmful" {
		t.Errorf("warning = %+v", w)
	}
}

func TestAssembleHistory(t *testing.T) {
	long := strings.Repeat("x", 300)
	handler := func(args []string) ([]byte, int, error) {
		payload := `[
			{"source_path":"/s/a.jsonl","snippet":"short one","agent":"claude-code"},
			{"source_path":"/s/b.jsonl","snippet":"` + long + `"}
		]`
		return []byte(payload), cass.ExitSuccess, nil
	}
	a, _, _ := testAssembler(t, handler)

	t.Run("snippets are collected and clipped", func(t *testing.T) {
		out, err := a.Assemble(context.Background(), "database migration", Options{})
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if len(out.HistorySnippets) != 2 {
			t.Fatalf("historySnippets = %d, want 2", len(out.HistorySnippets))
		}
		if out.HistorySnippets[0].Snippet != "short one" || out.HistorySnippets[0].Agent != "claude-code" {
			t.Errorf("first snippet = %+v", out.HistorySnippets[0])
		}
		clipped := out.HistorySnippets[1].Snippet
		if len([]rune(clipped)) != maxSnippetChars || !strings.HasSuffix(clipped, "...") {
			t.Errorf("snippet not clipped: len %d", len(clipped))
		}
	})

	t.Run("no-history skips the tool", func(t *testing.T) {
		out, err := a.Assemble(context.Background(), "database migration", Options{NoHistory: true})
		if err != nil {
			t.Fatalf("Assemble: %v", err)
		}
		if len(out.HistorySnippets) != 0 {
			t.Errorf("historySnippets = %v, want empty with --no-history", out.HistorySnippets)
		}
	})
}

func TestSuggestQueries(t *testing.T) {
	a, _, _ := testAssembler(t, nil)
	out, err := a.Assemble(context.Background(), "flaky integration tests in ci", Options{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(out.SuggestedQueries) != maxSuggestedQueries {
		t.Fatalf("suggestedQueries = %v", out.SuggestedQueries)
	}
	if out.SuggestedQueries[0] != "flaky integration tests" {
		t.Errorf("broad query = %q", out.SuggestedQueries[0])
	}
	if out.SuggestedQueries[1] != "flaky error" || out.SuggestedQueries[2] != "flaky fixed" {
		t.Errorf("variant queries = %v", out.SuggestedQueries[1:])
	}
}
