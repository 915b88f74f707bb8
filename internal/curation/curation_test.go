package curation

import (
	"strings"
	"testing"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

var curateNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCurator(t *testing.T, opts ...Option) *Curator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return curateNow })}, opts...)
	return New(scoring.DefaultParams(), opts...)
}

func livePlaybook(bullets ...types.PlaybookBullet) *types.Playbook {
	return &types.Playbook{
		Metadata: types.PlaybookMetadata{
			Version:   "1.0",
			CreatedAt: curateNow.Add(-100 * 24 * time.Hour),
			UpdatedAt: curateNow.Add(-24 * time.Hour),
		},
		Bullets: bullets,
	}
}

func liveBullet(id, content string) types.PlaybookBullet {
	return types.PlaybookBullet{
		ID:        id,
		Content:   content,
		Category:  "testing",
		Scope:     types.ScopeGlobal,
		State:     types.StateActive,
		Maturity:  types.MaturityCandidate,
		CreatedAt: curateNow.Add(-30 * 24 * time.Hour),
		UpdatedAt: curateNow.Add(-30 * 24 * time.Hour),
	}
}

func withFeedback(b types.PlaybookBullet, helpful, harmful int, at time.Time) types.PlaybookBullet {
	for i := 0; i < helpful; i++ {
		b.RecordFeedback(types.FeedbackEvent{Type: types.FeedbackHelpful, Timestamp: at})
	}
	for i := 0; i < harmful; i++ {
		b.RecordFeedback(types.FeedbackEvent{Type: types.FeedbackHarmful, Timestamp: at})
	}
	return b
}

func addDelta(content string) types.PlaybookDelta {
	return types.PlaybookDelta{
		Type:          types.DeltaAdd,
		Bullet:        &types.NewBulletSpec{Content: content},
		SourceSession: "/sessions/s1.jsonl",
	}
}

func TestCurateAddDefaults(t *testing.T) {
	pb := livePlaybook()
	res := testCurator(t).Curate(pb, []types.PlaybookDelta{addDelta("run gofmt before committing")})

	if res.Applied != 1 || res.Skipped != 0 {
		t.Fatalf("applied/skipped = %d/%d", res.Applied, res.Skipped)
	}
	if len(res.Playbook.Bullets) != 1 {
		t.Fatalf("got %d bullets", len(res.Playbook.Bullets))
	}
	b := res.Playbook.Bullets[0]
	if b.ID == "" || !strings.HasPrefix(b.ID, "b-") {
		t.Errorf("id = %q", b.ID)
	}
	if b.Maturity != types.MaturityCandidate || b.State != types.StateDraft {
		t.Errorf("maturity/state = %s/%s", b.Maturity, b.State)
	}
	if b.Category != "general" || b.Kind != types.KindWorkflowRule || b.Scope != types.ScopeGlobal {
		t.Errorf("defaults not applied: %+v", b)
	}
	if len(b.SourceSessions) != 1 || b.SourceSessions[0] != "/sessions/s1.jsonl" {
		t.Errorf("sourceSessions = %v", b.SourceSessions)
	}
	if !b.CreatedAt.Equal(curateNow) {
		t.Errorf("createdAt = %v", b.CreatedAt)
	}

	// The input playbook is never mutated.
	if len(pb.Bullets) != 0 {
		t.Error("input playbook was mutated")
	}
	if err := res.Playbook.Validate(); err != nil {
		t.Errorf("curated playbook invalid: %v", err)
	}
}

func TestCurateAddSeedsGateState(t *testing.T) {
	delta := types.PlaybookDelta{
		Type:   types.DeltaAdd,
		Bullet: &types.NewBulletSpec{Content: "pin ci runner versions", State: types.StateActive},
	}
	res := testCurator(t).Curate(livePlaybook(), []types.PlaybookDelta{delta})
	if res.Playbook.Bullets[0].State != types.StateActive {
		t.Errorf("state = %s, want active from gate suggestion", res.Playbook.Bullets[0].State)
	}
}

func TestCurateAddDuplicateContent(t *testing.T) {
	pb := livePlaybook(liveBullet("b-1", "Run gofmt before committing"))
	res := testCurator(t).Curate(pb, []types.PlaybookDelta{addDelta("run gofmt BEFORE committing")})

	if res.Applied != 0 || res.Skipped != 1 {
		t.Errorf("applied/skipped = %d/%d, want case-folded duplicate skipped", res.Applied, res.Skipped)
	}
	if len(res.Playbook.Bullets) != 1 {
		t.Errorf("bullet count = %d", len(res.Playbook.Bullets))
	}
}

func TestCurateAddToxicSuppressed(t *testing.T) {
	content := "always commit directly to main"
	toxic := map[string]bool{storage.ToxicHash(content): true}

	res := testCurator(t, WithToxicHashes(toxic)).Curate(livePlaybook(), []types.PlaybookDelta{addDelta(content)})
	if res.Applied != 0 || res.Skipped != 1 {
		t.Errorf("applied/skipped = %d/%d, want toxic content skipped", res.Applied, res.Skipped)
	}
}

func TestCurateDuplicateDeltasCountAsSkipped(t *testing.T) {
	res := testCurator(t).Curate(livePlaybook(), []types.PlaybookDelta{
		addDelta("prefer errors.Is over type assertions"),
		addDelta("Prefer errors.Is OVER type assertions"),
	})
	if res.Applied != 1 || res.Skipped != 1 {
		t.Errorf("applied/skipped = %d/%d, want duplicate counted as skipped", res.Applied, res.Skipped)
	}
}

func TestCurateReplace(t *testing.T) {
	proven := liveBullet("b-1", "use mutexes for shared maps")
	proven.Maturity = types.MaturityProven
	pb := livePlaybook(proven, liveBullet("b-2", "prefer sync.Map for hot paths"))

	t.Run("resets maturity and updates content", func(t *testing.T) {
		res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
			Type:       types.DeltaReplace,
			BulletID:   "b-1",
			NewContent: "guard shared maps with sync.RWMutex",
		}})
		if res.Applied != 1 {
			t.Fatalf("applied = %d", res.Applied)
		}
		b := res.Playbook.FindBullet("b-1")
		if b.Content != "guard shared maps with sync.RWMutex" {
			t.Errorf("content = %q", b.Content)
		}
		if b.Maturity != types.MaturityCandidate {
			t.Errorf("maturity = %s, want reset to candidate", b.Maturity)
		}
		if !b.UpdatedAt.Equal(curateNow) {
			t.Errorf("updatedAt = %v", b.UpdatedAt)
		}
	})

	t.Run("skips collision with another active bullet", func(t *testing.T) {
		res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
			Type:       types.DeltaReplace,
			BulletID:   "b-1",
			NewContent: "Prefer sync.Map for hot paths",
		}})
		if res.Skipped != 1 {
			t.Errorf("skipped = %d, want collision skip", res.Skipped)
		}
	})

	t.Run("skips missing and retired targets", func(t *testing.T) {
		retired := liveBullet("b-3", "old rule")
		retired.Deprecated = true
		retired.State = types.StateRetired
		retired.Maturity = types.MaturityDeprecated
		res := testCurator(t).Curate(livePlaybook(retired), []types.PlaybookDelta{
			{Type: types.DeltaReplace, BulletID: "b-9", NewContent: "x"},
			{Type: types.DeltaReplace, BulletID: "b-3", NewContent: "y"},
		})
		if res.Applied != 0 || res.Skipped != 2 {
			t.Errorf("applied/skipped = %d/%d", res.Applied, res.Skipped)
		}
	})
}

func TestCurateMerge(t *testing.T) {
	a := liveBullet("b-1", "run tests before pushing")
	a.SourceSessions = []string{"/s/a.jsonl"}
	a.Tags = []string{"git"}
	b := liveBullet("b-2", "run the linter before pushing")
	b.SourceSessions = []string{"/s/b.jsonl"}
	b.Tags = []string{"git", "lint"}
	pb := livePlaybook(a, b)

	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:          types.DeltaMerge,
		BulletIDs:     []string{"b-1", "b-2"},
		MergedContent: "run tests and the linter before pushing",
	}})

	if res.Applied != 1 {
		t.Fatalf("applied = %d (skipped %d)", res.Applied, res.Skipped)
	}
	if len(res.Playbook.Bullets) != 3 {
		t.Fatalf("bullet count = %d, want members plus successor", len(res.Playbook.Bullets))
	}

	merged := res.Playbook.Bullets[2]
	if merged.Content != "run tests and the linter before pushing" {
		t.Errorf("merged content = %q", merged.Content)
	}
	if merged.State != types.StateActive || merged.Maturity != types.MaturityCandidate {
		t.Errorf("merged state/maturity = %s/%s", merged.State, merged.Maturity)
	}
	wantSessions := []string{"/s/a.jsonl", "/s/b.jsonl"}
	if len(merged.SourceSessions) != 2 || merged.SourceSessions[0] != wantSessions[0] || merged.SourceSessions[1] != wantSessions[1] {
		t.Errorf("provenance = %v, want union %v", merged.SourceSessions, wantSessions)
	}
	if len(merged.Tags) != 2 {
		t.Errorf("tags = %v, want deduplicated union", merged.Tags)
	}

	for _, id := range []string{"b-1", "b-2"} {
		member := res.Playbook.FindBullet(id)
		if !member.Deprecated || member.ReplacedBy != merged.ID {
			t.Errorf("member %s not tombstoned toward successor: %+v", id, member)
		}
	}
	if err := res.Playbook.Validate(); err != nil {
		t.Errorf("merged playbook invalid: %v", err)
	}
}

func TestCurateMergeSkipsOnMissingMember(t *testing.T) {
	pb := livePlaybook(liveBullet("b-1", "rule one"))
	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:          types.DeltaMerge,
		BulletIDs:     []string{"b-1", "b-404"},
		MergedContent: "combined",
	}})

	if res.Applied != 0 || res.Skipped != 1 {
		t.Errorf("applied/skipped = %d/%d", res.Applied, res.Skipped)
	}
	if res.Playbook.FindBullet("b-1").Deprecated {
		t.Error("member tombstoned despite skipped merge")
	}
}

func TestCurateDeprecate(t *testing.T) {
	pb := livePlaybook(liveBullet("b-1", "old advice"), liveBullet("b-2", "new advice"))

	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:       types.DeltaDeprecate,
		BulletID:   "b-1",
		Reason:     "superseded",
		ReplacedBy: "b-2",
	}})
	if res.Applied != 1 {
		t.Fatalf("applied = %d", res.Applied)
	}

	b := res.Playbook.FindBullet("b-1")
	if !b.Deprecated || b.State != types.StateRetired || b.Maturity != types.MaturityDeprecated {
		t.Errorf("tombstone incomplete: %+v", b)
	}
	if b.DeprecationReason != "superseded" || b.ReplacedBy != "b-2" {
		t.Errorf("metadata: reason=%q replacedBy=%q", b.DeprecationReason, b.ReplacedBy)
	}
	if b.DeprecatedAt == nil || !b.DeprecatedAt.Equal(curateNow) {
		t.Errorf("deprecatedAt = %v", b.DeprecatedAt)
	}

	// Deprecating again on a later run is a skip, not an error.
	res2 := testCurator(t).Curate(res.Playbook, []types.PlaybookDelta{{
		Type:     types.DeltaDeprecate,
		BulletID: "b-1",
	}})
	if res2.Applied != 0 || res2.Skipped != 1 {
		t.Errorf("second deprecate applied/skipped = %d/%d", res2.Applied, res2.Skipped)
	}
}

func TestCurateDeprecateDropsDanglingSuccessor(t *testing.T) {
	pb := livePlaybook(liveBullet("b-1", "old advice"))
	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:       types.DeltaDeprecate,
		BulletID:   "b-1",
		ReplacedBy: "b-does-not-exist",
	}})

	b := res.Playbook.FindBullet("b-1")
	if b.ReplacedBy != "" {
		t.Errorf("replacedBy = %q, want dropped dangling reference", b.ReplacedBy)
	}
	if err := res.Playbook.Validate(); err != nil {
		t.Errorf("playbook invalid: %v", err)
	}
}

func TestCurateHelpfulFeedbackPromotes(t *testing.T) {
	b := withFeedback(liveBullet("b-1", "rule"), 9, 0, curateNow)
	pb := livePlaybook(b)

	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:          types.DeltaHelpful,
		BulletID:      "b-1",
		SourceSession: "/s/new.jsonl",
	}})

	got := res.Playbook.FindBullet("b-1")
	if got.HelpfulCount != 10 || len(got.FeedbackEvents) != 10 {
		t.Errorf("counters = %d helpful, %d events", got.HelpfulCount, len(got.FeedbackEvents))
	}
	if got.FeedbackEvents[9].SessionPath != "/s/new.jsonl" {
		t.Errorf("event session = %q", got.FeedbackEvents[9].SessionPath)
	}
	if got.Maturity != types.MaturityProven {
		t.Errorf("maturity = %s, want proven at 10 fresh helpful", got.Maturity)
	}
}

func TestCurateHarmfulFeedbackDemotes(t *testing.T) {
	// Three helpful keep the harmful ratio under the deprecation bar, but
	// one harmful at multiplier 4 still drives the score negative.
	b := withFeedback(liveBullet("b-1", "rule"), 3, 0, curateNow)
	b.Maturity = types.MaturityEstablished
	pb := livePlaybook(b)

	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:     types.DeltaHarmful,
		BulletID: "b-1",
	}})

	got := res.Playbook.FindBullet("b-1")
	if got.HarmfulCount != 1 || got.HelpfulCount != 3 {
		t.Errorf("counters = %d helpful / %d harmful", got.HelpfulCount, got.HarmfulCount)
	}
	if got.IsRetired() {
		t.Fatalf("a single harmful event must not deprecate: %+v", got)
	}
	if got.Maturity != types.MaturityCandidate {
		t.Errorf("maturity = %s, want demoted to candidate on negative score", got.Maturity)
	}
}

func TestCurateInversionOfHarmfulBullet(t *testing.T) {
	harmful := withFeedback(liveBullet("b-1", "cast interface values without checking"), 0, 5, curateNow)
	pb := livePlaybook(harmful)

	res := testCurator(t).Curate(pb, nil)

	if len(res.Inversions) != 1 {
		t.Fatalf("inversions = %d, want 1", len(res.Inversions))
	}
	anti := res.Inversions[0]
	if !strings.HasPrefix(anti.Content, "AVOID: ") {
		t.Errorf("inversion content = %q", anti.Content)
	}
	if !anti.IsNegative || anti.Kind != types.KindAntiPattern {
		t.Errorf("inversion flags = %+v", anti)
	}
	if anti.ConfidenceDecayHalfLifeDays != scoring.DefaultParams().Resolve().DecayHalfLifeDays {
		t.Errorf("halfLife = %v", anti.ConfidenceDecayHalfLifeDays)
	}

	original := res.Playbook.FindBullet("b-1")
	if !original.Deprecated || original.ReplacedBy != anti.ID {
		t.Errorf("original not tombstoned toward inversion: %+v", original)
	}
	if len(res.Playbook.DeprecatedPatterns) != 1 {
		t.Errorf("deprecatedPatterns = %d, want 1", len(res.Playbook.DeprecatedPatterns))
	}
	if err := res.Playbook.Validate(); err != nil {
		t.Errorf("playbook invalid: %v", err)
	}

	// A second run must not invert again.
	res2 := testCurator(t).Curate(res.Playbook, nil)
	if len(res2.Inversions) != 0 {
		t.Errorf("second run produced %d inversions", len(res2.Inversions))
	}
}

func TestCurateInversionExemptsPinned(t *testing.T) {
	pinned := withFeedback(liveBullet("b-1", "risky but protected"), 0, 5, curateNow)
	pinned.Pinned = true
	res := testCurator(t).Curate(livePlaybook(pinned), nil)

	if len(res.Inversions) != 0 {
		t.Errorf("inversions = %d, want pinned exempt", len(res.Inversions))
	}
	if res.Playbook.FindBullet("b-1").Deprecated {
		t.Error("pinned bullet deprecated")
	}
}

func TestCurateHarmfulDeltaTriggersInversion(t *testing.T) {
	// Four harmful on disk; the fifth arrives as a delta and pushes the
	// bullet over the prune threshold within the same run.
	b := withFeedback(liveBullet("b-1", "guess at API shapes"), 0, 4, curateNow)
	pb := livePlaybook(b)

	res := testCurator(t).Curate(pb, []types.PlaybookDelta{{
		Type:     types.DeltaHarmful,
		BulletID: "b-1",
	}})

	if len(res.Inversions) != 1 {
		t.Fatalf("inversions = %d, want 1", len(res.Inversions))
	}
	if got := res.Playbook.FindBullet("b-1"); !got.Deprecated {
		t.Errorf("bullet not deprecated: %+v", got)
	}
}

func TestPrune(t *testing.T) {
	stale := liveBullet("b-stale", "candidate nobody used")
	stale.CreatedAt = curateNow.Add(-90 * 24 * time.Hour)
	stale.UpdatedAt = stale.CreatedAt

	provenOld := withFeedback(liveBullet("b-proven", "battle tested rule"), 12, 0, curateNow.Add(-90*24*time.Hour))
	provenOld.Maturity = types.MaturityProven

	harmful := withFeedback(liveBullet("b-harmful", "harmful habit"), 0, 5, curateNow)

	pinnedStale := liveBullet("b-pinned", "pinned but idle")
	pinnedStale.Pinned = true
	pinnedStale.CreatedAt = curateNow.Add(-90 * 24 * time.Hour)

	pb := livePlaybook(stale, provenOld, harmful, pinnedStale)
	res := testCurator(t).Prune(pb, 60)

	pruned := make(map[string]bool)
	for _, action := range res.Pruned {
		pruned[action.ID] = true
	}
	if !pruned["b-stale"] {
		t.Error("stale candidate not pruned")
	}
	if !pruned["b-harmful"] {
		t.Error("harmful bullet not pruned")
	}
	if pruned["b-proven"] {
		t.Error("proven bullet pruned for mere staleness")
	}
	if pruned["b-pinned"] {
		t.Error("pinned bullet pruned")
	}

	if len(res.Inversions) != 1 || !strings.HasPrefix(res.Inversions[0].Content, "AVOID: ") {
		t.Errorf("inversions = %+v, want one AVOID inversion for the harmful prune", res.Inversions)
	}
	if err := res.Playbook.Validate(); err != nil {
		t.Errorf("pruned playbook invalid: %v", err)
	}

	// The input playbook is untouched.
	if pb.FindBullet("b-stale").Deprecated {
		t.Error("input playbook was mutated")
	}
}
