package validation

import (
	"context"
	"math"
	"testing"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
)

// stubSearcher returns canned hits and remembers the query.
type stubSearcher struct {
	hits  []cass.Hit
	query string
}

func (s *stubSearcher) SafeSearch(_ context.Context, query string, _ cass.SearchOptions) []cass.Hit {
	s.query = query
	return s.hits
}

func TestEvidenceCountGateNoKeywords(t *testing.T) {
	tool := &stubSearcher{}
	got := EvidenceCountGate(context.Background(), "do it and the", config.Default(), tool)

	if !got.Passed || got.SuggestedState != "draft" {
		t.Errorf("result = %+v, want passing draft", got)
	}
	if got.Reason != "No meaningful keywords" {
		t.Errorf("reason = %q", got.Reason)
	}
	if tool.query != "" {
		t.Errorf("gate searched %q despite no keywords", tool.query)
	}
}

func TestEvidenceCountGateStrongFailureSignal(t *testing.T) {
	tool := &stubSearcher{hits: []cass.Hit{
		{SourcePath: "s1", Snippet: "failed to compile"},
		{SourcePath: "s2", Snippet: "crashed with error"},
		{SourcePath: "s3", Snippet: "doesn't work"},
	}}
	got := EvidenceCountGate(context.Background(), "Always use var for everything", config.Default(), tool)

	if got.Passed {
		t.Error("Passed = true, want failure")
	}
	if got.SessionCount != 3 || got.FailureCount != 3 {
		t.Errorf("counts = %+v, want 3 sessions / 3 failures", got)
	}
	if got.Reason != "Strong failure signal" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestEvidenceCountGateAutoAccept(t *testing.T) {
	tool := &stubSearcher{hits: []cass.Hit{
		{SourcePath: "s1", Snippet: "finally fixed it"},
		{SourcePath: "s2", Snippet: "solved by pinning the version"},
		{SourcePath: "s3", Snippet: "works now"},
		{SourcePath: "s4", Snippet: "resolved after the retry"},
		{SourcePath: "s5", Snippet: "working as expected"},
	}}
	got := EvidenceCountGate(context.Background(), "pin dependency versions in ci", config.Default(), tool)

	if !got.Passed || got.SuggestedState != "active" {
		t.Errorf("result = %+v, want active accept", got)
	}
	if got.SuccessCount != 5 {
		t.Errorf("successCount = %d, want 5", got.SuccessCount)
	}
	if got.Reason != "Auto-accepting" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestEvidenceCountGateCountsSessionsNotHits(t *testing.T) {
	// Six hits but only two sessions, one success and one failure.
	tool := &stubSearcher{hits: []cass.Hit{
		{SourcePath: "s1", Snippet: "attempt one"},
		{SourcePath: "s1", Snippet: "attempt two"},
		{SourcePath: "s1", Snippet: "fixed at last"},
		{SourcePath: "s2", Snippet: "looked promising"},
		{SourcePath: "s2", Snippet: "then it failed"},
		{SourcePath: "s2", Snippet: "gave up"},
	}}
	got := EvidenceCountGate(context.Background(), "retry flaky network calls", config.Default(), tool)

	if got.SessionCount != 2 {
		t.Errorf("sessionCount = %d, want 2", got.SessionCount)
	}
	if got.SuccessCount != 1 || got.FailureCount != 1 {
		t.Errorf("success/failure = %d/%d, want 1/1", got.SuccessCount, got.FailureCount)
	}
	if !got.Passed || got.SuggestedState != "draft" {
		t.Errorf("result = %+v, want ambiguous draft", got)
	}
}

func TestEvidenceCountGateFixedWidthExclusion(t *testing.T) {
	tool := &stubSearcher{hits: []cass.Hit{
		{SourcePath: "s1", Snippet: "use a fixed-width font in tables"},
	}}
	got := EvidenceCountGate(context.Background(), "format output tables consistently", config.Default(), tool)

	if got.SuccessCount != 0 {
		t.Errorf("successCount = %d, fixed-width must not count as fixed", got.SuccessCount)
	}
}

func TestEvidenceCountGateEmptyHistory(t *testing.T) {
	tool := &stubSearcher{}
	got := EvidenceCountGate(context.Background(), "prefer table driven tests", config.Default(), tool)

	if !got.Passed || got.SuggestedState != "draft" || got.SessionCount != 0 {
		t.Errorf("result = %+v, want draft pass with zero sessions", got)
	}
	if tool.query == "" {
		t.Error("gate never searched")
	}
}

func TestNormalizeVerdict(t *testing.T) {
	tests := []struct {
		name           string
		in             Verdict
		wantValid      bool
		wantVerdict    string
		wantConfidence float64
	}{
		{"accept", Verdict{Verdict: "ACCEPT", Confidence: 0.9}, true, "ACCEPT", 0.9},
		{"refine discounts", Verdict{Verdict: "REFINE", Confidence: 0.9}, true, "ACCEPT_WITH_CAUTION", 0.72},
		{"reject preserves confidence", Verdict{Verdict: "REJECT", Confidence: 0.7}, false, "REJECT", 0.7},
		{"lowercase accepted", Verdict{Verdict: "accept", Confidence: 0.5}, true, "ACCEPT", 0.5},
		{"unknown is reject", Verdict{Verdict: "MAYBE", Confidence: 0.6}, false, "REJECT", 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeVerdict(tt.in)
			if got.Valid != tt.wantValid || got.Verdict != tt.wantVerdict {
				t.Errorf("got %+v", got)
			}
			if math.Abs(got.Confidence-tt.wantConfidence) > 1e-9 {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConfidence)
			}
		})
	}
}
