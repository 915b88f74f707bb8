// Package validation gates candidate rules before curation: an evidence
// scan over recorded history, and normalization of oracle verdicts.
package validation

import (
	"context"
	"strings"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/keywords"
)

// defaultEvidenceLimit caps how many history hits one gate query pulls.
const defaultEvidenceLimit = 20

// defaultAutoAcceptSessions is the unique-session success count that
// promotes a candidate straight to active when config does not override.
const defaultAutoAcceptSessions = 5

// successMarkers and failureMarkers classify a session's snippets.
// "fixed-width" is stripped before matching so it cannot fire "fixed".
var (
	successMarkers = []string{"fixed", "solved", "resolved", "works", "working"}
	failureMarkers = []string{"failed", "crashed", "doesn't work", "error"}
)

// Searcher is the slice of the history adapter the gate needs.
type Searcher interface {
	SafeSearch(ctx context.Context, query string, opts cass.SearchOptions) []cass.Hit
}

// GateResult is the outcome of the evidence gate.
type GateResult struct {
	// Passed is false only on a strong failure signal.
	Passed bool `json:"passed"`

	// SuggestedState is "active" or "draft" for passing candidates.
	SuggestedState string `json:"suggestedState,omitempty"`

	// SessionCount is the number of unique sessions inspected.
	SessionCount int `json:"sessionCount"`

	// SuccessCount and FailureCount are per-session, not per-hit.
	SuccessCount int `json:"successCount"`
	FailureCount int `json:"failureCount"`

	// Reason explains the decision.
	Reason string `json:"reason"`
}

// EvidenceCountGate checks a candidate rule against history. Sessions are
// counted once regardless of how many hits they produced, and one session
// can register both a success and a failure.
func EvidenceCountGate(ctx context.Context, candidate string, cfg *config.Config, tool Searcher) GateResult {
	words := keywords.Extract(candidate)
	if len(words) == 0 {
		return GateResult{
			Passed:         true,
			SuggestedState: "draft",
			Reason:         "No meaningful keywords",
		}
	}

	hits := tool.SafeSearch(ctx, strings.Join(words, " "), cass.SearchOptions{
		Limit: defaultEvidenceLimit,
	})

	// Fold hits into per-session snippet bundles keyed by source path.
	sessions := make(map[string][]string)
	for _, hit := range hits {
		key := hit.SourcePath
		if key == "" {
			continue
		}
		sessions[key] = append(sessions[key], hit.Snippet)
	}

	result := GateResult{SessionCount: len(sessions)}
	for _, snippets := range sessions {
		combined := strings.ToLower(strings.Join(snippets, "\n"))
		if hasSuccessMarker(combined) {
			result.SuccessCount++
		}
		if hasFailureMarker(combined) {
			result.FailureCount++
		}
	}

	autoAccept := cfg.Scoring.MinFeedbackForActive
	if autoAccept <= 0 {
		autoAccept = defaultAutoAcceptSessions
	}

	switch {
	case result.FailureCount >= 2:
		result.Passed = false
		result.Reason = "Strong failure signal"
	case result.SuccessCount >= autoAccept:
		result.Passed = true
		result.SuggestedState = "active"
		result.Reason = "Auto-accepting"
	default:
		result.Passed = true
		result.SuggestedState = "draft"
		result.Reason = "ambiguous"
	}
	return result
}

func hasSuccessMarker(text string) bool {
	cleaned := strings.ReplaceAll(text, "fixed-width", "")
	for _, marker := range successMarkers {
		if strings.Contains(cleaned, marker) {
			return true
		}
	}
	return false
}

func hasFailureMarker(text string) bool {
	for _, marker := range failureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Verdict is the raw oracle judgment on one candidate.
type Verdict struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// NormalizedVerdict is a Verdict after policy mapping.
type NormalizedVerdict struct {
	// Valid is whether the candidate survives.
	Valid bool `json:"valid"`

	// Verdict is the mapped verdict string.
	Verdict string `json:"verdict"`

	// Confidence is the possibly-discounted confidence.
	Confidence float64 `json:"confidence"`

	// Reasoning passes through from the oracle.
	Reasoning string `json:"reasoning,omitempty"`
}

// NormalizeVerdict maps an oracle verdict onto the accept policy. REFINE
// means "accept with caution" at a 0.8 confidence discount. Anything
// unrecognized is treated as a rejection.
func NormalizeVerdict(v Verdict) NormalizedVerdict {
	switch strings.ToUpper(strings.TrimSpace(v.Verdict)) {
	case "ACCEPT":
		return NormalizedVerdict{Valid: true, Verdict: "ACCEPT", Confidence: v.Confidence, Reasoning: v.Reasoning}
	case "REFINE":
		return NormalizedVerdict{Valid: true, Verdict: "ACCEPT_WITH_CAUTION", Confidence: v.Confidence * 0.8, Reasoning: v.Reasoning}
	case "REJECT":
		return NormalizedVerdict{Valid: false, Verdict: "REJECT", Confidence: v.Confidence, Reasoning: v.Reasoning}
	default:
		return NormalizedVerdict{Valid: false, Verdict: "REJECT", Confidence: v.Confidence, Reasoning: v.Reasoning}
	}
}
