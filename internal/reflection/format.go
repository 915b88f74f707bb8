package reflection

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

const (
	// maxHistorySnippets bounds the related-history block in prompts.
	maxHistorySnippets = 5

	// historySnippetChars truncates each history snippet.
	historySnippetChars = 200
)

// FormatPlaybook renders the live playbook compactly for the oracle:
// grouped by category, one line per rule with its id, maturity glyph,
// and current effective score. The oracle needs the ids to propose
// replace, merge, and feedback deltas.
func FormatPlaybook(pb *types.Playbook, params scoring.Params, now time.Time) string {
	byCategory := make(map[string][]*types.PlaybookBullet)
	live := 0
	for i := range pb.Bullets {
		b := &pb.Bullets[i]
		if b.IsRetired() {
			continue
		}
		live++
		cat := b.Category
		if cat == "" {
			cat = "general"
		}
		byCategory[cat] = append(byCategory[cat], b)
	}
	if live == 0 {
		return "PLAYBOOK: empty\n"
	}

	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	var sb strings.Builder
	fmt.Fprintf(&sb, "PLAYBOOK: %d rules in %d categories\n", live, len(cats))
	for _, cat := range cats {
		fmt.Fprintf(&sb, "\n## %s (%d)\n", cat, len(byCategory[cat]))
		for _, b := range byCategory[cat] {
			score := scoring.EffectiveScore(b, params, now)
			fmt.Fprintf(&sb, "- %s [%+.1f] %s: %s\n", scoring.MaturityGlyph(b.Maturity), score, b.ID, b.Content)
		}
	}
	return sb.String()
}

// FormatDiary renders a diary entry as a short overview followed by its
// non-empty sections, each item enumerated.
func FormatDiary(d *types.DiaryEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SESSION: %s\n", d.SessionPath)
	if d.Agent != "" {
		fmt.Fprintf(&sb, "Agent: %s\n", d.Agent)
	}
	if d.Workspace != "" {
		fmt.Fprintf(&sb, "Workspace: %s\n", d.Workspace)
	}
	if d.Status != "" {
		fmt.Fprintf(&sb, "Outcome: %s\n", d.Status)
	}
	if !d.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "When: %s\n", d.Timestamp.Format(time.RFC3339))
	}

	sections := []struct {
		name  string
		items []string
	}{
		{"Accomplishments", d.Accomplishments},
		{"Decisions", d.Decisions},
		{"Challenges", d.Challenges},
		{"Preferences", d.Preferences},
		{"Key learnings", d.KeyLearnings},
	}
	for _, sec := range sections {
		if len(sec.items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s:\n", sec.name)
		for i, item := range sec.items {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
		}
	}
	return sb.String()
}

// FormatHistory renders up to five related history snippets with their
// source paths, each clipped.
func FormatHistory(hits []cass.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	if len(hits) > maxHistorySnippets {
		hits = hits[:maxHistorySnippets]
	}
	var sb strings.Builder
	sb.WriteString("RELATED HISTORY:\n")
	for _, h := range hits {
		fmt.Fprintf(&sb, "- [%s] %s\n", h.SourcePath, clip(h.Snippet, historySnippetChars))
	}
	return sb.String()
}

// clip truncates s to at most n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
