// Package assembler builds the pre-task context bundle: playbook rules
// ranked against the task description, anti-patterns to avoid, related
// history snippets, and warnings for patterns the playbook has retired.
// Everything degrades; a broken playbook or missing history tool yields a
// thinner bundle, never an error the caller must handle.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/keywords"
	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

const (
	// categoryBoost is the extra match strength for a category hit. Small
	// on purpose: a category match alone should not outrank content hits.
	categoryBoost = 0.5

	// maxSnippetChars bounds one history snippet in the bundle.
	maxSnippetChars = 200

	// maxSuggestedQueries caps the follow-up searches offered to the agent.
	maxSuggestedQueries = 3
)

// Options scope one assembly call.
type Options struct {
	// Workspace narrows history search to one workspace path.
	Workspace string

	// Days bounds history search recency. Zero means unbounded.
	Days int

	// MaxBullets caps each ranked list. Zero means the configured default.
	MaxBullets int

	// MaxHistory caps history snippets. Zero means the configured default.
	MaxHistory int

	// NoHistory skips the history tool entirely.
	NoHistory bool
}

// RankedBullet is one rule scored against the task.
type RankedBullet struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Category string            `json:"category,omitempty"`
	Maturity types.Maturity    `json:"maturity,omitempty"`
	State    types.BulletState `json:"state,omitempty"`

	// Score is the task relevance: match strength scaled by the rule's
	// effective score.
	Score float64 `json:"score"`

	HelpfulCount int `json:"helpfulCount"`
	HarmfulCount int `json:"harmfulCount"`
}

// HistorySnippet is one related excerpt from recorded sessions.
type HistorySnippet struct {
	SourcePath string `json:"sourcePath"`
	Snippet    string `json:"snippet"`
	Agent      string `json:"agent,omitempty"`
}

// DeprecatedWarning flags a retired approach the task keywords touch.
type DeprecatedWarning struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Context is the assembled bundle handed to the invoking agent.
type Context struct {
	Task               string              `json:"task"`
	RelevantBullets    []RankedBullet      `json:"relevantBullets"`
	AntiPatterns       []RankedBullet      `json:"antiPatterns"`
	HistorySnippets    []HistorySnippet    `json:"historySnippets"`
	DeprecatedWarnings []DeprecatedWarning `json:"deprecatedWarnings"`
	SuggestedQueries   []string            `json:"suggestedQueries"`
}

// Assembler ranks playbook rules and history against task descriptions.
type Assembler struct {
	cfg     *config.Config
	store   *storage.Store
	adapter *cass.Adapter
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger routes degradation diagnostics to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Assembler) {
		a.log = log
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		a.now = now
	}
}

// New builds an Assembler.
func New(cfg *config.Config, store *storage.Store, adapter *cass.Adapter, opts ...Option) *Assembler {
	a := &Assembler{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the context bundle for one task. An unreadable playbook
// degrades to empty rule lists; the bundle itself is always returned.
func (a *Assembler) Assemble(ctx context.Context, task string, opts Options) (*Context, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("task must not be empty: %w", types.ErrValidation)
	}

	out := &Context{
		Task:               task,
		RelevantBullets:    []RankedBullet{},
		AntiPatterns:       []RankedBullet{},
		HistorySnippets:    []HistorySnippet{},
		DeprecatedWarnings: []DeprecatedWarning{},
		SuggestedQueries:   []string{},
	}

	pb, err := a.store.LoadMergedPlaybook()
	if err != nil {
		a.log.Warn().Err(err).Msg("playbook unreadable, assembling context without rules")
		pb = &types.Playbook{}
	}

	kws := keywords.Extract(task)
	a.rankBullets(out, pb, kws, opts)
	a.collectWarnings(out, pb, kws)
	out.SuggestedQueries = suggestQueries(kws)

	if !opts.NoHistory {
		a.collectHistory(ctx, out, kws, opts)
	}
	return out, nil
}

// rankBullets scores live bullets against the task keywords and fills the
// two ranked lists. Anti-patterns rank separately so a strongly negative
// rule cannot crowd out positive guidance.
func (a *Assembler) rankBullets(out *Context, pb *types.Playbook, kws []string, opts Options) {
	params := a.cfg.ScoringParams()
	now := a.now().UTC()

	maxBullets := opts.MaxBullets
	if maxBullets <= 0 {
		maxBullets = a.cfg.MaxBulletsInContext
	}

	var rules, antis []RankedBullet
	for i := range pb.Bullets {
		b := &pb.Bullets[i]
		if b.IsRetired() {
			continue
		}

		match := matchStrength(b, kws)
		if match <= 0 {
			continue
		}
		score := match * (1 + scoring.EffectiveScore(b, params, now))
		if score <= 0 {
			// Net-harmful rules do not belong in fresh context.
			continue
		}

		rb := RankedBullet{
			ID:           b.ID,
			Content:      b.Content,
			Category:     b.Category,
			Maturity:     b.Maturity,
			State:        b.State,
			Score:        score,
			HelpfulCount: b.HelpfulCount,
			HarmfulCount: b.HarmfulCount,
		}
		if b.IsNegative || b.Kind == types.KindAntiPattern {
			antis = append(antis, rb)
		} else {
			rules = append(rules, rb)
		}
	}

	out.RelevantBullets = topRanked(rules, maxBullets)
	out.AntiPatterns = topRanked(antis, maxBullets)
}

// matchStrength counts task keywords found in the rule's content and tags,
// plus a small boost when the category itself matches.
func matchStrength(b *types.PlaybookBullet, kws []string) float64 {
	text := b.Content
	if len(b.Tags) > 0 {
		text += "\n" + strings.Join(b.Tags, "\n")
	}
	match := float64(keywords.Overlap(kws, text))
	if b.Category != "" && keywords.OverlapAny(kws, b.Category) {
		match += categoryBoost
	}
	return match
}

// topRanked sorts by score descending and keeps the first limit entries.
// Ties keep playbook order so repeated assemblies are stable.
func topRanked(list []RankedBullet, limit int) []RankedBullet {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Score > list[j].Score })
	if len(list) > limit {
		list = list[:limit]
	}
	if list == nil {
		list = []RankedBullet{}
	}
	return list
}

// collectWarnings surfaces deprecated patterns whose text the task touches.
func (a *Assembler) collectWarnings(out *Context, pb *types.Playbook, kws []string) {
	for _, p := range pb.DeprecatedPatterns {
		if !keywords.OverlapAny(kws, p.Pattern) {
			continue
		}
		out.DeprecatedWarnings = append(out.DeprecatedWarnings, DeprecatedWarning{
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Reason:      p.Reason,
		})
	}
}

// collectHistory pulls related snippets from the history tool. Best effort;
// an absent tool leaves the list empty.
func (a *Assembler) collectHistory(ctx context.Context, out *Context, kws []string, opts Options) {
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = a.cfg.MaxHistoryInContext
	}
	if maxHistory <= 0 || len(kws) == 0 {
		return
	}

	hits := a.adapter.SafeSearch(ctx, strings.Join(kws, " "), cass.SearchOptions{
		Limit:     maxHistory,
		Days:      opts.Days,
		Workspace: opts.Workspace,
	})
	for _, h := range hits {
		out.HistorySnippets = append(out.HistorySnippets, HistorySnippet{
			SourcePath: h.SourcePath,
			Snippet:    truncateSnippet(h.Snippet, maxSnippetChars),
			Agent:      h.Agent,
		})
	}
}

// suggestQueries offers follow-up history searches: the task keywords as
// one broad query, then failure- and fix-angled variants of the strongest
// keyword.
func suggestQueries(kws []string) []string {
	if len(kws) == 0 {
		return []string{}
	}
	queries := []string{strings.Join(kws, " ")}
	queries = append(queries, kws[0]+" error", kws[0]+" fixed")
	if len(queries) > maxSuggestedQueries {
		queries = queries[:maxSuggestedQueries]
	}
	return queries
}

// truncateSnippet clips s to max runes, marking the cut with an ellipsis.
func truncateSnippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
