// Package curation applies validated deltas to a playbook copy and runs
// the inversion and pruning passes. Nothing here touches disk; callers
// persist the returned playbook under the storage mutation discipline.
package curation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// inversionRatio is the harmful share at which a heavily harmful bullet is
// flipped into an anti-pattern rather than quietly retired.
const inversionRatio = 0.5

// Result reports one curation run.
type Result struct {
	// Playbook is the curated copy; the input is never mutated.
	Playbook *types.Playbook

	// Applied and Skipped count delta outcomes. Skips are never fatal.
	Applied int
	Skipped int

	// Inversions are the anti-pattern bullets generated this run.
	Inversions []types.PlaybookBullet
}

// Curator holds the knobs shared by curation runs.
type Curator struct {
	params scoring.Params
	toxic  map[string]bool
	log    zerolog.Logger
	now    func() time.Time
}

// Option configures a Curator.
type Option func(*Curator)

// WithToxicHashes suppresses add deltas whose content hash is on the
// toxic list.
func WithToxicHashes(hashes map[string]bool) Option {
	return func(c *Curator) {
		c.toxic = hashes
	}
}

// WithLogger routes skip diagnostics to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Curator) {
		c.log = log
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Curator) {
		c.now = now
	}
}

// New builds a Curator with resolved scoring parameters.
func New(params scoring.Params, opts ...Option) *Curator {
	c := &Curator{
		params: params.Resolve(),
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Curate deduplicates and applies deltas to a copy of the playbook, then
// runs the inversion pass. Invalid deltas are counted as skipped.
func (c *Curator) Curate(pb *types.Playbook, deltas []types.PlaybookDelta) Result {
	work := pb.Clone()
	now := c.now().UTC()
	retiredAtStart := retiredSet(pb)

	res := Result{Playbook: work}

	before := len(deltas)
	deltas = types.DedupDeltas(deltas, nil)
	res.Skipped += before - len(deltas)
	for _, d := range deltas {
		if reason := c.apply(work, d, now); reason == "" {
			res.Applied++
		} else {
			res.Skipped++
			c.log.Debug().Str("type", string(d.Type)).Str("reason", reason).Msg("delta skipped")
		}
	}

	res.Inversions = c.invert(work, retiredAtStart, now)
	return res
}

// apply mutates work with one delta. It returns "" on success or a skip
// reason.
func (c *Curator) apply(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	switch d.Type {
	case types.DeltaAdd:
		return c.applyAdd(work, d, now)
	case types.DeltaReplace:
		return applyReplace(work, d, now)
	case types.DeltaMerge:
		return applyMerge(work, d, now)
	case types.DeltaDeprecate:
		return applyDeprecate(work, d, now)
	case types.DeltaHelpful, types.DeltaHarmful:
		return c.applyFeedback(work, d, now)
	default:
		return fmt.Sprintf("unknown delta type %q", d.Type)
	}
}

func (c *Curator) applyAdd(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	if d.Bullet == nil {
		return "add without bullet payload"
	}
	content := strings.TrimSpace(d.Bullet.Content)
	if content == "" {
		return "add with empty content"
	}
	if c.toxic[storage.ToxicHash(content)] {
		return "content is on the toxic list"
	}

	scope := d.Bullet.Scope
	if scope == "" {
		scope = types.ScopeGlobal
	}
	if work.HasActiveContent(content, scope) {
		return "duplicate active content in scope"
	}

	b := types.PlaybookBullet{
		ID:         types.NewBulletID(now),
		Content:    content,
		Category:   d.Bullet.Category,
		Kind:       d.Bullet.Kind,
		IsNegative: d.Bullet.IsNegative,
		Scope:      scope,
		State:      d.Bullet.State,
		Maturity:   types.MaturityCandidate,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       append([]string(nil), d.Bullet.Tags...),
	}
	if b.Category == "" {
		b.Category = "general"
	}
	if b.Kind == "" {
		b.Kind = types.KindWorkflowRule
	}
	if b.State == "" {
		b.State = types.StateDraft
	}
	if d.SourceSession != "" {
		b.SourceSessions = []string{d.SourceSession}
	}
	work.Bullets = append(work.Bullets, b)
	return ""
}

func applyReplace(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	if d.BulletID == "" {
		return "replace without bullet id"
	}
	content := strings.TrimSpace(d.NewContent)
	if content == "" {
		return "replace with empty content"
	}
	b := work.FindBullet(d.BulletID)
	if b == nil {
		return "replace target not found"
	}
	if b.IsRetired() {
		return "replace target is retired"
	}
	if activeContentElsewhere(work, content, b.Scope, map[string]bool{b.ID: true}) {
		return "replacement duplicates another active bullet"
	}

	b.Content = content
	b.UpdatedAt = now
	// New content means the old evidence no longer applies.
	b.Maturity = types.MaturityCandidate
	if d.SourceSession != "" {
		b.SourceSessions = appendUnique(b.SourceSessions, d.SourceSession)
	}
	return ""
}

func applyMerge(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	content := strings.TrimSpace(d.MergedContent)
	if content == "" {
		return "merge without merged content"
	}

	ids := uniqueStrings(d.BulletIDs)
	if len(ids) < 2 {
		return "merge needs at least two distinct ids"
	}
	members := make([]*types.PlaybookBullet, 0, len(ids))
	memberIDs := make(map[string]bool, len(ids))
	for _, id := range ids {
		b := work.FindBullet(id)
		if b == nil {
			return fmt.Sprintf("merge member %s not found", id)
		}
		if b.IsRetired() {
			return fmt.Sprintf("merge member %s is retired", id)
		}
		members = append(members, b)
		memberIDs[b.ID] = true
	}

	first := members[0]
	if activeContentElsewhere(work, content, first.Scope, memberIDs) {
		return "merged content duplicates another active bullet"
	}

	merged := types.PlaybookBullet{
		ID:        types.NewBulletID(now),
		Content:   content,
		Category:  d.Category,
		Kind:      first.Kind,
		Scope:     first.Scope,
		Workspace: first.Workspace,
		State:     types.StateActive,
		Maturity:  types.MaturityCandidate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if merged.Category == "" {
		merged.Category = first.Category
	}
	for _, m := range members {
		merged.SourceSessions = appendUniqueAll(merged.SourceSessions, m.SourceSessions)
		merged.SourceAgents = appendUniqueAll(merged.SourceAgents, m.SourceAgents)
		merged.Tags = appendUniqueAll(merged.Tags, m.Tags)
	}
	if d.SourceSession != "" {
		merged.SourceSessions = appendUnique(merged.SourceSessions, d.SourceSession)
	}

	work.Bullets = append(work.Bullets, merged)
	reason := d.Reason
	if reason == "" {
		reason = "merged into successor"
	}
	// Re-find members: the append above may have moved the backing array.
	for _, id := range ids {
		tombstone(work.FindBullet(id), reason, merged.ID, now)
	}
	return ""
}

func applyDeprecate(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	if d.BulletID == "" {
		return "deprecate without bullet id"
	}
	b := work.FindBullet(d.BulletID)
	if b == nil {
		return "deprecate target not found"
	}
	if b.IsRetired() {
		return "deprecate target already retired"
	}

	reason := d.Reason
	if reason == "" {
		reason = "deprecated by curation"
	}
	// A dangling or retired successor reference would break the playbook's
	// replacedBy invariant; drop it rather than fail the delta.
	replacedBy := d.ReplacedBy
	if replacedBy != "" {
		target := work.FindBullet(replacedBy)
		if target == nil || target.IsRetired() || replacedBy == b.ID {
			replacedBy = ""
		}
	}
	tombstone(b, reason, replacedBy, now)
	return ""
}

func (c *Curator) applyFeedback(work *types.Playbook, d types.PlaybookDelta, now time.Time) string {
	if d.BulletID == "" {
		return "feedback without bullet id"
	}
	b := work.FindBullet(d.BulletID)
	if b == nil {
		return "feedback target not found"
	}

	ft := types.FeedbackHelpful
	if d.Type == types.DeltaHarmful {
		ft = types.FeedbackHarmful
	}
	b.RecordFeedback(types.FeedbackEvent{Type: ft, Timestamp: now, SessionPath: d.SourceSession})

	m := scoring.CalculateMaturityState(b, c.params, now)
	if m == types.MaturityDeprecated && !b.IsRetired() {
		tombstone(b, "harmful feedback outweighs helpful", "", now)
		return ""
	}
	b.Maturity = m

	if d.Type == types.DeltaHarmful {
		switch dem := scoring.CheckForDemotion(b, c.params, now); dem.Action {
		case scoring.DemotionAutoDeprecate:
			tombstone(b, dem.Reason, "", now)
		case scoring.DemotionDemote:
			b.Maturity = dem.NewMaturity
		}
	}
	return ""
}

// invert deprecates heavily harmful bullets and generates their
// anti-pattern counterparts. Bullets already retired before this run and
// pinned bullets are exempt.
func (c *Curator) invert(work *types.Playbook, retiredAtStart map[string]bool, now time.Time) []types.PlaybookBullet {
	var inversions []types.PlaybookBullet

	n := len(work.Bullets)
	for i := 0; i < n; i++ {
		b := &work.Bullets[i]
		if b.Pinned || retiredAtStart[b.ID] {
			continue
		}
		counts := scoring.GetDecayedCounts(b, c.params, now)
		if counts.Harmful < c.params.PruneHarmfulThreshold || counts.HarmfulRatio() < inversionRatio {
			continue
		}

		avoid := "AVOID: " + b.Content
		if work.HasActiveContent(avoid, b.Scope) {
			continue
		}

		anti := types.PlaybookBullet{
			ID:                          types.NewBulletID(now),
			Content:                     avoid,
			Category:                    b.Category,
			Kind:                        types.KindAntiPattern,
			IsNegative:                  true,
			Scope:                       b.Scope,
			Workspace:                   b.Workspace,
			State:                       types.StateActive,
			Maturity:                    types.MaturityCandidate,
			ConfidenceDecayHalfLifeDays: c.params.DecayHalfLifeDays,
			CreatedAt:                   now,
			UpdatedAt:                   now,
			SourceSessions:              append([]string(nil), b.SourceSessions...),
			SourceAgents:                append([]string(nil), b.SourceAgents...),
			Tags:                        append([]string(nil), b.Tags...),
		}

		work.Bullets = append(work.Bullets, anti)
		b = &work.Bullets[i] // append may have moved the backing array
		tombstone(b, fmt.Sprintf("inverted into anti-pattern %s", anti.ID), anti.ID, now)

		work.DeprecatedPatterns = append(work.DeprecatedPatterns, types.DeprecatedPattern{
			Pattern:      b.Content,
			Replacement:  anti.Content,
			Reason:       "repeatedly harmful",
			DeprecatedAt: now,
		})
		inversions = append(inversions, anti.Clone())
	}
	return inversions
}

// PruneAction records one bullet removed by a prune run.
type PruneAction struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// PruneResult reports a prune run.
type PruneResult struct {
	// Playbook is the pruned copy.
	Playbook *types.Playbook

	// Pruned lists what was retired and why.
	Pruned []PruneAction

	// Inversions are anti-patterns generated for harmful prunes.
	Inversions []types.PlaybookBullet
}

// Prune retires bullets the scoring rules have given up on: harmful mass
// past the prune threshold (with inversion), and stale candidates that
// never earned promotion. Pinned bullets are exempt.
func (c *Curator) Prune(pb *types.Playbook, staleAfterDays int) PruneResult {
	work := pb.Clone()
	now := c.now().UTC()
	retiredAtStart := retiredSet(pb)

	res := PruneResult{Playbook: work}
	for i := range work.Bullets {
		b := &work.Bullets[i]
		if b.Pinned || b.IsRetired() {
			continue
		}

		if dem := scoring.CheckForDemotion(b, c.params, now); dem.Action == scoring.DemotionAutoDeprecate {
			tombstone(b, "pruned: "+dem.Reason, "", now)
			res.Pruned = append(res.Pruned, PruneAction{ID: b.ID, Content: b.Content, Reason: dem.Reason})
			continue
		}

		if (b.Maturity == types.MaturityCandidate || b.Maturity == "") &&
			scoring.IsStale(b, staleAfterDays, now) {
			reason := fmt.Sprintf("stale candidate, no feedback in %d days", staleAfterDays)
			tombstone(b, "pruned: "+reason, "", now)
			res.Pruned = append(res.Pruned, PruneAction{ID: b.ID, Content: b.Content, Reason: reason})
		}
	}

	res.Inversions = c.invert(work, retiredAtStart, now)
	return res
}

// tombstone retires a bullet in place, keeping the deprecation invariant:
// Deprecated implies retired state and deprecated maturity.
func tombstone(b *types.PlaybookBullet, reason, replacedBy string, now time.Time) {
	b.Deprecated = true
	b.State = types.StateRetired
	b.Maturity = types.MaturityDeprecated
	b.DeprecationReason = reason
	if replacedBy != "" {
		b.ReplacedBy = replacedBy
	}
	t := now
	b.DeprecatedAt = &t
	b.UpdatedAt = now
}

func retiredSet(pb *types.Playbook) map[string]bool {
	out := make(map[string]bool, len(pb.Bullets))
	for i := range pb.Bullets {
		if pb.Bullets[i].IsRetired() {
			out[pb.Bullets[i].ID] = true
		}
	}
	return out
}

// activeContentElsewhere reports whether a non-retired bullet outside
// exclude shares the case-folded content in the given scope.
func activeContentElsewhere(pb *types.Playbook, content string, scope types.Scope, exclude map[string]bool) bool {
	folded := strings.ToLower(strings.TrimSpace(content))
	for i := range pb.Bullets {
		b := &pb.Bullets[i]
		if b.IsRetired() || exclude[b.ID] || b.Scope != scope {
			continue
		}
		if strings.ToLower(strings.TrimSpace(b.Content)) == folded {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func appendUniqueAll(list []string, values []string) []string {
	for _, v := range values {
		list = appendUnique(list, v)
	}
	return list
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
