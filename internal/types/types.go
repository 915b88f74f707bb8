// Package types defines the data model for the cass-memory curation engine:
// playbook bullets and their feedback history, session diaries, playbook
// deltas, trauma entries, outcome records, and the processed-session log.
package types

import (
	"strings"
	"time"
)

// BulletState is the lifecycle state of a playbook bullet.
type BulletState string

const (
	// StateDraft is a rule that passed validation but lacks evidence.
	StateDraft BulletState = "draft"

	// StateActive is a rule surfaced during context assembly.
	StateActive BulletState = "active"

	// StateRetired is a tombstoned rule kept for provenance.
	StateRetired BulletState = "retired"
)

// Maturity is the coarse confidence tier of a bullet.
type Maturity string

const (
	// MaturityCandidate is a new rule with little feedback.
	MaturityCandidate Maturity = "candidate"

	// MaturityEstablished is a rule with repeated helpful feedback.
	MaturityEstablished Maturity = "established"

	// MaturityProven is a rule with strong, sustained helpful feedback.
	MaturityProven Maturity = "proven"

	// MaturityDeprecated is a retired or inverted rule.
	MaturityDeprecated Maturity = "deprecated"
)

// ValidMaturity reports whether m is one of the canonical maturity tiers.
func ValidMaturity(m Maturity) bool {
	switch m {
	case MaturityCandidate, MaturityEstablished, MaturityProven, MaturityDeprecated:
		return true
	}
	return false
}

// Scope distinguishes rules that apply everywhere from per-workspace rules.
type Scope string

const (
	// ScopeGlobal applies in every repository.
	ScopeGlobal Scope = "global"

	// ScopeWorkspace applies only in the workspace named by the bullet.
	ScopeWorkspace Scope = "workspace"
)

// BulletKind is a free-form taxonomy tag for the shape of a rule.
// The canonical kinds are listed below; unknown kinds are preserved as-is.
type BulletKind string

const (
	// KindWorkflowRule is a process rule ("run tests before committing").
	KindWorkflowRule BulletKind = "workflow_rule"

	// KindStackPattern is a technology-specific pattern.
	KindStackPattern BulletKind = "stack_pattern"

	// KindAntiPattern is an inverted rule phrased as something to avoid.
	KindAntiPattern BulletKind = "anti_pattern"
)

// FeedbackType classifies a single feedback event.
type FeedbackType string

const (
	// FeedbackHelpful records that the rule helped a session.
	FeedbackHelpful FeedbackType = "helpful"

	// FeedbackHarmful records that the rule hurt a session.
	FeedbackHarmful FeedbackType = "harmful"
)

// FeedbackEvent is one recorded use of a bullet during a session.
type FeedbackEvent struct {
	// Type is helpful or harmful.
	Type FeedbackType `json:"type" yaml:"type"`

	// Timestamp is when the feedback was recorded.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// SessionPath is the session the feedback came from, when known.
	SessionPath string `json:"sessionPath,omitempty" yaml:"sessionPath,omitempty"`
}

// PlaybookBullet is one curated rule (or anti-pattern) in the playbook.
type PlaybookBullet struct {
	// ID is the opaque bullet identifier (b-<millis>-<random> convention).
	ID string `json:"id" yaml:"id"`

	// Content is the imperative text of the rule.
	Content string `json:"content" yaml:"content"`

	// Category is a free-form taxonomy tag (e.g. "testing", "io").
	Category string `json:"category" yaml:"category"`

	// Kind is the shape of the rule (workflow_rule, stack_pattern, anti_pattern).
	Kind BulletKind `json:"kind,omitempty" yaml:"kind,omitempty"`

	// IsNegative marks anti-pattern phrasing ("AVOID: ...").
	IsNegative bool `json:"isNegative,omitempty" yaml:"isNegative,omitempty"`

	// Scope is global or workspace.
	Scope Scope `json:"scope,omitempty" yaml:"scope,omitempty"`

	// Workspace qualifies a workspace-scoped bullet.
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"`

	// State is the lifecycle state (draft, active, retired).
	State BulletState `json:"state,omitempty" yaml:"state,omitempty"`

	// Maturity is the confidence tier (candidate through proven, or deprecated).
	Maturity Maturity `json:"maturity,omitempty" yaml:"maturity,omitempty"`

	// HelpfulCount equals the number of helpful events in FeedbackEvents.
	HelpfulCount int `json:"helpfulCount" yaml:"helpfulCount"`

	// HarmfulCount equals the number of harmful events in FeedbackEvents.
	HarmfulCount int `json:"harmfulCount" yaml:"harmfulCount"`

	// FeedbackEvents is the ordered history of feedback, oldest first.
	FeedbackEvents []FeedbackEvent `json:"feedbackEvents,omitempty" yaml:"feedbackEvents,omitempty"`

	// ConfidenceDecayHalfLifeDays is the per-bullet half-life for feedback
	// decay. Zero means inherit the configured default.
	ConfidenceDecayHalfLifeDays float64 `json:"confidenceDecayHalfLifeDays,omitempty" yaml:"confidenceDecayHalfLifeDays,omitempty"`

	// CreatedAt is when the bullet was added.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// UpdatedAt is when the bullet last changed.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`

	// DeprecatedAt is when the bullet was retired, if it was.
	DeprecatedAt *time.Time `json:"deprecatedAt,omitempty" yaml:"deprecatedAt,omitempty"`

	// SourceSessions lists the sessions that contributed this rule.
	SourceSessions []string `json:"sourceSessions,omitempty" yaml:"sourceSessions,omitempty"`

	// SourceAgents lists the agents whose sessions contributed this rule.
	SourceAgents []string `json:"sourceAgents,omitempty" yaml:"sourceAgents,omitempty"`

	// Tags are free-form labels used for keyword matching.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Pinned exempts the bullet from pruning and inversion.
	Pinned bool `json:"pinned,omitempty" yaml:"pinned,omitempty"`

	// Deprecated is the tombstone flag. A deprecated bullet always has
	// State retired and Maturity deprecated.
	Deprecated bool `json:"deprecated,omitempty" yaml:"deprecated,omitempty"`

	// DeprecationReason explains a retirement.
	DeprecationReason string `json:"deprecationReason,omitempty" yaml:"deprecationReason,omitempty"`

	// ReplacedBy references the bullet that supersedes this one.
	ReplacedBy string `json:"replacedBy,omitempty" yaml:"replacedBy,omitempty"`
}

// IsRetired reports whether the bullet is tombstoned.
func (b *PlaybookBullet) IsRetired() bool {
	return b.Deprecated || b.State == StateRetired || b.Maturity == MaturityDeprecated
}

// RecordFeedback appends a feedback event and keeps the counters in sync
// with the event history.
func (b *PlaybookBullet) RecordFeedback(ev FeedbackEvent) {
	b.FeedbackEvents = append(b.FeedbackEvents, ev)
	switch ev.Type {
	case FeedbackHelpful:
		b.HelpfulCount++
	case FeedbackHarmful:
		b.HarmfulCount++
	}
	if ev.Timestamp.After(b.UpdatedAt) {
		b.UpdatedAt = ev.Timestamp
	}
}

// LastFeedbackAt returns the timestamp of the most recent feedback event,
// or the zero time when the bullet has none.
func (b *PlaybookBullet) LastFeedbackAt() time.Time {
	if len(b.FeedbackEvents) == 0 {
		return time.Time{}
	}
	return b.FeedbackEvents[len(b.FeedbackEvents)-1].Timestamp
}

// Clone returns a deep copy of the bullet.
func (b PlaybookBullet) Clone() PlaybookBullet {
	out := b
	if b.FeedbackEvents != nil {
		out.FeedbackEvents = append([]FeedbackEvent(nil), b.FeedbackEvents...)
	}
	out.SourceSessions = cloneStrings(b.SourceSessions)
	out.SourceAgents = cloneStrings(b.SourceAgents)
	out.Tags = cloneStrings(b.Tags)
	if b.DeprecatedAt != nil {
		t := *b.DeprecatedAt
		out.DeprecatedAt = &t
	}
	return out
}

// PlaybookMetadata carries bookkeeping for a playbook file.
type PlaybookMetadata struct {
	// Version is the data-format version string.
	Version string `json:"version" yaml:"version"`

	// CreatedAt is when the playbook was first written.
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`

	// UpdatedAt is when the playbook last changed.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`

	// TotalReflections counts completed reflection runs.
	TotalReflections int `json:"totalReflections" yaml:"totalReflections"`

	// LastReflection is when the last reflection run completed.
	LastReflection *time.Time `json:"lastReflection,omitempty" yaml:"lastReflection,omitempty"`
}

// DeprecatedPattern is a global "stop doing this" note surfaced when a task
// touches the pattern.
type DeprecatedPattern struct {
	// Pattern is the phrase or construct that is deprecated.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Replacement is what to use instead.
	Replacement string `json:"replacement,omitempty" yaml:"replacement,omitempty"`

	// Reason explains the deprecation.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// DeprecatedAt is when the pattern was recorded.
	DeprecatedAt time.Time `json:"deprecatedAt" yaml:"deprecatedAt"`
}

// PlaybookSchemaVersion is the current on-disk playbook format revision.
const PlaybookSchemaVersion = "1.0"

// Playbook is the curated collection of rules plus metadata.
type Playbook struct {
	// SchemaVersion identifies the on-disk format revision. Stamped on
	// save; absent in files predating versioning.
	SchemaVersion string `json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	// Metadata is the playbook bookkeeping block.
	Metadata PlaybookMetadata `json:"metadata" yaml:"metadata"`

	// Bullets is the rule list, append-oriented.
	Bullets []PlaybookBullet `json:"bullets" yaml:"bullets"`

	// DeprecatedPatterns lists retired patterns with replacements.
	DeprecatedPatterns []DeprecatedPattern `json:"deprecatedPatterns,omitempty" yaml:"deprecatedPatterns,omitempty"`
}

// FindBullet returns a pointer to the bullet with the given id, or nil.
// The pointer aliases the playbook's slice so callers can mutate in place.
func (p *Playbook) FindBullet(id string) *PlaybookBullet {
	for i := range p.Bullets {
		if p.Bullets[i].ID == id {
			return &p.Bullets[i]
		}
	}
	return nil
}

// HasActiveContent reports whether a non-retired bullet with the same
// case-folded content already exists in the given scope.
func (p *Playbook) HasActiveContent(content string, scope Scope) bool {
	folded := strings.ToLower(strings.TrimSpace(content))
	for i := range p.Bullets {
		b := &p.Bullets[i]
		if b.IsRetired() || b.Scope != scope {
			continue
		}
		if strings.ToLower(strings.TrimSpace(b.Content)) == folded {
			return true
		}
	}
	return false
}

// ActiveBullets returns the non-retired bullets in playbook order.
func (p *Playbook) ActiveBullets() []PlaybookBullet {
	var out []PlaybookBullet
	for i := range p.Bullets {
		if !p.Bullets[i].IsRetired() {
			out = append(out, p.Bullets[i])
		}
	}
	return out
}

// Clone returns a deep copy of the playbook, used by curation so that a
// failed merge never leaves a half-mutated in-memory copy.
func (p *Playbook) Clone() *Playbook {
	out := &Playbook{SchemaVersion: p.SchemaVersion, Metadata: p.Metadata}
	if p.Metadata.LastReflection != nil {
		t := *p.Metadata.LastReflection
		out.Metadata.LastReflection = &t
	}
	out.Bullets = make([]PlaybookBullet, len(p.Bullets))
	for i := range p.Bullets {
		out.Bullets[i] = p.Bullets[i].Clone()
	}
	if p.DeprecatedPatterns != nil {
		out.DeprecatedPatterns = append([]DeprecatedPattern(nil), p.DeprecatedPatterns...)
	}
	return out
}

// DiaryStatus is the overall outcome of a diarized session.
type DiaryStatus string

const (
	// DiaryStatusSuccess means the session accomplished its goal.
	DiaryStatusSuccess DiaryStatus = "success"

	// DiaryStatusFailure means the session did not.
	DiaryStatusFailure DiaryStatus = "failure"

	// DiaryStatusMixed means partial progress with setbacks.
	DiaryStatusMixed DiaryStatus = "mixed"
)

// DiaryEntry is a structured summary of one coding session.
type DiaryEntry struct {
	// ID is the diary identifier (d-<millis>-<random> convention).
	ID string `json:"id"`

	// SessionPath is the transcript file the diary summarizes.
	SessionPath string `json:"sessionPath"`

	// Timestamp is when the session ended (or when the diary was written).
	Timestamp time.Time `json:"timestamp"`

	// Agent is the coding assistant that ran the session.
	Agent string `json:"agent,omitempty"`

	// Workspace is the repository or directory the session worked in.
	Workspace string `json:"workspace,omitempty"`

	// Status is the session outcome.
	Status DiaryStatus `json:"status,omitempty"`

	// Accomplishments lists what the session got done.
	Accomplishments []string `json:"accomplishments,omitempty"`

	// Decisions lists choices made and their rationale.
	Decisions []string `json:"decisions,omitempty"`

	// Challenges lists what went wrong or was hard.
	Challenges []string `json:"challenges,omitempty"`

	// Preferences lists user preferences observed in the session.
	Preferences []string `json:"preferences,omitempty"`

	// KeyLearnings lists durable insights worth remembering.
	KeyLearnings []string `json:"keyLearnings,omitempty"`

	// Tags are free-form labels for retrieval.
	Tags []string `json:"tags,omitempty"`

	// SearchAnchors are phrases likely to match future queries.
	SearchAnchors []string `json:"searchAnchors,omitempty"`

	// RelatedSessions lists paths of sessions on the same thread of work.
	RelatedSessions []string `json:"relatedSessions,omitempty"`
}

// TraumaSeverity grades how dangerous a banned command is.
type TraumaSeverity string

const (
	// SeverityCritical marks a command that caused serious damage.
	SeverityCritical TraumaSeverity = "CRITICAL"

	// SeverityFatal marks a command that must never run again.
	SeverityFatal TraumaSeverity = "FATAL"
)

// TraumaStatus is the lifecycle state of a trauma entry.
type TraumaStatus string

const (
	// TraumaActive means the pattern still blocks commands.
	TraumaActive TraumaStatus = "active"

	// TraumaHealed means the user lifted the ban; the entry is kept for audit.
	TraumaHealed TraumaStatus = "healed"
)

// TraumaTrigger records the incident that created a trauma entry.
// Field names are snake_case on the wire for the cross-agent hook script.
type TraumaTrigger struct {
	// SessionPath is the session where the catastrophe happened.
	SessionPath string `json:"session_path,omitempty"`

	// Timestamp is when it happened.
	Timestamp time.Time `json:"timestamp"`

	// HumanMessage is the user's own words about the incident.
	HumanMessage string `json:"human_message,omitempty"`
}

// TraumaEntry is one banned-command pattern in the safety guard list.
type TraumaEntry struct {
	// ID is the trauma identifier (t-<millis>-<random> convention).
	ID string `json:"id"`

	// Severity is CRITICAL or FATAL.
	Severity TraumaSeverity `json:"severity"`

	// Pattern is the regular expression matched against command strings.
	Pattern string `json:"pattern"`

	// Scope is global or workspace.
	Scope Scope `json:"scope,omitempty"`

	// Status is active or healed.
	Status TraumaStatus `json:"status"`

	// TriggerEvent is the incident behind the ban.
	TriggerEvent TraumaTrigger `json:"trigger_event"`

	// CreatedAt is when the entry was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is the recorded result of a session for outcome records.
type Outcome string

const (
	// OutcomeSuccess means the session succeeded.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the session failed.
	OutcomeFailure Outcome = "failure"

	// OutcomeMixed means the session partly succeeded with setbacks.
	OutcomeMixed Outcome = "mixed"

	// OutcomePartial means the session stopped before finishing.
	OutcomePartial Outcome = "partial"
)

// ValidOutcome reports whether o is one of the canonical outcomes.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeMixed, OutcomePartial:
		return true
	}
	return false
}

// OutcomeRecord is one appended line in outcomes.jsonl.
type OutcomeRecord struct {
	// SessionID identifies the session the outcome belongs to.
	SessionID string `json:"sessionId"`

	// Outcome is the recorded result.
	Outcome Outcome `json:"outcome"`

	// RulesUsed lists bullet IDs the agent reported using.
	RulesUsed []string `json:"rulesUsed,omitempty"`

	// DurationSec is the session length in seconds, when known.
	DurationSec float64 `json:"durationSec,omitempty"`

	// ErrorCount is how many errors the session hit, when known.
	ErrorCount int `json:"errorCount,omitempty"`

	// HadRetries reports whether the session needed retries.
	HadRetries bool `json:"hadRetries,omitempty"`

	// Sentiment is a free-form mood note ("frustrated", "smooth").
	Sentiment string `json:"sentiment,omitempty"`

	// Notes is free text.
	Notes string `json:"notes,omitempty"`

	// RecordedAt is when the record was appended.
	RecordedAt time.Time `json:"recordedAt"`

	// Path is the session file path, when known.
	Path string `json:"path,omitempty"`
}

// ProcessedEntry is one appended line in reflections/processed.log marking a
// session the reflection pipeline has already consumed.
type ProcessedEntry struct {
	// SessionPath is the processed session file.
	SessionPath string `json:"sessionPath"`

	// ProcessedAt is when reflection consumed it.
	ProcessedAt time.Time `json:"processedAt"`

	// DiaryID is the diary extracted from the session.
	DiaryID string `json:"diaryId,omitempty"`

	// DeltasGenerated counts deltas the session produced.
	DeltasGenerated int `json:"deltasGenerated"`
}

// ToxicEntry permanently blocks rule content that earned an inversion or
// repeated deprecation. Matching is by case-folded content hash so reworded
// whitespace does not resurrect a blocked rule.
type ToxicEntry struct {
	// ContentHash is the SHA-256 hex of the case-folded content.
	ContentHash string `json:"contentHash"`

	// Content is the blocked text, kept for human review.
	Content string `json:"content"`

	// Reason records why the content was blocked.
	Reason string `json:"reason"`

	// RecordedAt is when the block was written.
	RecordedAt time.Time `json:"recordedAt"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
