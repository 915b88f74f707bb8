package types

import (
	"sort"
	"strings"
)

// DeltaType tags a playbook delta variant.
type DeltaType string

const (
	// DeltaAdd proposes a new bullet.
	DeltaAdd DeltaType = "add"

	// DeltaReplace rewrites an existing bullet's content.
	DeltaReplace DeltaType = "replace"

	// DeltaMerge collapses several bullets into one.
	DeltaMerge DeltaType = "merge"

	// DeltaDeprecate retires a bullet.
	DeltaDeprecate DeltaType = "deprecate"

	// DeltaHelpful records helpful feedback for a bullet.
	DeltaHelpful DeltaType = "helpful"

	// DeltaHarmful records harmful feedback for a bullet.
	DeltaHarmful DeltaType = "harmful"
)

// ValidDeltaType reports whether t is a known delta variant.
func ValidDeltaType(t DeltaType) bool {
	switch t {
	case DeltaAdd, DeltaReplace, DeltaMerge, DeltaDeprecate, DeltaHelpful, DeltaHarmful:
		return true
	}
	return false
}

// NewBulletSpec is the payload of an add delta: the rule before it gets an
// id, counters, and timestamps.
type NewBulletSpec struct {
	// Content is the imperative rule text.
	Content string `json:"content"`

	// Category is the taxonomy tag.
	Category string `json:"category,omitempty"`

	// Scope is global (default) or workspace.
	Scope Scope `json:"scope,omitempty"`

	// Kind is the rule shape; defaults to workflow_rule.
	Kind BulletKind `json:"kind,omitempty"`

	// IsNegative marks anti-pattern phrasing.
	IsNegative bool `json:"isNegative,omitempty"`

	// Tags are optional retrieval labels.
	Tags []string `json:"tags,omitempty"`

	// State optionally seeds the lifecycle state, typically from the
	// evidence gate's suggestion. Empty means draft.
	State BulletState `json:"state,omitempty"`
}

// PlaybookDelta is one proposed mutation to the playbook. Type selects the
// variant; the other fields are per-variant payload.
type PlaybookDelta struct {
	// Type is the variant tag.
	Type DeltaType `json:"type"`

	// Bullet is the new rule for an add delta.
	Bullet *NewBulletSpec `json:"bullet,omitempty"`

	// BulletID targets replace, deprecate, helpful, and harmful deltas.
	BulletID string `json:"bulletId,omitempty"`

	// BulletIDs targets a merge delta (two or more ids).
	BulletIDs []string `json:"bulletIds,omitempty"`

	// NewContent is the replacement text for a replace delta.
	NewContent string `json:"newContent,omitempty"`

	// MergedContent is the combined text for a merge delta.
	MergedContent string `json:"mergedContent,omitempty"`

	// Category optionally sets the merged bullet's category; when empty the
	// first merged bullet's category carries over.
	Category string `json:"category,omitempty"`

	// ReplacedBy optionally names the successor for a deprecate delta.
	ReplacedBy string `json:"replacedBy,omitempty"`

	// SourceSession is the session that motivated the delta.
	SourceSession string `json:"sourceSession,omitempty"`

	// Reason is the oracle's (or user's) justification.
	Reason string `json:"reason,omitempty"`
}

// Hash returns the structural dedup key for the delta. Two deltas with the
// same hash are the same proposal: adds are keyed by case-folded content,
// merges by their sorted id set, feedback and deprecation by target id.
func (d PlaybookDelta) Hash() string {
	switch d.Type {
	case DeltaAdd:
		content := ""
		if d.Bullet != nil {
			content = d.Bullet.Content
		}
		return "add:" + strings.ToLower(content)
	case DeltaReplace:
		return "replace:" + d.BulletID + ":" + d.NewContent
	case DeltaMerge:
		ids := append([]string(nil), d.BulletIDs...)
		sort.Strings(ids)
		return "merge:" + strings.Join(ids, ",")
	default:
		return string(d.Type) + ":" + d.BulletID
	}
}

// DedupDeltas filters deltas whose hash is already in seen, preserving
// order. seen is updated in place; pass a fresh map to dedup one batch.
func DedupDeltas(deltas []PlaybookDelta, seen map[string]bool) []PlaybookDelta {
	if seen == nil {
		seen = make(map[string]bool, len(deltas))
	}
	out := make([]PlaybookDelta, 0, len(deltas))
	for _, d := range deltas {
		h := d.Hash()
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, d)
	}
	return out
}
