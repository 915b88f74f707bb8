package scoring

import (
	"fmt"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// maturityRank orders tiers for the monotonicity rule: recomputation never
// silently downgrades, only CheckForDemotion does.
func maturityRank(m types.Maturity) int {
	switch m {
	case types.MaturityProven:
		return 3
	case types.MaturityEstablished:
		return 2
	case types.MaturityCandidate:
		return 1
	default:
		return 0
	}
}

// meetsDeprecation reports whether the feedback mass forces deprecation:
// harmful ratio at least one half with at least two decayed harmful points.
func meetsDeprecation(counts DecayedCounts) bool {
	return counts.HarmfulRatio() >= deprecationRatio && counts.Harmful >= deprecationMinHarmful
}

// CalculateMaturityState recomputes the maturity a bullet's feedback
// supports, honoring monotonicity: the result is never below the bullet's
// current tier, and a deprecated bullet is never revived.
func CalculateMaturityState(b *types.PlaybookBullet, p Params, now time.Time) types.Maturity {
	if b.Maturity == types.MaturityDeprecated || b.Deprecated {
		return types.MaturityDeprecated
	}

	p = p.Resolve()
	counts := GetDecayedCounts(b, p, now)
	if meetsDeprecation(counts) {
		return types.MaturityDeprecated
	}

	computed := types.MaturityCandidate
	switch {
	case counts.Helpful >= p.MaturityProvenThreshold && counts.HarmfulRatio() <= p.MaxHarmfulRatioForProven:
		computed = types.MaturityProven
	case counts.Helpful >= p.MaturityPromotionThreshold && counts.HarmfulRatio() <= maxHarmfulRatioForEstablished:
		computed = types.MaturityEstablished
	}

	if maturityRank(computed) < maturityRank(b.Maturity) {
		return b.Maturity
	}
	return computed
}

// CheckForPromotion evaluates the single-step promotions candidate →
// established and established → proven. Returns the new tier and whether a
// promotion applies.
func CheckForPromotion(b *types.PlaybookBullet, p Params, now time.Time) (types.Maturity, bool) {
	p = p.Resolve()
	counts := GetDecayedCounts(b, p, now)

	switch b.Maturity {
	case types.MaturityCandidate, "":
		if counts.Helpful >= p.MaturityPromotionThreshold && counts.HarmfulRatio() <= maxHarmfulRatioForEstablished {
			return types.MaturityEstablished, true
		}
	case types.MaturityEstablished:
		if counts.Helpful >= p.MaturityProvenThreshold && counts.HarmfulRatio() <= p.MaxHarmfulRatioForProven {
			return types.MaturityProven, true
		}
	}
	return b.Maturity, false
}

// DemotionAction is the outcome of a demotion check.
type DemotionAction string

const (
	// DemotionNone means the bullet keeps its tier.
	DemotionNone DemotionAction = "none"

	// DemotionDemote means one-step downgrade (proven → established,
	// established → candidate).
	DemotionDemote DemotionAction = "demote"

	// DemotionAutoDeprecate means the harmful mass crossed the prune
	// threshold; curation deprecates and inverts the bullet.
	DemotionAutoDeprecate DemotionAction = "auto-deprecate"
)

// DemotionResult reports what a demotion check decided and why.
type DemotionResult struct {
	// Action is the decided outcome.
	Action DemotionAction `json:"action"`

	// NewMaturity is the tier after a demote action; unchanged otherwise.
	NewMaturity types.Maturity `json:"newMaturity"`

	// Reason explains the decision.
	Reason string `json:"reason"`
}

// CheckForDemotion inspects a bullet for downgrade: auto-deprecation when
// decayed harmful mass reaches the prune threshold, otherwise a one-step
// demotion when the effective score has gone negative.
func CheckForDemotion(b *types.PlaybookBullet, p Params, now time.Time) DemotionResult {
	p = p.Resolve()
	counts := GetDecayedCounts(b, p, now)

	if counts.Harmful >= p.PruneHarmfulThreshold {
		return DemotionResult{
			Action:      DemotionAutoDeprecate,
			NewMaturity: types.MaturityDeprecated,
			Reason: fmt.Sprintf("decayed harmful %.2f >= prune threshold %.2f",
				counts.Harmful, p.PruneHarmfulThreshold),
		}
	}

	score := (counts.Helpful - p.HarmfulMultiplier*counts.Harmful) * MaturityFactor(b.Maturity)
	if score >= 0 {
		return DemotionResult{Action: DemotionNone, NewMaturity: b.Maturity, Reason: "score non-negative"}
	}

	switch b.Maturity {
	case types.MaturityProven:
		return DemotionResult{
			Action:      DemotionDemote,
			NewMaturity: types.MaturityEstablished,
			Reason:      fmt.Sprintf("effective score %.2f < 0", score),
		}
	case types.MaturityEstablished:
		return DemotionResult{
			Action:      DemotionDemote,
			NewMaturity: types.MaturityCandidate,
			Reason:      fmt.Sprintf("effective score %.2f < 0", score),
		}
	}
	return DemotionResult{Action: DemotionNone, NewMaturity: b.Maturity, Reason: "already at lowest tier"}
}

// MaturityGlyph returns the one-character marker used in compact playbook
// listings: a circle that fills as the rule proves out.
func MaturityGlyph(m types.Maturity) string {
	switch m {
	case types.MaturityProven:
		return "●"
	case types.MaturityEstablished:
		return "◐"
	case types.MaturityDeprecated:
		return "✗"
	default:
		return "○"
	}
}
