// Package scoring implements the playbook scoring engine: half-life decay of
// feedback events, effective scores, the maturity state machine, staleness,
// and the score distribution buckets used by statistics. Every function is
// pure: deterministic given a bullet, the parameters, and a clock reading.
package scoring

import (
	"math"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// Default parameter values, overridable via configuration.
const (
	// DefaultDecayHalfLifeDays halves a feedback event's weight every 90 days.
	DefaultDecayHalfLifeDays = 90.0

	// DefaultHarmfulMultiplier weights harmful feedback 4x in the score.
	DefaultHarmfulMultiplier = 4.0

	// DefaultMaturityPromotionThreshold promotes candidate bullets at 3
	// decayed helpful points.
	DefaultMaturityPromotionThreshold = 3.0

	// DefaultMaturityProvenThreshold promotes established bullets at 10.
	DefaultMaturityProvenThreshold = 10.0

	// DefaultMaxHarmfulRatioForProven caps the harmful ratio for proven.
	DefaultMaxHarmfulRatioForProven = 0.1

	// DefaultPruneHarmfulThreshold is the decayed-harmful mass at which a
	// bullet is auto-deprecated (and inverted during curation).
	DefaultPruneHarmfulThreshold = 3.0

	// DefaultStaleAfterDays marks bullets stale after 60 feedback-free days.
	// Independent from the decay half-life: decay fades influence gradually,
	// staleness is a hard review cutoff.
	DefaultStaleAfterDays = 60
)

// maxHarmfulRatioForEstablished caps the harmful ratio for the
// candidate → established promotion.
const maxHarmfulRatioForEstablished = 0.2

// deprecationRatio and deprecationMinHarmful gate the any → deprecated
// transition: at least half the decayed feedback harmful, with real mass.
const (
	deprecationRatio      = 0.5
	deprecationMinHarmful = 2.0
)

// Params are the scoring knobs. Zero values mean "use the default"; Resolve
// is applied internally so a zero Params behaves like DefaultParams().
type Params struct {
	// DecayHalfLifeDays is the default half-life; bullets may override it.
	DecayHalfLifeDays float64

	// HarmfulMultiplier weights decayed harmful mass in the effective score.
	HarmfulMultiplier float64

	// MaturityPromotionThreshold is decayed helpful needed for established.
	MaturityPromotionThreshold float64

	// MaturityProvenThreshold is decayed helpful needed for proven.
	MaturityProvenThreshold float64

	// MaxHarmfulRatioForProven caps the harmful ratio for proven.
	MaxHarmfulRatioForProven float64

	// PruneHarmfulThreshold is decayed harmful mass forcing auto-deprecation.
	PruneHarmfulThreshold float64

	// StaleAfterDays is the feedback-free age after which a bullet is stale.
	StaleAfterDays int
}

// DefaultParams returns the documented defaults.
func DefaultParams() Params {
	return Params{
		DecayHalfLifeDays:          DefaultDecayHalfLifeDays,
		HarmfulMultiplier:          DefaultHarmfulMultiplier,
		MaturityPromotionThreshold: DefaultMaturityPromotionThreshold,
		MaturityProvenThreshold:    DefaultMaturityProvenThreshold,
		MaxHarmfulRatioForProven:   DefaultMaxHarmfulRatioForProven,
		PruneHarmfulThreshold:      DefaultPruneHarmfulThreshold,
		StaleAfterDays:             DefaultStaleAfterDays,
	}
}

// Resolve fills zero fields with defaults so partially-populated configs
// behave sensibly.
func (p Params) Resolve() Params {
	d := DefaultParams()
	if p.DecayHalfLifeDays <= 0 {
		p.DecayHalfLifeDays = d.DecayHalfLifeDays
	}
	if p.HarmfulMultiplier <= 0 {
		p.HarmfulMultiplier = d.HarmfulMultiplier
	}
	if p.MaturityPromotionThreshold <= 0 {
		p.MaturityPromotionThreshold = d.MaturityPromotionThreshold
	}
	if p.MaturityProvenThreshold <= 0 {
		p.MaturityProvenThreshold = d.MaturityProvenThreshold
	}
	if p.MaxHarmfulRatioForProven <= 0 {
		p.MaxHarmfulRatioForProven = d.MaxHarmfulRatioForProven
	}
	if p.PruneHarmfulThreshold <= 0 {
		p.PruneHarmfulThreshold = d.PruneHarmfulThreshold
	}
	if p.StaleAfterDays <= 0 {
		p.StaleAfterDays = d.StaleAfterDays
	}
	return p
}

// CalculateDecayedValue returns the present weight of one feedback event:
// 2^(-age/halfLife) in days, clamped to [0, 1]. Events from the future
// clamp to full weight rather than inflating it.
func CalculateDecayedValue(ev types.FeedbackEvent, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultDecayHalfLifeDays
	}
	ageDays := now.Sub(ev.Timestamp).Hours() / 24
	v := math.Pow(2, -ageDays/halfLifeDays)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// DecayedCounts holds the decay-weighted helpful and harmful mass.
type DecayedCounts struct {
	Helpful float64
	Harmful float64
}

// Total returns the combined decayed feedback mass.
func (c DecayedCounts) Total() float64 {
	return c.Helpful + c.Harmful
}

// HarmfulRatio returns harmful mass over total, or 0 with no feedback.
func (c DecayedCounts) HarmfulRatio() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	return c.Harmful / total
}

// GetDecayedCounts sums the decayed weight of every feedback event. The
// bullet's own half-life wins over the configured default when set.
func GetDecayedCounts(b *types.PlaybookBullet, p Params, now time.Time) DecayedCounts {
	p = p.Resolve()
	halfLife := b.ConfidenceDecayHalfLifeDays
	if halfLife <= 0 {
		halfLife = p.DecayHalfLifeDays
	}

	var counts DecayedCounts
	for _, ev := range b.FeedbackEvents {
		v := CalculateDecayedValue(ev, now, halfLife)
		switch ev.Type {
		case types.FeedbackHelpful:
			counts.Helpful += v
		case types.FeedbackHarmful:
			counts.Harmful += v
		}
	}
	return counts
}

// MaturityFactor weights the effective score by confidence tier.
func MaturityFactor(m types.Maturity) float64 {
	switch m {
	case types.MaturityProven:
		return 1.5
	case types.MaturityEstablished:
		return 1.2
	case types.MaturityDeprecated:
		return 0.0
	default:
		return 1.0
	}
}

// EffectiveScore is (decayedHelpful - multiplier*decayedHarmful) scaled by
// the maturity factor. Monotonically non-increasing in harmful mass.
func EffectiveScore(b *types.PlaybookBullet, p Params, now time.Time) float64 {
	p = p.Resolve()
	counts := GetDecayedCounts(b, p, now)
	return (counts.Helpful - p.HarmfulMultiplier*counts.Harmful) * MaturityFactor(b.Maturity)
}

// IsStale reports whether the bullet has gone unused for too long: no
// feedback ever and older than maxAgeDays, or last feedback older than
// maxAgeDays.
func IsStale(b *types.PlaybookBullet, maxAgeDays int, now time.Time) bool {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultStaleAfterDays
	}
	cutoff := now.AddDate(0, 0, -maxAgeDays)
	last := b.LastFeedbackAt()
	if last.IsZero() {
		return !b.CreatedAt.IsZero() && b.CreatedAt.Before(cutoff)
	}
	return last.Before(cutoff)
}

// Bucket is a coarse quality band for statistics.
type Bucket string

const (
	// BucketExcellent is effective score >= 5.
	BucketExcellent Bucket = "excellent"

	// BucketGood is 2 <= score < 5.
	BucketGood Bucket = "good"

	// BucketNeutral is |score| < 2.
	BucketNeutral Bucket = "neutral"

	// BucketAtRisk is score <= -2.
	BucketAtRisk Bucket = "atRisk"
)

// BucketFor maps an effective score to its distribution bucket.
func BucketFor(score float64) Bucket {
	switch {
	case score >= 5:
		return BucketExcellent
	case score >= 2:
		return BucketGood
	case score <= -2:
		return BucketAtRisk
	default:
		return BucketNeutral
	}
}

// Distribution counts bullets per bucket.
type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Neutral   int `json:"neutral"`
	AtRisk    int `json:"atRisk"`
	Total     int `json:"total"`
}

// ScoreDistribution buckets the non-retired bullets of a playbook.
func ScoreDistribution(bullets []types.PlaybookBullet, p Params, now time.Time) Distribution {
	var dist Distribution
	for i := range bullets {
		b := &bullets[i]
		if b.IsRetired() {
			continue
		}
		switch BucketFor(EffectiveScore(b, p, now)) {
		case BucketExcellent:
			dist.Excellent++
		case BucketGood:
			dist.Good++
		case BucketAtRisk:
			dist.AtRisk++
		default:
			dist.Neutral++
		}
		dist.Total++
	}
	return dist
}
