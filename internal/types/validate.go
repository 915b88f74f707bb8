package types

import (
	"fmt"
	"strings"
)

// Validate checks the playbook's structural invariants after parsing:
// counter/event consistency, tombstone coherence, replacedBy references, and
// content uniqueness among non-retired bullets per scope. The first
// violation is returned wrapped in ErrSchema.
func (p *Playbook) Validate() error {
	ids := make(map[string]int, len(p.Bullets))
	for i := range p.Bullets {
		b := &p.Bullets[i]
		if b.ID == "" {
			return fmt.Errorf("%w: bullet %d has no id", ErrSchema, i)
		}
		if _, dup := ids[b.ID]; dup {
			return fmt.Errorf("%w: duplicate bullet id %s", ErrSchema, b.ID)
		}
		ids[b.ID] = i

		if err := validateCounters(b); err != nil {
			return err
		}
		if b.Deprecated && (b.State != StateRetired || b.Maturity != MaturityDeprecated) {
			return fmt.Errorf("%w: deprecated bullet %s must be retired with deprecated maturity", ErrSchema, b.ID)
		}
	}

	if err := p.validateReplacedBy(); err != nil {
		return err
	}
	return p.validateContentUniqueness()
}

// validateCounters checks that the cached counters equal the event counts.
func validateCounters(b *PlaybookBullet) error {
	helpful, harmful := 0, 0
	for _, ev := range b.FeedbackEvents {
		switch ev.Type {
		case FeedbackHelpful:
			helpful++
		case FeedbackHarmful:
			harmful++
		default:
			return fmt.Errorf("%w: bullet %s has feedback event with unknown type %q", ErrSchema, b.ID, ev.Type)
		}
	}
	if b.HelpfulCount != helpful {
		return fmt.Errorf("%w: bullet %s helpfulCount %d != %d helpful events", ErrSchema, b.ID, b.HelpfulCount, helpful)
	}
	if b.HarmfulCount != harmful {
		return fmt.Errorf("%w: bullet %s harmfulCount %d != %d harmful events", ErrSchema, b.ID, b.HarmfulCount, harmful)
	}
	return nil
}

// validateReplacedBy checks that every replacedBy reference names an
// existing, non-retired bullet in the same playbook.
func (p *Playbook) validateReplacedBy() error {
	for i := range p.Bullets {
		b := &p.Bullets[i]
		if b.ReplacedBy == "" {
			continue
		}
		target := p.FindBullet(b.ReplacedBy)
		if target == nil {
			return fmt.Errorf("%w: bullet %s replacedBy %s does not exist", ErrSchema, b.ID, b.ReplacedBy)
		}
		if target.IsRetired() {
			return fmt.Errorf("%w: bullet %s replacedBy %s is retired", ErrSchema, b.ID, b.ReplacedBy)
		}
	}
	return nil
}

// validateContentUniqueness checks that no two non-retired bullets share
// case-folded content within the same scope.
func (p *Playbook) validateContentUniqueness() error {
	seen := make(map[string]string, len(p.Bullets))
	for i := range p.Bullets {
		b := &p.Bullets[i]
		if b.IsRetired() {
			continue
		}
		key := string(b.Scope) + "\x00" + strings.ToLower(strings.TrimSpace(b.Content))
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: bullets %s and %s share content in scope %q", ErrSchema, prev, b.ID, b.Scope)
		}
		seen[key] = b.ID
	}
	return nil
}
