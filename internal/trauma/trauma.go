// Package trauma implements the command safety guard.
//
// A trauma entry is a regular expression for a command that once caused
// serious damage. The guard unions the active entries from the global
// list and the repo overlay and denies any command that matches one.
// Every failure mode fails open: an unreadable list or an invalid
// pattern loses protection but never blocks work.
package trauma

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// Decision values.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Decision is the guard's answer for one command. The field names are
// the hook wire contract, so agents in any language can consume it.
type Decision struct {
	// Decision is "allow" or "deny".
	Decision string `json:"decision"`

	// Reason explains a denial in one line.
	Reason string `json:"reason,omitempty"`

	// Pattern is the regular expression that matched, on deny.
	Pattern string `json:"pattern,omitempty"`

	// EntryID identifies the trauma entry behind a denial.
	EntryID string `json:"entryId,omitempty"`
}

// Denied reports whether the decision blocks the command.
func (d Decision) Denied() bool {
	return d.Decision == DecisionDeny
}

// Spec describes a new trauma entry to record.
type Spec struct {
	// Pattern is the regular expression to ban. Compiled before persisting.
	Pattern string

	// Severity grades the ban. Empty defaults to CRITICAL.
	Severity types.TraumaSeverity

	// Scope labels which tier the entry belongs to.
	Scope types.Scope

	// SessionPath optionally points at the session where the damage happened.
	SessionPath string

	// HumanMessage is the user's own words about the incident.
	HumanMessage string
}

// Guard checks command strings against the persisted trauma patterns.
type Guard struct {
	store *storage.Store
	log   zerolog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Guard) {
		g.log = log
	}
}

// New returns a guard backed by the store's trauma lists.
func New(store *storage.Store, opts ...Option) *Guard {
	g := &Guard{
		store: store,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type compiled struct {
	entry types.TraumaEntry
	re    *regexp.Regexp
}

// Check evaluates one command string against every active pattern from
// both tiers. The first match denies; no match allows. Patterns are
// matched case-insensitively against the raw command text.
func (g *Guard) Check(command string) Decision {
	for _, p := range g.activePatterns() {
		if !p.re.MatchString(command) {
			continue
		}
		g.log.Warn().
			Str("id", p.entry.ID).
			Str("pattern", p.entry.Pattern).
			Msg("command blocked by trauma guard")
		return Decision{
			Decision: DecisionDeny,
			Reason:   denialReason(p.entry),
			Pattern:  p.entry.Pattern,
			EntryID:  p.entry.ID,
		}
	}
	return Decision{Decision: DecisionAllow}
}

// Record validates and persists a new active entry in the tier at path.
func (g *Guard) Record(path string, spec Spec, now time.Time) (*types.TraumaEntry, error) {
	pattern := strings.TrimSpace(spec.Pattern)
	if pattern == "" {
		return nil, fmt.Errorf("record trauma: empty pattern: %w", types.ErrValidation)
	}
	if _, err := compilePattern(pattern); err != nil {
		return nil, fmt.Errorf("record trauma: %w: %v", types.ErrValidation, err)
	}
	severity := spec.Severity
	if severity == "" {
		severity = types.SeverityCritical
	}
	entry := &types.TraumaEntry{
		ID:       types.NewTraumaID(now),
		Severity: severity,
		Pattern:  pattern,
		Scope:    spec.Scope,
		Status:   types.TraumaActive,
		TriggerEvent: types.TraumaTrigger{
			SessionPath:  spec.SessionPath,
			Timestamp:    now,
			HumanMessage: spec.HumanMessage,
		},
		CreatedAt: now,
	}
	if err := g.store.AppendTrauma(path, entry); err != nil {
		return nil, err
	}
	g.log.Info().Str("id", entry.ID).Str("pattern", pattern).Msg("trauma recorded")
	return entry, nil
}

// Heal lifts the ban with the given id. Both tiers are tried; reports
// whether an active entry was found in either.
func (g *Guard) Heal(id string) (bool, error) {
	for _, path := range g.tierPaths() {
		found, err := g.store.HealTrauma(path, id)
		if err != nil {
			return false, err
		}
		if found {
			g.log.Info().Str("id", id).Msg("trauma healed")
			return true, nil
		}
	}
	return false, nil
}

// List returns the collapsed entries from both tiers, global tier first.
// Healed entries are included for audit.
func (g *Guard) List() []types.TraumaEntry {
	var out []types.TraumaEntry
	for _, path := range g.tierPaths() {
		out = append(out, g.store.LoadTraumas(path)...)
	}
	return out
}

func (g *Guard) tierPaths() []string {
	paths := []string{g.store.Config().TraumasPath()}
	if repo := g.store.Config().RepoTraumasPath(); repo != "" {
		paths = append(paths, repo)
	}
	return paths
}

// activePatterns compiles the live patterns from both tiers. Entries
// whose regex no longer compiles are skipped, keeping the guard open.
func (g *Guard) activePatterns() []compiled {
	var out []compiled
	for _, path := range g.tierPaths() {
		for _, entry := range g.store.LoadTraumas(path) {
			if entry.Status != types.TraumaActive {
				continue
			}
			re, err := compilePattern(entry.Pattern)
			if err != nil {
				g.log.Warn().
					Str("id", entry.ID).
					Str("pattern", entry.Pattern).
					Err(err).
					Msg("invalid trauma pattern skipped")
				continue
			}
			out = append(out, compiled{entry: entry, re: re})
		}
	}
	return out
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

func denialReason(e types.TraumaEntry) string {
	reason := fmt.Sprintf("command matches %s trauma pattern", e.Severity)
	if msg := strings.TrimSpace(e.TriggerEvent.HumanMessage); msg != "" {
		reason += ": " + msg
	}
	return reason
}
