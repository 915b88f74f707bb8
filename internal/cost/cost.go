// Package cost tracks oracle spend in an append-only JSONL ledger and
// enforces the per-reflection budget ceiling.
package cost

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/oracle"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
)

// ErrBudgetExceeded is returned by a Meter once the reflection ceiling is
// crossed. Callers stop making oracle calls but keep what they already
// extracted.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Record is one line in the usage ledger.
type Record struct {
	// Timestamp is when the oracle call completed.
	Timestamp time.Time `json:"timestamp"`

	// Command is the CLI command that spent the tokens.
	Command string `json:"command"`

	// Model is the model identifier as reported by the API.
	Model string `json:"model"`

	// InputTokens and OutputTokens are the call's usage.
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`

	// CostUSD is the estimated price of the call.
	CostUSD float64 `json:"costUsd"`
}

// price is USD per million tokens.
type price struct {
	input  float64
	output float64
}

// familyPrices keys are matched as substrings of the model identifier, so
// dated IDs like claude-sonnet-4-20250514 land on their family.
var familyPrices = map[string]price{
	"opus":   {15.0, 75.0},
	"sonnet": {3.0, 15.0},
	"haiku":  {1.0, 5.0},
}

// fallbackPrice assumes mid-tier pricing for unknown models rather than
// counting their spend as zero.
var fallbackPrice = price{3.0, 15.0}

// Estimate prices a call from its token usage.
func Estimate(model string, usage oracle.Usage) float64 {
	p := fallbackPrice
	lower := strings.ToLower(model)
	for family, fp := range familyPrices {
		if strings.Contains(lower, family) {
			p = fp
			break
		}
	}
	return float64(usage.InputTokens)/1e6*p.input + float64(usage.OutputTokens)/1e6*p.output
}

// Ledger appends usage records and answers spend queries.
type Ledger struct {
	path string
}

// NewLedger opens the ledger at path. The file is created on first append.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Add estimates the cost of one call and appends it.
func (l *Ledger) Add(command, model string, usage oracle.Usage, now time.Time) (Record, error) {
	rec := Record{
		Timestamp:    now.UTC(),
		Command:      command,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      Estimate(model, usage),
	}
	if err := storage.AppendJSONL(l.path, rec); err != nil {
		return Record{}, fmt.Errorf("append usage record: %w", err)
	}
	return rec, nil
}

// SpentSince sums ledger spend at or after cutoff. A missing ledger is
// zero spend.
func (l *Ledger) SpentSince(cutoff time.Time) (float64, error) {
	records, _, err := storage.ReadJSONL[Record](l.path)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, rec := range records {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		total += rec.CostUSD
	}
	return total, nil
}

// SpentToday sums spend since UTC midnight.
func (l *Ledger) SpentToday(now time.Time) (float64, error) {
	midnight := now.UTC().Truncate(24 * time.Hour)
	return l.SpentSince(midnight)
}

// Meter charges one command's oracle calls against a ceiling while
// recording them in the ledger. A zero limit means unlimited. Safe for
// concurrent use; batch workers share one meter.
type Meter struct {
	ledger  *Ledger
	command string
	limit   float64

	mu    sync.Mutex
	spent float64
}

// NewMeter creates a meter for a command run.
func NewMeter(ledger *Ledger, command string, limitUSD float64) *Meter {
	return &Meter{ledger: ledger, command: command, limit: limitUSD}
}

// Charge records one call. Once accumulated spend crosses the limit it
// returns ErrBudgetExceeded; the triggering call is still recorded.
func (m *Meter) Charge(model string, usage oracle.Usage, now time.Time) error {
	rec, err := m.ledger.Add(m.command, model, usage, now)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spent += rec.CostUSD
	if m.limit > 0 && m.spent > m.limit {
		return fmt.Errorf("reflection spend $%.4f over limit $%.4f: %w", m.spent, m.limit, ErrBudgetExceeded)
	}
	return nil
}

// Spent reports the meter's accumulated spend.
func (m *Meter) Spent() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spent
}

// Exceeded reports whether accumulated spend has crossed the limit.
func (m *Meter) Exceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit > 0 && m.spent > m.limit
}
