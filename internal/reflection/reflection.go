// Package reflection runs the learning pipeline: discover unprocessed
// sessions, export and summarize each one, iterate the extraction oracle
// into playbook deltas, validate them against recorded history, and merge
// the survivors into the playbook under the file lock.
package reflection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/cass"
	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/cost"
	"github.com/Dicklesworthstone/cass-memory-system/internal/curation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/oracle"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
	"github.com/Dicklesworthstone/cass-memory-system/internal/validation"
	"github.com/Dicklesworthstone/cass-memory-system/internal/worker"
)

const (
	// maxDeltasPerReflection caps one session's delta haul.
	maxDeltasPerReflection = 20

	// defaultMaxSessionsPerRun bounds discovery when no cap is given.
	defaultMaxSessionsPerRun = 5

	// sessionConcurrency bounds the parallel export+summarize phase.
	// The playbook merge afterwards is strictly serial under the lock.
	sessionConcurrency = 3

	// discoverySearchLimit is how many hits the broad discovery query
	// may return; unique source paths are extracted from them.
	discoverySearchLimit = 200
)

// Pipeline wires the reflection stages together.
type Pipeline struct {
	cfg     *config.Config
	store   *storage.Store
	oracle  oracle.Extractor
	adapter *cass.Adapter
	meter   *cost.Meter
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the diagnostic logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithMeter attaches a budget meter; oracle usage is charged against it
// and the run stops extracting once the ceiling is crossed.
func WithMeter(m *cost.Meter) Option {
	return func(p *Pipeline) {
		p.meter = m
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New builds a Pipeline.
func New(cfg *config.Config, store *storage.Store, ex oracle.Extractor, adapter *cass.Adapter, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		oracle:  ex,
		adapter: adapter,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunOptions control one reflect invocation.
type RunOptions struct {
	// SessionPath processes one explicit session, bypassing discovery.
	SessionPath string

	// Days overrides the discovery lookback window.
	Days int

	// MaxSessions caps how many discovered sessions to process.
	MaxSessions int

	// DryRun extracts and validates but writes nothing: no diary, no
	// playbook change, no processed-log entry, no report.
	DryRun bool
}

// SessionResult reports one session's trip through the pipeline.
type SessionResult struct {
	SessionPath string `json:"sessionPath"`
	DiaryID     string `json:"diaryId,omitempty"`
	Deltas      int    `json:"deltas"`
	Iterations  int    `json:"iterations"`
	Gated       int    `json:"gated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Report is the outcome of one reflect run, persisted under the
// reflections directory for audit.
type Report struct {
	Timestamp  time.Time       `json:"timestamp"`
	DryRun     bool            `json:"dryRun,omitempty"`
	Sessions   []SessionResult `json:"sessions"`
	Applied    int             `json:"deltasApplied"`
	Skipped    int             `json:"deltasSkipped"`
	Inversions int             `json:"inversions"`
	CostUSD    float64         `json:"costUSD"`
	DurationMS int64           `json:"durationMs"`
}

// Run executes the principal pipeline. Per-session failures are recorded
// in the report, never fatal; the run errors only when discovery or the
// final locked merge does.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	start := p.now()
	report := &Report{Timestamp: start.UTC(), DryRun: opts.DryRun}

	var sessions []string
	if opts.SessionPath != "" {
		sessions = []string{opts.SessionPath}
	} else {
		var err error
		sessions, err = p.DiscoverSessions(ctx, opts.Days, opts.MaxSessions)
		if err != nil {
			return nil, err
		}
	}
	if len(sessions) == 0 {
		p.log.Info().Msg("no unprocessed sessions in the lookback window")
		p.finish(report, start, opts.DryRun)
		return report, nil
	}

	merged, err := p.store.LoadMergedPlaybook()
	if err != nil {
		return nil, err
	}

	// Read-only phase fans out; every playbook write below is serial.
	pool := worker.NewPool[sessionOutcome](sessionConcurrency)
	outcomes := pool.Process(sessions, func(path string) (sessionOutcome, error) {
		return p.processSession(ctx, path, merged, opts.DryRun)
	})

	var all []types.PlaybookDelta
	for _, r := range outcomes {
		sr := SessionResult{
			SessionPath: sessions[r.Index],
			DiaryID:     r.Value.diaryID,
			Deltas:      len(r.Value.deltas),
			Iterations:  r.Value.iterations,
			Gated:       r.Value.gated,
		}
		if r.Err != nil {
			sr.Error = r.Err.Error()
			p.log.Warn().Str("session", sessions[r.Index]).Err(r.Err).Msg("session not processed")
		}
		report.Sessions = append(report.Sessions, sr)
		all = append(all, r.Value.deltas...)
	}

	if opts.DryRun {
		p.finish(report, start, true)
		return report, nil
	}

	if len(all) > 0 {
		toxic, err := p.store.ToxicHashes()
		if err != nil {
			p.log.Warn().Err(err).Msg("toxic list unreadable, applying without it")
		}
		curator := curation.New(p.cfg.ScoringParams(),
			curation.WithToxicHashes(toxic),
			curation.WithLogger(p.log),
			curation.WithClock(p.now),
		)

		var res curation.Result
		if _, err := p.store.MutatePlaybook(p.cfg.GlobalPlaybookPath(), "reflect", func(pb *types.Playbook) error {
			res = curator.Curate(pb, all)
			*pb = *res.Playbook
			return nil
		}); err != nil {
			return nil, err
		}
		report.Applied = res.Applied
		report.Skipped = res.Skipped
		report.Inversions = len(res.Inversions)
		p.recordToxic(res, toxic)
	}

	p.markProcessed(report)
	p.finish(report, start, false)
	return report, nil
}

type sessionOutcome struct {
	diaryID    string
	deltas     []types.PlaybookDelta
	iterations int
	gated      int
}

// processSession runs the read-only half of the pipeline for one
// session: export, diary, related history, extraction, validation.
func (p *Pipeline) processSession(ctx context.Context, sessionPath string, merged *types.Playbook, dryRun bool) (sessionOutcome, error) {
	var out sessionOutcome

	if p.meter != nil && p.meter.Exceeded() {
		return out, fmt.Errorf("session skipped: %w", cost.ErrBudgetExceeded)
	}

	content, err := p.adapter.Export(ctx, sessionPath, "text")
	if err != nil {
		return out, fmt.Errorf("export session: %w", err)
	}

	diary, err := p.GenerateDiary(ctx, sessionPath, content)
	if err != nil {
		return out, fmt.Errorf("generate diary: %w", err)
	}
	if !dryRun {
		if _, err := p.store.SaveDiary(diary); err != nil {
			return out, err
		}
	}
	out.diaryID = diary.ID

	hits := p.relatedHistory(ctx, diary)
	deltas, iterations := p.ExtractDeltas(ctx, diary, merged, hits)
	out.iterations = iterations

	out.deltas, out.gated = p.ValidateDeltas(ctx, deltas)
	return out, nil
}

// GenerateDiary asks the oracle to summarize one exported session.
func (p *Pipeline) GenerateDiary(ctx context.Context, sessionPath, content string) (*types.DiaryEntry, error) {
	res, err := p.oracle.Extract(ctx, oracle.Request{
		System: diarySystemPrompt,
		Prompt: diaryPrompt(sessionPath, content),
	})
	if err != nil {
		return nil, err
	}
	p.charge(res)

	var entry types.DiaryEntry
	if err := json.Unmarshal(res.JSON, &entry); err != nil {
		return nil, fmt.Errorf("diary payload: %w: %v", types.ErrParse, err)
	}
	now := p.now().UTC()
	entry.ID = types.NewDiaryID(now)
	entry.SessionPath = sessionPath
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	return &entry, nil
}

// ExtractDeltas iterates the extraction oracle over the diary until it
// has nothing new, the delta cap is hit, the iteration cap is hit, or
// the budget runs out. Oracle failures are not fatal: the deltas
// gathered so far are returned.
func (p *Pipeline) ExtractDeltas(ctx context.Context, diary *types.DiaryEntry, pb *types.Playbook, hits []cass.Hit) ([]types.PlaybookDelta, int) {
	now := p.now().UTC()
	playbookText := FormatPlaybook(pb, p.cfg.ScoringParams(), now)
	diaryText := FormatDiary(diary)
	historyText := FormatHistory(hits)

	maxIter := p.cfg.MaxReflectorIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	seen := make(map[string]bool)
	var deltas []types.PlaybookDelta
	iterations := 0

	for i := 0; i < maxIter; i++ {
		iterations++
		res, err := p.oracle.Extract(ctx, oracle.Request{
			System: extractionSystemPrompt,
			Prompt: extractionPrompt(diaryText, playbookText, historyText, deltas),
		})
		if err != nil {
			p.log.Warn().Err(err).Int("iteration", iterations).
				Msg("extraction failed, keeping deltas gathered so far")
			break
		}
		withinBudget := p.charge(res)

		var payload struct {
			Deltas []types.PlaybookDelta `json:"deltas"`
		}
		if err := json.Unmarshal(res.JSON, &payload); err != nil {
			p.log.Warn().Err(err).Msg("extraction payload malformed, keeping deltas gathered so far")
			break
		}
		for j := range payload.Deltas {
			if payload.Deltas[j].SourceSession == "" {
				payload.Deltas[j].SourceSession = diary.SessionPath
			}
		}

		fresh := types.DedupDeltas(payload.Deltas, seen)
		deltas = append(deltas, fresh...)

		if len(deltas) >= maxDeltasPerReflection {
			deltas = deltas[:maxDeltasPerReflection]
			break
		}
		if len(fresh) == 0 || !withinBudget {
			break
		}
	}
	return deltas, iterations
}

// ValidateDeltas checks add deltas against recorded history. Adds that
// fail the evidence gate are dropped; survivors inherit the gate's
// suggested state. When the gate cannot auto-accept, the oracle gets the
// tie break; an unreachable oracle leaves the rule a draft.
func (p *Pipeline) ValidateDeltas(ctx context.Context, deltas []types.PlaybookDelta) ([]types.PlaybookDelta, int) {
	kept := make([]types.PlaybookDelta, 0, len(deltas))
	dropped := 0
	for _, d := range deltas {
		if d.Type != types.DeltaAdd || d.Bullet == nil {
			kept = append(kept, d)
			continue
		}

		gate := validation.EvidenceCountGate(ctx, d.Bullet.Content, p.cfg, p.adapter)
		if !gate.Passed {
			dropped++
			p.log.Info().Str("content", clip(d.Bullet.Content, 80)).Str("reason", gate.Reason).
				Msg("rule rejected by evidence gate")
			continue
		}
		d.Bullet.State = types.BulletState(gate.SuggestedState)

		if gate.SuggestedState != string(types.StateActive) {
			if verdict, ok := p.judgeRule(ctx, d.Bullet.Content, gate); ok && !verdict.Valid {
				dropped++
				p.log.Info().Str("content", clip(d.Bullet.Content, 80)).Str("reasoning", verdict.Reasoning).
					Msg("rule rejected by validator")
				continue
			}
		}
		kept = append(kept, d)
	}
	return kept, dropped
}

// judgeRule asks the oracle for a verdict on one proposed rule. ok is
// false when no answer could be had; callers keep the rule as a draft.
func (p *Pipeline) judgeRule(ctx context.Context, content string, gate validation.GateResult) (validation.NormalizedVerdict, bool) {
	if p.meter != nil && p.meter.Exceeded() {
		return validation.NormalizedVerdict{}, false
	}
	res, err := p.oracle.Extract(ctx, oracle.Request{
		System:    validatorSystemPrompt,
		Prompt:    validatorPrompt(content, gate),
		MaxTokens: 512,
	})
	if err != nil {
		p.log.Debug().Err(err).Msg("validator unavailable, keeping rule as draft")
		return validation.NormalizedVerdict{}, false
	}
	p.charge(res)

	var v validation.Verdict
	if err := json.Unmarshal(res.JSON, &v); err != nil {
		return validation.NormalizedVerdict{}, false
	}
	return validation.NormalizeVerdict(v), true
}

// DiscoverSessions finds unprocessed candidate sessions in the lookback
// window, newest first. The history tool provides the candidates when
// available; otherwise the configured agent transcript roots are
// scanned directly.
func (p *Pipeline) DiscoverSessions(ctx context.Context, days, limit int) ([]string, error) {
	if days <= 0 {
		days = p.cfg.SessionLookbackDays
	}
	if limit <= 0 {
		limit = defaultMaxSessionsPerRun
	}

	processed, err := p.store.ProcessedSessions()
	if err != nil {
		return nil, err
	}

	var candidates []string
	if p.adapter.Available(ctx) {
		candidates = p.discoverViaHistory(ctx, days)
	}
	if len(candidates) == 0 {
		candidates = p.scanAgentDirs(days)
	}

	var out []string
	for _, path := range candidates {
		if _, done := processed[path]; done {
			continue
		}
		out = append(out, path)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// discoverViaHistory turns a broad history query into unique session
// paths, preserving the tool's ranking.
func (p *Pipeline) discoverViaHistory(ctx context.Context, days int) []string {
	hits := p.adapter.SafeSearch(ctx, "*", cass.SearchOptions{
		Days:  days,
		Limit: discoverySearchLimit,
	})
	seen := make(map[string]bool, len(hits))
	var out []string
	for _, h := range hits {
		if h.SourcePath == "" || seen[h.SourcePath] {
			continue
		}
		seen[h.SourcePath] = true
		out = append(out, h.SourcePath)
	}
	return out
}

// scanAgentDirs walks the configured transcript roots for session files
// modified inside the window, newest first. Unreadable roots are
// skipped.
func (p *Pipeline) scanAgentDirs(days int) []string {
	cutoff := p.now().Add(-time.Duration(days) * 24 * time.Hour)

	type candidate struct {
		path  string
		mtime time.Time
	}
	var found []candidate
	for _, root := range p.cfg.AgentSessionDirs() {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".jsonl", ".json", ".md":
			default:
				return nil
			}
			info, err := d.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				return nil
			}
			found = append(found, candidate{path: path, mtime: info.ModTime()})
			return nil
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mtime.After(found[j].mtime) })

	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.path
	}
	return out
}

// relatedHistory pulls a few snippets matching the session's strongest
// search anchor. Best effort.
func (p *Pipeline) relatedHistory(ctx context.Context, diary *types.DiaryEntry) []cass.Hit {
	query := ""
	switch {
	case len(diary.SearchAnchors) > 0:
		query = diary.SearchAnchors[0]
	case len(diary.Tags) > 0:
		query = diary.Tags[0]
	}
	if query == "" {
		return nil
	}
	return p.adapter.SafeSearch(ctx, query, cass.SearchOptions{Limit: maxHistorySnippets})
}

// charge records oracle usage against the run budget. Returns false once
// the ceiling is crossed; ledger write failures never stop a run.
func (p *Pipeline) charge(res *oracle.Result) bool {
	if p.meter == nil || res == nil {
		return true
	}
	err := p.meter.Charge(res.Model, res.Usage, p.now())
	switch {
	case err == nil:
		return true
	case errors.Is(err, cost.ErrBudgetExceeded):
		p.log.Warn().Float64("spentUSD", p.meter.Spent()).Msg("reflection budget exhausted")
		return false
	default:
		p.log.Warn().Err(err).Msg("usage ledger append failed")
		return true
	}
}

// recordToxic blocks content that earned an inversion this run, plus
// content the playbook has now retired three or more times.
func (p *Pipeline) recordToxic(res curation.Result, already map[string]bool) {
	if already == nil {
		already = make(map[string]bool)
	}
	add := func(content, reason string) {
		h := storage.ToxicHash(content)
		if already[h] {
			return
		}
		if err := p.store.AppendToxic(content, reason); err != nil {
			p.log.Warn().Err(err).Msg("toxic log append failed")
			return
		}
		already[h] = true
	}

	for _, anti := range res.Inversions {
		for i := range res.Playbook.Bullets {
			b := &res.Playbook.Bullets[i]
			if b.ReplacedBy == anti.ID && b.IsRetired() {
				add(b.Content, "inverted to anti-pattern")
			}
		}
	}

	retiredCount := make(map[string]int)
	byContent := make(map[string]string)
	for _, b := range res.Playbook.Bullets {
		if !b.IsRetired() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(b.Content))
		retiredCount[key]++
		byContent[key] = b.Content
	}
	for key, n := range retiredCount {
		if n >= 3 {
			add(byContent[key], "deprecated three times")
		}
	}
}

// markProcessed appends processed-log entries for every session that
// made it through the pipeline.
func (p *Pipeline) markProcessed(report *Report) {
	now := p.now().UTC()
	for _, sr := range report.Sessions {
		if sr.Error != "" {
			continue
		}
		entry := types.ProcessedEntry{
			SessionPath:     sr.SessionPath,
			ProcessedAt:     now,
			DiaryID:         sr.DiaryID,
			DeltasGenerated: sr.Deltas,
		}
		if err := p.store.MarkProcessed(entry); err != nil {
			p.log.Warn().Str("session", sr.SessionPath).Err(err).Msg("processed log append failed")
		}
	}
}

// finish stamps totals and, outside dry runs, writes the report file.
func (p *Pipeline) finish(report *Report, start time.Time, dryRun bool) {
	if p.meter != nil {
		report.CostUSD = p.meter.Spent()
	}
	report.DurationMS = p.now().Sub(start).Milliseconds()
	if dryRun {
		return
	}

	path := p.store.ReflectionReportPath(start)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		p.log.Warn().Err(err).Msg("report marshal failed")
		return
	}
	if err := storage.AtomicWrite(path, data); err != nil {
		p.log.Warn().Str("path", path).Err(err).Msg("report write failed")
	}
}
