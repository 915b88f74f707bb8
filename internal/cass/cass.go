// Package cass fronts the optional external history indexer. When the
// binary is missing or fails, every operation degrades: search reports
// empty, export parses the session file directly. Nothing in this package
// is fatal to a caller.
package cass

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// Exit codes surfaced by the cass binary.
const (
	ExitSuccess             = 0
	ExitUsageError          = 2
	ExitIndexMissing        = 3
	ExitNotFound            = 4
	ExitIdempotencyMismatch = 5
	ExitUnknown             = 9
	ExitTimeout             = 10
)

// Default limits for subprocess calls.
const (
	DefaultSearchTimeout = 15 * time.Second
	DefaultExportTimeout = 30 * time.Second
	probeTimeout         = 2 * time.Second

	// maxOutputBytes bounds subprocess stdout so a runaway export cannot
	// exhaust memory.
	maxOutputBytes = 10 * 1024 * 1024
)

// Hit is one history search result. Field names follow the binary's
// snake_case output.
type Hit struct {
	// SourcePath is the session file the snippet came from.
	SourcePath string `json:"source_path"`

	// LineNumber is the 1-based line within the session file.
	LineNumber int `json:"line_number,omitempty"`

	// Snippet is the matching text.
	Snippet string `json:"snippet"`

	// Agent is the coding assistant that produced the session.
	Agent string `json:"agent,omitempty"`

	// Score is the indexer's relevance score.
	Score float64 `json:"score,omitempty"`

	// Timestamp is the session time as reported by the indexer.
	Timestamp string `json:"timestamp,omitempty"`
}

// SearchOptions scope a history query.
type SearchOptions struct {
	// Limit caps the number of hits.
	Limit int

	// Days bounds results to sessions newer than now minus days.
	Days int

	// Agents filters by producing agent.
	Agents []string

	// Workspace filters by workspace path.
	Workspace string

	// Fields selects which output fields the binary returns.
	Fields []string

	// Timeout overrides the default search timeout.
	Timeout time.Duration
}

// Degradation tells a caller how to proceed without the history tool.
type Degradation struct {
	// CanContinue is always true: the playbook alone is a valid context.
	CanContinue bool `json:"canContinue"`

	// FallbackMode names the degraded mode.
	FallbackMode string `json:"fallbackMode"`

	// Message is a human-readable notice.
	Message string `json:"message"`
}

// HandleUnavailable describes the playbook-only degradation.
func HandleUnavailable() Degradation {
	return Degradation{
		CanContinue:  true,
		FallbackMode: "playbook-only",
		Message:      "history tool unavailable; continuing with playbook-only context",
	}
}

// Runner executes the external binary. Swapped for a fake in tests.
type Runner interface {
	// Run executes name with args, returning stdout, the exit code, and an
	// execution error. A non-zero exit is reported via the code, not err.
	Run(ctx context.Context, name string, args ...string) (stdout []byte, exitCode int, err error)
}

// execRunner is the production Runner.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &boundedWriter{w: &stdout, remaining: maxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stderr = &boundedWriter{w: &stderr, remaining: 64 * 1024}

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stdout.Bytes(), ExitTimeout, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, ExitUnknown, err
	}
	return stdout.Bytes(), ExitSuccess, nil
}

// boundedWriter stops accepting bytes past its budget. The overflow is
// dropped, not fatal; a truncated transcript beats an OOM.
type boundedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	if b.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > b.remaining {
		_, _ = b.w.Write(p[:b.remaining])
		b.remaining = 0
		return len(p), nil
	}
	b.remaining -= len(p)
	return b.w.Write(p)
}

// Adapter is the history tool client.
type Adapter struct {
	binaryPath string
	runner     Runner
	sanitizer  *Sanitizer
	log        zerolog.Logger

	searchTimeout time.Duration
	exportTimeout time.Duration

	probeOnce sync.Once
	available bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRunner substitutes the subprocess runner, for tests.
func WithRunner(r Runner) Option {
	return func(a *Adapter) {
		a.runner = r
	}
}

// WithLogger routes degradation diagnostics to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// WithBinaryPath fixes the binary location, bypassing PATH lookup.
func WithBinaryPath(path string) Option {
	return func(a *Adapter) {
		a.binaryPath = path
	}
}

// New builds an adapter from configuration. The binary is resolved from
// config.cassPath, then PATH.
func New(cfg *config.Config, opts ...Option) (*Adapter, error) {
	san, err := NewSanitizer(cfg.Sanitization)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		runner:        execRunner{},
		sanitizer:     san,
		log:           zerolog.Nop(),
		searchTimeout: DefaultSearchTimeout,
		exportTimeout: DefaultExportTimeout,
	}

	a.binaryPath = cfg.CassPath
	if a.binaryPath == "" {
		if found, err := exec.LookPath("cass"); err == nil {
			a.binaryPath = found
		}
	}

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Sanitizer exposes the adapter's sanitizer for callers that redact text
// from other sources.
func (a *Adapter) Sanitizer() *Sanitizer {
	return a.sanitizer
}

// Available probes the binary once per adapter with a lightweight call.
// Safe for concurrent use; batch workers share one adapter.
func (a *Adapter) Available(ctx context.Context) bool {
	a.probeOnce.Do(func() {
		if a.binaryPath == "" {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		_, code, err := a.runner.Run(probeCtx, a.binaryPath, "--version")
		a.available = err == nil && code == ExitSuccess
		if !a.available {
			a.log.Debug().Str("binary", a.binaryPath).Int("exit", code).Err(err).
				Msg("history tool probe failed")
		}
	})
	return a.available
}

// classifyExit maps a non-zero exit code to a taxonomy error. NOT_FOUND is
// not an error: it means zero results.
func classifyExit(code int) error {
	switch code {
	case ExitSuccess, ExitNotFound:
		return nil
	case ExitUsageError:
		return fmt.Errorf("history tool rejected the invocation (exit %d): %w", code, types.ErrToolFailure)
	case ExitIndexMissing:
		return fmt.Errorf("history index missing (exit %d): %w", code, types.ErrToolFailure)
	case ExitIdempotencyMismatch:
		return fmt.Errorf("history index idempotency mismatch (exit %d): %w", code, types.ErrToolFailure)
	case ExitTimeout:
		return fmt.Errorf("history tool timed out (exit %d): %w", code, types.ErrToolFailure)
	default:
		return fmt.Errorf("history tool failed (exit %d): %w", code, types.ErrToolFailure)
	}
}

// searchArgs builds the argv for a search call.
func searchArgs(query string, opts SearchOptions) []string {
	args := []string{"search", query, "--json"}
	if opts.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(opts.Limit))
	}
	if opts.Days > 0 {
		args = append(args, "--days", strconv.Itoa(opts.Days))
	}
	if opts.Workspace != "" {
		args = append(args, "--workspace", opts.Workspace)
	}
	for _, agent := range opts.Agents {
		args = append(args, "--agent", agent)
	}
	if len(opts.Fields) > 0 {
		args = append(args, "--fields", strings.Join(opts.Fields, ","))
	}
	return args
}

// Search queries the history index. Hits have their snippets sanitized.
func (a *Adapter) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	if !a.Available(ctx) {
		return nil, fmt.Errorf("history tool not found: %w", types.ErrToolUnavailable)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.searchTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, code, err := a.runner.Run(callCtx, a.binaryPath, searchArgs(query, opts)...)
	if err != nil {
		return nil, fmt.Errorf("run history search: %w: %v", types.ErrToolFailure, err)
	}
	if err := classifyExit(code); err != nil {
		return nil, err
	}
	if code == ExitNotFound {
		return nil, nil
	}

	hits, err := decodeHits(stdout)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Snippet = a.sanitizer.Sanitize(hits[i].Snippet)
	}
	return hits, nil
}

// decodeHits accepts either a bare array or a {hits: [...]} wrapper.
func decodeHits(data []byte) ([]Hit, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var hits []Hit
	if err := json.Unmarshal(trimmed, &hits); err == nil {
		return hits, nil
	}

	var wrapper struct {
		Hits []Hit `json:"hits"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("parse search output: %w: %v", types.ErrParse, err)
	}
	return wrapper.Hits, nil
}

// SafeSearch converts every failure into an empty result. Callers that can
// live without history use this.
func (a *Adapter) SafeSearch(ctx context.Context, query string, opts SearchOptions) []Hit {
	hits, err := a.Search(ctx, query, opts)
	if err != nil {
		a.log.Debug().Err(err).Str("query", query).Msg("history search degraded to empty")
		return nil
	}
	return hits
}

// Export renders a session transcript as text, markdown or json. When the
// binary is unavailable or fails, the session file is parsed directly. The
// result is sanitized either way.
func (a *Adapter) Export(ctx context.Context, sessionPath, format string) (string, error) {
	if a.Available(ctx) {
		callCtx, cancel := context.WithTimeout(ctx, a.exportTimeout)
		stdout, code, err := a.runner.Run(callCtx, a.binaryPath, "export", sessionPath, "--format", format)
		cancel()

		if err == nil && classifyExit(code) == nil && code != ExitNotFound {
			return a.sanitizer.Sanitize(string(stdout)), nil
		}
		a.log.Debug().Str("session", sessionPath).Int("exit", code).Err(err).
			Msg("binary export failed, falling back to direct parse")
	}

	text, err := ParseSessionFile(sessionPath)
	if err != nil {
		return "", err
	}
	return a.sanitizer.Sanitize(text), nil
}
