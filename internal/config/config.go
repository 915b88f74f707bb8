// Package config loads cass-memory configuration with explicit precedence,
// from lowest to highest:
// 1. Defaults
// 2. Global config (~/.cass-memory/config.json)
// 3. Repo overlay (<repo>/.cass/config.json or config.yaml; JSON wins)
// 4. Environment variables (CASS_PATH, CASS_MEMORY_VERBOSE, CASS_MEMORY_LLM)
// 5. Command-line flags
//
// The repo overlay may not redirect security-sensitive paths (home, cwd,
// cassPath, playbookPath, diaryDir); those keys are silently discarded
// during merge so a hostile checked-in config cannot reroute reads or
// writes outside the user's own tree.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/cass-memory-system/internal/scoring"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// Config holds all cass-memory configuration.
type Config struct {
	// Provider selects the oracle backend ("anthropic" or "none").
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Model is the oracle model identifier.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// APIKey authenticates oracle calls. Falls back to ANTHROPIC_API_KEY.
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	// CassPath overrides the location of the cass history binary.
	CassPath string `json:"cassPath,omitempty" yaml:"cassPath,omitempty"`

	// Home overrides the global state root (default ~/.cass-memory).
	Home string `json:"home,omitempty" yaml:"home,omitempty"`

	// Cwd overrides the working directory used for repo overlay discovery.
	Cwd string `json:"cwd,omitempty" yaml:"cwd,omitempty"`

	// PlaybookPath overrides the global playbook location.
	PlaybookPath string `json:"playbookPath,omitempty" yaml:"playbookPath,omitempty"`

	// DiaryDir overrides the diary directory.
	DiaryDir string `json:"diaryDir,omitempty" yaml:"diaryDir,omitempty"`

	// MaxBulletsInContext caps the ranked rules returned by context assembly.
	MaxBulletsInContext int `json:"maxBulletsInContext,omitempty" yaml:"maxBulletsInContext,omitempty"`

	// MaxHistoryInContext caps history snippets in assembled context.
	MaxHistoryInContext int `json:"maxHistoryInContext,omitempty" yaml:"maxHistoryInContext,omitempty"`

	// SessionLookbackDays bounds session discovery for reflection.
	SessionLookbackDays int `json:"sessionLookbackDays,omitempty" yaml:"sessionLookbackDays,omitempty"`

	// AgentDirs lists transcript roots scanned when the history tool is
	// unavailable. Entries may start with "~/". Empty means the known
	// agent session roots.
	AgentDirs []string `json:"agentDirs,omitempty" yaml:"agentDirs,omitempty"`

	// PruneHarmfulThreshold is the decayed harmful mass that forces
	// auto-deprecation.
	PruneHarmfulThreshold float64 `json:"pruneHarmfulThreshold,omitempty" yaml:"pruneHarmfulThreshold,omitempty"`

	// DecayHalfLifeDays is the default feedback half-life in days.
	DecayHalfLifeDays float64 `json:"decayHalfLifeDays,omitempty" yaml:"decayHalfLifeDays,omitempty"`

	// StaleAfterDays is the age past which a bullet with no fresh feedback
	// counts as stale. Independent of the decay half-life.
	StaleAfterDays int `json:"staleAfterDays,omitempty" yaml:"staleAfterDays,omitempty"`

	// MaturityPromotionThreshold is the decayed helpful mass required for
	// candidate to become established.
	MaturityPromotionThreshold float64 `json:"maturityPromotionThreshold,omitempty" yaml:"maturityPromotionThreshold,omitempty"`

	// MaturityProvenThreshold is the decayed helpful mass required for
	// established to become proven.
	MaturityProvenThreshold float64 `json:"maturityProvenThreshold,omitempty" yaml:"maturityProvenThreshold,omitempty"`

	// HarmfulMultiplier weights harmful mass in the effective score.
	HarmfulMultiplier float64 `json:"harmfulMultiplier,omitempty" yaml:"harmfulMultiplier,omitempty"`

	// MaxReflectorIterations bounds oracle rounds per reflection.
	MaxReflectorIterations int `json:"maxReflectorIterations,omitempty" yaml:"maxReflectorIterations,omitempty"`

	// JSONOutput switches command output to the JSON envelope.
	JSONOutput bool `json:"jsonOutput,omitempty" yaml:"jsonOutput,omitempty"`

	// Verbose enables diagnostic logging.
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Sanitization controls redaction of history snippets.
	Sanitization SanitizationConfig `json:"sanitization,omitempty" yaml:"sanitization,omitempty"`

	// CrossAgent controls reading other agents' session transcripts.
	CrossAgent CrossAgentConfig `json:"crossAgent,omitempty" yaml:"crossAgent,omitempty"`

	// Scoring overrides individual scoring knobs; unset fields inherit the
	// top-level values above.
	Scoring ScoringConfig `json:"scoring,omitempty" yaml:"scoring,omitempty"`

	// Budget bounds oracle spend.
	Budget BudgetConfig `json:"budget,omitempty" yaml:"budget,omitempty"`

	// LLMMode mirrors CASS_MEMORY_LLM; "none" disables the oracle.
	LLMMode string `json:"-" yaml:"-"`

	// RepoRoot is the discovered repository root, empty when cwd is not
	// inside a repository. Derived, never read from a file.
	RepoRoot string `json:"-" yaml:"-"`
}

// SanitizationConfig controls redaction of text leaving the local machine.
type SanitizationConfig struct {
	// Enabled turns sanitization on. Defaults to true.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ExtraPatterns are additional regexes redacted on top of the built-ins.
	ExtraPatterns []string `json:"extraPatterns,omitempty" yaml:"extraPatterns,omitempty"`

	// AuditLog, when set, receives one JSONL record per redaction pass.
	AuditLog string `json:"auditLog,omitempty" yaml:"auditLog,omitempty"`

	// AuditLevel is "none", "summary" or "full".
	AuditLevel string `json:"auditLevel,omitempty" yaml:"auditLevel,omitempty"`
}

// CrossAgentConfig gates access to transcripts written by other coding
// agents. Disabled until the user records consent.
type CrossAgentConfig struct {
	// Enabled turns cross-agent session discovery on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ConsentGiven records explicit user consent.
	ConsentGiven bool `json:"consentGiven" yaml:"consentGiven"`

	// ConsentDate is when consent was recorded (ISO 8601).
	ConsentDate string `json:"consentDate,omitempty" yaml:"consentDate,omitempty"`

	// Agents lists which agents' transcript trees to scan.
	Agents []string `json:"agents,omitempty" yaml:"agents,omitempty"`

	// AuditLog, when set, receives one JSONL record per cross-agent read.
	AuditLog string `json:"auditLog,omitempty" yaml:"auditLog,omitempty"`
}

// ScoringConfig overrides individual scoring knobs. Zero values inherit
// from the top-level config.
type ScoringConfig struct {
	// DecayHalfLifeDays overrides the top-level half-life.
	DecayHalfLifeDays float64 `json:"decayHalfLifeDays,omitempty" yaml:"decayHalfLifeDays,omitempty"`

	// HarmfulMultiplier overrides the top-level multiplier.
	HarmfulMultiplier float64 `json:"harmfulMultiplier,omitempty" yaml:"harmfulMultiplier,omitempty"`

	// MinFeedbackForActive is the unique-session success count at which the
	// evidence gate auto-accepts a rule as active.
	MinFeedbackForActive int `json:"minFeedbackForActive,omitempty" yaml:"minFeedbackForActive,omitempty"`

	// MinHelpfulForProven overrides the proven threshold.
	MinHelpfulForProven float64 `json:"minHelpfulForProven,omitempty" yaml:"minHelpfulForProven,omitempty"`

	// MaxHarmfulRatioForProven overrides the proven harmful-ratio gate.
	MaxHarmfulRatioForProven float64 `json:"maxHarmfulRatioForProven,omitempty" yaml:"maxHarmfulRatioForProven,omitempty"`
}

// BudgetConfig bounds oracle spend recorded in the cost ledger.
type BudgetConfig struct {
	// MaxUSDPerReflection stops a reflection run that exceeds this spend.
	// Zero means unlimited.
	MaxUSDPerReflection float64 `json:"maxUSDPerReflection,omitempty" yaml:"maxUSDPerReflection,omitempty"`

	// MaxUSDPerDay is advisory; doctor warns when the ledger exceeds it.
	MaxUSDPerDay float64 `json:"maxUSDPerDay,omitempty" yaml:"maxUSDPerDay,omitempty"`
}

// Flags carries command-line overrides into Load.
type Flags struct {
	// ConfigPath overrides the global config file location.
	ConfigPath string

	// Cwd overrides the working directory for overlay discovery.
	Cwd string

	// JSON forces envelope output.
	JSON bool

	// Verbose forces diagnostic logging.
	Verbose bool
}

// Default config values.
const (
	defaultProvider               = "anthropic"
	defaultModel                  = "claude-sonnet-4-5"
	defaultMaxBulletsInContext    = 10
	defaultMaxHistoryInContext    = 10
	defaultSessionLookbackDays    = 30
	defaultMaxReflectorIterations = 3
	defaultMinFeedbackForActive   = 5
	defaultAuditLevel             = "summary"

	// RootDirName is the global state directory under the user home.
	RootDirName = ".cass-memory"

	// OverlayDirName is the per-repository overlay directory.
	OverlayDirName = ".cass"
)

// securityKeys are config keys a repo overlay may never set. Each one
// redirects where the process reads or writes.
var securityKeys = []string{"home", "cwd", "cassPath", "playbookPath", "diaryDir"}

// defaultAgentDirs are the transcript roots scanned by fallback session
// discovery when the config does not name any.
var defaultAgentDirs = []string{"~/.claude/projects", "~/.codex/sessions"}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider:                   defaultProvider,
		Model:                      defaultModel,
		MaxBulletsInContext:        defaultMaxBulletsInContext,
		MaxHistoryInContext:        defaultMaxHistoryInContext,
		SessionLookbackDays:        defaultSessionLookbackDays,
		PruneHarmfulThreshold:      scoring.DefaultPruneHarmfulThreshold,
		DecayHalfLifeDays:          scoring.DefaultDecayHalfLifeDays,
		StaleAfterDays:             scoring.DefaultStaleAfterDays,
		MaturityPromotionThreshold: scoring.DefaultMaturityPromotionThreshold,
		MaturityProvenThreshold:    scoring.DefaultMaturityProvenThreshold,
		HarmfulMultiplier:          scoring.DefaultHarmfulMultiplier,
		MaxReflectorIterations:     defaultMaxReflectorIterations,
		Sanitization: SanitizationConfig{
			Enabled:    true,
			AuditLevel: defaultAuditLevel,
		},
		CrossAgent: CrossAgentConfig{
			Agents: []string{"claude-code"},
		},
		Scoring: ScoringConfig{
			MinFeedbackForActive: defaultMinFeedbackForActive,
		},
	}
}

// Load builds the effective configuration for one invocation.
func Load(flags *Flags) (*Config, error) {
	cfg := Default()

	globalPath := ""
	if flags != nil {
		globalPath = flags.ConfigPath
	}
	if globalPath == "" {
		globalPath = filepath.Join(cfg.ResolveHome(), "config.json")
	}
	if err := applyGlobalFile(cfg, globalPath); err != nil {
		return nil, err
	}

	if flags != nil && flags.Cwd != "" {
		cfg.Cwd = flags.Cwd
	}
	if cfg.Cwd == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Cwd = cwd
		}
	}
	cfg.RepoRoot, _ = FindRepoRoot(cfg.Cwd)

	if err := applyRepoOverlay(cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if flags != nil {
		if flags.JSON {
			cfg.JSONOutput = true
		}
		if flags.Verbose {
			cfg.Verbose = true
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyGlobalFile overlays the global JSON config onto cfg. A missing file
// is fine; a malformed one is not.
func applyGlobalFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w: %v", path, types.ErrIo, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w: %v", path, types.ErrParse, err)
	}
	return nil
}

// overlayPath picks the repo overlay config file. JSON takes precedence
// over YAML when both exist.
func overlayPath(repoRoot string) string {
	jsonPath := filepath.Join(repoRoot, OverlayDirName, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	yamlPath := filepath.Join(repoRoot, OverlayDirName, "config.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	return ""
}

// applyRepoOverlay overlays the repo config, dropping security-sensitive
// keys first.
func applyRepoOverlay(cfg *Config) error {
	if cfg.RepoRoot == "" {
		return nil
	}
	path := overlayPath(cfg.RepoRoot)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read overlay %s: %w: %v", path, types.ErrIo, err)
	}

	raw := map[string]any{}
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return fmt.Errorf("parse overlay %s: %w: %v", path, types.ErrParse, err)
	}

	for _, key := range securityKeys {
		delete(raw, key)
	}

	filtered, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("merge overlay %s: %w: %v", path, types.ErrConfig, err)
	}
	if err := json.Unmarshal(filtered, cfg); err != nil {
		return fmt.Errorf("merge overlay %s: %w: %v", path, types.ErrConfig, err)
	}
	return nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CASS_PATH"); v != "" {
		cfg.CassPath = v
	}
	if v := os.Getenv("CASS_MEMORY_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("CASS_MEMORY_LLM"); v != "" {
		cfg.LLMMode = v
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks value ranges. Violations wrap ErrConfig.
func (c *Config) Validate() error {
	checks := []struct {
		ok  bool
		msg string
	}{
		{c.MaxBulletsInContext >= 0, "maxBulletsInContext must be >= 0"},
		{c.MaxHistoryInContext >= 0, "maxHistoryInContext must be >= 0"},
		{c.SessionLookbackDays >= 0, "sessionLookbackDays must be >= 0"},
		{c.DecayHalfLifeDays > 0, "decayHalfLifeDays must be > 0"},
		{c.StaleAfterDays >= 1, "staleAfterDays must be >= 1"},
		{c.HarmfulMultiplier >= 0, "harmfulMultiplier must be >= 0"},
		{c.PruneHarmfulThreshold >= 0, "pruneHarmfulThreshold must be >= 0"},
		{c.MaxReflectorIterations >= 1, "maxReflectorIterations must be >= 1"},
		{validAuditLevel(c.Sanitization.AuditLevel), "sanitization.auditLevel must be none, summary or full"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%s: %w", chk.msg, types.ErrConfig)
		}
	}
	return nil
}

func validAuditLevel(level string) bool {
	switch level {
	case "", "none", "summary", "full":
		return true
	}
	return false
}

// OracleDisabled reports whether LLM extraction is switched off for this
// invocation (CASS_MEMORY_LLM=none or provider "none").
func (c *Config) OracleDisabled() bool {
	return c.LLMMode == "none" || c.Provider == "none"
}

// ScoringParams resolves the scoring knobs, letting the scoring subsection
// override the top-level values.
func (c *Config) ScoringParams() scoring.Params {
	p := scoring.Params{
		DecayHalfLifeDays:          c.DecayHalfLifeDays,
		HarmfulMultiplier:          c.HarmfulMultiplier,
		MaturityPromotionThreshold: c.MaturityPromotionThreshold,
		MaturityProvenThreshold:    c.MaturityProvenThreshold,
		MaxHarmfulRatioForProven:   0,
		PruneHarmfulThreshold:      c.PruneHarmfulThreshold,
		StaleAfterDays:             c.StaleAfterDays,
	}
	if c.Scoring.DecayHalfLifeDays > 0 {
		p.DecayHalfLifeDays = c.Scoring.DecayHalfLifeDays
	}
	if c.Scoring.HarmfulMultiplier > 0 {
		p.HarmfulMultiplier = c.Scoring.HarmfulMultiplier
	}
	if c.Scoring.MinHelpfulForProven > 0 {
		p.MaturityProvenThreshold = c.Scoring.MinHelpfulForProven
	}
	if c.Scoring.MaxHarmfulRatioForProven > 0 {
		p.MaxHarmfulRatioForProven = c.Scoring.MaxHarmfulRatioForProven
	}
	return p.Resolve()
}

// ResolveHome returns the global state root, honoring the Home override.
func (c *Config) ResolveHome() string {
	if c.Home != "" {
		return c.Home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return RootDirName
	}
	return filepath.Join(home, RootDirName)
}

// AgentSessionDirs returns the transcript roots for fallback session
// discovery with "~/" entries expanded. Roots that cannot be expanded
// are dropped.
func (c *Config) AgentSessionDirs() []string {
	dirs := c.AgentDirs
	if len(dirs) == 0 {
		dirs = defaultAgentDirs
	}
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if strings.HasPrefix(dir, "~/") {
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			dir = filepath.Join(home, dir[2:])
		}
		out = append(out, dir)
	}
	return out
}

// GlobalPlaybookPath returns the global playbook location.
func (c *Config) GlobalPlaybookPath() string {
	if c.PlaybookPath != "" {
		return c.PlaybookPath
	}
	return filepath.Join(c.ResolveHome(), "playbook.yaml")
}

// DiaryDirPath returns the diary directory.
func (c *Config) DiaryDirPath() string {
	if c.DiaryDir != "" {
		return c.DiaryDir
	}
	return filepath.Join(c.ResolveHome(), "diary")
}

// ReflectionsDirPath returns the reflection reports directory.
func (c *Config) ReflectionsDirPath() string {
	return filepath.Join(c.ResolveHome(), "reflections")
}

// ProcessedLogPath returns the processed-session log location.
func (c *Config) ProcessedLogPath() string {
	return filepath.Join(c.ReflectionsDirPath(), "processed.log")
}

// EmbeddingsDirPath returns the embeddings cache directory.
func (c *Config) EmbeddingsDirPath() string {
	return filepath.Join(c.ResolveHome(), "embeddings")
}

// CostDirPath returns the cost ledger directory.
func (c *Config) CostDirPath() string {
	return filepath.Join(c.ResolveHome(), "cost")
}

// UsageLogPath returns the oracle usage ledger location.
func (c *Config) UsageLogPath() string {
	return filepath.Join(c.CostDirPath(), "usage.jsonl")
}

// OutcomesPath returns the global outcomes log location.
func (c *Config) OutcomesPath() string {
	return filepath.Join(c.ResolveHome(), "outcomes.jsonl")
}

// TraumasPath returns the global trauma list location.
func (c *Config) TraumasPath() string {
	return filepath.Join(c.ResolveHome(), "traumas.jsonl")
}

// ToxicLogPath returns the blocked-content log location.
func (c *Config) ToxicLogPath() string {
	return filepath.Join(c.ResolveHome(), "toxic_bullets.log")
}

// RepoPlaybookPath returns the repo overlay playbook, or "" outside a repo.
func (c *Config) RepoPlaybookPath() string {
	if c.RepoRoot == "" {
		return ""
	}
	return filepath.Join(c.RepoRoot, OverlayDirName, "playbook.yaml")
}

// RepoTraumasPath returns the repo overlay trauma list, or "" outside a repo.
func (c *Config) RepoTraumasPath() string {
	if c.RepoRoot == "" {
		return ""
	}
	return filepath.Join(c.RepoRoot, OverlayDirName, "traumas.jsonl")
}

// FindRepoRoot walks upward from start looking for a .git entry (directory
// or worktree file). Returns the containing directory and true on a hit.
func FindRepoRoot(start string) (string, bool) {
	dir := start
	if dir == "" {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
