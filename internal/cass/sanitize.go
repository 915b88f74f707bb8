package cass

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/storage"
	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// rule is one redaction pattern. Replacements are bracketed tokens whose
// characters never match any rule's value class, which keeps Sanitize
// idempotent: sanitize(sanitize(x)) == sanitize(x).
type rule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// builtinRules covers the credential shapes that show up in agent
// transcripts. Specific token formats run before the generic
// key-value rule so each secret gets its most precise label.
var builtinRules = []rule{
	{"aws-access-key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_ACCESS_KEY]"},
	{"aws-secret-key", regexp.MustCompile(`(?i)(aws_?secret(?:_access)?_?key)(["']?\s*[:=]\s*["']?)[A-Za-z0-9/+=]{30,}`), "${1}${2}[AWS_SECRET_KEY]"},
	{"anthropic-key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{8,}`), "[ANTHROPIC_API_KEY]"},
	{"openai-key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "[API_KEY]"},
	{"github-token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`), "[GITHUB_TOKEN]"},
	{"slack-token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9\-]{10,}`), "[SLACK_TOKEN]"},
	{"bearer-token", regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]{16,}=*`), "${1}[TOKEN]"},
	{"private-key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), "[PRIVATE_KEY]"},
	{"generic-secret", regexp.MustCompile(`(?i)(api[_-]?key|access[_-]?token|auth[_-]?token|secret|password|passwd)(["']?\s*[:=]\s*["']?)[A-Za-z0-9\-._/+]{8,}`), "${1}${2}[REDACTED]"},
}

// auditRecord is one line in the sanitization audit log.
type auditRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Redactions int            `json:"redactions"`
	Rules      map[string]int `json:"rules,omitempty"`
}

// Sanitizer strips credentials from text before it reaches disk or an
// oracle prompt.
type Sanitizer struct {
	enabled    bool
	rules      []rule
	auditLog   string
	auditLevel string
}

// NewSanitizer compiles the builtin ruleset plus any extra patterns from
// configuration. Extra patterns are redacted as [REDACTED].
func NewSanitizer(cfg config.SanitizationConfig) (*Sanitizer, error) {
	s := &Sanitizer{
		enabled:    cfg.Enabled,
		rules:      builtinRules,
		auditLog:   cfg.AuditLog,
		auditLevel: cfg.AuditLevel,
	}
	for i, pattern := range cfg.ExtraPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitization.extraPatterns[%d] %q: %w: %v", i, pattern, types.ErrConfig, err)
		}
		s.rules = append(s.rules, rule{
			name: fmt.Sprintf("extra-%d", i),
			re:   re,
			repl: "[REDACTED]",
		})
	}
	return s, nil
}

// Sanitize applies every rule and records an audit entry when anything was
// redacted. With sanitization disabled the text passes through untouched.
func (s *Sanitizer) Sanitize(text string) string {
	if !s.enabled || text == "" {
		return text
	}

	hits := make(map[string]int)
	total := 0
	for _, r := range s.rules {
		matches := len(r.re.FindAllStringIndex(text, -1))
		if matches == 0 {
			continue
		}
		hits[r.name] = matches
		total += matches
		text = r.re.ReplaceAllString(text, r.repl)
	}

	if total > 0 {
		s.audit(total, hits)
	}
	return text
}

// audit appends a best-effort record of what was redacted. Failures are
// swallowed: auditing must never block sanitization.
func (s *Sanitizer) audit(total int, hits map[string]int) {
	if s.auditLog == "" || s.auditLevel == "none" || s.auditLevel == "" {
		return
	}
	rec := auditRecord{Timestamp: time.Now().UTC(), Redactions: total}
	if s.auditLevel == "full" {
		rec.Rules = hits
	}
	_ = storage.AppendJSONL(s.auditLog, rec)
}
