package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// NewPlaybook returns an empty playbook stamped with the current schema
// version.
func NewPlaybook(now time.Time) *types.Playbook {
	return &types.Playbook{
		SchemaVersion: types.PlaybookSchemaVersion,
		Metadata: types.PlaybookMetadata{
			Version:   types.PlaybookSchemaVersion,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// LoadPlaybook reads and validates a playbook. Historical files mix
// camelCase and snake_case keys; both are accepted. A missing file yields a
// fresh empty playbook.
func (s *Store) LoadPlaybook(path string) (*types.Playbook, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewPlaybook(time.Now().UTC()), nil
	}
	if err != nil {
		return nil, wrapIo("read playbook "+path, err)
	}

	pb, err := decodePlaybook(data)
	if err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	if err := pb.Validate(); err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	return pb, nil
}

// decodePlaybook parses YAML through a key-normalization pass so snake_case
// files decode into the camelCase field set.
func decodePlaybook(data []byte) (*types.Playbook, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w: %v", types.ErrParse, err)
	}
	if raw == nil {
		return NewPlaybook(time.Now().UTC()), nil
	}

	normalized := normalizeKeys(raw)
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("normalize keys: %w: %v", types.ErrParse, err)
	}

	var pb types.Playbook
	if err := json.Unmarshal(encoded, &pb); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", types.ErrParse, err)
	}
	return &pb, nil
}

// normalizeKeys rewrites map keys to the canonical wire form, recursively.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[normalizeKey(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeKeys(t[i])
		}
		return t
	default:
		return v
	}
}

// normalizeKey maps snake_case to camelCase. The top-level schema_version
// key is the one deliberate exception: it stays snake on the wire.
func normalizeKey(k string) string {
	if k == "schema_version" || k == "schemaVersion" {
		return "schema_version"
	}
	if !strings.Contains(k, "_") {
		return k
	}
	parts := strings.Split(k, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// writePlaybook serializes and atomically replaces the playbook file.
// Callers hold the lock.
func (s *Store) writePlaybook(path string, pb *types.Playbook) error {
	data, err := yaml.Marshal(pb)
	if err != nil {
		return fmt.Errorf("marshal playbook: %w: %v", types.ErrParse, err)
	}
	return AtomicWrite(path, data)
}

// SavePlaybook stamps and writes a playbook under the file lock. The
// playbook must satisfy the schema invariants.
func (s *Store) SavePlaybook(path string, pb *types.Playbook) error {
	return s.locker.WithLock(path, "playbook-save", func() error {
		pb.SchemaVersion = types.PlaybookSchemaVersion
		pb.Metadata.UpdatedAt = time.Now().UTC()
		if err := pb.Validate(); err != nil {
			return err
		}
		return s.writePlaybook(path, pb)
	})
}

// MutatePlaybook runs the full write discipline: lock, read fresh, mutate,
// validate, atomic write, release. The returned playbook is the persisted
// state.
func (s *Store) MutatePlaybook(path, operation string, fn func(*types.Playbook) error) (*types.Playbook, error) {
	var out *types.Playbook
	err := s.locker.WithLock(path, operation, func() error {
		pb, err := s.LoadPlaybook(path)
		if err != nil {
			return err
		}
		if err := fn(pb); err != nil {
			return err
		}
		pb.SchemaVersion = types.PlaybookSchemaVersion
		pb.Metadata.UpdatedAt = time.Now().UTC()
		if err := pb.Validate(); err != nil {
			return err
		}
		if err := s.writePlaybook(path, pb); err != nil {
			return err
		}
		out = pb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EnsurePlaybook creates an empty playbook file if none exists. Idempotent.
func (s *Store) EnsurePlaybook(path string) error {
	return s.locker.WithLock(path, "playbook-init", func() error {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		return s.writePlaybook(path, NewPlaybook(time.Now().UTC()))
	})
}

// MergePlaybooks unions global and repo playbooks: bullets keyed by id with
// repo entries overriding, deprecated patterns concatenated repo-last, and
// the newer updatedAt kept. Either side may be nil.
func MergePlaybooks(global, repo *types.Playbook) *types.Playbook {
	if global == nil && repo == nil {
		return NewPlaybook(time.Now().UTC())
	}
	if repo == nil {
		return global.Clone()
	}
	if global == nil {
		return repo.Clone()
	}

	merged := global.Clone()

	index := make(map[string]int, len(merged.Bullets))
	for i := range merged.Bullets {
		index[merged.Bullets[i].ID] = i
	}
	for i := range repo.Bullets {
		b := repo.Bullets[i].Clone()
		if pos, ok := index[b.ID]; ok {
			merged.Bullets[pos] = b
		} else {
			index[b.ID] = len(merged.Bullets)
			merged.Bullets = append(merged.Bullets, b)
		}
	}

	merged.DeprecatedPatterns = append(merged.DeprecatedPatterns, repo.DeprecatedPatterns...)

	if repo.Metadata.UpdatedAt.After(merged.Metadata.UpdatedAt) {
		merged.Metadata.UpdatedAt = repo.Metadata.UpdatedAt
	}
	return merged
}

// LoadMergedPlaybook loads the global playbook plus the repo overlay when
// inside a repository.
func (s *Store) LoadMergedPlaybook() (*types.Playbook, error) {
	global, err := s.LoadPlaybook(s.cfg.GlobalPlaybookPath())
	if err != nil {
		return nil, err
	}

	repoPath := s.cfg.RepoPlaybookPath()
	if repoPath == "" {
		return global, nil
	}
	if _, err := os.Stat(repoPath); os.IsNotExist(err) {
		return global, nil
	}

	repo, err := s.LoadPlaybook(repoPath)
	if err != nil {
		return nil, err
	}
	return MergePlaybooks(global, repo), nil
}
