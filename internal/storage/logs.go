package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// AppendOutcome appends one outcome record to the global outcomes log.
func (s *Store) AppendOutcome(rec *types.OutcomeRecord) error {
	return AppendJSONL(s.cfg.OutcomesPath(), rec)
}

// ListOutcomes reads all outcome records, skipping malformed lines.
func (s *Store) ListOutcomes() ([]types.OutcomeRecord, error) {
	records, skipped, err := ReadJSONL[types.OutcomeRecord](s.cfg.OutcomesPath())
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("outcomes log has malformed lines")
	}
	return records, err
}

// MarkProcessed records that reflection consumed a session.
func (s *Store) MarkProcessed(entry types.ProcessedEntry) error {
	return AppendJSONL(s.cfg.ProcessedLogPath(), entry)
}

// ProcessedSessions returns the processed log keyed by session path.
func (s *Store) ProcessedSessions() (map[string]types.ProcessedEntry, error) {
	records, skipped, err := ReadJSONL[types.ProcessedEntry](s.cfg.ProcessedLogPath())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("processed log has malformed lines")
	}

	out := make(map[string]types.ProcessedEntry, len(records))
	for _, rec := range records {
		out[rec.SessionPath] = rec
	}
	return out, nil
}

// IsProcessed reports whether a session path appears in the processed log.
func (s *Store) IsProcessed(sessionPath string) (bool, error) {
	processed, err := s.ProcessedSessions()
	if err != nil {
		return false, err
	}
	_, ok := processed[sessionPath]
	return ok, nil
}

// AppendTrauma appends a trauma entry to the given tier's list under the
// file lock.
func (s *Store) AppendTrauma(path string, entry *types.TraumaEntry) error {
	return s.locker.WithLock(path, "trauma-append", func() error {
		return AppendJSONL(path, entry)
	})
}

// LoadTraumas reads one tier's trauma list. The file is append-only, so a
// healed entry appears twice; the last record per id wins. Read errors
// yield no patterns: the guard fails open rather than blocking on a broken
// file.
func (s *Store) LoadTraumas(path string) []types.TraumaEntry {
	records, skipped, err := ReadJSONL[types.TraumaEntry](path)
	if err != nil {
		s.log.Warn().Str("path", path).Err(err).Msg("trauma list unreadable, failing open")
		return nil
	}
	if skipped > 0 {
		s.log.Warn().Str("path", path).Int("skipped", skipped).Msg("trauma list has malformed lines")
	}

	byID := make(map[string]int, len(records))
	var out []types.TraumaEntry
	for _, rec := range records {
		if pos, ok := byID[rec.ID]; ok {
			out[pos] = rec
			continue
		}
		byID[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}

// HealTrauma appends a healed revision of the entry with the given id.
// Reports whether an active entry was found in the file.
func (s *Store) HealTrauma(path, id string) (bool, error) {
	found := false
	err := s.locker.WithLock(path, "trauma-heal", func() error {
		for _, entry := range s.LoadTraumas(path) {
			if entry.ID != id || entry.Status != types.TraumaActive {
				continue
			}
			entry.Status = types.TraumaHealed
			found = true
			return AppendJSONL(path, entry)
		}
		return nil
	})
	return found, err
}

// ToxicHash derives the block-list key for rule content: SHA-256 of the
// case-folded, trimmed text.
func ToxicHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return hex.EncodeToString(sum[:])
}

// AppendToxic permanently blocks rule content.
func (s *Store) AppendToxic(content, reason string) error {
	entry := types.ToxicEntry{
		ContentHash: ToxicHash(content),
		Content:     content,
		Reason:      reason,
		RecordedAt:  time.Now().UTC(),
	}
	return AppendJSONL(s.cfg.ToxicLogPath(), entry)
}

// ToxicHashes returns the set of blocked content hashes.
func (s *Store) ToxicHashes() (map[string]bool, error) {
	records, skipped, err := ReadJSONL[types.ToxicEntry](s.cfg.ToxicLogPath())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.log.Warn().Int("skipped", skipped).Msg("toxic log has malformed lines")
	}

	out := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.ContentHash != "" {
			out[rec.ContentHash] = true
		}
	}
	return out, nil
}

// IsToxic reports whether rule content is on the block list.
func (s *Store) IsToxic(content string) (bool, error) {
	hashes, err := s.ToxicHashes()
	if err != nil {
		return false, err
	}
	return hashes[ToxicHash(content)], nil
}

// ReflectionReportPath names a per-run reflection report file.
func (s *Store) ReflectionReportPath(now time.Time) string {
	return filepath.Join(s.cfg.ReflectionsDirPath(), now.UTC().Format("20060102T150405Z")+".json")
}
