package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// SaveDiary writes a diary entry to diary/<id>.json and returns the path.
func (s *Store) SaveDiary(entry *types.DiaryEntry) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("diary entry has no id: %w", types.ErrValidation)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diary %s: %w: %v", entry.ID, types.ErrParse, err)
	}

	path := filepath.Join(s.cfg.DiaryDirPath(), entry.ID+".json")
	if err := AtomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LoadDiary reads one diary entry by id.
func (s *Store) LoadDiary(id string) (*types.DiaryEntry, error) {
	path := filepath.Join(s.cfg.DiaryDirPath(), id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("diary %s not found: %w", id, types.ErrIo)
		}
		return nil, wrapIo("read diary "+path, err)
	}

	var entry types.DiaryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse diary %s: %w: %v", path, types.ErrParse, err)
	}
	return &entry, nil
}

// ListDiaries returns all readable diary entries, newest first. Malformed
// files are logged and skipped, per the peripheral-read policy.
func (s *Store) ListDiaries() ([]types.DiaryEntry, error) {
	dir := s.cfg.DiaryDirPath()
	dirents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapIo("list diary dir "+dir, err)
	}

	var entries []types.DiaryEntry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || isHidden(name) || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("skipping unreadable diary")
			continue
		}
		var entry types.DiaryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			s.log.Warn().Str("file", name).Err(err).Msg("skipping malformed diary")
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}
