// Package storage persists every cass-memory entity: the YAML playbook, JSON
// diary entries, and the JSONL logs for outcomes, processed sessions, traumas
// and blocked content. Each entity is owned exclusively by its file on disk;
// in-memory copies are derived. Mutation always goes lock, read fresh,
// mutate, atomic write, release.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Dicklesworthstone/cass-memory-system/internal/config"
	"github.com/Dicklesworthstone/cass-memory-system/internal/filelock"
)

// Store reads and writes cass-memory state under the configured roots.
type Store struct {
	cfg    *config.Config
	locker *filelock.Locker
	log    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLocker overrides the lock bounds, mainly for tests.
func WithLocker(lk *filelock.Locker) Option {
	return func(s *Store) {
		s.locker = lk
	}
}

// WithLogger routes skip/degradation diagnostics to the given logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

// New creates a Store over the given configuration.
func New(cfg *config.Config, opts ...Option) *Store {
	s := &Store{
		cfg:    cfg,
		locker: filelock.New(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the store was built over.
func (s *Store) Config() *config.Config {
	return s.cfg
}

// Init creates the global state skeleton. Idempotent.
func (s *Store) Init() error {
	dirs := []string{
		s.cfg.ResolveHome(),
		s.cfg.DiaryDirPath(),
		s.cfg.ReflectionsDirPath(),
		s.cfg.EmbeddingsDirPath(),
		s.cfg.CostDirPath(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return wrapIo("create directory "+dir, err)
		}
	}
	return nil
}

// cleanStrayTemps removes leftover temp files for target written by crashed
// runs, sparing keep. Best-effort.
func cleanStrayTemps(target, keep string) {
	matches, err := filepath.Glob(target + ".tmp.*")
	if err != nil {
		return
	}
	for _, m := range matches {
		if m == keep {
			continue
		}
		_ = os.Remove(m) //nolint:errcheck // best-effort cleanup
	}
}

// isHidden reports whether a directory entry is dot-prefixed.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
