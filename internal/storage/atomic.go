package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// wrapIo tags a filesystem error with the IoError taxonomy.
func wrapIo(context string, err error) error {
	return fmt.Errorf("%s: %w: %v", context, types.ErrIo, err)
}

// tempPath derives the temp file name for an atomic write. Pid plus a
// random suffix keeps concurrent writers from colliding on the temp name.
func tempPath(path string) string {
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s.tmp.%d.%s", path, os.Getpid(), rand)
}

// AtomicWrite writes data to path so that a crash at any point leaves either
// the old content or the new content, never a torn file. The final file has
// mode 0600.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return wrapIo("create directory "+dir, err)
	}

	tmp := tempPath(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return wrapIo("create temp "+tmp, err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmp) //nolint:errcheck // cleanup in error path
		}
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return wrapIo("write temp "+tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close() //nolint:errcheck // cleanup in error path
		return wrapIo("sync temp "+tmp, err)
	}
	if err := f.Close(); err != nil {
		return wrapIo("close temp "+tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return wrapIo("rename "+tmp, err)
	}
	success = true

	cleanStrayTemps(path, tmp)
	return nil
}

// AppendJSONL marshals v and appends it as one line. O_APPEND keeps
// concurrent appenders from interleaving within a line.
func AppendJSONL(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return wrapIo("create directory "+dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl record: %w: %v", types.ErrParse, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return wrapIo("open "+path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return wrapIo("append "+path, err)
	}
	return f.Sync()
}

// ReadJSONL reads every well-formed line of a JSONL file into T, skipping
// malformed lines. A missing file yields an empty slice. The skipped count
// is returned so callers can surface degradation.
func ReadJSONL[T any](path string) (records []T, skipped int, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, wrapIo("open "+path, err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only, close best-effort
	}()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, skipped, wrapIo("read "+path, err)
	}
	return records, skipped, nil
}
