package cass

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dicklesworthstone/cass-memory-system/internal/types"
)

// maxTranscriptLine bounds a single JSONL line during fallback parsing.
const maxTranscriptLine = 4 * 1024 * 1024

// ParseSessionFile reads an agent session file without the history tool.
// JSONL and JSON transcripts become "[role] content" lines, markdown is
// returned as-is. Missing or unreadable files are an error; callers treat
// that as no transcript.
func ParseSessionFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return parseJSONLSession(path)
	case ".json":
		return parseJSONSession(path)
	case ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read session %s: %w: %v", path, types.ErrIo, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported session format %s: %w", path, types.ErrParse)
	}
}

func parseJSONLSession(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open session %s: %w: %v", path, types.ErrIo, err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxTranscriptLine)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if line, ok := renderMessage(msg); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan session %s: %w: %v", path, types.ErrIo, err)
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no messages in session %s: %w", path, types.ErrParse)
	}
	return strings.Join(lines, "\n"), nil
}

func parseJSONSession(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read session %s: %w: %v", path, types.ErrIo, err)
	}

	var messages []map[string]any
	if err := json.Unmarshal(data, &messages); err != nil {
		var wrapper struct {
			Messages []map[string]any `json:"messages"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return "", fmt.Errorf("parse session %s: %w: %v", path, types.ErrParse, err)
		}
		messages = wrapper.Messages
	}

	var lines []string
	for _, msg := range messages {
		if line, ok := renderMessage(msg); ok {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("no messages in session %s: %w", path, types.ErrParse)
	}
	return strings.Join(lines, "\n"), nil
}

// renderMessage turns one transcript message into a "[role] content" line.
// The role comes from "role", then "type". Messages with neither, or with
// no extractable content, are dropped.
func renderMessage(msg map[string]any) (string, bool) {
	role, _ := msg["role"].(string)
	if role == "" {
		role, _ = msg["type"].(string)
	}
	if role == "" {
		return "", false
	}

	content := extractContent(msg["content"])
	if content == "" {
		return "", false
	}
	return fmt.Sprintf("[%s] %s", role, content), true
}

// extractContent handles the content encodings agents emit: a plain
// string, a list of blocks, or a single block object carrying "text".
func extractContent(v any) string {
	switch c := v.(type) {
	case string:
		return strings.TrimSpace(c)
	case []any:
		var parts []string
		for _, item := range c {
			if text := extractContent(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if text, ok := c["text"].(string); ok {
			return strings.TrimSpace(text)
		}
		return ""
	default:
		return ""
	}
}
