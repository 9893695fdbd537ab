package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 { return time.Now().UnixMilli() }

// NormalizeURL trims whitespace and a trailing slash so URL joins stay clean.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	return strings.TrimRight(u, "/")
}

// WriteJSONFile writes a JSON object to a file, creating parent directories if needed.
func WriteJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
