package config

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// MemoryDirName is the directory under the base dir holding per-session data.
	MemoryDirName = "clone_memory"

	// ToneGuideFile is the tone guide file name inside a session directory.
	ToneGuideFile = "tone_guide.json"

	// MemoryDBFile is the vector collection file name inside a session directory.
	MemoryDBFile = "memory.db"

	defaultSessionDir = "session"
)

var unsafePathChars = regexp.MustCompile(`[\\/:"*?<>|]+`)

// SanitizeSessionID turns a session id into a single safe path segment.
// Runs of path-unsafe characters collapse to "_"; "." and ".." never survive.
func SanitizeSessionID(sessionID string) string {
	safe := unsafePathChars.ReplaceAllString(strings.TrimSpace(sessionID), "_")
	if strings.Trim(safe, ".") == "" {
		return defaultSessionDir
	}
	return safe
}

// SessionDir returns <baseDir>/clone_memory/<sanitized session id>.
func SessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, MemoryDirName, SanitizeSessionID(sessionID))
}
