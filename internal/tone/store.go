package tone

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/chatclone/internal/config"
)

// FileStore persists guides as <base>/clone_memory/<session>/tone_guide.json.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(config.SessionDir(s.baseDir, sessionID), config.ToneGuideFile)
}

// Load reads a session's guide. Returns ErrNoGuide when none was saved.
func (s *FileStore) Load(sessionID string) (*Guide, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoGuide
	}
	if err != nil {
		return nil, fmt.Errorf("read tone guide: %w", err)
	}
	var g Guide
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode tone guide: %w", err)
	}
	return &g, nil
}

// Save writes the guide as indented JSON, replacing any previous one
// atomically.
func (s *FileStore) Save(g *Guide) error {
	dest := s.path(g.SessionID)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tone guide: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tone_guide-*.json")
	if err != nil {
		return fmt.Errorf("write tone guide: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write tone guide: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write tone guide: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace tone guide: %w", err)
	}
	return nil
}
