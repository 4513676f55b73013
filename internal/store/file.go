package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"termpool/internal/model"
)

// FileStore keeps the snapshot as an indented JSON file.
type FileStore struct {
	filePath string
}

// NewFileStore returns a store writing to filePath. The parent directory is
// created on first save.
func NewFileStore(filePath string) *FileStore {
	return &FileStore{filePath: filePath}
}

// Load reads the snapshot. Returns ErrNotFound if the file doesn't exist.
func (f *FileStore) Load() (*model.Snapshot, error) {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	snap := model.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot to a temp file and renames it into place.
func (f *FileStore) Save(snap *model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.filePath), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.filePath)
}

func (f *FileStore) Close() error { return nil }
