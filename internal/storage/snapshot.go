package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"callSpread/internal/model"
)

// SnapshotFile keeps market state in a single JSON file between CLI runs.
type SnapshotFile struct {
	Path string
}

// Load reads the snapshot. ok is false when the file does not exist yet.
func (s SnapshotFile) Load() (model.Snapshot, bool, error) {
	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, fmt.Errorf("stat state: %w", err)
	}
	if stat.IsDir() {
		return model.Snapshot{}, false, fmt.Errorf("state path %s is a directory", s.Path)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("read state: %w", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, false, fmt.Errorf("parse state: %w", err)
	}
	return snap, true, nil
}

// Save replaces the snapshot atomically via a temp file and rename.
func (s SnapshotFile) Save(snap model.Snapshot) error {
	if err := ensureDir(s.Path); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
