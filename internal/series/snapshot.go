package series

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"

	"auto_ig/internal/models"
)

// ---- storage format ----

type snapshot struct {
	Epic     string                            `json:"epic"`
	SavedAt  time.Time                         `json:"saved_at"`
	Cooldown time.Time                         `json:"cooldown_until"`
	Bars     map[models.Timeframe][]models.Bar `json:"bars"`
}

func SnapshotPath(dir, epic string) string {
	return filepath.Join(dir, "prices", epic+".json")
}

// Save writes the buffers to <dir>/prices/<epic>.json (tmp + rename).
func (s *Store) Save(dir string) error {
	path := SnapshotPath(dir, s.epic)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}

	snap := snapshot{
		Epic:     s.epic,
		SavedAt:  time.Now().UTC(),
		Cooldown: s.cooldownUntil,
		Bars:     make(map[models.Timeframe][]models.Bar, len(s.bars)),
	}
	for tf := range s.bars {
		snap.Bars[tf] = s.Bars(tf)
	}

	b, err := sonic.ConfigStd.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores a snapshot written by Save. A missing file is not an error.
func (s *Store) Load(dir string) error {
	path := SnapshotPath(dir, s.epic)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var snap snapshot
	if err := sonic.ConfigStd.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for tf, bars := range snap.Bars {
		if !tf.Valid() {
			continue
		}
		s.Append(tf, bars)
	}
	if snap.Cooldown.After(s.cooldownUntil) {
		s.cooldownUntil = snap.Cooldown
	}
	return nil
}
