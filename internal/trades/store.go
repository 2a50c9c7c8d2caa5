package trades

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"auto_ig/internal/models"
)

// Buckets under <data>/trades.
const (
	BucketOpen   = "open"
	BucketClosed = "closed"
	BucketFailed = "failed"
)

// Store persists trade records. FileStore is the production one.
type Store interface {
	Save(rec models.TradeRecord) error
	LoadOpen() ([]models.TradeRecord, error)
}

// FileStore keeps one JSON file per trade, moved between buckets as the
// trade changes state.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dir: filepath.Join(dataDir, "trades")}
}

func FileName(rec models.TradeRecord) string {
	return rec.CreatedAt.UTC().Format("2006-01-02-15-04-05") + "---" + rec.Epic + ".json"
}

func bucketOf(s models.TradeState) string {
	switch s {
	case models.TradeClosed:
		return BucketClosed
	case models.TradeFailed:
		return BucketFailed
	}
	return BucketOpen
}

// Path returns where rec lives in its current state.
func (s *FileStore) Path(rec models.TradeRecord) string {
	return filepath.Join(s.dir, bucketOf(rec.State), FileName(rec))
}

func (s *FileStore) Save(rec models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SavedAt = time.Now().UTC()
	path := s.Path(rec)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	b, err := sonic.ConfigStd.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode trade %s", rec.ID)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", path)
	}

	if rec.State.Terminal() {
		open := filepath.Join(s.dir, BucketOpen, FileName(rec))
		if err := os.Remove(open); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "remove %s", open)
		}
	}
	return nil
}

// LoadOpen reads every record of the open bucket, oldest first.
func (s *FileStore) LoadOpen() ([]models.TradeRecord, error) {
	return s.Load(BucketOpen)
}

func (s *FileStore) Load(bucket string) ([]models.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, bucket)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]models.TradeRecord, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return out, errors.Wrapf(err, "read %s", path)
		}
		var rec models.TradeRecord
		if err := sonic.ConfigStd.Unmarshal(b, &rec); err != nil {
			return out, errors.Wrapf(err, "decode %s", path)
		}
		out = append(out, rec)
	}
	return out, nil
}
