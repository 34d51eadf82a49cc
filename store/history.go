package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ddevcap/subtracker/chanid"
)

// HistoryStore is the authoritative, append-only record of every snapshot
// taken for a channel. Implementations must keep each series ordered by
// non-decreasing timestamp.
type HistoryStore interface {
	// Load returns the full series for id, oldest first. An unknown channel
	// yields an empty series, not an error.
	Load(ctx context.Context, id string) ([]StatSnapshot, error)
	// Append durably adds snap to the end of the series and returns the value
	// actually stored (its timestamp may be clamped to keep the order).
	Append(ctx context.Context, id string, snap StatSnapshot) (StatSnapshot, error)
	// Last returns the newest snapshot for id; ok is false for an empty series.
	Last(ctx context.Context, id string) (snap StatSnapshot, ok bool, err error)
	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error
	Close() error
}

// FileHistoryStore keeps one JSON array per channel in a directory. Appends
// are read-modify-write through a temp file and a rename, which is crash-safe
// at the granularity of one snapshot.
type FileHistoryStore struct {
	dir string
	mu  sync.Mutex // serialises appends
}

// NewFileHistoryStore creates dir if needed.
func NewFileHistoryStore(dir string) (*FileHistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating history directory: %w", err)
	}
	return &FileHistoryStore{dir: dir}, nil
}

func (s *FileHistoryStore) path(id string) string {
	return filepath.Join(s.dir, chanid.FileName(id))
}

func (s *FileHistoryStore) Load(_ context.Context, id string) ([]StatSnapshot, error) {
	return s.read(id)
}

func (s *FileHistoryStore) read(id string) ([]StatSnapshot, error) {
	raw, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []StatSnapshot{}, nil
		}
		return nil, fmt.Errorf("store: reading history for %s: %w", id, err)
	}
	var series []StatSnapshot
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("store: parsing history for %s: %w", id, err)
	}
	if series == nil {
		series = []StatSnapshot{}
	}
	return series, nil
}

func (s *FileHistoryStore) Append(_ context.Context, id string, snap StatSnapshot) (StatSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series, err := s.read(id)
	if err != nil {
		return StatSnapshot{}, err
	}
	if n := len(series); n > 0 {
		snap = clampAfter(series[n-1], snap)
	}
	series = append(series, snap)

	data, err := json.Marshal(series)
	if err != nil {
		return StatSnapshot{}, fmt.Errorf("store: encoding history for %s: %w", id, err)
	}
	if err := writeFileAtomic(s.path(id), data); err != nil {
		return StatSnapshot{}, err
	}
	return snap, nil
}

func (s *FileHistoryStore) Last(ctx context.Context, id string) (StatSnapshot, bool, error) {
	series, err := s.Load(ctx, id)
	if err != nil || len(series) == 0 {
		return StatSnapshot{}, false, err
	}
	return series[len(series)-1], true, nil
}

func (s *FileHistoryStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("store: history directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: %s is not a directory", s.dir)
	}
	return nil
}

func (s *FileHistoryStore) Close() error { return nil }
