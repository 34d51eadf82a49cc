package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// ErrStorageCorruption means neither the channel list nor its backup could be
// read although at least one of them exists. Starting with an empty list in
// that state would overwrite data that may still be recoverable by hand, so
// callers must treat it as fatal.
var ErrStorageCorruption = errors.New("store: channel list and backup are both unreadable")

// ChannelStore persists the ordered tracked-channel list as a JSON array.
// Writes go through a temporary file and a rename; every successful load
// refreshes the backup so it trails the primary by at most one generation.
//
// ChannelStore does not serialise concurrent Save calls itself; the tracker
// routes every save through its coalescer.
type ChannelStore struct {
	path       string
	backupPath string
}

func NewChannelStore(path, backupPath string) *ChannelStore {
	return &ChannelStore{path: path, backupPath: backupPath}
}

// Path returns the primary file location.
func (s *ChannelStore) Path() string { return s.path }

// Load reads the channel list, falling back to the backup when the primary
// file is missing or corrupt. Missing files on both sides mean a cold start
// and yield an empty list.
func (s *ChannelStore) Load() ([]string, error) {
	ids, raw, primaryErr := readIDs(s.path)
	if primaryErr == nil {
		if err := writeFileAtomic(s.backupPath, raw); err != nil {
			slog.Warn("failed to refresh channel list backup", "path", s.backupPath, "error", err)
		}
		slog.Info("loaded channel list", "path", s.path, "count", len(ids))
		return ids, nil
	}
	if !errors.Is(primaryErr, fs.ErrNotExist) {
		slog.Warn("channel list unreadable, trying backup", "path", s.path, "error", primaryErr)
	}

	ids, raw, backupErr := readIDs(s.backupPath)
	if backupErr == nil {
		if err := writeFileAtomic(s.path, raw); err != nil {
			slog.Warn("failed to restore channel list from backup", "path", s.path, "error", err)
		}
		slog.Info("restored channel list from backup", "path", s.backupPath, "count", len(ids))
		return ids, nil
	}

	if errors.Is(primaryErr, fs.ErrNotExist) && errors.Is(backupErr, fs.ErrNotExist) {
		slog.Info("no channel list or backup found, starting empty", "path", s.path)
		return []string{}, nil
	}
	return nil, fmt.Errorf("%w: primary: %v; backup: %v", ErrStorageCorruption, primaryErr, backupErr)
}

// Save replaces the channel list with ids.
func (s *ChannelStore) Save(ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encoding channel list: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func readIDs(path string) ([]string, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, raw, nil
}
