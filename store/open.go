package store

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// HistoryDir is the subdirectory of the data directory used by the file
// history backend, kept apart from the channel list files.
const HistoryDir = "history"

// OpenHistoryStore picks a history backend from dsn:
//
//	""                      → JSON files in dataDir/history
//	file:///var/lib/tracker → JSON files in that directory
//	sqlite://history.db     → SQLite (modernc.org/sqlite); sqlite://:memory: for tests
//	postgres://user@host/db → PostgreSQL (lib/pq)
func OpenHistoryStore(dsn, dataDir string) (HistoryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewFileHistoryStore(filepath.Join(dataDir, HistoryDir))
	}
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		return nil, fmt.Errorf("store: history dsn %q has no scheme", dsn)
	}
	switch strings.ToLower(scheme) {
	case "file":
		if rest == "" {
			rest = filepath.Join(dataDir, HistoryDir)
		}
		path, err := url.PathUnescape(rest)
		if err != nil {
			return nil, fmt.Errorf("store: history dsn %q: %w", dsn, err)
		}
		return NewFileHistoryStore(path)
	case "sqlite", "sqlite3":
		return NewSQLiteHistoryStore(rest)
	case "postgres", "postgresql":
		return NewPostgresHistoryStore(dsn)
	default:
		return nil, fmt.Errorf("store: unsupported history backend %q", scheme)
	}
}
