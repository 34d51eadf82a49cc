package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	historyTableName    = "channel_history"
	sqlOperationTimeout = 5 * time.Second
)

// dialect captures the few places where SQLite and PostgreSQL differ.
type dialect struct {
	name   string
	driver string
	schema []string
	// bind returns the placeholder for the n-th (1-based) argument.
	bind func(n int) string
}

var (
	sqliteDialect = dialect{
		name:   "sqlite",
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS ` + historyTableName + ` (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				channel_id  TEXT    NOT NULL,
				ts          INTEGER NOT NULL,
				name        TEXT    NOT NULL DEFAULT '',
				avatar      TEXT    NOT NULL DEFAULT '',
				subscribers INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS ` + historyTableName + `_channel_ts
				ON ` + historyTableName + ` (channel_id, ts, id)`,
		},
		bind: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:   "postgres",
		driver: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS ` + historyTableName + ` (
				id          BIGSERIAL PRIMARY KEY,
				channel_id  TEXT   NOT NULL,
				ts          BIGINT NOT NULL,
				name        TEXT   NOT NULL DEFAULT '',
				avatar      TEXT   NOT NULL DEFAULT '',
				subscribers BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS ` + historyTableName + `_channel_ts
				ON ` + historyTableName + ` (channel_id, ts, id)`,
		},
		bind: func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// SQLHistoryStore keeps every snapshot as a row. Timestamps are stored as
// Unix milliseconds so both dialects share one encoding.
type SQLHistoryStore struct {
	dsn     string
	dialect dialect
	openDB  sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewSQLiteHistoryStore opens (lazily) a SQLite database through
// modernc.org/sqlite. dsn is a file path or ":memory:".
func NewSQLiteHistoryStore(dsn string) (*SQLHistoryStore, error) {
	return newSQLHistoryStore(dsn, sqliteDialect)
}

// NewPostgresHistoryStore opens (lazily) a PostgreSQL database through lib/pq.
func NewPostgresHistoryStore(dsn string) (*SQLHistoryStore, error) {
	return newSQLHistoryStore(dsn, postgresDialect)
}

func newSQLHistoryStore(dsn string, d dialect) (*SQLHistoryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store: empty %s dsn", d.name)
	}
	return &SQLHistoryStore{dsn: dsn, dialect: d, openDB: sql.Open}, nil
}

func (s *SQLHistoryStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("store: opening %s: %w", s.dialect.name, err)
			return
		}
		if s.dialect.name == sqliteDialect.name {
			// One connection: a second one would see a different ":memory:"
			// database, and SQLite allows a single writer anyway.
			db.SetMaxOpenConns(1)
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		for _, stmt := range s.dialect.schema {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("store: creating %s schema: %w", s.dialect.name, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLHistoryStore) Load(ctx context.Context, id string) ([]StatSnapshot, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT ts, name, avatar, subscribers FROM %s
		WHERE channel_id = %s ORDER BY ts, id`, historyTableName, s.dialect.bind(1))
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("store: querying history for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	series := []StatSnapshot{}
	for rows.Next() {
		snap := StatSnapshot{ChannelID: id}
		var ts int64
		if err := rows.Scan(&ts, &snap.Name, &snap.Avatar, &snap.Subscribers); err != nil {
			return nil, fmt.Errorf("store: scanning history for %s: %w", id, err)
		}
		snap.Timestamp = time.UnixMilli(ts).UTC()
		series = append(series, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading history for %s: %w", id, err)
	}
	return series, nil
}

func (s *SQLHistoryStore) Append(ctx context.Context, id string, snap StatSnapshot) (StatSnapshot, error) {
	if err := s.ensureReady(); err != nil {
		return StatSnapshot{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StatSnapshot{}, fmt.Errorf("store: begin append for %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	last, ok, err := s.lastTx(ctx, tx, id)
	if err != nil {
		return StatSnapshot{}, err
	}
	snap.ChannelID = id
	if ok {
		snap = clampAfter(last, snap)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (channel_id, ts, name, avatar, subscribers)
		VALUES (%s, %s, %s, %s, %s)`, historyTableName,
		s.dialect.bind(1), s.dialect.bind(2), s.dialect.bind(3), s.dialect.bind(4), s.dialect.bind(5))
	if _, err := tx.ExecContext(ctx, insert, id, snap.Timestamp.UnixMilli(), snap.Name, snap.Avatar, snap.Subscribers); err != nil {
		return StatSnapshot{}, fmt.Errorf("store: appending history for %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return StatSnapshot{}, fmt.Errorf("store: commit append for %s: %w", id, err)
	}
	snap.Timestamp = time.UnixMilli(snap.Timestamp.UnixMilli()).UTC()
	return snap, nil
}

func (s *SQLHistoryStore) Last(ctx context.Context, id string) (StatSnapshot, bool, error) {
	if err := s.ensureReady(); err != nil {
		return StatSnapshot{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()
	return s.lastTx(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLHistoryStore) lastTx(ctx context.Context, q queryRower, id string) (StatSnapshot, bool, error) {
	query := fmt.Sprintf(`SELECT ts, name, avatar, subscribers FROM %s
		WHERE channel_id = %s ORDER BY ts DESC, id DESC LIMIT 1`, historyTableName, s.dialect.bind(1))
	snap := StatSnapshot{ChannelID: id}
	var ts int64
	err := q.QueryRowContext(ctx, query, id).Scan(&ts, &snap.Name, &snap.Avatar, &snap.Subscribers)
	if errors.Is(err, sql.ErrNoRows) {
		return StatSnapshot{}, false, nil
	}
	if err != nil {
		return StatSnapshot{}, false, fmt.Errorf("store: reading last snapshot for %s: %w", id, err)
	}
	snap.Timestamp = time.UnixMilli(ts).UTC()
	return snap, true, nil
}

func (s *SQLHistoryStore) Ping(ctx context.Context) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

func (s *SQLHistoryStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
