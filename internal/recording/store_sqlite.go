// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// SQLiteStore keeps the catalog in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the catalog database.
// WAL and busy_timeout are set in the DSN so they apply to every pooled connection.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS recordings (
		id         TEXT PRIMARY KEY,
		tuner      TEXT NOT NULL,
		channel_id TEXT NOT NULL DEFAULT '',
		path       TEXT NOT NULL,
		status     TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		error      TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL DEFAULT 0,
		bytes      INTEGER NOT NULL DEFAULT 0,
		metadata   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_started ON recordings(started_at DESC);`)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	var ended int64
	if !e.EndedAt.IsZero() {
		ended = e.EndedAt.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO recordings (id, tuner, channel_id, path, status, reason, error, started_at, ended_at, bytes, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		reason = excluded.reason,
		error = excluded.error,
		ended_at = excluded.ended_at,
		bytes = excluded.bytes,
		metadata = excluded.metadata`,
		e.ID, e.Tuner, e.ChannelID, e.Path, string(e.Status), e.Reason, e.Error,
		e.StartedAt.UnixMilli(), ended, e.Bytes, string(meta))
	return err
}

const selectColumns = `SELECT id, tuner, channel_id, path, status, reason, error, started_at, ended_at, bytes, metadata FROM recordings`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e              Entry
		status, meta   string
		started, ended int64
	)
	if err := row.Scan(&e.ID, &e.Tuner, &e.ChannelID, &e.Path, &status, &e.Reason, &e.Error, &started, &ended, &e.Bytes, &meta); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.StartedAt = time.UnixMilli(started).UTC()
	if ended > 0 {
		e.EndedAt = time.UnixMilli(ended).UTC()
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("decode metadata for %s: %w", e.ID, err)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, notFound(id)
	}
	return e, err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
