/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// Shared PostgreSQL history via database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"

	"transmatcher/internal/domain"
	applog "transmatcher/internal/log"
	"transmatcher/internal/session"
	"transmatcher/internal/version"
)

const (
	HistoryFileName = "history.sqlite"
	// schemaVersion tracks the history schema. Bump it together with a new
	// step in runMigrations.
	schemaVersion = 2
)

// ErrNotFound is returned by History.Get for an unknown session id.
var ErrNotFound = errors.New("session not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// HistoryRecord is one finished session.
type HistoryRecord struct {
	ID       string
	Label    string
	Status   string
	Peer     string
	Origin   domain.Sequence
	Input    domain.Sequence
	Result   domain.Sequence
	Started  time.Time
	Finished time.Time
}

// RecordFromSession snapshots a finished session.
func RecordFromSession(s *session.Session) HistoryRecord {
	st, res := s.Result()
	return HistoryRecord{
		ID:       s.ID,
		Label:    s.Label,
		Status:   st.String(),
		Peer:     s.Peer,
		Origin:   s.Origin,
		Input:    s.Data,
		Result:   res,
		Started:  s.Started,
		Finished: s.Finished(),
	}
}

// History stores finished sessions.
type History struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
}

// DefaultHistoryPath returns the SQLite file under dataDir.
func DefaultHistoryPath(dataDir string) string {
	return filepath.Join(dataDir, HistoryFileName)
}

// OpenHistory opens the store named by dsn. postgres:// and postgresql://
// DSNs use pgx; anything else is a SQLite file path.
func OpenHistory(ctx context.Context, dsn string) (*History, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "history_open")
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("history dsn is required")
	}
	h := &History{log: applog.WithComponent("storage")}
	var (
		db  *sql.DB
		err error
	)
	if isPostgresDSN(dsn) {
		h.dialect = dialectPostgres
		db, err = sql.Open("pgx", dsn)
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
		uri := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(dsn))
		db, err = sql.Open("sqlite", uri)
		if err == nil {
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	}
	if err != nil {
		l.Error("open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open history: %w", err)
	}
	h.db = db

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	if h.dialect == dialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			l.Warn("enable WAL failed", slog.Any("err", err))
		}
	}
	if err := h.ensureSchema(ctx); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := h.runMigrations(ctx); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("history ready", slog.String("backend", h.backendName()))
	return h, nil
}

func isPostgresDSN(dsn string) bool {
	d := strings.ToLower(dsn)
	return strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://")
}

func (h *History) backendName() string {
	if h.dialect == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Close releases the database.
func (h *History) Close() error { return h.db.Close() }

// rebind turns ? placeholders into $N for PostgreSQL.
func (h *History) rebind(q string) string {
	if h.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (h *History) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id          TEXT PRIMARY KEY,
			label       TEXT NOT NULL,
			status      TEXT NOT NULL,
			peer        TEXT NOT NULL DEFAULT '',
			origin      TEXT NOT NULL,
			input       TEXT NOT NULL,
			result      TEXT,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
	}
	for _, q := range ddl {
		if _, err := h.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := h.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh store starts at schema 1 and migrates forward.
		if _, err := h.db.ExecContext(ctx, h.rebind(`INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`), 1, version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := h.db.ExecContext(ctx, h.rebind(`UPDATE version SET app=?, updated_at=? WHERE id=1`), version.String(), now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema steps up to schemaVersion.
func (h *History) runMigrations(ctx context.Context) error {
	var cur int
	if err := h.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			stmts = []string{
				`CREATE INDEX IF NOT EXISTS idx_sessions_finished ON sessions(finished_at)`,
				`CREATE INDEX IF NOT EXISTS idx_sessions_label ON sessions(label)`,
			}
		}
		tx, err := h.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, h.rebind(`UPDATE version SET schema=?, updated_at=? WHERE id=1`), next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion reports the stored schema version.
func (h *History) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := h.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Record stores r, replacing an existing row with the same id.
func (h *History) Record(ctx context.Context, r HistoryRecord) error {
	origin, err := json.Marshal(r.Origin)
	if err != nil {
		return fmt.Errorf("marshal origin: %w", err)
	}
	input, err := json.Marshal(r.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var result sql.NullString
	if r.Status == session.Accepted.String() {
		b, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}
	q := h.rebind(`INSERT INTO sessions (id, label, status, peer, origin, input, result, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, result=excluded.result, finished_at=excluded.finished_at`)
	if _, err := h.db.ExecContext(ctx, q,
		r.ID, r.Label, r.Status, r.Peer, string(origin), string(input), result,
		formatTime(r.Started), formatTime(r.Finished)); err != nil {
		return fmt.Errorf("insert session %s: %w", r.ID, err)
	}
	return nil
}

// List returns up to limit records, most recently finished first. A
// non-positive limit lists everything.
func (h *History) List(ctx context.Context, limit int) ([]HistoryRecord, error) {
	q := `SELECT id, label, status, peer, origin, input, result, started_at, finished_at
		FROM sessions ORDER BY finished_at DESC, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, h.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			h.log.Warn("rows close", slog.Any("err", cerr))
		}
	}()
	var out []HistoryRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Get returns the record with id or ErrNotFound.
func (h *History) Get(ctx context.Context, id string) (HistoryRecord, error) {
	row := h.db.QueryRowContext(ctx, h.rebind(`SELECT id, label, status, peer, origin, input, result, started_at, finished_at
		FROM sessions WHERE id=?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Recorder returns a session.Broker OnFinish hook that stores every session.
// Failures are logged, never propagated to the session.
func (h *History) Recorder() func(*session.Session) {
	return func(s *session.Session) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Record(ctx, RecordFromSession(s)); err != nil {
			h.log.Error("record session failed", slog.String("session", s.ID), slog.Any("err", err))
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (HistoryRecord, error) {
	var (
		r                     HistoryRecord
		origin, input         string
		result                sql.NullString
		startedAt, finishedAt string
	)
	if err := sc.Scan(&r.ID, &r.Label, &r.Status, &r.Peer, &origin, &input, &result, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(origin), &r.Origin); err != nil {
		return r, fmt.Errorf("decode origin of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(input), &r.Input); err != nil {
		return r, fmt.Errorf("decode input of %s: %w", r.ID, err)
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &r.Result); err != nil {
			return r, fmt.Errorf("decode result of %s: %w", r.ID, err)
		}
	}
	r.Started = parseTime(startedAt)
	r.Finished = parseTime(finishedAt)
	return r, nil
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
