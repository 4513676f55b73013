package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"termpool/internal/model"
)

// SQLiteRecorder persists pool events to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets the HTTP history endpoints read while the pool writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pool_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			kind      TEXT NOT NULL,
			round     INTEGER NOT NULL,
			account   TEXT NOT NULL DEFAULT '',
			amount    INTEGER NOT NULL DEFAULT 0,
			expiry    INTEGER NOT NULL DEFAULT 0,
			note      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_events_ts ON pool_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_pool_events_account ON pool_events(account)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(evt *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := evt.At
	if at.IsZero() {
		at = time.Now()
	}
	// amounts are stored as int64; every pool amount is bounded well below 2^63
	_, err := r.db.Exec(`INSERT INTO pool_events
		(timestamp, kind, round, account, amount, expiry, note)
		VALUES (?,?,?,?,?,?,?)`,
		at.UnixNano(), string(evt.Kind), int64(evt.Round), string(evt.Account),
		int64(evt.Amount), unixNanos(evt.Expiry), evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) Events(limit int) ([]model.Event, error) {
	return r.query(`SELECT timestamp, kind, round, account, amount, expiry, note
		FROM pool_events ORDER BY id DESC`, limit)
}

func (r *SQLiteRecorder) AccountEvents(account model.Account, limit int) ([]model.Event, error) {
	return r.query(`SELECT timestamp, kind, round, account, amount, expiry, note
		FROM pool_events WHERE account = ? ORDER BY id DESC`, limit, string(account))
}

func (r *SQLiteRecorder) query(stmt string, limit int, args ...any) ([]model.Event, error) {
	if limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, limit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			evt                       model.Event
			ts, expiry, round, amount int64
			kind, acct, note          string
		)
		if err := rows.Scan(&ts, &kind, &round, &acct, &amount, &expiry, &note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.At = time.Unix(0, ts).UTC()
		evt.Kind = model.EventKind(kind)
		evt.Round = uint64(round)
		evt.Account = model.Account(acct)
		evt.Amount = uint64(amount)
		if expiry != 0 {
			evt.Expiry = time.Unix(0, expiry).UTC()
		}
		evt.Note = note
		out = append(out, evt)
	}
	return out, rows.Err()
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
