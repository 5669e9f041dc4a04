package durable

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/capra-ai/capra/fault"
)

//go:embed migrations/*.sql
var fs embed.FS

// SQLiteJournal persists invocation records in a local sqlite database.
// A single writer connection keeps append ordering trivial.
type SQLiteJournal struct {
	db *sqlx.DB
}

// NewSQLiteJournal opens (and migrates) the journal database at dsn, e.g.
// "file:capra.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000".
func NewSQLiteJournal(dsn string) (*SQLiteJournal, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	d, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

func (j *SQLiteJournal) LookupUnary(ctx context.Context, key Key) (*Outcome, bool, error) {
	var row struct {
		Result  []byte         `db:"result"`
		Failure sql.NullString `db:"failure"`
	}
	err := j.db.GetContext(ctx, &row,
		`SELECT result, failure FROM unary_records WHERE invocation_key = ?`, key.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := &Outcome{Result: row.Result}
	if row.Failure.Valid {
		var f fault.Fault
		if err := json.Unmarshal([]byte(row.Failure.String), &f); err != nil {
			return nil, false, err
		}
		out.Failure = &f
	}
	return out, true, nil
}

func (j *SQLiteJournal) StoreUnary(ctx context.Context, key Key, out Outcome) error {
	var failure sql.NullString
	if out.Failure != nil {
		encoded, err := json.Marshal(out.Failure)
		if err != nil {
			return err
		}
		failure = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO unary_records (invocation_key, result, failure) VALUES (?, ?, ?)
		 ON CONFLICT (invocation_key) DO NOTHING`,
		key.String(), out.Result, failure)
	return err
}

func (j *SQLiteJournal) AppendEvent(ctx context.Context, key Key, payload []byte) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO stream_events (invocation_key, seq, payload)
		 VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM stream_events WHERE invocation_key = ?), ?)`,
		key.String(), key.String(), payload)
	return err
}

func (j *SQLiteJournal) Seal(ctx context.Context, key Key) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO stream_seals (invocation_key) VALUES (?)
		 ON CONFLICT (invocation_key) DO NOTHING`, key.String())
	return err
}

func (j *SQLiteJournal) LoadStream(ctx context.Context, key Key) ([][]byte, bool, bool, error) {
	var events [][]byte
	err := j.db.SelectContext(ctx, &events,
		`SELECT payload FROM stream_events WHERE invocation_key = ? ORDER BY seq`, key.String())
	if err != nil {
		return nil, false, false, err
	}
	if len(events) == 0 {
		return nil, false, false, nil
	}
	var sealed bool
	err = j.db.GetContext(ctx, &sealed,
		`SELECT EXISTS (SELECT 1 FROM stream_seals WHERE invocation_key = ?)`, key.String())
	if err != nil {
		return nil, false, false, err
	}
	return events, sealed, true, nil
}
