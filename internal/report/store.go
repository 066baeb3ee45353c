// Package report provides an optional PostgreSQL-backed archive of reaction
// events for moderator review. The archive is append-only and never
// authoritative: the in-process reputation ledger decides bans; this table
// only records how a record got where it is.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// validKinds mirrors the CHECK constraint on the reaction_events table.
var validKinds = map[string]bool{
	"like":    true,
	"dislike": true,
	"report":  true,
}

// ReactionEvent is one archived reaction with the counter snapshot it
// produced.
type ReactionEvent struct {
	SessionID     string
	ReactorConnID string
	TargetEmail   string
	Kind          string
	Likes         uint
	Dislikes      uint
	Reports       uint
	Banned        bool // true when this reaction flipped the ban flag
}

// Store manages the reaction archive in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL, verifies the connection, and runs pending
// migrations from migrationsDir.
func Open(ctx context.Context, databaseURL, migrationsDir string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("report: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping database: %w", err)
	}

	if err := runMigrations(databaseURL, migrationsDir); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle without running migrations.
// Used by tests that manage their own schema.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// runMigrations applies all pending schema migrations.
func runMigrations(databaseURL, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		return fmt.Errorf("report: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("report: run migrations: %w", err)
	}
	return nil
}

// RecordReaction inserts one reaction event. The kind is validated against
// the allowed set before insertion.
func (s *Store) RecordReaction(ctx context.Context, ev *ReactionEvent) error {
	if !validKinds[ev.Kind] {
		return fmt.Errorf("report: invalid kind %q", ev.Kind)
	}

	const query = `
		INSERT INTO reaction_events (session_id, reactor_conn_id, target_email, kind, likes, dislikes, reports, banned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		ev.SessionID,
		ev.ReactorConnID,
		ev.TargetEmail,
		ev.Kind,
		ev.Likes,
		ev.Dislikes,
		ev.Reports,
		ev.Banned,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountReports returns the number of archived report events against an
// email. Moderator-facing read; core ban logic never consults it.
func (s *Store) CountReports(ctx context.Context, email string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM reaction_events
		WHERE target_email = $1 AND kind = 'report'`

	var count int
	if err := s.db.QueryRowContext(ctx, query, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("report: count reports: %w", err)
	}
	return count, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
