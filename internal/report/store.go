// Package report archives moderation events in PostgreSQL so reports and
// bans outlive the moderator process.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/whisper/linechat/internal/moderation"
)

// Store manages archived moderation events in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a new event store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Archive inserts one moderation event.
func (s *Store) Archive(ctx context.Context, ev moderation.Event) error {
	var banUntil sql.NullTime
	if ev.BanUntil != 0 {
		banUntil = sql.NullTime{Time: time.Unix(ev.BanUntil, 0).UTC(), Valid: true}
	}

	const query = `
		INSERT INTO moderation_events (type, reporter, target, reports, ban_until, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		ev.Type,
		ev.Reporter,
		ev.Target,
		ev.Reports,
		banUntil,
		time.Unix(ev.Ts, 0).UTC(),
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountSince returns how many events of type typ against target occurred at
// or after since.
func (s *Store) CountSince(ctx context.Context, typ, target string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_events
		WHERE type = $1
		  AND target = $2
		  AND occurred_at >= $3`

	var count int
	err := s.db.QueryRowContext(ctx, query, typ, target, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count since: %w", err)
	}
	return count, nil
}
