package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchiveStore durably archives tactical events to Postgres for
// after-the-fact analysis, off the hot path that Redis serves. The
// persistence model in spec.md §6 is otherwise "opaque key/value +
// sorted-set", which RedisStore already satisfies; this exists only
// because a real archival component can exercise jackc/pgx/v5 without
// contorting the hot-path schema to fit a relational shape.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore opens a pooled connection, mirroring
// store/postgres.go's NewPostgresStore pool-tuning-then-ping pattern.
func NewArchiveStore(ctx context.Context, connString string) (*ArchiveStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &ArchiveStore{pool: pool}, nil
}

func (s *ArchiveStore) Close() {
	s.pool.Close()
}

// ArchiveTacticalEvent inserts e into the durable tactical_events_archive
// table, upserting on eventID so retries are idempotent.
func (s *ArchiveStore) ArchiveTacticalEvent(ctx context.Context, e TacticalEvent) error {
	riders, err := json.Marshal(e.Riders)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tactical_events_archive (event_id, event_type, race_id, riders, confidence, occurred_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (event_id) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			archived_at = NOW()
	`
	_, err = s.pool.Exec(ctx, query, e.EventID, e.EventType, e.RaceID, riders, e.Confidence, e.Timestamp)
	return err
}

// ArchivedEvent returns a previously archived event by ID, or nil if none
// is on file.
func (s *ArchiveStore) ArchivedEvent(ctx context.Context, eventID string) (*TacticalEvent, error) {
	query := `
		SELECT event_id, event_type, race_id, riders, confidence, occurred_at
		FROM tactical_events_archive WHERE event_id = $1
	`
	var e TacticalEvent
	var ridersBlob []byte
	err := s.pool.QueryRow(ctx, query, eventID).Scan(&e.EventID, &e.EventType, &e.RaceID, &ridersBlob, &e.Confidence, &e.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ridersBlob, &e.Riders); err != nil {
		return nil, err
	}
	return &e, nil
}
