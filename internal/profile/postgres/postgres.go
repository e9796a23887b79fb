// Package postgres provides a PostgreSQL-backed profile store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nvollmar/backchannel/internal/profile"
)

// Schema is the SQL DDL for the participant_profiles table. Execute it
// via [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS participant_profiles (
    identity                TEXT PRIMARY KEY,
    profession              TEXT NOT NULL DEFAULT 'Participant',
    memory                  JSONB NOT NULL DEFAULT '{}',
    comprehension_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.6,
    interest                DOUBLE PRECISION NOT NULL DEFAULT 0.7,
    confidence              DOUBLE PRECISION NOT NULL DEFAULT 0.6,
    emotion                 TEXT NOT NULL DEFAULT 'idle',
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a [profile.Store] backed by a PostgreSQL database. The
// memory notes map is serialised as JSONB.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Compile-time interface check.
var _ profile.Store = (*Store)(nil)

// New creates a Store over an existing connection or pool. The caller
// is responsible for calling [Store.Migrate] before issuing queries.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open connects a pool to dsn, verifies connectivity, and ensures the
// schema exists. The returned Store owns the pool; Close releases it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL against the database.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Load implements [profile.Store.Load].
func (s *Store) Load(ctx context.Context, identity string) (profile.Record, error) {
	const query = `
		SELECT identity, profession, memory,
		       comprehension_threshold, interest, confidence, emotion
		FROM participant_profiles
		WHERE identity = $1`

	var (
		r       profile.Record
		memJSON []byte
	)
	err := s.db.QueryRow(ctx, query, identity).Scan(
		&r.Identity, &r.Profession, &memJSON,
		&r.ComprehensionThreshold, &r.Interest, &r.Confidence, &r.Emotion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Record{}, profile.ErrNotFound
		}
		return profile.Record{}, fmt.Errorf("postgres: load %q: %w", identity, err)
	}
	if err := json.Unmarshal(memJSON, &r.Memory); err != nil {
		return profile.Record{}, fmt.Errorf("postgres: unmarshal memory: %w", err)
	}
	return r, nil
}

// Save implements [profile.Store.Save] as an upsert keyed by identity.
func (s *Store) Save(ctx context.Context, r profile.Record) error {
	memJSON, err := json.Marshal(emptyMap(r.Memory))
	if err != nil {
		return fmt.Errorf("postgres: marshal memory: %w", err)
	}

	const query = `
		INSERT INTO participant_profiles (
			identity, profession, memory,
			comprehension_threshold, interest, confidence, emotion
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (identity) DO UPDATE SET
			profession = EXCLUDED.profession,
			memory = EXCLUDED.memory,
			comprehension_threshold = EXCLUDED.comprehension_threshold,
			interest = EXCLUDED.interest,
			confidence = EXCLUDED.confidence,
			emotion = EXCLUDED.emotion,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query,
		r.Identity, r.Profession, memJSON,
		r.ComprehensionThreshold, r.Interest, r.Confidence, r.Emotion,
	); err != nil {
		return fmt.Errorf("postgres: save %q: %w", r.Identity, err)
	}
	return nil
}

// Ping implements [profile.Store.Ping].
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool if this Store owns one.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// emptyMap returns m if non-nil, otherwise an empty non-nil map so JSON
// marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
