// Package postgres implements concierge.Cache using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool; Close is a no-op for the
// pool itself. The upsert-merge contract relies on a composite primary key on
// (query_hash, agent_type) plus INSERT ... ON CONFLICT DO UPDATE, so it holds
// under fully concurrent writers without advisory locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/concierge"
)

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithTTL sets the entry time-to-live in days (default: 30). A non-positive
// value disables expiry.
func WithTTL(days int) Option {
	return func(s *Store) { s.ttlDays = days }
}

// Store implements concierge.Cache backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	ttlDays int
}

var _ concierge.Cache = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, ttlDays: 30}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ttlInterval returns the TTL as a Postgres-friendly duration. With expiry
// disabled it returns a window large enough to match every row.
func (s *Store) ttlInterval() time.Duration {
	if s.ttlDays <= 0 {
		return 100 * 365 * 24 * time.Hour
	}
	return time.Duration(s.ttlDays) * 24 * time.Hour
}

// Init creates the query_cache table and indexes. Safe to call multiple
// times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_cache (
			query_hash VARCHAR(64) NOT NULL,
			query_normalized TEXT NOT NULL,
			response TEXT NOT NULL,
			routing_action VARCHAR(32),
			agent_type VARCHAR(32) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			hit_count INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (query_hash, agent_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_agent_type ON query_cache(agent_type)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_last_used_at ON query_cache(last_used_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_created_at ON query_cache(created_at)`,
	}
	for _, ddl := range stmts {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return &concierge.ErrCacheUnavailable{Err: fmt.Errorf("init: %w", err)}
		}
	}
	return nil
}

// Lookup implements concierge.Cache. The read, hit-count increment and
// last_used_at refresh are one UPDATE ... RETURNING statement.
func (s *Store) Lookup(ctx context.Context, hashKey, agentType string) (*concierge.CachedResponse, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE query_cache
		SET last_used_at = now(), hit_count = hit_count + 1
		WHERE query_hash = $1 AND agent_type = $2 AND created_at > now() - $3::interval
		RETURNING query_normalized, response, COALESCE(routing_action, ''), agent_type, hit_count, created_at, last_used_at`,
		hashKey, agentType, s.ttlInterval())

	var cached concierge.CachedResponse
	err := row.Scan(&cached.QueryNormalized, &cached.Response, &cached.RoutingAction,
		&cached.AgentType, &cached.HitCount, &cached.CreatedAt, &cached.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("lookup: %w", err)}
	}
	return &cached, nil
}

// Store implements concierge.Cache with upsert-merge semantics. The earliest
// created_at is kept, so re-storing does not extend the TTL; only a row that
// already expired takes the new timestamp.
func (s *Store) Store(ctx context.Context, hashKey, normalized, response string, action concierge.Action, agentType string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_cache (query_hash, query_normalized, response, routing_action, agent_type)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (query_hash, agent_type) DO UPDATE SET
			response = EXCLUDED.response,
			routing_action = EXCLUDED.routing_action,
			created_at = CASE WHEN query_cache.created_at > now() - $6::interval
				THEN query_cache.created_at
				ELSE now() END,
			last_used_at = now(),
			hit_count = query_cache.hit_count + 1`,
		hashKey, normalized, response, string(action), agentType, s.ttlInterval())
	if err != nil {
		return &concierge.ErrCacheUnavailable{Err: fmt.Errorf("store: %w", err)}
	}
	return nil
}

// Clear implements concierge.Cache.
func (s *Store) Clear(ctx context.Context, agentType string) (int, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if agentType == concierge.AgentAll {
		tag, err = s.pool.Exec(ctx, `DELETE FROM query_cache`)
	} else {
		tag, err = s.pool.Exec(ctx, `DELETE FROM query_cache WHERE agent_type = $1`, agentType)
	}
	if err != nil {
		return 0, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("clear: %w", err)}
	}
	return int(tag.RowsAffected()), nil
}

// Cleanup deletes rows older than the TTL.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	if s.ttlDays <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM query_cache WHERE created_at <= now() - $1::interval`, s.ttlInterval())
	if err != nil {
		return 0, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("cleanup: %w", err)}
	}
	return int(tag.RowsAffected()), nil
}

// Stats implements concierge.Cache.
func (s *Store) Stats(ctx context.Context, agentType string) (concierge.CacheStats, error) {
	stats := concierge.CacheStats{TTLDays: s.ttlDays}

	query := `
		SELECT COUNT(*),
			COALESCE(SUM(hit_count), 0),
			COUNT(*) FILTER (WHERE created_at > now() - $1::interval),
			MIN(created_at),
			MAX(last_used_at)
		FROM query_cache`
	args := []any{s.ttlInterval()}
	if agentType != concierge.AgentAll {
		query += ` WHERE agent_type = $2`
		args = append(args, agentType)
	}

	var oldest, recent *time.Time
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalEntries, &stats.TotalHits, &stats.ValidEntries, &oldest, &recent)
	if err != nil {
		return concierge.CacheStats{}, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("stats: %w", err)}
	}
	if oldest != nil {
		stats.OldestEntry = *oldest
	}
	if recent != nil {
		stats.MostRecentUse = *recent
	}
	if stats.TotalEntries > 0 {
		stats.AvgHits = float64(stats.TotalHits) / float64(stats.TotalEntries)
	}

	if agentType == concierge.AgentAll {
		rows, err := s.pool.Query(ctx, `
			SELECT agent_type, COUNT(*), COALESCE(SUM(hit_count), 0)
			FROM query_cache GROUP BY agent_type`)
		if err != nil {
			return concierge.CacheStats{}, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("stats: %w", err)}
		}
		defer rows.Close()
		stats.PerAgent = make(map[string]concierge.AgentStats)
		for rows.Next() {
			var (
				agent string
				as    concierge.AgentStats
			)
			if err := rows.Scan(&agent, &as.Entries, &as.Hits); err != nil {
				return concierge.CacheStats{}, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("stats: %w", err)}
			}
			stats.PerAgent[agent] = as
		}
		if err := rows.Err(); err != nil {
			return concierge.CacheStats{}, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("stats: %w", err)}
		}
	}

	return stats, nil
}

// Close implements concierge.Cache. The pool is caller-owned, so this is a
// no-op.
func (s *Store) Close() error { return nil }
