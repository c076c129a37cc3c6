// Package sqlite implements concierge.Cache using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/concierge"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including timing
// and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithTTL sets the entry time-to-live in days (default: 30). Entries older
// than the TTL read as cache misses and are removed by Cleanup. A
// non-positive value disables expiry.
func WithTTL(days int) StoreOption {
	return func(s *Store) { s.ttlDays = days }
}

// Store implements concierge.Cache backed by a local SQLite file.
type Store struct {
	db      *sql.DB
	ttlDays int
	logger  *slog.Logger
	now     func() time.Time // test hook
}

var _ concierge.Cache = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections. The
// upsert-merge contract of concierge.Cache holds under that serialization.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, ttlDays: 30, logger: nopLogger, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: cache opened", "path", dbPath, "ttl_days", s.ttlDays)
	return s
}

// Init creates the query_cache table and its indexes. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS query_cache (
			query_hash TEXT NOT NULL,
			query_normalized TEXT NOT NULL,
			response TEXT NOT NULL,
			routing_action TEXT,
			agent_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (query_hash, agent_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_agent_type ON query_cache(agent_type)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_last_used_at ON query_cache(last_used_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_cache_created_at ON query_cache(created_at)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &concierge.ErrCacheUnavailable{Err: fmt.Errorf("init: %w", err)}
		}
	}
	return nil
}

// cutoff returns the oldest created_at still considered live, or 0 when
// expiry is disabled.
func (s *Store) cutoff() int64 {
	if s.ttlDays <= 0 {
		return 0
	}
	return s.now().Add(-time.Duration(s.ttlDays) * 24 * time.Hour).Unix()
}

// Lookup implements concierge.Cache. The hit-count increment and
// last_used_at refresh happen in the same UPDATE ... RETURNING statement as
// the read, so concurrent hits never lose updates.
func (s *Store) Lookup(ctx context.Context, hashKey, agentType string) (*concierge.CachedResponse, error) {
	start := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE query_cache
		SET last_used_at = ?, hit_count = hit_count + 1
		WHERE query_hash = ? AND agent_type = ? AND created_at > ?
		RETURNING query_normalized, response, routing_action, agent_type, hit_count, created_at, last_used_at`,
		start.Unix(), hashKey, agentType, s.cutoff())

	var (
		cached    concierge.CachedResponse
		action    sql.NullString
		createdAt int64
		usedAt    int64
	)
	err := row.Scan(&cached.QueryNormalized, &cached.Response, &action,
		&cached.AgentType, &cached.HitCount, &createdAt, &usedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("lookup: %w", err)}
	}
	cached.RoutingAction = action.String
	cached.CreatedAt = time.Unix(createdAt, 0)
	cached.LastUsedAt = time.Unix(usedAt, 0)
	s.logger.Debug("sqlite: cache hit",
		"agent_type", agentType,
		"hit_count", cached.HitCount,
		"took", time.Since(start))
	return &cached, nil
}

// Store implements concierge.Cache with upsert-merge semantics: a conflicting
// (query_hash, agent_type) row keeps accumulating hits instead of failing,
// so two concurrent misses for the same query settle into one row. The
// earliest created_at is kept, so re-storing does not extend the TTL; only a
// row that already expired takes the new timestamp.
func (s *Store) Store(ctx context.Context, hashKey, normalized, response string, action concierge.Action, agentType string) error {
	now := s.now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, query_normalized, response, routing_action, agent_type, created_at, last_used_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (query_hash, agent_type) DO UPDATE SET
			response = excluded.response,
			routing_action = excluded.routing_action,
			created_at = CASE WHEN query_cache.created_at > ?
				THEN query_cache.created_at
				ELSE excluded.created_at END,
			last_used_at = excluded.last_used_at,
			hit_count = query_cache.hit_count + 1`,
		hashKey, normalized, response, nullAction(action), agentType, now, now, s.cutoff())
	if err != nil {
		return &concierge.ErrCacheUnavailable{Err: fmt.Errorf("store: %w", err)}
	}
	s.logger.Debug("sqlite: cached response", "agent_type", agentType, "routing_action", action)
	return nil
}

// Clear implements concierge.Cache.
func (s *Store) Clear(ctx context.Context, agentType string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if agentType == concierge.AgentAll {
		res, err = s.db.ExecContext(ctx, `DELETE FROM query_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE agent_type = ?`, agentType)
	}
	if err != nil {
		return 0, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("clear: %w", err)}
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: cache cleared", "agent_type", agentType, "deleted", n)
	return int(n), nil
}

// Cleanup deletes rows older than the TTL. No-op when expiry is disabled.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	if s.ttlDays <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE created_at <= ?`, s.cutoff())
	if err != nil {
		return 0, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("cleanup: %w", err)}
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: expired entries removed", "deleted", n)
	return int(n), nil
}

// Stats implements concierge.Cache. With AgentAll it also fills the
// per-agent breakdown.
func (s *Store) Stats(ctx context.Context, agentType string) (concierge.CacheStats, error) {
	stats := concierge.CacheStats{TTLDays: s.ttlDays}

	query := `
		SELECT COUNT(*),
			COALESCE(SUM(hit_count), 0),
			COALESCE(SUM(CASE WHEN created_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(MIN(created_at), 0),
			COALESCE(MAX(last_used_at), 0)
		FROM query_cache`
	args := []any{s.cutoff()}
	if agentType != concierge.AgentAll {
		query += ` WHERE agent_type = ?`
		args = append(args, agentType)
	}

	var oldest, recent int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalEntries, &stats.TotalHits, &stats.ValidEntries, &oldest, &recent)
	if err != nil {
		return concierge.CacheStats{}, &concierge.ErrCacheUnavailable{Err: fmt.Errorf("stats: %w", err)}
	}
	if oldest > 0 {
		stats.OldestEntry = time.Unix(oldest, 0)
	}
	if recent > 0 {
		stats.MostRecentUse = time.Unix(recent, 0)
	}
	if stats.TotalEntries > 0 {
		stats.AvgHits = float64(stats.TotalHits) / float64(stats.TotalEntries)
	}

	if agentType == concierge.AgentAll {
		rows, err := s.db.QueryContext(ctx, `
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

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// nullAction maps an empty action to NULL, matching rows that predate
// action tracking.
func nullAction(a concierge.Action) any {
	if a == "" {
		return nil
	}
	return string(a)
}
