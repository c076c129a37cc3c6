package concierge

import "context"

// AgentAll selects every agent type in Clear and Stats.
const AgentAll = ""

// Cache is a persistent query→response store keyed by
// (query_hash, agent_type). Implementations live in store/sqlite and
// store/postgres.
//
// Concurrency contract: Lookup and Store must be safe under concurrent use
// for the same or different keys. Lookup increments the hit counter and
// refreshes last_used_at atomically with the read. Store must merge into an
// existing row on key conflict (upsert-with-merge) instead of failing or
// duplicating, so two concurrent misses for the same query settle into one
// row whose hit count reflects both.
type Cache interface {
	// Init creates the schema idempotently.
	Init(ctx context.Context) error
	// Lookup returns the live entry for (hashKey, agentType), or (nil, nil)
	// on a miss. Entries older than the TTL are misses. On a hit, the row's
	// hit_count is incremented and last_used_at refreshed as part of the
	// same statement.
	Lookup(ctx context.Context, hashKey, agentType string) (*CachedResponse, error)
	// Store upserts a response. On (hashKey, agentType) conflict the
	// existing row is merged: hit_count incremented, response and
	// routing_action overwritten, last_used_at refreshed. The earliest
	// created_at wins unless the row already expired, so re-storing never
	// extends the TTL.
	Store(ctx context.Context, hashKey, normalized, response string, action Action, agentType string) error
	// Clear deletes all rows for agentType, or every row when agentType is
	// AgentAll. Idempotent. Returns the number of deleted rows.
	Clear(ctx context.Context, agentType string) (int, error)
	// Cleanup deletes rows older than the TTL. Returns the number deleted.
	Cleanup(ctx context.Context) (int, error)
	// Stats summarizes cache contents for agentType (AgentAll for a global
	// view with per-agent breakdown).
	Stats(ctx context.Context, agentType string) (CacheStats, error)
	Close() error
}
