package concierge

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TurnObserver receives pipeline events for metrics. The observer package
// provides an OTEL-backed implementation; the default is a no-op.
type TurnObserver interface {
	CacheHit(agentType string, hitCount int)
	CacheMiss(agentType string)
	Decision(action Action, fallback bool)
	TurnDone(action Action, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string, int)                  {}
func (nopObserver) CacheMiss(string)                      {}
func (nopObserver) Decision(Action, bool)                 {}
func (nopObserver) TurnDone(Action, time.Duration, error) {}

// Pipeline composes the full turn: normalize → cache lookup → route → single
// evidence fetch → generate → cache store → append to conversation.
//
// Each turn is strictly sequential; the only cross-turn shared state is the
// Cache (safe under concurrent use by contract) and the Conversation, which
// belongs to this pipeline's session alone. A Pipeline is therefore meant to
// be used by one session at a time; run one Pipeline per session against a
// shared Cache for concurrent traffic.
type Pipeline struct {
	router    *Router
	generator *Generator
	cache     Cache  // nil = caching disabled
	agentType string // uniqueness-key namespace for cache rows

	providers map[Action]EvidenceProvider
	conv      *Conversation
	obs       TurnObserver
	logger    *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithCache enables response caching. agentType labels which architecture
// produced the rows so the same query cached under different architectures
// never collides (it is part of the cache uniqueness key).
func WithCache(c Cache, agentType string) PipelineOption {
	return func(p *Pipeline) {
		p.cache = c
		p.agentType = agentType
	}
}

// WithDocuments sets the evidence provider for the knowledge_base action.
func WithDocuments(ep EvidenceProvider) PipelineOption {
	return func(p *Pipeline) { p.providers[ActionKnowledgeBase] = ep }
}

// WithWebSearch sets the evidence provider for the web_search action.
func WithWebSearch(ep EvidenceProvider) PipelineOption {
	return func(p *Pipeline) { p.providers[ActionWebSearch] = ep }
}

// WithObserver sets the metrics observer.
func WithObserver(o TurnObserver) PipelineOption {
	return func(p *Pipeline) { p.obs = o }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a Pipeline. Without WithCache every turn is a miss;
// without WithDocuments/WithWebSearch the matching actions degrade to
// not-found evidence. The intrinsic action always has its no-op provider.
func NewPipeline(router *Router, generator *Generator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		router:    router,
		generator: generator,
		agentType: "classic",
		providers: map[Action]EvidenceProvider{
			ActionIntrinsic: intrinsicProvider{},
		},
		conv: NewConversation(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.obs == nil {
		p.obs = nopObserver{}
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// AgentType returns the cache namespace label.
func (p *Pipeline) AgentType() string { return p.agentType }

// Conversation returns the session history.
func (p *Pipeline) Conversation() *Conversation { return p.conv }

// Reset clears the session history. The cache is untouched.
func (p *Pipeline) Reset() { p.conv.Reset() }

// Handle processes one user turn and returns the response text plus the
// decision that produced it. On a cache hit the router, evidence providers
// and generator never run. The only error callers see is *ErrGeneration —
// cache and evidence failures degrade internally. Failed turns are never
// cached and never appended to the conversation.
func (p *Pipeline) Handle(ctx context.Context, rawQuery string) (string, RoutingDecision, error) {
	start := time.Now()

	normalized, hashKey := Normalize(rawQuery)

	// 1. Cache lookup. Storage trouble means "miss", never a failed turn.
	if cached := p.cacheLookup(ctx, hashKey); cached != nil {
		decision := RoutingDecision{
			Action:    Action(cached.RoutingAction),
			Reason:    "retrieved from cache",
			FromCache: true,
		}
		p.conv.Append(rawQuery, cached.Response)
		p.obs.TurnDone(decision.Action, time.Since(start), nil)
		return cached.Response, decision, nil
	}

	// 2. Route. Decision failures fall back to intrinsic — never blocked, so
	// a transient routing outage cannot over-refuse.
	decision, err := p.router.Decide(ctx, normalized, p.conv.Window(p.conv.Len()))
	if err != nil {
		var de *ErrDecision
		if !errors.As(err, &de) {
			p.obs.TurnDone("", time.Since(start), err)
			return "", RoutingDecision{}, err
		}
		p.logger.Warn("decision failed, falling back to intrinsic", "error", err)
		decision = RoutingDecision{
			Action:   ActionIntrinsic,
			Reason:   "fallback: " + de.Message,
			Fallback: true,
		}
	}
	p.obs.Decision(decision.Action, decision.Fallback)

	// 3. Evidence: exactly one provider per turn, selected by the closed
	// action table. Provider errors degrade to not-found.
	evidence := p.fetchEvidence(ctx, normalized, decision)

	// 4. Generate.
	response, err := p.generator.Generate(ctx, decision, evidence, normalized, p.conv.Window(p.conv.Len()))
	if err != nil {
		p.obs.TurnDone(decision.Action, time.Since(start), err)
		return "", decision, err
	}

	// 5. Persist and append. Cache errors are logged, not surfaced.
	p.cacheStore(ctx, hashKey, normalized, response, decision.Action)
	p.conv.Append(rawQuery, response)

	p.obs.TurnDone(decision.Action, time.Since(start), nil)
	return response, decision, nil
}

// cacheLookup returns the cached entry or nil. A nil cache or a storage
// error both read as a miss.
func (p *Pipeline) cacheLookup(ctx context.Context, hashKey string) *CachedResponse {
	if p.cache == nil {
		return nil
	}
	cached, err := p.cache.Lookup(ctx, hashKey, p.agentType)
	if err != nil {
		p.logger.Warn("cache lookup failed, treating as miss", "error", err)
		p.obs.CacheMiss(p.agentType)
		return nil
	}
	if cached == nil {
		p.obs.CacheMiss(p.agentType)
		return nil
	}
	p.logger.Debug("cache hit",
		"hit_count", cached.HitCount,
		"routing_action", cached.RoutingAction)
	p.obs.CacheHit(p.agentType, cached.HitCount)
	return cached
}

// fetchEvidence runs the single provider mapped to the action. Actions with
// no provider configured, and provider outages, yield not-found evidence.
func (p *Pipeline) fetchEvidence(ctx context.Context, query string, decision RoutingDecision) Evidence {
	if !decision.Action.NeedsEvidence() && decision.Action != ActionIntrinsic {
		return Evidence{}
	}
	ep, ok := p.providers[decision.Action]
	if !ok {
		p.logger.Warn("no evidence provider configured", "action", decision.Action)
		return Evidence{}
	}
	ev, err := ep.Fetch(ctx, query, decision)
	if err != nil {
		p.logger.Warn("evidence provider failed, degrading to not-found",
			"provider", ep.Name(),
			"error", err)
		return Evidence{}
	}
	return ev
}

// cacheStore persists a finished turn, best effort.
func (p *Pipeline) cacheStore(ctx context.Context, hashKey, normalized, response string, action Action) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Store(ctx, hashKey, normalized, response, action, p.agentType); err != nil {
		p.logger.Warn("cache store failed", "error", err)
	}
}

// CacheStats reports statistics for this pipeline's agent type. Returns zero
// stats when caching is disabled.
func (p *Pipeline) CacheStats(ctx context.Context) (CacheStats, error) {
	if p.cache == nil {
		return CacheStats{}, nil
	}
	return p.cache.Stats(ctx, p.agentType)
}

// CacheClear deletes cached rows. agentType AgentAll clears every namespace.
func (p *Pipeline) CacheClear(ctx context.Context, agentType string) (int, error) {
	if p.cache == nil {
		return 0, nil
	}
	return p.cache.Clear(ctx, agentType)
}
