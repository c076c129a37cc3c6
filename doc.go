// Package concierge is a routing-and-caching pipeline for company assistants.
//
// A user query flows through a fixed sequence: normalization, a persistent
// query cache keyed by (sha256(normalized query), agent type), a router that
// picks exactly one action per turn, a single evidence provider, and a
// generator that composes the final answer. Repeated identical queries are
// served from the cache without touching the router or any LLM.
//
// # Quick Start
//
//	llm := concierge.WithRetry(openaicompat.NewProvider(apiKey, model, baseURL))
//	cache := sqlite.New("concierge.db")
//	corpus, _ := knowledge.Load("knowledge_base")
//
//	pipe := concierge.NewPipeline(
//		concierge.NewRouter(concierge.NewDecider(llm, corpus.SummariesPrompt())),
//		concierge.NewGenerator(llm),
//		concierge.WithCache(cache, "classic"),
//		concierge.WithDocuments(corpus),
//		concierge.WithWebSearch(search.New(serperKey)),
//	)
//
//	answer, decision, err := pipe.Handle(ctx, "What is our vacation policy?")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend (chat completion)
//   - [Cache] — persistent query→response store with upsert-merge semantics
//   - [Safety] — pre-routing safety classifier
//   - [EvidenceProvider] — document search, web search, or intrinsic (none)
//
// Implementations live in subpackages: store/sqlite, store/postgres,
// knowledge, search, provider/openaicompat. Observability wrappers are in
// observer. Nothing in the root package performs I/O beyond its injected
// dependencies.
package concierge
