package concierge

import "context"

// EvidenceProvider fetches grounding text for a routed query. Exactly one
// provider runs per turn, selected by the pipeline's action table. A provider
// returns not-found evidence (Found == false) rather than an error for empty
// or irrelevant results; errors are reserved for outages, which the pipeline
// also degrades to not-found.
type EvidenceProvider interface {
	// Fetch returns evidence for the query. The decision carries
	// action-specific hints (document filename, rewritten search query).
	Fetch(ctx context.Context, query string, decision RoutingDecision) (Evidence, error)
	// Name identifies the provider in logs and errors.
	Name() string
}

// intrinsicProvider is the no-op provider for the intrinsic action: it
// returns empty evidence, signaling the generator to answer from general
// knowledge only.
type intrinsicProvider struct{}

var _ EvidenceProvider = intrinsicProvider{}

func (intrinsicProvider) Fetch(context.Context, string, RoutingDecision) (Evidence, error) {
	return Evidence{}, nil
}

func (intrinsicProvider) Name() string { return "intrinsic" }
