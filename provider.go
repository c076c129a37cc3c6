package concierge

import (
	"context"
	"log/slog"
)

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "openrouter").
	Name() string
}

// nopLogger discards all output. Components that accept a *slog.Logger via
// options default to it.
var nopLogger = slog.New(slog.DiscardHandler)
