package concierge

import (
	"context"
	"fmt"
	"log/slog"
)

// responsePrompt is the generation system prompt.
const responsePrompt = `You are a helpful company assistant.
Answer the user's question based on the provided context. Be concise but complete.
If the context doesn't contain enough information, say so.
Always maintain a professional and friendly tone.

` + SafetyGuidelines

const (
	defaultRefusal       = "I can't help with that request."
	defaultClarification = "Could you tell me a bit more about what you're looking for?"
)

// Generator turns a routing decision plus evidence into the final response
// text. It has no side effects — persistence and history belong to the
// pipeline.
//
// Grounding rules: for knowledge_base and web_search the answer is generated
// from the fetched evidence; when that evidence is missing the generator
// returns an explicit "unavailable" answer instead of inventing one, without
// calling the LLM at all. Blocked and clarify turns are phrased from the
// decision payload and never see evidence.
type Generator struct {
	llm           Provider
	historyWindow int // turns of history included in the prompt
	logger        *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// GeneratorHistoryWindow sets how many recent turns are included in the
// generation prompt (default: 2, i.e. 4 messages).
func GeneratorHistoryWindow(n int) GeneratorOption {
	return func(g *Generator) { g.historyWindow = n }
}

// GeneratorLogger sets the structured logger.
func GeneratorLogger(l *slog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator around a chat Provider.
func NewGenerator(llm Provider, opts ...GeneratorOption) *Generator {
	g := &Generator{llm: llm, historyWindow: 2}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	return g
}

// Generate produces the final response for a turn. history is the recent
// conversation as chat messages, oldest first. Returns *ErrGeneration when
// the text LLM fails; every other path is deterministic and cannot fail.
func (g *Generator) Generate(ctx context.Context, decision RoutingDecision, ev Evidence, query string, history []ChatMessage) (string, error) {
	switch decision.Action {
	case ActionBlocked:
		if decision.Refusal != "" {
			return decision.Refusal, nil
		}
		return defaultRefusal, nil

	case ActionClarify:
		if decision.Clarification != "" {
			return decision.Clarification, nil
		}
		return defaultClarification, nil

	case ActionKnowledgeBase:
		if !ev.Found {
			return fmt.Sprintf("I couldn't find that information in the company documents. (Looked for %q.)", query), nil
		}
		return g.complete(ctx, query, fmt.Sprintf("From %s:\n\n%s", ev.Source, ev.Content), history)

	case ActionWebSearch:
		if !ev.Found {
			return "I couldn't retrieve that information right now — the web search didn't return any results. Please try again later.", nil
		}
		return g.complete(ctx, query, fmt.Sprintf("Web search results:\n\n%s", ev.Content), history)

	default: // intrinsic
		if decision.DirectAnswer != "" {
			return decision.DirectAnswer, nil
		}
		return g.complete(ctx, query, "", history)
	}
}

// complete calls the text LLM with the response prompt, a short history
// window, and the evidence context when present.
func (g *Generator) complete(ctx context.Context, query, evidenceText string, history []ChatMessage) (string, error) {
	messages := make([]ChatMessage, 0, 2+2*g.historyWindow)
	messages = append(messages, SystemMessage(responsePrompt))

	window := history
	if limit := 2 * g.historyWindow; len(window) > limit {
		window = window[len(window)-limit:]
	}
	messages = append(messages, window...)

	if evidenceText != "" {
		messages = append(messages, UserMessage(fmt.Sprintf("Context:\n%s\n\nUser question: %s", evidenceText, query)))
	} else {
		messages = append(messages, UserMessage(query))
	}

	resp, err := g.llm.Chat(ctx, ChatRequest{Messages: messages})
	if err != nil {
		return "", &ErrGeneration{Err: err}
	}
	g.logger.Debug("response generated",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}
