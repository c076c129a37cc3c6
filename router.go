package concierge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Decider is the decision capability: given a query and recent history it
// returns exactly one structured RoutingDecision constrained to the action
// vocabulary, or *ErrDecision when its own bounded retries are exhausted.
type Decider interface {
	Decide(ctx context.Context, query string, history []ChatMessage) (RoutingDecision, error)
}

// routingPrompt instructs the decision LLM. Document summaries and safety
// guidelines are interpolated at construction time.
const routingPrompt = `You are a query router for a company assistant. Decide how to handle user queries.

## Available company documents
%s

## Safety guidelines
%s

## Routing rules
Return a JSON object with an "action" field set to exactly one of:
1. "knowledge_base" — company-specific info (policies, procedures, coding style). Set "document" to the exact filename.
2. "web_search" — current or external info (news, facts, tools), anything whose answer changes over time. Set "search_query" to an optimized query.
3. "intrinsic" — general knowledge that does not change over time and that you know. Optionally set "direct_answer".
4. "clarify" — the query is ambiguous or too general. Set "clarification" to your question.
5. "blocked" — the query is harmful. Set "refusal" to a polite refusal in the user's language.

Always include a brief "reason". Prefer "knowledge_base" for anything about the company.
Respond with ONLY the JSON object, no extra text.`

// LLMDecider implements Decider on top of a chat Provider. It asks for a
// JSON object, parses it leniently (code fences tolerated), validates the
// action against the vocabulary, and retries malformed output up to
// maxAttempts before giving up with *ErrDecision.
type LLMDecider struct {
	llm           Provider
	system        string
	maxAttempts   int
	historyWindow int // messages of history included in the prompt
	logger        *slog.Logger
}

var _ Decider = (*LLMDecider)(nil)

// DeciderOption configures an LLMDecider.
type DeciderOption func(*LLMDecider)

// DeciderMaxAttempts sets how many times malformed output is retried
// (default: 3 total attempts).
func DeciderMaxAttempts(n int) DeciderOption {
	return func(d *LLMDecider) { d.maxAttempts = n }
}

// DeciderHistoryWindow sets how many recent history messages are shown to
// the decision LLM (default: 8).
func DeciderHistoryWindow(n int) DeciderOption {
	return func(d *LLMDecider) { d.historyWindow = n }
}

// DeciderLogger sets the structured logger.
func DeciderLogger(l *slog.Logger) DeciderOption {
	return func(d *LLMDecider) { d.logger = l }
}

// NewDecider creates an LLMDecider. docSummaries is the formatted list of
// corpus documents shown to the router (see knowledge.Corpus.SummariesPrompt).
func NewDecider(llm Provider, docSummaries string, opts ...DeciderOption) *LLMDecider {
	d := &LLMDecider{
		llm:           llm,
		system:        fmt.Sprintf(routingPrompt, docSummaries, SafetyGuidelines),
		maxAttempts:   3,
		historyWindow: 8,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = nopLogger
	}
	return d
}

// Decide implements Decider.
func (d *LLMDecider) Decide(ctx context.Context, query string, history []ChatMessage) (RoutingDecision, error) {
	user := d.userContent(query, history)
	req := ChatRequest{Messages: []ChatMessage{
		SystemMessage(d.system),
		UserMessage(user),
	}}

	var lastRaw string
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		resp, err := d.llm.Chat(ctx, req)
		if err != nil {
			return RoutingDecision{}, &ErrDecision{Message: fmt.Sprintf("decision llm: %v", err)}
		}
		lastRaw = resp.Content

		decision, perr := ParseDecision(resp.Content)
		if perr == nil {
			d.logger.Debug("routing decision",
				"action", decision.Action,
				"reason", decision.Reason,
				"attempt", attempt)
			return decision, nil
		}

		d.logger.Warn("malformed routing decision, retrying",
			"attempt", attempt,
			"max_attempts", d.maxAttempts,
			"error", perr)
	}

	return RoutingDecision{}, &ErrDecision{
		Raw:     truncate(lastRaw, 200),
		Message: "malformed output after retries",
	}
}

// userContent builds the user message, prefixing recent history when present.
func (d *LLMDecider) userContent(query string, history []ChatMessage) string {
	if len(history) == 0 {
		return "Query: " + query
	}
	window := history
	if len(window) > d.historyWindow {
		window = window[len(window)-d.historyWindow:]
	}
	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, msg := range window {
		role := "User"
		if msg.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	b.WriteString("\nCurrent query: ")
	b.WriteString(query)
	return b.String()
}

// ParseDecision parses an LLM response into a RoutingDecision. The action is
// lowercased before validation so "KNOWLEDGE_BASE" matches the vocabulary.
func ParseDecision(response string) (RoutingDecision, error) {
	jsonStr := extractJSON(response)

	var decision RoutingDecision
	if err := json.Unmarshal([]byte(jsonStr), &decision); err != nil {
		return RoutingDecision{}, fmt.Errorf("parse decision: %w", err)
	}

	decision.Action = Action(strings.ToLower(strings.TrimSpace(string(decision.Action))))
	if !decision.Action.Valid() {
		return RoutingDecision{}, fmt.Errorf("action %q not in vocabulary", decision.Action)
	}
	return decision, nil
}

// extractJSON finds the first JSON object in a string (handles code fences).
func extractJSON(input string) string {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}
	return trimmed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Router is the per-turn decision state machine: safety check first, then a
// single structured decision. It performs exactly one transition per turn and
// never retries on its own — retry policy belongs to the Decider.
type Router struct {
	safety  Safety
	decider Decider
	logger  *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// RouterSafety replaces the default Guard safety classifier.
func RouterSafety(s Safety) RouterOption {
	return func(r *Router) { r.safety = s }
}

// RouterLogger sets the structured logger.
func RouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a Router around a Decider. The default safety classifier
// is NewGuard().
func NewRouter(decider Decider, opts ...RouterOption) *Router {
	r := &Router{decider: decider}
	for _, opt := range opts {
		opt(r)
	}
	if r.safety == nil {
		r.safety = NewGuard()
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Decide emits exactly one routing decision for the query. A blocked safety
// verdict short-circuits before the decision capability runs, so disallowed
// queries never reach an LLM or evidence provider. Malformed decision output
// surfaces as *ErrDecision for the pipeline's fallback policy.
func (r *Router) Decide(ctx context.Context, query string, history []ChatMessage) (RoutingDecision, error) {
	verdict, err := r.safety.Check(ctx, query, history)
	if err != nil {
		// A broken safety classifier must not let queries through unchecked.
		return RoutingDecision{}, fmt.Errorf("safety check: %w", err)
	}
	if verdict.Blocked {
		r.logger.Info("query blocked by safety classifier", "category", verdict.Category)
		return RoutingDecision{
			Action: ActionBlocked,
			Reason: "safety classifier: " + verdict.Category,
		}, nil
	}

	return r.decider.Decide(ctx, query, history)
}
