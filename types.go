package concierge

import "time"

// --- Routing ---

// Action is the routing outcome that selects how a query will be answered.
type Action string

const (
	ActionKnowledgeBase Action = "knowledge_base"
	ActionWebSearch     Action = "web_search"
	ActionIntrinsic     Action = "intrinsic"
	ActionClarify       Action = "clarify"
	ActionBlocked       Action = "blocked"
)

// Actions is the closed routing vocabulary. The router rejects anything
// outside this set; adding an action means extending this slice and the
// provider table in Pipeline together.
var Actions = []Action{
	ActionKnowledgeBase,
	ActionWebSearch,
	ActionIntrinsic,
	ActionClarify,
	ActionBlocked,
}

// Valid reports whether a is part of the routing vocabulary.
func (a Action) Valid() bool {
	for _, v := range Actions {
		if a == v {
			return true
		}
	}
	return false
}

// NeedsEvidence reports whether the action requires an evidence fetch
// before generation.
func (a Action) NeedsEvidence() bool {
	return a == ActionKnowledgeBase || a == ActionWebSearch
}

// RoutingDecision is the structured output of the decision capability.
// Exactly one decision is produced per turn. Only Action is required;
// the remaining fields carry action-specific payloads the generator and
// evidence providers consume.
type RoutingDecision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`

	// Document is the corpus filename to load when Action is knowledge_base.
	Document string `json:"document,omitempty"`
	// SearchQuery is an optimized web query when Action is web_search.
	SearchQuery string `json:"search_query,omitempty"`
	// Clarification is the question to ask when Action is clarify.
	Clarification string `json:"clarification,omitempty"`
	// Refusal is a polite refusal in the user's language when Action is blocked.
	Refusal string `json:"refusal,omitempty"`
	// DirectAnswer is an optional direct answer when Action is intrinsic.
	DirectAnswer string `json:"direct_answer,omitempty"`

	// Fallback is set by the pipeline when the decision capability failed
	// and the turn was downgraded to intrinsic. Observability only.
	Fallback bool `json:"-"`
	// FromCache is set when the decision was reconstructed from a cache hit.
	FromCache bool `json:"-"`
}

// --- Evidence ---

// Evidence is text retrieved by a provider to ground a generated response.
// A zero Evidence (Found == false) signals not-found; the generator must
// then answer honestly that the information was unavailable.
type Evidence struct {
	Found   bool
	Source  string // human-readable origin, e.g. a filename or "web search"
	Content string
}

// --- Cache records ---

// CachedResponse is one live cache row for a (query_hash, agent_type) pair.
type CachedResponse struct {
	QueryNormalized string
	Response        string
	RoutingAction   string // empty for rows predating action tracking
	AgentType       string
	HitCount        int
	CreatedAt       time.Time
	LastUsedAt      time.Time
}

// CacheStats summarizes cache contents, optionally per agent type.
type CacheStats struct {
	TotalEntries  int
	ValidEntries  int // entries still within the TTL window
	TotalHits     int
	AvgHits       float64
	OldestEntry   time.Time
	MostRecentUse time.Time
	TTLDays       int
	PerAgent      map[string]AgentStats
}

// AgentStats is the per-agent-type slice of CacheStats.
type AgentStats struct {
	Entries int
	Hits    int
}

// --- LLM protocol types ---

type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
