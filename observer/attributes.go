package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrAgentType     = attribute.Key("agent.type")
	AttrRoutingAction = attribute.Key("routing.action")
	AttrFallback      = attribute.Key("routing.fallback")
	AttrCacheHitCount = attribute.Key("cache.hit_count")
	AttrTurnStatus    = attribute.Key("turn.status")
)
