package observer

import (
	"context"
	"time"

	"github.com/nevindra/concierge"

	"go.opentelemetry.io/otel/metric"
)

// TurnMetrics implements concierge.TurnObserver on top of OTEL instruments.
// Pass it to a pipeline via concierge.WithObserver. The metric calls use
// context.Background because pipeline callbacks carry no request context.
type TurnMetrics struct {
	inst *Instruments
}

// NewTurnMetrics creates a TurnObserver backed by the given instruments.
func NewTurnMetrics(inst *Instruments) *TurnMetrics {
	return &TurnMetrics{inst: inst}
}

func (t *TurnMetrics) CacheHit(agentType string, hitCount int) {
	t.inst.CacheHits.Add(context.Background(), 1, metric.WithAttributes(
		AttrAgentType.String(agentType),
	))
}

func (t *TurnMetrics) CacheMiss(agentType string) {
	t.inst.CacheMisses.Add(context.Background(), 1, metric.WithAttributes(
		AttrAgentType.String(agentType),
	))
}

func (t *TurnMetrics) Decision(action concierge.Action, fallback bool) {
	t.inst.Decisions.Add(context.Background(), 1, metric.WithAttributes(
		AttrRoutingAction.String(string(action)),
		AttrFallback.Bool(fallback),
	))
}

func (t *TurnMetrics) TurnDone(action concierge.Action, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.inst.TurnDuration.Record(context.Background(), float64(elapsed.Milliseconds()), metric.WithAttributes(
		AttrRoutingAction.String(string(action)),
		AttrTurnStatus.String(status),
	))
}

// Compile-time interface check.
var _ concierge.TurnObserver = (*TurnMetrics)(nil)
