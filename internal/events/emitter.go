// Package events publishes strategy lifecycle and trading events to NATS
// JetStream and relays them to websocket subscribers. Publishing is
// fire-and-forget: an event that cannot be delivered is logged and dropped,
// trading never waits on the event path.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	TypeStrategyStart     = "strategy_start"
	TypeStrategyStop      = "strategy_stop"
	TypeTradeCheck        = "trade_check"
	TypeSignalGenerated   = "signal_generated"
	TypeOrderPlaced       = "order_placed"
	TypeTradeFilled       = "trade_filled"
	TypeRiskAlert         = "risk_alert"
	TypePerformanceUpdate = "performance_update"
	TypeAccountSync       = "account_sync"
)

type Event struct {
	StrategyID int64                  `json:"strategy_id"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

type Emitter interface {
	Emit(strategyID int64, eventType, severity, message string, data map[string]interface{})
}

// Publisher emits events onto JetStream under strategy.events.<id>.
type Publisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewPublisher(js nats.JetStreamContext, logger *zap.Logger) *Publisher {
	return &Publisher{js: js, logger: logger}
}

func (p *Publisher) Emit(strategyID int64, eventType, severity, message string, data map[string]interface{}) {
	ev := Event{
		StrategyID: strategyID,
		Type:       eventType,
		Severity:   severity,
		Message:    message,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	subject := fmt.Sprintf("strategy.events.%d", strategyID)
	if _, err := p.js.PublishAsync(subject, payload); err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("subject", subject),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// Nop discards all events. Used by tests and backtest runs.
type Nop struct{}

func (Nop) Emit(int64, string, string, string, map[string]interface{}) {}
