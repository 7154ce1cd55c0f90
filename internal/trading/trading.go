// Package trading routes strategy orders through the risk gate to the
// broker and keeps the store's trades, positions and capital in sync
// with broker state.
package trading

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"divetrader/internal/broker"
	"divetrader/internal/events"
	"divetrader/internal/infrastructure"
	"divetrader/internal/model"
	"divetrader/internal/risk"
	"divetrader/internal/store"
)

// ErrRiskBlocked is the expected outcome of a trade the risk gate
// refused. It wraps the first critical alert's message.
var ErrRiskBlocked = errors.New("trading: blocked by risk gate")

type Service struct {
	broker  broker.Broker
	store   store.Store
	risk    *risk.Manager
	emitter events.Emitter
	logger  *zap.Logger
}

func NewService(b broker.Broker, st store.Store, rm *risk.Manager, em events.Emitter, logger *zap.Logger) *Service {
	return &Service{broker: b, store: st, risk: rm, emitter: em, logger: logger}
}

// PlaceOrder validates a proposed trade and submits it. A zero price is
// resolved from the latest quote before validation. The recorded trade
// starts pending; SettleOrders moves it to its terminal status.
func (s *Service) PlaceOrder(ctx context.Context, strategyID int64, symbol string, side model.TradeSide, qty decimal.Decimal, price decimal.Decimal) (*model.Trade, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("trading: quantity must be positive, got %s", qty)
	}

	if !price.IsPositive() {
		quote, err := s.broker.GetLatestQuote(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("resolve price for %s: %w", symbol, err)
		}
		price = quote.Mid()
	}

	priceF, _ := price.Float64()
	allowed, alerts := s.risk.ValidateTrade(ctx, strategyID, symbol, side, qty.IntPart(), priceF)
	for _, a := range alerts {
		s.logger.Warn("risk alert",
			zap.Int64("strategy_id", strategyID),
			zap.String("kind", a.Kind),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message))
		s.emitter.Emit(strategyID, events.TypeRiskAlert, string(a.Severity), a.Message, a.Data)
	}
	if !allowed {
		infrastructure.OrdersBlocked.WithLabelValues(symbol).Inc()
		msg := "trade rejected"
		for _, a := range alerts {
			if a.Severity == model.SeverityCritical || a.Severity == model.SeverityHigh {
				msg = a.Message
				break
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrRiskBlocked, msg)
	}

	order, err := s.broker.PlaceOrder(ctx, symbol, side, qty)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	infrastructure.OrdersPlaced.WithLabelValues(symbol, string(side)).Inc()

	trade := &model.Trade{
		StrategyID:    strategyID,
		BrokerOrderID: order.ID,
		Symbol:        symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		Status:        model.TradePending,
	}
	if err := s.store.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	s.emitter.Emit(strategyID, events.TypeOrderPlaced, "info",
		fmt.Sprintf("%s %s %s @ %s", side, qty, symbol, price),
		map[string]interface{}{"trade_id": trade.ID, "broker_order_id": order.ID})
	return trade, nil
}

// SettleOrders polls broker status for the strategy's pending trades and
// applies the single pending -> terminal transition.
func (s *Service) SettleOrders(ctx context.Context, strategyID int64) error {
	pending, err := s.store.PendingTrades(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("list pending trades: %w", err)
	}

	for _, trade := range pending {
		order, err := s.broker.GetOrder(ctx, trade.BrokerOrderID)
		if err != nil {
			s.logger.Warn("failed to poll order",
				zap.Int64("trade_id", trade.ID),
				zap.String("broker_order_id", trade.BrokerOrderID),
				zap.Error(err))
			continue
		}

		var status model.TradeStatus
		switch order.Status {
		case broker.OrderFilled:
			status = model.TradeFilled
		case broker.OrderCancelled:
			status = model.TradeCancelled
		case broker.OrderRejected:
			status = model.TradeRejected
		default:
			continue
		}

		if err := s.store.UpdateTradeStatus(ctx, trade.ID, status, order.FilledPrice, order.FilledAt); err != nil {
			s.logger.Warn("failed to settle trade", zap.Int64("trade_id", trade.ID), zap.Error(err))
			continue
		}
		if status == model.TradeFilled {
			s.emitter.Emit(strategyID, events.TypeTradeFilled, "info",
				fmt.Sprintf("%s %s %s filled @ %s", trade.Side, trade.Quantity, trade.Symbol, order.FilledPrice),
				map[string]interface{}{"trade_id": trade.ID})
		}
	}
	return nil
}

// SyncPositions mirrors the broker's open positions into the store,
// deleting rows for positions the broker no longer holds.
func (s *Service) SyncPositions(ctx context.Context, strategyID int64) error {
	brokerPositions, err := s.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetch broker positions: %w", err)
	}

	held := make(map[string]bool, len(brokerPositions))
	for i := range brokerPositions {
		p := brokerPositions[i]
		p.StrategyID = strategyID
		held[p.Symbol] = true
		if err := s.store.UpsertPosition(ctx, &p); err != nil {
			return fmt.Errorf("upsert position %s: %w", p.Symbol, err)
		}
	}

	stored, err := s.store.ListPositions(ctx, strategyID)
	if err != nil {
		return fmt.Errorf("list stored positions: %w", err)
	}
	for _, p := range stored {
		if !held[p.Symbol] {
			if err := s.store.DeletePosition(ctx, strategyID, p.Symbol); err != nil {
				return fmt.Errorf("delete position %s: %w", p.Symbol, err)
			}
		}
	}
	return nil
}

// SyncCapital refreshes the strategy's capital from broker account
// equity. Best effort: callers log and continue on error.
func (s *Service) SyncCapital(ctx context.Context, strategyID int64) error {
	acct, err := s.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	equity, _ := acct.Equity.Float64()
	if err := s.store.UpdateStrategyCapital(ctx, strategyID, equity); err != nil {
		return fmt.Errorf("update capital: %w", err)
	}
	s.emitter.Emit(strategyID, events.TypeAccountSync, "info",
		fmt.Sprintf("capital synced to %.2f", equity), nil)
	return nil
}

// AccountEquity exposes broker equity for status endpoints.
func (s *Service) AccountEquity(ctx context.Context) (float64, error) {
	acct, err := s.broker.GetAccount(ctx)
	if err != nil {
		return 0, err
	}
	equity, _ := acct.Equity.Float64()
	return equity, nil
}

// Broker exposes the underlying broker for market data reads.
func (s *Service) Broker() broker.Broker {
	return s.broker
}
