package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// Memory is an in-memory Store used by tests and offline paper mode.
// Writes are serialized per entity map; last writer wins.
type Memory struct {
	mu         sync.RWMutex
	nextID     int64
	strategies map[int64]*model.Strategy
	positions  map[int64]map[string]*model.Position
	trades     map[int64]*model.Trade
	perf       map[int64]map[string]*model.PerformanceMetric // strategyID -> date key
}

func NewMemory() *Memory {
	return &Memory{
		nextID:     1,
		strategies: make(map[int64]*model.Strategy),
		positions:  make(map[int64]map[string]*model.Position),
		trades:     make(map[int64]*model.Trade),
		perf:       make(map[int64]map[string]*model.PerformanceMetric),
	}
}

func (s *Memory) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Memory) CreateStrategy(_ context.Context, st *model.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = s.id()
	now := time.Now().UTC()
	st.CreatedAt, st.UpdatedAt = now, now
	cp := *st
	s.strategies[st.ID] = &cp
	return nil
}

func (s *Memory) GetStrategy(_ context.Context, id int64) (*model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *Memory) ListStrategies(_ context.Context) ([]model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) UpdateStrategyActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return ErrNotFound
	}
	st.IsActive = active
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) UpdateStrategyCapital(_ context.Context, id int64, capital float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return ErrNotFound
	}
	st.CurrentCapital = capital
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) SaveSettings(_ context.Context, id int64, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return ErrNotFound
	}
	st.Settings = append(json.RawMessage(nil), raw...)
	st.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Memory) GetPosition(_ context.Context, strategyID int64, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[strategyID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) ListPositions(_ context.Context, strategyID int64) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions[strategyID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Memory) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.positions[p.StrategyID] == nil {
		s.positions[p.StrategyID] = make(map[string]*model.Position)
	}
	if existing, ok := s.positions[p.StrategyID][p.Symbol]; ok {
		p.ID = existing.ID
	} else {
		p.ID = s.id()
	}
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	s.positions[p.StrategyID][p.Symbol] = &cp
	return nil
}

func (s *Memory) DeletePosition(_ context.Context, strategyID int64, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions[strategyID], symbol)
	return nil
}

func (s *Memory) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *Memory) UpdateTradeStatus(_ context.Context, id int64, status model.TradeStatus, fillPrice decimal.Decimal, executedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok || t.Status != model.TradePending {
		return ErrNotFound
	}
	t.Status = status
	if fillPrice.IsPositive() {
		t.Price = fillPrice
	}
	if executedAt != nil {
		t.ExecutedAt = executedAt
	}
	return nil
}

func (s *Memory) ListTrades(_ context.Context, strategyID int64, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if t.StrategyID == strategyID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) ListTradesSince(_ context.Context, strategyID int64, since time.Time) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if t.StrategyID == strategyID && !t.CreatedAt.Before(since) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) PendingTrades(_ context.Context, strategyID int64) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Trade
	for _, t := range s.trades {
		if t.StrategyID == strategyID && t.Status == model.TradePending {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *Memory) UpsertPerformance(_ context.Context, m *model.PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perf[m.StrategyID] == nil {
		s.perf[m.StrategyID] = make(map[string]*model.PerformanceMetric)
	}
	key := dateKey(m.Date)
	if existing, ok := s.perf[m.StrategyID][key]; ok {
		m.ID = existing.ID
	} else {
		m.ID = s.id()
	}
	cp := *m
	s.perf[m.StrategyID][key] = &cp
	return nil
}

func (s *Memory) ListPerformance(_ context.Context, strategyID int64, days int) ([]model.PerformanceMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var out []model.PerformanceMetric
	for _, m := range s.perf[strategyID] {
		if !m.Date.Before(cutoff) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
