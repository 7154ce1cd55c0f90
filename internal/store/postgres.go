package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"divetrader/internal/model"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) CreateStrategy(ctx context.Context, st *model.Strategy) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO strategies (name, kind, is_active, initial_capital, current_capital, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING id, created_at, updated_at`,
		st.Name, st.Kind, st.IsActive, st.InitialCapital, st.CurrentCapital, st.Settings,
	).Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt)
}

func (s *Postgres) GetStrategy(ctx context.Context, id int64) (*model.Strategy, error) {
	var st model.Strategy
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, is_active, initial_capital, current_capital, settings, created_at, updated_at
		FROM strategies WHERE id = $1`, id,
	).Scan(&st.ID, &st.Name, &st.Kind, &st.IsActive, &st.InitialCapital, &st.CurrentCapital, &st.Settings, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Postgres) ListStrategies(ctx context.Context) ([]model.Strategy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, is_active, initial_capital, current_capital, settings, created_at, updated_at
		FROM strategies ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Strategy
	for rows.Next() {
		var st model.Strategy
		if err := rows.Scan(&st.ID, &st.Name, &st.Kind, &st.IsActive, &st.InitialCapital, &st.CurrentCapital, &st.Settings, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateStrategyActive(ctx context.Context, id int64, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) UpdateStrategyCapital(ctx context.Context, id int64, capital float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET current_capital = $2, updated_at = now() WHERE id = $1`, id, capital)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) SaveSettings(ctx context.Context, id int64, raw json.RawMessage) error {
	tag, err := s.pool.Exec(ctx, `UPDATE strategies SET settings = $2, updated_at = now() WHERE id = $1`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) GetPosition(ctx context.Context, strategyID int64, symbol string) (*model.Position, error) {
	var p model.Position
	err := s.pool.QueryRow(ctx, `
		SELECT id, strategy_id, symbol, quantity, avg_price, current_price, market_value, unrealized_pnl, side, updated_at
		FROM positions WHERE strategy_id = $1 AND symbol = $2`, strategyID, symbol,
	).Scan(&p.ID, &p.StrategyID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPnL, &p.Side, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) ListPositions(ctx context.Context, strategyID int64) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, symbol, quantity, avg_price, current_price, market_value, unrealized_pnl, side, updated_at
		FROM positions WHERE strategy_id = $1 ORDER BY symbol ASC`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.StrategyID, &p.Symbol, &p.Quantity, &p.AvgPrice, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPnL, &p.Side, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertPosition(ctx context.Context, p *model.Position) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO positions (strategy_id, symbol, quantity, avg_price, current_price, market_value, unrealized_pnl, side, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (strategy_id, symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price,
			current_price = EXCLUDED.current_price,
			market_value = EXCLUDED.market_value,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			side = EXCLUDED.side,
			updated_at = now()
		RETURNING id, updated_at`,
		p.StrategyID, p.Symbol, p.Quantity, p.AvgPrice, p.CurrentPrice, p.MarketValue, p.UnrealizedPnL, p.Side,
	).Scan(&p.ID, &p.UpdatedAt)
}

func (s *Postgres) DeletePosition(ctx context.Context, strategyID int64, symbol string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE strategy_id = $1 AND symbol = $2`, strategyID, symbol)
	return err
}

func (s *Postgres) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO trades (strategy_id, broker_order_id, symbol, side, quantity, price, status, realized_pnl, created_at, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9)
		RETURNING id, created_at`,
		t.StrategyID, t.BrokerOrderID, t.Symbol, t.Side, t.Quantity, t.Price, t.Status, t.RealizedPnL, t.ExecutedAt,
	).Scan(&t.ID, &t.CreatedAt)
}

func (s *Postgres) UpdateTradeStatus(ctx context.Context, id int64, status model.TradeStatus, fillPrice decimal.Decimal, executedAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades SET status = $2,
			price = CASE WHEN $3::numeric > 0 THEN $3 ELSE price END,
			executed_at = COALESCE($4, executed_at)
		WHERE id = $1 AND status = 'pending'`,
		id, status, fillPrice, executedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListTrades(ctx context.Context, strategyID int64, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, broker_order_id, symbol, side, quantity, price, status, realized_pnl, created_at, executed_at
		FROM trades WHERE strategy_id = $1 ORDER BY created_at DESC LIMIT $2`, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *Postgres) ListTradesSince(ctx context.Context, strategyID int64, since time.Time) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, broker_order_id, symbol, side, quantity, price, status, realized_pnl, created_at, executed_at
		FROM trades WHERE strategy_id = $1 AND created_at >= $2 ORDER BY created_at ASC`, strategyID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func (s *Postgres) PendingTrades(ctx context.Context, strategyID int64) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, broker_order_id, symbol, side, quantity, price, status, realized_pnl, created_at, executed_at
		FROM trades WHERE strategy_id = $1 AND status = 'pending' ORDER BY created_at ASC`, strategyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.StrategyID, &t.BrokerOrderID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Status, &t.RealizedPnL, &t.CreatedAt, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertPerformance(ctx context.Context, m *model.PerformanceMetric) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO performance_metrics (strategy_id, date, total_value, daily_pnl, cumulative_pnl, roi_pct,
			total_trades, winning_trades, losing_trades, win_rate, sharpe_ratio, max_drawdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (strategy_id, date) DO UPDATE SET
			total_value = EXCLUDED.total_value,
			daily_pnl = EXCLUDED.daily_pnl,
			cumulative_pnl = EXCLUDED.cumulative_pnl,
			roi_pct = EXCLUDED.roi_pct,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			win_rate = EXCLUDED.win_rate,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			max_drawdown = EXCLUDED.max_drawdown
		RETURNING id`,
		m.StrategyID, m.Date, m.TotalValue, m.DailyPnL, m.CumulativePnL, m.ROIPct,
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate, m.SharpeRatio, m.MaxDrawdown,
	).Scan(&m.ID)
}

func (s *Postgres) ListPerformance(ctx context.Context, strategyID int64, days int) ([]model.PerformanceMetric, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, strategy_id, date, total_value, daily_pnl, cumulative_pnl, roi_pct,
			total_trades, winning_trades, losing_trades, win_rate, sharpe_ratio, max_drawdown
		FROM performance_metrics
		WHERE strategy_id = $1 AND date >= now() - make_interval(days => $2)
		ORDER BY date ASC`, strategyID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PerformanceMetric
	for rows.Next() {
		var m model.PerformanceMetric
		if err := rows.Scan(&m.ID, &m.StrategyID, &m.Date, &m.TotalValue, &m.DailyPnL, &m.CumulativePnL, &m.ROIPct,
			&m.TotalTrades, &m.WinningTrades, &m.LosingTrades, &m.WinRate, &m.SharpeRatio, &m.MaxDrawdown); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
