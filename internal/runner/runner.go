// Package runner owns the live strategy lifecycle: one goroutine per
// running strategy, driving its iteration loop until it is stopped,
// deactivated or the process shuts down.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/events"
	"divetrader/internal/infrastructure"
	"divetrader/internal/model"
	"divetrader/internal/performance"
	"divetrader/internal/store"
	"divetrader/internal/strategy"
	"divetrader/internal/trading"
)

var (
	ErrAlreadyRunning = errors.New("runner: strategy already running")
	ErrNotRunning     = errors.New("runner: strategy not running")
	ErrInactive       = errors.New("runner: strategy is not active")
)

// Options tunes loop housekeeping.
type Options struct {
	// StopTimeout bounds how long StopStrategy waits for the loop
	// goroutine to drain before abandoning it.
	StopTimeout time.Duration
	// SyncEvery is the number of iterations between broker capital syncs.
	SyncEvery int
	// ScalpingInterval and PortfolioInterval are the per-kind tick
	// fallbacks used when a strategy does not report its own interval.
	ScalpingInterval  time.Duration
	PortfolioInterval time.Duration
}

func (o *Options) defaults() {
	if o.StopTimeout <= 0 {
		o.StopTimeout = 30 * time.Second
	}
	if o.SyncEvery <= 0 {
		o.SyncEvery = 60
	}
	if o.ScalpingInterval <= 0 {
		o.ScalpingInterval = time.Minute
	}
	if o.PortfolioInterval <= 0 {
		o.PortfolioInterval = time.Hour
	}
}

type handle struct {
	strategy strategy.Strategy
	cancel   context.CancelFunc
	done     chan struct{}
}

type Runner struct {
	store   store.Store
	trader  *trading.Service
	tracker *performance.Tracker
	advisor advisor.Advisor
	emitter events.Emitter
	logger  *zap.Logger
	opts    Options

	mu      sync.Mutex
	running map[int64]*handle
}

func New(st store.Store, trader *trading.Service, tracker *performance.Tracker, adv advisor.Advisor, em events.Emitter, logger *zap.Logger, opts Options) *Runner {
	opts.defaults()
	return &Runner{
		store:   st,
		trader:  trader,
		tracker: tracker,
		advisor: adv,
		emitter: em,
		logger:  logger,
		opts:    opts,
		running: make(map[int64]*handle),
	}
}

// StartStrategy loads the record, builds the strategy instance and
// spawns its iteration loop. The handle is registered before the loop
// goroutine starts so a concurrent start of the same id fails fast.
func (r *Runner) StartStrategy(ctx context.Context, id int64) error {
	r.mu.Lock()
	if _, ok := r.running[id]; ok {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.mu.Unlock()

	rec, err := r.store.GetStrategy(ctx, id)
	if err != nil {
		return fmt.Errorf("load strategy %d: %w", id, err)
	}
	if !rec.IsActive {
		return ErrInactive
	}

	// capital sync before the first iteration is best effort
	if err := r.trader.SyncCapital(ctx, id); err != nil {
		r.logger.Warn("initial capital sync failed", zap.Int64("strategy_id", id), zap.Error(err))
	}

	strat, err := strategy.New(rec, strategy.Deps{
		Store:   r.store,
		Trading: r.trader,
		Advisor: r.advisor,
		Emitter: r.emitter,
		Logger:  r.logger,
	})
	if err != nil {
		return err
	}
	if err := strat.Start(ctx); err != nil {
		return fmt.Errorf("start strategy %d: %w", id, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	h := &handle{strategy: strat, cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if _, ok := r.running[id]; ok {
		r.mu.Unlock()
		cancel()
		_ = strat.Stop(ctx)
		return ErrAlreadyRunning
	}
	r.running[id] = h
	r.mu.Unlock()

	infrastructure.RunningStrategies.Inc()
	r.logger.Info("strategy loop starting",
		zap.Int64("strategy_id", id),
		zap.String("kind", string(strat.Kind())),
		zap.Duration("interval", r.interval(strat)))

	go r.loop(loopCtx, id, h)
	return nil
}

// StopStrategy cancels the loop, stops the strategy and waits up to the
// stop timeout for the goroutine to drain. Deregistration happens
// unconditionally so a wedged loop cannot block a later restart.
func (r *Runner) StopStrategy(ctx context.Context, id int64) error {
	r.mu.Lock()
	h, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	h.cancel()
	err := h.strategy.Stop(ctx)

	select {
	case <-h.done:
	case <-time.After(r.opts.StopTimeout):
		r.logger.Warn("strategy loop did not drain before timeout", zap.Int64("strategy_id", id))
	}

	r.deregister(id)
	r.logger.Info("strategy loop stopped", zap.Int64("strategy_id", id))
	return err
}

// deregister removes the handle and decrements the running gauge, but
// only when the entry was still present: the loop's deactivation path
// and a concurrent StopStrategy may both reach here.
func (r *Runner) deregister(id int64) {
	r.mu.Lock()
	_, ok := r.running[id]
	delete(r.running, id)
	r.mu.Unlock()
	if ok {
		infrastructure.RunningStrategies.Dec()
	}
}

// interval is the loop tick: the strategy's own setting when it reports
// one, the per-kind configured fallback otherwise.
func (r *Runner) interval(strat strategy.Strategy) time.Duration {
	if iv := strat.Interval(); iv > 0 {
		return iv
	}
	if strat.Kind() == model.KindDistributor {
		return r.opts.PortfolioInterval
	}
	return r.opts.ScalpingInterval
}

func (r *Runner) IsRunning(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

func (r *Runner) ListRunning() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops every running strategy. Called once at process exit.
func (r *Runner) Shutdown(ctx context.Context) {
	for _, id := range r.ListRunning() {
		if err := r.StopStrategy(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
			r.logger.Warn("failed to stop strategy during shutdown",
				zap.Int64("strategy_id", id), zap.Error(err))
		}
	}
}

// loop drives one strategy: iterate, settle orders, mirror positions,
// refresh the daily performance row. Iteration errors are logged and
// absorbed; only cancellation or deactivation ends the loop.
func (r *Runner) loop(ctx context.Context, id int64, h *handle) {
	defer close(h.done)

	kind := string(h.strategy.Kind())
	timer := time.NewTimer(r.interval(h.strategy))
	defer timer.Stop()

	iteration := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		rec, err := r.store.GetStrategy(ctx, id)
		if err != nil {
			r.logger.Warn("failed to reload strategy record", zap.Int64("strategy_id", id), zap.Error(err))
		} else if !rec.IsActive {
			r.logger.Info("strategy deactivated, leaving loop", zap.Int64("strategy_id", id))
			if err := h.strategy.Stop(ctx); err != nil {
				r.logger.Warn("stop after deactivation failed", zap.Int64("strategy_id", id), zap.Error(err))
			}
			r.deregister(id)
			return
		}

		iteration++
		r.iterate(ctx, id, kind, h.strategy, iteration)

		timer.Reset(r.interval(h.strategy))
	}
}

func (r *Runner) iterate(ctx context.Context, id int64, kind string, strat strategy.Strategy, iteration int) {
	started := time.Now()
	if err := strat.RunIteration(ctx); err != nil {
		infrastructure.IterationErrors.WithLabelValues(kind).Inc()
		r.logger.Error("strategy iteration failed",
			zap.Int64("strategy_id", id), zap.String("kind", kind), zap.Error(err))
	}
	infrastructure.IterationLatency.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	if err := r.trader.SettleOrders(ctx, id); err != nil {
		r.logger.Warn("order settlement failed", zap.Int64("strategy_id", id), zap.Error(err))
	}
	if err := r.trader.SyncPositions(ctx, id); err != nil {
		r.logger.Warn("position sync failed", zap.Int64("strategy_id", id), zap.Error(err))
	}
	if iteration%r.opts.SyncEvery == 0 {
		if err := r.trader.SyncCapital(ctx, id); err != nil {
			r.logger.Warn("capital sync failed", zap.Int64("strategy_id", id), zap.Error(err))
		}
	}
	if err := r.tracker.UpdateDaily(ctx, id); err != nil {
		r.logger.Warn("performance update failed", zap.Int64("strategy_id", id), zap.Error(err))
	} else if iteration%r.opts.SyncEvery == 0 {
		r.emitter.Emit(id, events.TypePerformanceUpdate, "info", "daily performance refreshed", nil)
	}
}

// StrategyState reports the lifecycle state for status endpoints; a
// strategy with no registered handle is stopped by definition.
func (r *Runner) StrategyState(id int64) strategy.State {
	r.mu.Lock()
	h, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return strategy.StateStopped
	}
	return h.strategy.State()
}
