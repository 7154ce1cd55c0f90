package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/backtest"
	"divetrader/internal/events"
	"divetrader/internal/model"
	"divetrader/internal/settings"
	"divetrader/internal/store"
	"divetrader/internal/trading"
)

// ErrInvalidSettings is returned by Start when the strategy's stored
// settings fail validation. The strategy stays Stopped.
var ErrInvalidSettings = settings.ErrInvalid

// ErrNotStopped is returned by Start on a strategy that is not Stopped.
var ErrNotStopped = errors.New("strategy: not stopped")

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Strategy is the contract every trading algorithm implements. The
// scheduler and the backtesting engine drive strategies only through
// this interface, never by kind.
type Strategy interface {
	Kind() model.StrategyKind
	State() State

	// Start validates settings and moves Stopped -> Running.
	Start(ctx context.Context) error
	// Stop is idempotent and flattens live positions best effort.
	Stop(ctx context.Context) error
	// RunIteration performs one trading check. A no-op unless Running.
	RunIteration(ctx context.Context) error
	// Interval is the pause between iterations.
	Interval() time.Duration

	Backtest(ctx context.Context, data *backtest.Data, initialCapital float64) (*model.BacktestResult, error)
}

// Deps carries the shared services a strategy instance needs. Advisor
// may be nil.
type Deps struct {
	Store   store.Store
	Trading *trading.Service
	Advisor advisor.Advisor
	Emitter events.Emitter
	Logger  *zap.Logger
}

// lifecycle guards the Stopped -> Starting -> Running -> Stopping ->
// Stopped state machine shared by all strategies.
type lifecycle struct {
	mu    sync.Mutex
	state State
}

func newLifecycle() lifecycle {
	return lifecycle{state: StateStopped}
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// transition moves from -> to atomically, failing if the current state
// is not from.
func (l *lifecycle) transition(from, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != from {
		return fmt.Errorf("%w: state is %s", ErrNotStopped, l.state)
	}
	l.state = to
	return nil
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}
