package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"divetrader/internal/advisor"
	"divetrader/internal/broker"
	"divetrader/internal/engine"
	"divetrader/internal/events"
	"divetrader/internal/model"
	"divetrader/internal/performance"
	"divetrader/internal/risk"
	"divetrader/internal/runner"
	"divetrader/internal/store"
	"divetrader/internal/trading"
)

func testApp(t *testing.T) *App {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemory()
	b := broker.NewPaper(100000, 11)
	rm := risk.NewManager(st, logger)
	trader := trading.NewService(b, st, rm, events.Nop{}, logger)
	tracker := performance.NewTracker(st, logger)
	adv := advisor.RuleBased{}
	return &App{
		Logger:  logger,
		Store:   st,
		Broker:  b,
		Emitter: events.Nop{},
		Risk:    rm,
		Trader:  trader,
		Advisor: adv,
		Tracker: tracker,
		Runner:  runner.New(st, trader, tracker, adv, events.Nop{}, logger, runner.Options{StopTimeout: 2 * time.Second}),
		Engine:  engine.New(st, trader, adv, logger),
	}
}

func TestResumeActiveStrategies(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	create := func(name string, active bool) *model.Strategy {
		rec := &model.Strategy{
			Name:           name,
			Kind:           model.KindScalping,
			IsActive:       active,
			InitialCapital: 100000,
			CurrentCapital: 100000,
			Settings:       json.RawMessage(`{}`),
		}
		if err := a.Store.CreateStrategy(ctx, rec); err != nil {
			t.Fatal(err)
		}
		return rec
	}
	active := create("live", true)
	parked := create("parked", false)

	a.resumeActiveStrategies(ctx)
	defer a.Runner.Shutdown(ctx)

	assert.True(t, a.Runner.IsRunning(active.ID))
	assert.False(t, a.Runner.IsRunning(parked.ID))

	// resuming twice is harmless
	a.resumeActiveStrategies(ctx)
	assert.True(t, a.Runner.IsRunning(active.ID))
}
