package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"divetrader/internal/runner"
)

// resumeActiveStrategies restarts the loop of every active strategy on
// boot, so a process restart does not silently park live strategies.
// Failures are logged per strategy and never abort startup.
func (a *App) resumeActiveStrategies(ctx context.Context) {
	list, err := a.Store.ListStrategies(ctx)
	if err != nil {
		a.Logger.Error("failed to list strategies for resume", zap.Error(err))
		return
	}

	resumed := 0
	for _, rec := range list {
		if !rec.IsActive {
			continue
		}
		if err := a.Runner.StartStrategy(ctx, rec.ID); err != nil {
			if errors.Is(err, runner.ErrAlreadyRunning) {
				continue
			}
			a.Logger.Warn("failed to resume strategy",
				zap.Int64("strategy_id", rec.ID),
				zap.String("name", rec.Name),
				zap.Error(err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		a.Logger.Info("resumed active strategies", zap.Int("count", resumed))
	}
}
