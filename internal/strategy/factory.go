package strategy

import (
	"fmt"

	"divetrader/internal/model"
)

// New constructs a strategy instance for a stored record. Settings are
// parsed and validated by Start, not here, so a record with bad settings
// can still be inspected.
func New(rec *model.Strategy, deps Deps) (Strategy, error) {
	switch rec.Kind {
	case model.KindScalping:
		return NewScalping(rec, deps), nil
	case model.KindDistributor:
		return NewDistributor(rec, deps), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", rec.Kind)
	}
}
