package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory, *runner.Runner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	st := store.NewMemory()
	rm := risk.NewManager(st, logger)
	trader := trading.NewService(broker.NewPaper(100000, 5), st, rm, events.Nop{}, logger)
	tracker := performance.NewTracker(st, logger)
	run := runner.New(st, trader, tracker, advisor.RuleBased{}, events.Nop{}, logger, runner.Options{StopTimeout: 2 * time.Second})
	eng := engine.New(st, trader, advisor.RuleBased{}, logger)

	h := NewHandler(st, run, eng, rm, tracker, trader, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.POST("/strategies", h.CreateStrategy)
	v1.GET("/strategies", h.ListStrategies)
	v1.GET("/strategies/:id", h.GetStrategy)
	v1.PUT("/strategies/:id/settings", h.UpdateSettings)
	v1.POST("/strategies/:id/start", h.StartStrategy)
	v1.POST("/strategies/:id/stop", h.StopStrategy)
	v1.GET("/strategies/:id/status", h.StrategyStatus)
	v1.GET("/strategies/:id/performance", h.StrategyPerformance)
	v1.GET("/strategies/:id/risk", h.StrategyRisk)
	v1.POST("/backtest", h.RunBacktest)
	v1.GET("/account", h.Account)
	return r, st, run
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetStrategy(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/strategies", gin.H{
		"name":            "btc scalper",
		"kind":            "scalping",
		"initial_capital": 50000,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var created model.Strategy
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsActive)
	// defaults were filled in for the omitted settings
	assert.Contains(t, string(created.Settings), "short_ma_periods")

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/strategies/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/strategies/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateStrategyRejectsBadInput(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/strategies", gin.H{
		"name": "nameless capital",
		"kind": "scalping",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/strategies", gin.H{
		"name":            "bad kind",
		"kind":            "martingale",
		"initial_capital": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/strategies", gin.H{
		"name":            "bad settings",
		"kind":            "scalping",
		"initial_capital": 1000,
		"settings":        gin.H{"short_ma_periods": 10, "long_ma_periods": 5},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStrategyLifecycleEndpoints(t *testing.T) {
	r, st, run := newTestRouter(t)
	ctx := context.Background()

	rec := &model.Strategy{
		Name:           "lifecycle",
		Kind:           model.KindScalping,
		IsActive:       true,
		InitialCapital: 100000,
		CurrentCapital: 100000,
		Settings:       json.RawMessage(`{}`),
	}
	assert.NoError(t, st.CreateStrategy(ctx, rec))
	defer run.Shutdown(ctx)

	base := fmt.Sprintf("/api/v1/strategies/%d", rec.ID)

	w := doJSON(t, r, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, base+"/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":true`)

	w = doJSON(t, r, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateSettingsEndpoint(t *testing.T) {
	r, st, _ := newTestRouter(t)
	ctx := context.Background()

	rec := &model.Strategy{
		Name:           "tunable",
		Kind:           model.KindScalping,
		IsActive:       true,
		InitialCapital: 10000,
		CurrentCapital: 10000,
		Settings:       json.RawMessage(`{}`),
	}
	assert.NoError(t, st.CreateStrategy(ctx, rec))
	base := fmt.Sprintf("/api/v1/strategies/%d/settings", rec.ID)

	w := doJSON(t, r, http.MethodPut, base, gin.H{"take_profit_pct": 0.005})
	assert.Equal(t, http.StatusOK, w.Code)

	got, err := st.GetStrategy(ctx, rec.ID)
	assert.NoError(t, err)
	assert.Contains(t, string(got.Settings), "0.005")

	w = doJSON(t, r, http.MethodPut, base, gin.H{"take_profit_pct": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBacktestEndpoint(t *testing.T) {
	r, st, _ := newTestRouter(t)
	ctx := context.Background()

	rec := &model.Strategy{
		Name:           "replayed",
		Kind:           model.KindScalping,
		IsActive:       true,
		InitialCapital: 10000,
		CurrentCapital: 10000,
		Settings:       json.RawMessage(`{}`),
	}
	assert.NoError(t, st.CreateStrategy(ctx, rec))

	w := doJSON(t, r, http.MethodPost, "/api/v1/backtest", gin.H{
		"strategy_id": rec.ID,
		"days":        14,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var result model.BacktestResult
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, model.DataSynthetic, result.DataSource)
	assert.Equal(t, 10000.0, result.InitialCapital)

	w = doJSON(t, r, http.MethodPost, "/api/v1/backtest", gin.H{"strategy_id": 999})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRiskAndPerformanceEndpoints(t *testing.T) {
	r, st, _ := newTestRouter(t)
	ctx := context.Background()

	rec := &model.Strategy{
		Name:           "observed",
		Kind:           model.KindScalping,
		IsActive:       true,
		InitialCapital: 10000,
		CurrentCapital: 10000,
		Settings:       json.RawMessage(`{}`),
	}
	assert.NoError(t, st.CreateStrategy(ctx, rec))

	w := doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/strategies/%d/risk", rec.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/v1/strategies/%d/performance?days=7", rec.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/account", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "equity")
}
