// Package api exposes the HTTP surface: strategy management, lifecycle
// control, performance and risk reads, and backtest execution.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"divetrader/internal/engine"
	"divetrader/internal/model"
	"divetrader/internal/performance"
	"divetrader/internal/risk"
	"divetrader/internal/runner"
	"divetrader/internal/settings"
	"divetrader/internal/store"
	"divetrader/internal/strategy"
	"divetrader/internal/trading"
)

type Handler struct {
	store   store.Store
	runner  *runner.Runner
	engine  *engine.Engine
	risk    *risk.Manager
	tracker *performance.Tracker
	trader  *trading.Service
	logger  *zap.Logger
}

func NewHandler(st store.Store, r *runner.Runner, eng *engine.Engine, rm *risk.Manager, tracker *performance.Tracker, trader *trading.Service, logger *zap.Logger) *Handler {
	return &Handler{
		store:   st,
		runner:  r,
		engine:  eng,
		risk:    rm,
		tracker: tracker,
		trader:  trader,
		logger:  logger,
	}
}

func (h *Handler) strategyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid strategy id"})
		return 0, false
	}
	return id, true
}

// Strategy Handlers

func (h *Handler) CreateStrategy(c *gin.Context) {
	var req struct {
		Name           string          `json:"name" binding:"required"`
		Kind           string          `json:"kind" binding:"required"`
		InitialCapital float64         `json:"initial_capital" binding:"required,gt=0"`
		Settings       json.RawMessage `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := model.StrategyKind(req.Kind)
	raw := req.Settings
	if len(raw) == 0 {
		defaults, err := settings.Default(kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		raw = defaults
	}
	if err := validateSettings(kind, raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec := &model.Strategy{
		Name:           req.Name,
		Kind:           kind,
		IsActive:       true,
		InitialCapital: req.InitialCapital,
		CurrentCapital: req.InitialCapital,
		Settings:       raw,
	}
	if err := h.store.CreateStrategy(c.Request.Context(), rec); err != nil {
		h.logger.Error("failed to create strategy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create strategy"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func validateSettings(kind model.StrategyKind, raw json.RawMessage) error {
	switch kind {
	case model.KindScalping:
		_, err := settings.ParseScalping(raw)
		return err
	case model.KindDistributor:
		_, err := settings.ParseDistributor(raw)
		return err
	default:
		return errors.New("unknown strategy kind: " + string(kind))
	}
}

func (h *Handler) ListStrategies(c *gin.Context) {
	list, err := h.store.ListStrategies(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list strategies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list strategies"})
		return
	}

	type item struct {
		model.Strategy
		Running bool `json:"running"`
	}
	out := make([]item, 0, len(list))
	for _, s := range list {
		out = append(out, item{Strategy: s, Running: h.runner.IsRunning(s.ID)})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) GetStrategy(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	rec, err := h.store.GetStrategy(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strategy"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateSettings replaces the strategy's settings JSON. A running
// strategy keeps its current settings until restarted.
func (h *Handler) UpdateSettings(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	rec, err := h.store.GetStrategy(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strategy"})
		return
	}

	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateSettings(rec.Kind, raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.SaveSettings(c.Request.Context(), id, raw); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "settings updated", "id": id})
}

// Lifecycle Handlers

func (h *Handler) StartStrategy(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	err := h.runner.StartStrategy(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "strategy started", "id": id})
	case errors.Is(err, runner.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "strategy already running"})
	case errors.Is(err, runner.ErrInactive):
		c.JSON(http.StatusConflict, gin.H{"error": "strategy is not active"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
	case errors.Is(err, strategy.ErrInvalidSettings):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("failed to start strategy", zap.Int64("strategy_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start strategy"})
	}
}

func (h *Handler) StopStrategy(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	err := h.runner.StopStrategy(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "strategy stopped", "id": id})
	case errors.Is(err, runner.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "strategy not running"})
	default:
		h.logger.Error("failed to stop strategy", zap.Int64("strategy_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop strategy"})
	}
}

func (h *Handler) StrategyStatus(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	rec, err := h.store.GetStrategy(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strategy"})
		return
	}

	positions, err := h.store.ListPositions(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list positions"})
		return
	}
	trades, err := h.store.ListTrades(c.Request.Context(), id, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy":      rec,
		"state":         h.runner.StrategyState(id),
		"running":       h.runner.IsRunning(id),
		"positions":     positions,
		"recent_trades": trades,
	})
}

// Performance and Risk Handlers

func (h *Handler) StrategyPerformance(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	snap, err := h.tracker.Snapshot(c.Request.Context(), id, days)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to build performance snapshot", zap.Int64("strategy_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load performance"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) StrategyRisk(c *gin.Context) {
	id, ok := h.strategyID(c)
	if !ok {
		return
	}
	summary, err := h.risk.Summary(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to build risk summary", zap.Int64("strategy_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load risk summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Backtest Handler

func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		StrategyID     int64   `json:"strategy_id" binding:"required"`
		Days           int     `json:"days"`
		Symbol         string  `json:"symbol"`
		InitialCapital float64 `json:"initial_capital"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.GetStrategy(c.Request.Context(), req.StrategyID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load strategy"})
		return
	}

	result, err := h.engine.Run(c.Request.Context(), rec, engine.Request{
		Days:           req.Days,
		Symbol:         req.Symbol,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		if errors.Is(err, strategy.ErrInvalidSettings) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("backtest failed", zap.Int64("strategy_id", req.StrategyID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backtest failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Account Handler

func (h *Handler) Account(c *gin.Context) {
	equity, err := h.trader.AccountEquity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broker account unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": equity})
}
