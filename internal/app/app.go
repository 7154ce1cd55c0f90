// Package app wires configuration, storage, broker, messaging and the
// HTTP surface into one runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"divetrader/api"
	"divetrader/internal/advisor"
	"divetrader/internal/broker"
	"divetrader/internal/config"
	"divetrader/internal/engine"
	"divetrader/internal/events"
	"divetrader/internal/infrastructure"
	"divetrader/internal/performance"
	"divetrader/internal/risk"
	"divetrader/internal/runner"
	"divetrader/internal/store"
	"divetrader/internal/trading"
)

// App defines the application structure and its dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB      *pgxpool.Pool
	Store   store.Store
	Broker  broker.Broker
	NC      *nats.Conn
	JS      nats.JetStreamContext
	Emitter events.Emitter
	Gateway *events.Gateway

	Risk    *risk.Manager
	Trader  *trading.Service
	Advisor advisor.Advisor
	Tracker *performance.Tracker
	Runner  *runner.Runner
	Engine  *engine.Engine

	HTTPServer *http.Server
}

// NewApp creates a new application instance
func NewApp() (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	infrastructure.Init(cfg.Debug)
	logger := infrastructure.Logger

	return &App{
		Config: &cfg,
		Logger: logger,
	}, nil
}

// Init initializes all application components
func (a *App) Init(ctx context.Context) error {
	// 1. Store: Postgres when a DSN is configured, in-memory otherwise
	if a.Config.DB_DSN != "" {
		dbPool, err := pgxpool.Connect(ctx, a.Config.DB_DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool
		if err := a.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Store = store.NewPostgres(dbPool)
	} else {
		a.Logger.Warn("no DB_DSN configured, using in-memory store")
		a.Store = store.NewMemory()
	}

	// 2. Broker
	switch a.Config.Broker {
	case "alpaca":
		a.Broker = broker.NewAlpaca(a.Config.AlpacaAPIKey, a.Config.AlpacaAPISecret, a.Config.AlpacaBaseURL, a.Logger)
	default:
		a.Logger.Info("using paper broker")
		a.Broker = broker.NewPaper(100000, time.Now().UnixNano())
	}

	// 3. NATS: optional, events degrade to a no-op emitter without it
	nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
	if err != nil {
		a.Logger.Warn("NATS unavailable, event streaming disabled", zap.Error(err))
		a.Emitter = events.Nop{}
	} else {
		a.NC = nc
		a.JS = js
		a.Emitter = events.NewPublisher(js, a.Logger)
		a.Gateway = events.NewGateway(js, a.Logger)
	}

	// 4. Services
	a.Risk = risk.NewManager(a.Store, a.Logger)
	a.Trader = trading.NewService(a.Broker, a.Store, a.Risk, a.Emitter, a.Logger)
	a.Advisor = advisor.RuleBased{}
	a.Tracker = performance.NewTracker(a.Store, a.Logger)
	a.Runner = runner.New(a.Store, a.Trader, a.Tracker, a.Advisor, a.Emitter, a.Logger, runner.Options{
		StopTimeout:       time.Duration(a.Config.StopTimeoutSec) * time.Second,
		SyncEvery:         a.Config.AccountSyncEvery,
		ScalpingInterval:  time.Duration(a.Config.ScalpingInterval) * time.Second,
		PortfolioInterval: time.Duration(a.Config.PortfolioInterval) * time.Second,
	})
	a.Engine = engine.New(a.Store, a.Trader, a.Advisor, a.Logger)

	return nil
}

// Run starts the application services and the HTTP server
func (a *App) Run(ctx context.Context) error {
	a.resumeActiveStrategies(ctx)

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown()
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a.Runner.Shutdown(ctx)

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if a.NC != nil {
		a.NC.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	return nil
}

// initDatabase runs the database initialization script
func (a *App) initDatabase(ctx context.Context) error {
	sqlFile := "scripts/init.sql"
	content, err := os.ReadFile(sqlFile)
	if err != nil {
		return fmt.Errorf("failed to read init script: %w", err)
	}

	if _, err := a.DB.Exec(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute init script: %w", err)
	}

	a.Logger.Info("database initialized successfully")
	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	if !a.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandler := api.NewHandler(a.Store, a.Runner, a.Engine, a.Risk, a.Tracker, a.Trader, a.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/strategies", apiHandler.CreateStrategy)
		v1.GET("/strategies", apiHandler.ListStrategies)
		v1.GET("/strategies/:id", apiHandler.GetStrategy)
		v1.PUT("/strategies/:id/settings", apiHandler.UpdateSettings)
		v1.POST("/strategies/:id/start", apiHandler.StartStrategy)
		v1.POST("/strategies/:id/stop", apiHandler.StopStrategy)
		v1.GET("/strategies/:id/status", apiHandler.StrategyStatus)
		v1.GET("/strategies/:id/performance", apiHandler.StrategyPerformance)
		v1.GET("/strategies/:id/risk", apiHandler.StrategyRisk)
		v1.POST("/backtest", apiHandler.RunBacktest)
		v1.GET("/account", apiHandler.Account)
	}

	if a.Gateway != nil {
		r.GET("/ws", func(c *gin.Context) {
			a.Gateway.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}
