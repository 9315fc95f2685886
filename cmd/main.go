package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/batchdex/solver/internal/api"
	"github.com/batchdex/solver/internal/batch"
	"github.com/batchdex/solver/internal/external"
	"github.com/batchdex/solver/internal/risk"
	"github.com/batchdex/solver/internal/storage"
	"github.com/batchdex/solver/internal/websocket"
)

func main() {
	initConfig()
	logger := initLogger()

	clock := initClock(logger)
	zk := initZKBackend(logger)
	engine := batch.NewEngine(clock, zk, logger)

	auditLog := initAuditLog(logger)
	if auditLog != nil {
		defer auditLog.Close()
	}

	throttle := initThrottle(logger)

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	handler := api.NewHandler(engine, throttle, auditLog, wsHub, logger)
	router := setupRoutes(handler, wsHub)

	server := &http.Server{
		Addr:         viper.GetString("server.address"),
		Handler:      router,
		ReadTimeout:  viper.GetDuration("server.read_timeout"),
		WriteTimeout: viper.GetDuration("server.write_timeout"),
	}

	go func() {
		logger.WithField("address", server.Addr).Info("solver: starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("solver: failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("solver: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("solver: server forced to shutdown")
	}

	logger.Info("solver: exited")
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.SetDefault("server.address", ":8084")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("chain.rpc_url", "")
	viper.SetDefault("zk.backend_url", "")
	viper.SetDefault("storage.postgres_dsn", "")
	viper.SetDefault("storage.redis_addr", "")
	viper.SetDefault("storage.redis_db", 0)
	viper.SetDefault("risk.order_rate_limit", 20)
	viper.SetDefault("risk.cancel_rate_limit", 20)
	viper.SetDefault("risk.rate_limit_window", "1m")
	viper.SetDefault("risk.auto_blacklist_threshold", 10)
	viper.SetDefault("risk.blacklist_duration", "15m")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.Warn("solver: config file not found, using defaults")
		} else {
			logrus.WithError(err).Fatal("solver: error reading config file")
		}
	}

	viper.AutomaticEnv()
}

func initLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if viper.GetString("log.format") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// initClock wires the batch deadline clock to the chain's block timestamp
// when an RPC endpoint is configured, falling back to the process's wall
// clock for local development (§6 Clock collaborator).
func initClock(logger *logrus.Logger) external.Clock {
	rpcURL := viper.GetString("chain.rpc_url")
	if rpcURL == "" {
		logger.Warn("solver: no chain RPC URL configured, using system wall clock")
		return external.SystemClock{}
	}

	clock, err := external.NewChainClock(rpcURL, logger)
	if err != nil {
		logger.WithError(err).Warn("solver: failed to dial chain RPC endpoint, using system wall clock")
		return external.SystemClock{}
	}
	logger.WithField("rpc_url", rpcURL).Info("solver: chain clock initialized")
	return clock
}

// initZKBackend wires the settlement packager's proving collaborator.
// An unavailable backend is a supported configuration (§9(a)): the core
// degrades to zero envelopes and a placeholder proof rather than failing.
func initZKBackend(logger *logrus.Logger) external.ZKBackend {
	baseURL := viper.GetString("zk.backend_url")
	if baseURL == "" {
		logger.Warn("solver: no ZK backend URL configured, settlements will use zero envelopes and placeholder proofs")
		return external.UnavailableZKBackend{}
	}
	logger.WithField("backend_url", baseURL).Info("solver: ZK backend initialized")
	return external.NewHTTPZKBackend(baseURL, logger)
}

// initAuditLog wires the Postgres-backed settlement audit trail. It is
// optional: a solver with no DSN configured simply doesn't persist
// settlements, which is fine for local development.
func initAuditLog(logger *logrus.Logger) *storage.AuditLog {
	dsn := viper.GetString("storage.postgres_dsn")
	if dsn == "" {
		logger.Warn("solver: no postgres DSN configured, settlement audit log disabled")
		return nil
	}

	auditLog, err := storage.NewAuditLog(dsn)
	if err != nil {
		logger.WithError(err).Warn("solver: failed to open postgres audit log, continuing without it")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := auditLog.Migrate(ctx); err != nil {
		logger.WithError(err).Warn("solver: failed to migrate settlement audit table")
	}
	return auditLog
}

// initThrottle wires the Redis-backed admission throttle (internal/risk).
// Like the audit log, it degrades to "no throttling" if Redis isn't
// configured, rather than blocking startup.
func initThrottle(logger *logrus.Logger) *risk.Throttle {
	addr := viper.GetString("storage.redis_addr")
	if addr == "" {
		logger.Warn("solver: no redis address configured, admission throttle disabled")
		return nil
	}

	cache := storage.NewRedisCache(addr, viper.GetInt("storage.redis_db"))
	config := risk.Config{
		OrderRateLimit:         viper.GetInt("risk.order_rate_limit"),
		CancelRateLimit:        viper.GetInt("risk.cancel_rate_limit"),
		RateLimitWindow:        viper.GetDuration("risk.rate_limit_window"),
		AutoBlacklistThreshold: viper.GetInt("risk.auto_blacklist_threshold"),
		BlacklistDuration:      viper.GetDuration("risk.blacklist_duration"),
	}
	logger.WithField("redis_addr", addr).Info("solver: admission throttle initialized")
	return risk.NewThrottle(cache, config, logger)
}

func setupRoutes(handler *api.Handler, wsHub *websocket.Hub) *gin.Engine {
	if viper.GetString("log.level") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(handler.CORSMiddleware())
	router.Use(handler.LoggerMiddleware())
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handler.HealthCheck)
		v1.POST("/batches", handler.BeginBatch)
		v1.GET("/batches/:batch_id", handler.GetBatch)
		v1.POST("/batches/:batch_id/orders", handler.SubmitOrder)
		v1.DELETE("/batches/:batch_id/orders/:order_id", handler.CancelOrder)
		v1.GET("/batches/:batch_id/volume", handler.EstimateVolume)
		v1.POST("/batches/:batch_id/close", handler.CloseBatch)
		v1.POST("/batches/:batch_id/settle", handler.SettleBatch)
	}

	router.GET("/ws", func(c *gin.Context) {
		wsHub.HandleWebSocket(c.Writer, c.Request)
	})

	return router
}
