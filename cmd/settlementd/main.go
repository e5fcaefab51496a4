package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/AlexDanielMotogna/TFC-sub004/internal/attribution"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/claim"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/config"
	cronrunner "github.com/AlexDanielMotogna/TFC-sub004/internal/cron"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/db"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/exchange"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/funds"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/handler"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/ledger"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/live"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/logger"
	gormrepository "github.com/AlexDanielMotogna/TFC-sub004/internal/repository/gorm"
	"github.com/AlexDanielMotogna/TFC-sub004/internal/settlement"
)

func main() {
	cfgPath := os.Getenv("TFC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("TFC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	exchangeHTTP := &http.Client{Timeout: cfg.Exchange.Timeout}
	exchangeClient := exchange.NewClient(exchangeHTTP, cfg.Exchange.BaseURL)
	fundsHTTP := &http.Client{Timeout: cfg.Funds.Timeout}
	fundsClient := funds.NewClient(fundsHTTP, cfg.Funds.BaseURL)

	registry := live.NewRegistry(logger)

	stakeLedger := &ledger.Ledger{Repo: store, Logger: logger}
	ingestor := &attribution.Ingestor{
		Repo:     store,
		Facts:    exchangeClient,
		Logger:   logger,
		Config:   cfg.Exchange,
		Notifier: registry,
	}
	validator := &settlement.Validator{
		Repo:   store,
		Logger: logger,
		Config: cfg.Settlement,
	}
	reconciler := &settlement.Reconciler{
		Repo:      store,
		Validator: validator,
		Facts:     exchangeClient,
		Logger:    logger,
		Config:    cfg.Reconciler,
	}
	scanner := &settlement.Scanner{
		Repo:   store,
		Logger: logger,
		Config: cfg.Scanner,
	}
	claimService := &claim.Service{
		Repo:   store,
		Funds:  fundsClient,
		Logger: logger,
		Config: cfg.Claim,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	orderHandler := &handler.OrderHandler{
		Ledger:   stakeLedger,
		Exchange: exchangeClient,
		Ingestor: ingestor,
		Logger:   logger,
	}
	orderHandler.Register(engine)
	matchHandler := &handler.MatchHandler{
		Repo:      store,
		Validator: validator,
		Ledger:    stakeLedger,
		Facts:     exchangeClient,
		Registry:  registry,
		Logger:    logger,
		Config:    cfg.Match,
	}
	matchHandler.Register(engine)
	claimHandler := &handler.ClaimHandler{Repo: store, Claim: claimService}
	claimHandler.Register(engine)
	violationHandler := &handler.ViolationHandler{Repo: store}
	violationHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go registry.Run(ctx)

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		if cfg.Reconciler.Enabled {
			if _, err := cronRunner.Add(cfg.Cron.Reconciler, reconciler.RunOnce); err != nil {
				logger.Warn("cron register reconciler failed", zap.Error(err))
			}
		}
		if cfg.Scanner.Enabled {
			if _, err := cronRunner.Add(cfg.Cron.Scanner, scanner.RunOnce); err != nil {
				logger.Warn("cron register scanner failed", zap.Error(err))
			}
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
