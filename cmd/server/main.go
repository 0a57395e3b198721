package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/deck-builder/internal/ai"
	"github.com/iliyamo/deck-builder/internal/config"
	"github.com/iliyamo/deck-builder/internal/database"
	"github.com/iliyamo/deck-builder/internal/handler"
	"github.com/iliyamo/deck-builder/internal/logging"
	"github.com/iliyamo/deck-builder/internal/middleware"
	"github.com/iliyamo/deck-builder/internal/queue"
	"github.com/iliyamo/deck-builder/internal/repository"
	"github.com/iliyamo/deck-builder/internal/router"
	"github.com/iliyamo/deck-builder/internal/service"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		logger.Fatal("database open", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Fatal("database migrate", zap.Error(err))
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable, rate limiting and cache disabled")
	} else {
		defer rdb.Close()
	}

	qcfg := config.LoadQueueConfig()
	var events service.EventPublisher
	if qcfg.URL != "" {
		events = queue.NewPublisher(qcfg.URL, qcfg.Queue, logger.Named("publisher"))
		if qcfg.ConsumerEnable {
			consumer := queue.NewConsumer(qcfg.URL, qcfg.Queue, cfg.LogDir, logger.Named("consumer"))
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("deck consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	generator := ai.NewAssistantsClient(config.LoadAIConfig(), ai.WithLogger(logger.Named("ai")))
	runner := service.NewRunner(logger.Named("runner"))

	users := repository.NewUserRepo(db)
	decks := repository.NewDeckRepo(db)

	authSvc := service.NewAuthService(users, service.TokenConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     time.Duration(cfg.AccessTTLMin) * time.Minute,
		RefreshTTL:    time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour,
		BcryptCost:    cfg.BcryptCost,
	}, logger.Named("auth"))
	deckSvc := service.NewDeckService(decks, generator, runner, service.DeckOptions{
		Events:            events,
		Logger:            logger.Named("decks"),
		FailOnModuleError: cfg.FailOnModuleError,
	})
	if _, err := deckSvc.RecoverInterrupted(ctx); err != nil {
		logger.Fatal("recover interrupted decks", zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger.Named("http")))

	rl := config.LoadRateLimitConfig()
	limiters := router.Limiters{
		Auth:    middleware.NewTokenBucket(rl.WithCapacity(rl.AuthCapacity, rl.Prefix+":auth"), rdb, logger),
		Default: middleware.NewTokenBucket(rl, rdb, logger),
	}
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logger)

	refreshTTL := time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(authSvc, cfg.IsProduction(), refreshTTL, logger), cfg.JWTSecret, limiters)
	router.RegisterDecks(e, handler.NewDeckHandler(deckSvc, logger), cfg.JWTSecret, limiters, cache)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("background runs interrupted", zap.Error(err))
	}
}
