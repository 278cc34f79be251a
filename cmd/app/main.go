package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram_ledger/internal/bot"
	"telegram_ledger/internal/config"
	"telegram_ledger/internal/db"
	"telegram_ledger/internal/flow"
	httpServer "telegram_ledger/internal/http"
	"telegram_ledger/internal/http/handlers"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/rates"
	"telegram_ledger/internal/repository"
	"telegram_ledger/internal/session"

	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	rdb := db.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()

	checks := []handlers.Check{
		{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	var store ledger.Store
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		mem := repository.NewMemoryStore()
		for _, acc := range cfg.SeedAccounts {
			if err := mem.CreateAccount(context.Background(), &acc); err != nil {
				logger.Fatal("failed to seed account", "slug", acc.Slug, "error", err)
			}
		}
		logger.Warn("using in-memory ledger store, data is lost on restart", "accounts", len(cfg.SeedAccounts))
		store = mem
	default:
		dbPool := db.Connect(cfg.DatabaseURL)
		defer dbPool.Close()
		checks = append(checks, handlers.Check{Name: "database", Ping: dbPool.Ping})
		store = repository.NewPgStore(dbPool)
	}

	engine := ledger.NewEngine(store)

	provider := rates.NewBreakerProvider("rates",
		rates.NewCachedProvider(rates.NewClient(cfg.RatesAPIURL, cfg.RatesTimeout), rdb, cfg.RatesCacheTTL),
		rates.DefaultBreakerConfig(),
	)
	converter := rates.NewConverter(provider)

	api, err := bot.NewAPI(cfg.BotToken)
	if err != nil {
		logger.Fatal("failed to authorize bot", "error", err)
	}

	limits := flow.DefaultLimits()
	limits.MaxAmount = cfg.MaxAmount
	limits.CancelListLimit = cfg.CancelListLimit
	limits.DescriptionMaxLen = cfg.DescriptionMaxLen

	machine := flow.NewMachine(session.NewRedisStore(rdb), engine, converter, bot.NewMessageCleaner(api), limits)
	ledgerBot := bot.NewLedgerBot(api, machine, engine, bot.Options{
		AdminIDs:     cfg.AdminTelegramIDs,
		AllowedChats: cfg.AllowedChatIDs,
		Workers:      cfg.BotWorkers,
	})
	go ledgerBot.Start()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	httpServer.RegisterRoutes(r, httpServer.Deps{
		Health:        handlers.NewHealthHandler(version, checks...),
		Integrity:     handlers.NewIntegrityHandler(engine),
		Redis:         rdb,
		JWTSecret:     []byte(cfg.JWTSecret),
		AdminIDs:      cfg.AdminTelegramIDs,
		APIRateLimit:  cfg.APIRateLimit,
		APIRateWindow: cfg.APIRateWindow,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.AppPort,
		Handler: r,
	}

	go func() {
		logger.Info("server started", "port", cfg.AppPort, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	ledgerBot.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}
