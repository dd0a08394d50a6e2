package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourorg/finance/internal/auth"
	"github.com/yourorg/finance/internal/config"
	"github.com/yourorg/finance/internal/execution"
	"github.com/yourorg/finance/internal/gateway"
	"github.com/yourorg/finance/internal/logger"
	"github.com/yourorg/finance/internal/quotes"
	redisRepo "github.com/yourorg/finance/internal/repository/redis"
	"github.com/yourorg/finance/internal/repository/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Connect(cfg.Database.URL)
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected", "driver", db.DriverName())

	if err := sqlstore.RunMigrations(db, cfg.Database.URL); err != nil {
		log.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	var provider quotes.Provider = quotes.NewIEXClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey, cfg.QuoteTimeout(), log)
	if cfg.Redis.URL != "" && cfg.QuoteCacheTTL() > 0 {
		redisClient, err := redisRepo.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			log.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		log.Info("redis connected", "quote_cache_ttl", cfg.QuoteCacheTTL())
		provider = quotes.NewCachedProvider(provider, redisRepo.NewQuoteCache(redisClient, cfg.QuoteCacheTTL()), log)
	}

	userRepo := sqlstore.NewUserRepo(db)
	positionRepo := sqlstore.NewPositionRepo(db)
	historyRepo := sqlstore.NewHistoryRepo(db)

	jwtSvc := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.TokenTTL())
	accounts := auth.NewAccounts(userRepo, cfg.StartingCash(), cfg.Auth.BcryptCost)

	ledger := execution.NewService(db, userRepo, positionRepo, historyRepo, provider, log,
		execution.WithQuoteTimeout(cfg.QuoteTimeout()))

	handlers := gateway.NewHandlers(accounts, ledger, jwtSvc, log)
	router := gateway.NewRouter(handlers, jwtSvc, cfg.HTTP.AllowedOrigins)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	log.Info("server stopped")
}
