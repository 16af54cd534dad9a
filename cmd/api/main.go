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

	"github.com/punchamoorthee/refledger/internal/api"
	"github.com/punchamoorthee/refledger/internal/auth"
	"github.com/punchamoorthee/refledger/internal/cache"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/logging"
	"github.com/punchamoorthee/refledger/internal/service"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/punchamoorthee/refledger/internal/store/postgres"
	"github.com/punchamoorthee/refledger/internal/store/sqlite"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("Unable to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	ledger, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to open ledger store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer ledger.Close()

	var (
		redisClient   *redis.Client
		overviewCache service.OverviewCache
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Unable to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer redisClient.Close()
		if cfg.OverviewTTL > 0 {
			overviewCache = cache.NewOverviewCache(redisClient, cfg.OverviewTTL)
		}
	}

	// Initialize Layers
	tokens := auth.NewService(cfg.JWTSecret, cfg.JWTTTL)
	svc := service.New(ledger, tokens, overviewCache, logger, service.OptionsFromConfig(cfg))
	handler := api.NewHandler(svc, tokens, logger)
	router := api.NewRouter(handler, api.RouterOptions{Redis: redisClient, RateLimit: cfg.RateLimit})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("port", cfg.Port),
			zap.String("driver", cfg.DBDriver),
			zap.String("approval_mode", cfg.ApprovalMode),
			zap.String("coverage", cfg.WithdrawalCoverage),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return sqlite.Open(cfg.DBSource)
	}
	pg, err := postgres.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
