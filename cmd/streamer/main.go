package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/streamer/internal/auth"
	"github.com/finwatch/price-stream/cmd/streamer/internal/gateway"
	"github.com/finwatch/price-stream/cmd/streamer/internal/quotes"
	"github.com/finwatch/price-stream/cmd/streamer/internal/ratelimit"
	"github.com/finwatch/price-stream/cmd/streamer/internal/registry"
	"github.com/finwatch/price-stream/cmd/streamer/internal/repository"
	"github.com/finwatch/price-stream/cmd/streamer/internal/worker"
	"github.com/finwatch/price-stream/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.App)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	store, err := repository.NewPostgres(cfg.Postgres)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer store.Close()

	limiter := ratelimit.New(rdb, cfg.Limiter.Key, cfg.Limiter.MaxTokens, cfg.Limiter.RefillRate, logger)
	quoteClient := quotes.NewClient(cfg.Quotes, limiter, logger)
	tokens := auth.NewTokenStore(rdb, cfg.Stream.TokenTTL)

	// The registry owns worker lifecycles; the factory closure gives each
	// spawned worker the shared quote client and data layer.
	var reg *registry.Registry
	reg = registry.New(logger, func(ctx context.Context, watchlistID int64) {
		w := worker.New(reg, quoteClient, store, cfg.Stream.PollInterval, logger)
		w.Run(ctx, watchlistID)
	})

	wsHandler := gateway.NewHandler(reg, tokens, store, cfg.Stream.IdleTimeout, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/debug/ratelimit", func(w http.ResponseWriter, r *http.Request) {
		stats, err := limiter.Stats(r.Context())
		if err != nil {
			http.Error(w, "limiter store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)

	reg.Shutdown()
	rdb.Close()
	logger.Info("Shutdown Complete")
}
