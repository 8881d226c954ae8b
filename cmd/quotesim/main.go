package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/quotesim/internal/quotesim"
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

	tickers := []string{"AAPL", "MSFT", "GOOG", "TSLA", "AMZN"}
	basePrices := map[string]float64{
		"AAPL": 180.0, "MSFT": 410.0, "GOOG": 140.0, "TSLA": 250.0, "AMZN": 175.0,
	}

	sim := quotesim.NewSimulator(
		logger,
		tickers,
		basePrices,
		quotesim.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))},
		quotesim.RealClock{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go sim.Run(ctx)

	srv := &http.Server{Addr: ":9090", Handler: sim.Handler()}
	go func() {
		logger.Info("Quote simulator started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
