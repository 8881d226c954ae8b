package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/price-stream/pkg/models"
)

// Broadcaster is the slice of the registry a worker needs.
type Broadcaster interface {
	Broadcast(watchlistID int64, payload []byte)
	HasActiveSessions(watchlistID int64) bool
}

// QuoteSource returns quotes keyed by the requested ticker. A missing key
// means that ticker's quote was unavailable this cycle; an error means the
// whole fetch failed.
type QuoteSource interface {
	GetQuotes(ctx context.Context, tickers []string) (map[string]models.Quote, error)
}

// HoldingLister provides the read-only holdings of a watchlist.
type HoldingLister interface {
	ListHoldings(ctx context.Context, watchlistID int64) ([]models.Holding, error)
}

// Worker is the per-watchlist broadcast loop: fetch quotes, compute
// snapshots, fan out, sleep. One instance exists per watchlist with at
// least one session; the registry owns its lifecycle.
type Worker struct {
	registry Broadcaster
	quotes   QuoteSource
	holdings HoldingLister
	interval time.Duration
	logger   *zap.Logger
}

func New(registry Broadcaster, quotes QuoteSource, holdings HoldingLister, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		registry: registry,
		quotes:   quotes,
		holdings: holdings,
		interval: interval,
		logger:   logger,
	}
}

// Run loops until ctx is canceled or no sessions remain. The first
// iteration fires immediately so the first viewer gets a snapshot without
// waiting a full interval. Cancellation is observed mid-sleep through the
// select, not only at loop top.
func (w *Worker) Run(ctx context.Context, watchlistID int64) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !w.registry.HasActiveSessions(watchlistID) {
			return
		}

		w.iterate(ctx, watchlistID)
		timer.Reset(w.interval)
	}
}

// iterate runs one fetch-compute-broadcast cycle. Transient failures are
// logged and the cycle is skipped; the loop keeps going.
func (w *Worker) iterate(ctx context.Context, watchlistID int64) {
	holdings, err := w.holdings.ListHoldings(ctx, watchlistID)
	if err != nil {
		w.logger.Warn("holdings lookup failed, skipping cycle",
			zap.Int64("watchlist_id", watchlistID), zap.Error(err))
		return
	}

	tickers := make([]string, 0, len(holdings))
	for _, h := range holdings {
		tickers = append(tickers, h.Ticker)
	}

	quotes, err := w.quotes.GetQuotes(ctx, tickers)
	if err != nil {
		w.logger.Warn("quote fetch failed, skipping cycle",
			zap.Int64("watchlist_id", watchlistID), zap.Error(err))
		return
	}

	update := BuildUpdate(watchlistID, holdings, quotes, time.Now())
	payload, err := json.Marshal(update)
	if err != nil {
		w.logger.Error("marshal price update", zap.Error(err))
		return
	}

	w.registry.Broadcast(watchlistID, payload)
}
