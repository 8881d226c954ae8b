package quotesim

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }

type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	PreviousClose float64 `json:"previous_close"`
}

// Simulator serves random-walk quotes over the same HTTP API the real
// provider exposes, for local development without burning provider quota.
type Simulator struct {
	logger    *zap.Logger
	rand      Rand
	clock     Clock
	tickers   []string
	mu        sync.RWMutex
	prices    map[string]float64
	prevClose map[string]float64
}

func NewSimulator(logger *zap.Logger, tickers []string, basePrices map[string]float64, rnd Rand, clock Clock) *Simulator {
	prices := make(map[string]float64, len(tickers))
	prev := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		base := basePrices[t]
		if base == 0 {
			base = 100.0
		}
		prices[t] = base
		prev[t] = base
	}
	return &Simulator{
		logger:    logger,
		rand:      rnd,
		clock:     clock,
		tickers:   tickers,
		prices:    prices,
		prevClose: prev,
	}
}

// Run walks one random symbol per step until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("Simulator Started", zap.Strings("tickers", s.tickers))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(s.tickers) == 0 {
				s.clock.Sleep(1 * time.Second)
				continue
			}

			symbol := s.tickers[s.rand.Intn(len(s.tickers))]
			fluctuation := (s.rand.Float64() * 10) - 5

			s.mu.Lock()
			s.prices[symbol] += fluctuation
			if s.prices[symbol] < 1 {
				s.prices[symbol] = 1
			}
			s.mu.Unlock()

			s.clock.Sleep(100 * time.Millisecond)
		}
	}
}

// Quote returns the current simulated quote for a symbol.
func (s *Simulator) Quote(symbol string) (price, prevClose float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok = s.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return price, s.prevClose[symbol], true
}

// Handler serves GET /v1/quote?symbol=X in the provider's wire format.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/quote", func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		price, prev, ok := s.Quote(symbol)
		if !ok {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(quoteResponse{
			Symbol:        symbol,
			Price:         price,
			PreviousClose: prev,
		})
	})
	return mux
}
