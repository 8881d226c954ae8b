package quotesim_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/quotesim/internal/quotesim"
)

// Fixed randomness: always pick index 0, always return 0.5 so the
// fluctuation (0.5*10)-5 is exactly zero.
type mockRand struct{}

func (mockRand) Intn(n int) int   { return 0 }
func (mockRand) Float64() float64 { return 0.5 }

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time        { return c.now }
func (c *mockClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

func TestSimulator_QuoteEndpoint(t *testing.T) {
	sim := quotesim.NewSimulator(zap.NewNop(), []string{"AAPL"}, map[string]float64{"AAPL": 100.0}, mockRand{}, &mockClock{})

	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/quote?symbol=AAPL")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var q struct {
		Symbol        string  `json:"symbol"`
		Price         float64 `json:"price"`
		PreviousClose float64 `json:"previous_close"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 100.0 || q.PreviousClose != 100.0 {
		t.Errorf("Unexpected quote: %+v", q)
	}
}

func TestSimulator_UnknownSymbol404(t *testing.T) {
	sim := quotesim.NewSimulator(zap.NewNop(), nil, nil, mockRand{}, &mockClock{})

	srv := httptest.NewServer(sim.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/v1/quote?symbol=GHOST")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("Expected 404 for unknown symbol, got %d", resp.StatusCode)
	}
}

func TestSimulator_RandomWalk(t *testing.T) {
	sim := quotesim.NewSimulator(zap.NewNop(), []string{"AAPL"}, map[string]float64{"AAPL": 100.0}, mockRand{}, &mockClock{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	// Zero fluctuation under the fixed rand: price must stay at base.
	price, prev, ok := sim.Quote("AAPL")
	if !ok {
		t.Fatal("Symbol disappeared")
	}
	if price != 100.0 || prev != 100.0 {
		t.Errorf("Expected flat walk at 100.0, got price=%f prev=%f", price, prev)
	}
}
