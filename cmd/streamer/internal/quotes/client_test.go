package quotes_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finwatch/price-stream/cmd/streamer/internal/quotes"
	"github.com/finwatch/price-stream/cmd/streamer/internal/testutils"
	"github.com/finwatch/price-stream/pkg/config"
)

func newTestProvider(t *testing.T, prices map[string]float64) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		symbol := r.URL.Query().Get("symbol")
		price, ok := prices[symbol]
		if !ok {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		prev := price - 10
		json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol": symbol, "price": price, "previous_close": prev,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newClient(srv *httptest.Server, limiter quotes.Limiter, cacheTTL time.Duration) *quotes.Client {
	return quotes.NewClient(config.QuotesConfig{
		BaseURL:        srv.URL,
		MaxInFlight:    5,
		RequestTimeout: 2 * time.Second,
		CacheTTL:       cacheTTL,
		AcquireTimeout: 100 * time.Millisecond,
	}, limiter, zap.NewNop())
}

func TestClient_FormatSymbol(t *testing.T) {
	c := quotes.NewClient(config.QuotesConfig{SymbolSuffix: ".NS"}, &testutils.MockLimiter{}, zap.NewNop())

	cases := map[string]string{
		"reliance": "RELIANCE.NS",
		" tcs ":    "TCS.NS",
		"INFY.NS":  "INFY.NS",
	}
	for in, want := range cases {
		if got := c.FormatSymbol(in); got != want {
			t.Errorf("FormatSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClient_GetQuotes_Bulk(t *testing.T) {
	srv, _ := newTestProvider(t, map[string]float64{"TCS": 2500, "INFY": 1500})
	c := newClient(srv, &testutils.MockLimiter{}, 0)

	got, err := c.GetQuotes(context.Background(), []string{"TCS", "INFY"})
	if err != nil {
		t.Fatalf("GetQuotes failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 quotes, got %d", len(got))
	}
	if got["TCS"].Price != 2500 {
		t.Errorf("Expected TCS at 2500, got %f", got["TCS"].Price)
	}
	if got["INFY"].PreviousClose == nil || *got["INFY"].PreviousClose != 1490 {
		t.Errorf("Expected INFY previous close 1490, got %v", got["INFY"].PreviousClose)
	}
}

func TestClient_GetQuotes_PartialFailure(t *testing.T) {
	srv, _ := newTestProvider(t, map[string]float64{"TCS": 2500})
	c := newClient(srv, &testutils.MockLimiter{}, 0)

	got, err := c.GetQuotes(context.Background(), []string{"TCS", "GHOST"})
	if err != nil {
		t.Fatalf("Partial failure should not error the whole fetch: %v", err)
	}
	if _, ok := got["GHOST"]; ok {
		t.Error("Unknown symbol must be absent, not zero-filled")
	}
	if _, ok := got["TCS"]; !ok {
		t.Error("Healthy symbol should still be fetched")
	}
}

func TestClient_GetQuotes_AllFailed(t *testing.T) {
	srv, _ := newTestProvider(t, nil)
	c := newClient(srv, &testutils.MockLimiter{}, 0)

	_, err := c.GetQuotes(context.Background(), []string{"A", "B"})
	if !errors.Is(err, quotes.ErrNoQuotes) {
		t.Errorf("Expected ErrNoQuotes when nothing is fetchable, got %v", err)
	}
}

func TestClient_RateLimitedCallIsUnavailable(t *testing.T) {
	srv, hits := newTestProvider(t, map[string]float64{"TCS": 2500})
	limiter := &testutils.MockLimiter{Deny: true}
	c := newClient(srv, limiter, 0)

	if _, err := c.GetQuote(context.Background(), "TCS"); !errors.Is(err, quotes.ErrRateLimited) {
		t.Errorf("Expected ErrRateLimited, got %v", err)
	}
	if atomic.LoadInt64(hits) != 0 {
		t.Error("A refused acquire must not reach the provider")
	}
}

func TestClient_EveryBulkCallPassesLimiter(t *testing.T) {
	srv, _ := newTestProvider(t, map[string]float64{"A": 1, "B": 2, "C": 3})
	limiter := &testutils.MockLimiter{}
	c := newClient(srv, limiter, 0)

	c.GetQuotes(context.Background(), []string{"A", "B", "C"})

	limiter.Mu.Lock()
	acquires := limiter.Acquires
	limiter.Mu.Unlock()
	if acquires != 3 {
		t.Errorf("Expected one acquire per outbound call, got %d", acquires)
	}
}

func TestClient_SingleLookupCache(t *testing.T) {
	srv, hits := newTestProvider(t, map[string]float64{"TCS": 2500})
	c := newClient(srv, &testutils.MockLimiter{}, 200*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.GetQuote(ctx, "TCS"); err != nil {
			t.Fatalf("GetQuote failed: %v", err)
		}
	}
	if n := atomic.LoadInt64(hits); n != 1 {
		t.Errorf("Repeated lookups inside the TTL should hit the provider once, got %d", n)
	}

	time.Sleep(250 * time.Millisecond)
	if _, err := c.GetQuote(ctx, "TCS"); err != nil {
		t.Fatalf("GetQuote after TTL failed: %v", err)
	}
	if n := atomic.LoadInt64(hits); n != 2 {
		t.Errorf("Expired cache entry should trigger a fresh fetch, got %d hits", n)
	}
}

func TestClient_ProviderErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newClient(srv, &testutils.MockLimiter{}, 0)

	if _, err := c.GetQuote(context.Background(), "TCS"); err == nil {
		t.Fatal("Provider 500 must surface as an error, never placeholder data")
	}
}
