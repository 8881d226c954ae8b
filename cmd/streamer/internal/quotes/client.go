package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/finwatch/price-stream/pkg/config"
	"github.com/finwatch/price-stream/pkg/models"
)

var (
	// ErrRateLimited means the shared limiter refused the call; the quote
	// is unavailable this cycle, never silently zero.
	ErrRateLimited = errors.New("quote call rate limited")
	// ErrNoQuotes means a bulk fetch produced no usable quote at all.
	ErrNoQuotes = errors.New("no quotes available")
)

// Limiter gates every outbound provider call.
type Limiter interface {
	Acquire(ctx context.Context, tokens int, timeout time.Duration) bool
}

type providerQuote struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	PreviousClose *float64 `json:"previous_close"`
}

// Client talks to the upstream quote provider. Bulk fetches run with
// bounded parallelism and every HTTP call first passes the shared limiter.
type Client struct {
	http           *http.Client
	baseURL        string
	symbolSuffix   string
	maxInFlight    int
	acquireTimeout time.Duration
	limiter        Limiter
	cache          *quoteCache
	logger         *zap.Logger
}

func NewClient(cfg config.QuotesConfig, limiter Limiter, logger *zap.Logger) *Client {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 5
	}
	return &Client{
		http:           &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		symbolSuffix:   cfg.SymbolSuffix,
		maxInFlight:    maxInFlight,
		acquireTimeout: cfg.AcquireTimeout,
		limiter:        limiter,
		cache:          newQuoteCache(cfg.CacheTTL),
		logger:         logger,
	}
}

// FormatSymbol translates a ticker to the provider's symbol format.
func (c *Client) FormatSymbol(ticker string) string {
	s := strings.ToUpper(strings.TrimSpace(ticker))
	if c.symbolSuffix != "" && !strings.HasSuffix(s, c.symbolSuffix) {
		s += c.symbolSuffix
	}
	return s
}

// GetQuotes fetches quotes for all tickers with at most maxInFlight calls
// in flight. Per-ticker failures (including limiter refusals) leave that
// ticker out of the result; the caller renders those as null fields. An
// error is returned only when nothing could be fetched.
func (c *Client) GetQuotes(ctx context.Context, tickers []string) (map[string]models.Quote, error) {
	out := make(map[string]models.Quote, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxInFlight)

	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			q, err := c.fetchOne(gctx, ticker)
			if err != nil {
				c.logger.Warn("quote fetch failed",
					zap.String("ticker", ticker), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[ticker] = *q
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(out) == 0 {
		return nil, ErrNoQuotes
	}
	return out, nil
}

// GetQuote is the single-lookup path with a short-TTL read-through cache.
func (c *Client) GetQuote(ctx context.Context, ticker string) (*models.Quote, error) {
	if q, ok := c.cache.get(ticker); ok {
		return &q, nil
	}
	q, err := c.fetchOne(ctx, ticker)
	if err != nil {
		return nil, err
	}
	c.cache.put(ticker, *q)
	return q, nil
}

func (c *Client) fetchOne(ctx context.Context, ticker string) (*models.Quote, error) {
	if !c.limiter.Acquire(ctx, 1, c.acquireTimeout) {
		return nil, ErrRateLimited
	}

	endpoint := fmt.Sprintf("%s/v1/quote?symbol=%s", c.baseURL, url.QueryEscape(c.FormatSymbol(ticker)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d for %s", resp.StatusCode, ticker)
	}

	var pq providerQuote
	if err := json.NewDecoder(resp.Body).Decode(&pq); err != nil {
		return nil, fmt.Errorf("decode quote for %s: %w", ticker, err)
	}

	return &models.Quote{
		Symbol:        ticker,
		Price:         pq.Price,
		PreviousClose: pq.PreviousClose,
	}, nil
}
