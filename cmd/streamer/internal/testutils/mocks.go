package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/finwatch/price-stream/cmd/streamer/internal/repository"
	"github.com/finwatch/price-stream/pkg/models"
)

// MockSession simulates a connected websocket client
type MockSession struct {
	IDVal    string
	FailSend bool

	Mu       sync.Mutex
	Payloads []string
	Closed   bool
}

func NewMockSession(id string) *MockSession {
	return &MockSession{IDVal: id}
}

func (m *MockSession) ID() string { return m.IDVal }

func (m *MockSession) Send(payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailSend {
		return errors.New("simulated dead connection")
	}
	m.Payloads = append(m.Payloads, string(payload))
	return nil
}

func (m *MockSession) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockSession) Received() []string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]string, len(m.Payloads))
	copy(out, m.Payloads)
	return out
}

// MockQuoteSource returns canned quotes and counts fetches.
type MockQuoteSource struct {
	Quotes map[string]models.Quote
	Err    error

	Mu      sync.Mutex
	Fetches int
}

func (m *MockQuoteSource) GetQuotes(ctx context.Context, tickers []string) (map[string]models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Fetches++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[string]models.Quote, len(tickers))
	for _, t := range tickers {
		if q, ok := m.Quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

func (m *MockQuoteSource) FetchCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Fetches
}

// MockWatchlistStore is an in-memory stand-in for the relational layer.
type MockWatchlistStore struct {
	Watchlists map[int64]*models.Watchlist
	Holdings   map[int64][]models.Holding
	Users      map[int64]*models.User
}

var _ repository.WatchlistStore = (*MockWatchlistStore)(nil)

func NewMockWatchlistStore() *MockWatchlistStore {
	return &MockWatchlistStore{
		Watchlists: make(map[int64]*models.Watchlist),
		Holdings:   make(map[int64][]models.Holding),
		Users:      make(map[int64]*models.User),
	}
}

func (m *MockWatchlistStore) GetWatchlist(ctx context.Context, id int64) (*models.Watchlist, error) {
	wl, ok := m.Watchlists[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return wl, nil
}

func (m *MockWatchlistStore) ListHoldings(ctx context.Context, watchlistID int64) ([]models.Holding, error) {
	return m.Holdings[watchlistID], nil
}

func (m *MockWatchlistStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, ok := m.Users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

// MockLimiter grants or denies every acquire.
type MockLimiter struct {
	Deny bool

	Mu       sync.Mutex
	Acquires int
}

func (m *MockLimiter) Acquire(ctx context.Context, tokens int, timeout time.Duration) bool {
	m.Mu.Lock()
	m.Acquires++
	m.Mu.Unlock()
	return !m.Deny
}

// Float is a convenience for building optional fields in test fixtures.
func Float(v float64) *float64 { return &v }
