package repository

import (
	"context"
	"errors"

	"github.com/finwatch/price-stream/pkg/models"
)

// ErrNotFound is returned for rows that do not exist. Callers fold it into
// their own error reporting; it never leaks raw driver errors.
var ErrNotFound = errors.New("not found")

// WatchlistStore is the read-only slice of the relational data layer the
// streamer consumes.
type WatchlistStore interface {
	GetWatchlist(ctx context.Context, id int64) (*models.Watchlist, error)
	ListHoldings(ctx context.Context, watchlistID int64) ([]models.Holding, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
}
