package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/finwatch/price-stream/pkg/config"
	"github.com/finwatch/price-stream/pkg/models"
)

// Compile-time check to ensure PostgresStore implements WatchlistStore
var _ WatchlistStore = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(60 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetWatchlist(ctx context.Context, id int64) (*models.Watchlist, error) {
	q := `SELECT id, user_id, name, is_public FROM watchlists WHERE id=$1`
	row := s.db.QueryRowContext(ctx, q, id)

	var wl models.Watchlist
	if err := row.Scan(&wl.ID, &wl.UserID, &wl.Name, &wl.IsPublic); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wl, nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, watchlistID int64) ([]models.Holding, error) {
	q := `SELECT h.company_id, c.ticker_symbol, c.name, h.quantity, h.purchase_price
	        FROM watchlist_holdings h
	        JOIN companies c ON c.id = h.company_id
	       WHERE h.watchlist_id=$1
	       ORDER BY h.position, h.company_id`
	rows, err := s.db.QueryContext(ctx, q, watchlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		var qty, price sql.NullFloat64
		if err := rows.Scan(&h.CompanyID, &h.Ticker, &h.CompanyName, &qty, &price); err != nil {
			return nil, err
		}
		if qty.Valid {
			h.Quantity = &qty.Float64
		}
		if price.Valid {
			h.PurchasePrice = &price.Float64
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	q := `SELECT id, is_active FROM users WHERE id=$1`
	row := s.db.QueryRowContext(ctx, q, id)

	var u models.User
	if err := row.Scan(&u.ID, &u.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
