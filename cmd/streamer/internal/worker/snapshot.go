package worker

import (
	"time"

	"github.com/finwatch/price-stream/cmd/streamer/internal/protocol"
	"github.com/finwatch/price-stream/pkg/models"
)

// BuildUpdate assembles the outbound price_update message for one cycle.
// Holdings keep their watchlist order; quotes are matched by ticker.
func BuildUpdate(watchlistID int64, holdings []models.Holding, quotes map[string]models.Quote, now time.Time) protocol.PriceUpdate {
	stocks := make([]protocol.StockPrice, 0, len(holdings))
	for _, h := range holdings {
		var q *models.Quote
		if found, ok := quotes[h.Ticker]; ok {
			q = &found
		}
		stocks = append(stocks, snapshot(h, q))
	}

	ts := now.UTC().Format(time.RFC3339)
	return protocol.PriceUpdate{
		Type:        protocol.MessageTypePriceUpdate,
		WatchlistID: watchlistID,
		Stocks:      stocks,
		Timestamp:   &ts,
	}
}

// snapshot computes the derived fields for one holding. A nil quote leaves
// every price field null. change and change_percent are null only when the
// previous close is absent or zero; a zero change is still reported as 0.
func snapshot(h models.Holding, q *models.Quote) protocol.StockPrice {
	sp := protocol.StockPrice{
		CompanyID:     h.CompanyID,
		TickerSymbol:  h.Ticker,
		CompanyName:   h.CompanyName,
		Quantity:      h.Quantity,
		PurchasePrice: h.PurchasePrice,
	}
	if q == nil {
		return sp
	}

	price := q.Price
	sp.CurrentPrice = &price

	if q.PreviousClose != nil && *q.PreviousClose != 0 {
		change := price - *q.PreviousClose
		pct := change / *q.PreviousClose * 100
		sp.Change = &change
		sp.ChangePercent = &pct
	}

	if h.Quantity != nil && h.PurchasePrice != nil {
		pl := (price - *h.PurchasePrice) * *h.Quantity
		sp.UnrealizedPL = &pl
	}
	return sp
}
