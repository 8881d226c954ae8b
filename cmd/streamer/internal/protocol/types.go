package protocol

import "github.com/gobwas/ws"

const (
	MessageTypePriceUpdate = "price_update"
	MessageTypePing        = "ping"
)

// Application close codes sent when the in-band handshake fails. The upgrade
// itself always succeeds; these distinguish why the session was refused.
const (
	CloseTokenMissing     ws.StatusCode = 4001
	CloseStoreUnavailable ws.StatusCode = 4002
	CloseTokenInvalid     ws.StatusCode = 4003
	CloseMalformedToken   ws.StatusCode = 4004
	CloseUserInactive     ws.StatusCode = 4005
	// Single undifferentiated code for missing and forbidden lists, so a
	// caller cannot probe which watchlist ids exist.
	CloseAccessDenied ws.StatusCode = 4006
)

// StockPrice is one per-ticker snapshot inside a PriceUpdate. Nil pointers
// serialize as JSON null; a field is null when the underlying datum is
// unavailable, never zero-filled.
type StockPrice struct {
	CompanyID     int64    `json:"company_id"`
	TickerSymbol  string   `json:"ticker_symbol"`
	CompanyName   string   `json:"company_name"`
	CurrentPrice  *float64 `json:"current_price"`
	Change        *float64 `json:"change"`
	ChangePercent *float64 `json:"change_percent"`
	Quantity      *float64 `json:"quantity"`
	PurchasePrice *float64 `json:"purchase_price"`
	UnrealizedPL  *float64 `json:"unrealized_pl"`
}

// PriceUpdate is the outbound broadcast message, one per polling cycle.
type PriceUpdate struct {
	Type        string       `json:"type"`
	WatchlistID int64        `json:"watchlist_id"`
	Stocks      []StockPrice `json:"stocks"`
	Timestamp   *string      `json:"timestamp"` // ISO-8601
}

// Ping is the idle keep-alive probe.
type Ping struct {
	Type string `json:"type"`
}
