package models

// Watchlist is a read-only view of a user's watched list. Ownership and
// visibility are decided elsewhere; the streamer only checks them.
type Watchlist struct {
	ID       int64
	UserID   int64
	Name     string
	IsPublic bool
}

// Holding is one entry of a watchlist. Quantity and PurchasePrice are
// optional and only used for unrealized P&L display.
type Holding struct {
	CompanyID     int64
	Ticker        string
	CompanyName   string
	Quantity      *float64
	PurchasePrice *float64
}

// User is the minimal slice of the auth collaborator's user record the
// handshake needs.
type User struct {
	ID     int64
	Active bool
}

// Quote is a single upstream price observation. PreviousClose is nil when
// the provider does not report it.
type Quote struct {
	Symbol        string
	Price         float64
	PreviousClose *float64
}
