package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one observed round-trip fare. Quotes are append-only: a row is
// written once per search that yields a usable offer and never updated.
type Quote struct {
	ID          int64
	Origin      string
	Destination string
	DepartDate  string
	ReturnDate  string
	Carrier     string
	Stops       int
	PriceUSD    decimal.Decimal
	Cabin       string
	FoundAt     time.Time
}

// AlertRecord tracks the last time an alert was dispatched for a dedup
// key. At most one record exists per key; re-sending overwrites SentAt.
type AlertRecord struct {
	Key    string
	SentAt time.Time
}
