package fetcher

import (
	"context"
	"encoding/json"
)

// SearchResponse is the raw flight-offers search payload. Offers are kept
// as raw JSON so one malformed entry never poisons the whole batch.
type SearchResponse struct {
	Data []json.RawMessage `json:"data"`
}

// FlightSearcher executes a round-trip business-class availability search.
type FlightSearcher interface {
	SearchRoundtripBusiness(ctx context.Context, origin, dest, depDate, retDate string, maxStops int) (*SearchResponse, error)
}
