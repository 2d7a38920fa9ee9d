package fetcher

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// UnknownCarrier marks offers whose itinerary could not be parsed.
const UnknownCarrier = "?"

// DefaultTopK bounds how many ranked offers a search keeps.
const DefaultTopK = 3

// Offer is one usable candidate extracted from a search response.
type Offer struct {
	Carrier  string
	Stops    int
	PriceUSD decimal.Decimal
	Raw      json.RawMessage
}

type offerEnvelope struct {
	Price struct {
		GrandTotal string `json:"grandTotal"`
	} `json:"price"`
	Itineraries []struct {
		Segments []struct {
			CarrierCode string `json:"carrierCode"`
		} `json:"segments"`
	} `json:"itineraries"`
}

// ExtractOffers parses the usable offers out of a raw search response and
// returns up to topK of them, cheapest first. Offers with a missing or
// unparseable total price are dropped; a missing itinerary only degrades
// carrier and stop count to their unknown defaults.
func ExtractOffers(resp *SearchResponse, topK int) []Offer {
	if resp == nil {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	offers := make([]Offer, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var env offerEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		price, err := decimal.NewFromString(env.Price.GrandTotal)
		if err != nil {
			continue
		}

		carrier := UnknownCarrier
		stops := 0
		if len(env.Itineraries) > 0 && len(env.Itineraries[0].Segments) > 0 {
			outbound := env.Itineraries[0]
			carrier = outbound.Segments[0].CarrierCode
			stops = len(outbound.Segments) - 1
		}

		offers = append(offers, Offer{
			Carrier:  carrier,
			Stops:    stops,
			PriceUSD: price,
			Raw:      raw,
		})
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].PriceUSD.LessThan(offers[j].PriceUSD)
	})
	if len(offers) > topK {
		offers = offers[:topK]
	}
	return offers
}
