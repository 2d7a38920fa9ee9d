// Package links builds human-clickable deep links for alert messages.
package links

import (
	"fmt"
	"net/url"
	"strings"
)

// GoogleFlights returns a Google Flights query link for a round trip.
func GoogleFlights(origin, dest, dep, ret, cabin string) string {
	if cabin == "" {
		cabin = "business"
	}
	query := fmt.Sprintf("Flights to %s from %s on %s through %s %s", dest, origin, dep, ret, cabin)
	return "https://www.google.com/travel/flights?q=" + url.QueryEscape(query)
}

// AirlineSite returns a best-guess airline homepage for a carrier code,
// or empty when the carrier is unknown.
func AirlineSite(carrier string) string {
	carrier = strings.TrimSpace(carrier)
	if carrier == "" || carrier == "?" {
		return ""
	}
	return fmt.Sprintf("https://www.%s.com/", strings.ToLower(carrier))
}
