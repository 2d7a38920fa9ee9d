package alerting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fare-hunter/internal/rules"
)

// DealNotification 封装一次票价告警的上下文。
type DealNotification struct {
	Origin      string
	Destination string
	DepartDate  string
	ReturnDate  string
	Carrier     string
	Stops       int
	PriceUSD    decimal.Decimal
	PriceEUR    decimal.Decimal
	Reasons     map[string]decimal.Decimal
	SearchLink  string
	AirlineLink string
}

// reasonOrder pins the rendering order of matched reasons.
var reasonOrder = []string{rules.ReasonHard, rules.ReasonNearHard, rules.ReasonP25, rules.ReasonDelta14}

// RenderDeal formats a human-readable alert message.
func RenderDeal(note DealNotification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("✈️ BUSINESS DEAL — %s → %s (%s ➜ %s)\n",
		note.Origin, note.Destination, note.DepartDate, note.ReturnDate))
	builder.WriteString(fmt.Sprintf("• Price: $%s (~€%s)\n", note.PriceUSD.StringFixed(0), note.PriceEUR.StringFixed(0)))
	builder.WriteString(fmt.Sprintf("• Airline: %s  • Stops: %d\n", note.Carrier, note.Stops))
	if note.SearchLink != "" {
		builder.WriteString(fmt.Sprintf("• Verify/Book: %s\n", note.SearchLink))
	}
	if note.AirlineLink != "" {
		builder.WriteString(fmt.Sprintf("• Airline: %s\n", note.AirlineLink))
	}
	if friendly := renderReasons(note.Reasons); friendly != "" {
		builder.WriteString("• Reasons: " + friendly)
	}
	return strings.TrimRight(builder.String(), "\n")
}

func renderReasons(reasons map[string]decimal.Decimal) string {
	if len(reasons) == 0 {
		return ""
	}

	friendly := make([]string, 0, len(reasons))
	seen := make(map[string]bool, len(reasons))
	for _, code := range reasonOrder {
		value, ok := reasons[code]
		if !ok {
			continue
		}
		seen[code] = true
		switch code {
		case rules.ReasonHard:
			friendly = append(friendly, fmt.Sprintf("threshold ≤ $%s", value.StringFixed(0)))
		case rules.ReasonNearHard:
			friendly = append(friendly, fmt.Sprintf("near threshold ≤ $%s", value.StringFixed(0)))
		case rules.ReasonP25:
			friendly = append(friendly, fmt.Sprintf("≤ p25 $%s", value.StringFixed(0)))
		case rules.ReasonDelta14:
			friendly = append(friendly, fmt.Sprintf("-15%% vs recent low (≤ $%s)", value.StringFixed(0)))
		}
	}

	// Unknown codes render verbatim, sorted for determinism.
	var extras []string
	for code, value := range reasons {
		if !seen[code] {
			extras = append(extras, fmt.Sprintf("%s:%s", code, value.StringFixed(0)))
		}
	}
	sort.Strings(extras)
	friendly = append(friendly, extras...)

	return strings.Join(friendly, ", ")
}

// RouteBest 为运行小结收集某条路线的最优报价。
type RouteBest struct {
	Origin      string
	Destination string
	Offers      []SummaryOffer
}

// SummaryOffer is one entry in the run summary.
type SummaryOffer struct {
	PriceUSD   decimal.Decimal
	DepartDate string
	ReturnDate string
	Carrier    string
	Stops      int
}

// RenderRunSummary formats the per-run best-price digest.
func RenderRunSummary(routes []RouteBest) string {
	builder := strings.Builder{}
	builder.WriteString("📊 FareHunter summary — best prices this run:")
	for _, route := range routes {
		builder.WriteString(fmt.Sprintf("\n\n%s → %s:", route.Origin, route.Destination))
		for _, offer := range route.Offers {
			builder.WriteString(fmt.Sprintf("\n  • $%s — %s→%s — %s (%d stops)",
				offer.PriceUSD.StringFixed(0), offer.DepartDate, offer.ReturnDate, offer.Carrier, offer.Stops))
		}
	}
	return builder.String()
}
