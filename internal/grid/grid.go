package grid

import (
	"fmt"
	"time"
)

// DateLayout is the ISO date layout used across searches and storage.
const DateLayout = "2006-01-02"

// Search is one concrete round-trip request expanded from the grid.
type Search struct {
	Origin      string
	Destination string
	Depart      time.Time
	Return      time.Time
	// Month is the configured month marker (YYYY-MM-01) this search
	// was expanded from; price history is grouped by it.
	Month string
}

// DepartISO formats the departure date for the search API and storage.
func (s Search) DepartISO() string { return s.Depart.Format(DateLayout) }

// ReturnISO formats the return date.
func (s Search) ReturnISO() string { return s.Return.Format(DateLayout) }

// Options describe the search grid to expand.
type Options struct {
	Origins      []string
	Destinations []string
	Months       []string
	StaysNights  []int
	DowBias      []string
}

var dowNames = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

// Plan expands origins × destinations × months × days × stays into the
// full list of searches. The expansion is pure: re-invoking with the
// same options yields the same plan.
//
// Days outside the day-of-week bias are skipped; with no bias every day
// of the month is considered. Stays that do not move the return date
// past departure are rejected.
func Plan(opts Options) ([]Search, error) {
	allowed, err := parseDowBias(opts.DowBias)
	if err != nil {
		return nil, err
	}

	var searches []Search
	for _, month := range opts.Months {
		days, err := monthDays(month, allowed)
		if err != nil {
			return nil, err
		}
		for _, origin := range opts.Origins {
			for _, dest := range opts.Destinations {
				for _, dep := range days {
					for _, nights := range opts.StaysNights {
						ret := dep.AddDate(0, 0, nights)
						if !ret.After(dep) {
							continue
						}
						searches = append(searches, Search{
							Origin:      origin,
							Destination: dest,
							Depart:      dep,
							Return:      ret,
							Month:       month,
						})
					}
				}
			}
		}
	}
	return searches, nil
}

func parseDowBias(names []string) (map[time.Weekday]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	allowed := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		day, ok := dowNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown day-of-week %q (expected Mon..Sun)", name)
		}
		allowed[day] = true
	}
	return allowed, nil
}

// monthDays enumerates the calendar days of the month containing the
// given marker date, first through last, optionally filtered by weekday.
func monthDays(month string, allowed map[time.Weekday]bool) ([]time.Time, error) {
	marker, err := time.Parse(DateLayout, month)
	if err != nil {
		return nil, fmt.Errorf("parse month %q: %w", month, err)
	}

	first := time.Date(marker.Year(), marker.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextFirst := first.AddDate(0, 1, 0)

	var days []time.Time
	for day := first; day.Before(nextFirst); day = day.AddDate(0, 0, 1) {
		if allowed != nil && !allowed[day.Weekday()] {
			continue
		}
		days = append(days, day)
	}
	return days, nil
}
