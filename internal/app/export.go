package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fare-hunter/internal/storage"
)

// Export renders one route's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Origin == "" || opts.Destination == "" {
		return errors.New("both --origin and --dest must be provided")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	// Default window: one year of history.
	from := to.AddDate(-1, 0, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	quotes, err := store.ListRoutePrices(ctx, opts.Origin, opts.Destination, from, to)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		a.Logger.Info().Msg("no quotes found for export window")
		return nil
	}

	downsampled := downsampleQuotes(quotes, opts.MaxPoints)
	a.Logger.Info().Int("total", len(quotes)).Int("exported", len(downsampled)).Msg("exporting quotes")

	if opts.CSVPath != "" {
		if err := writeQuotesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeQuotesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleQuotes(quotes []storage.Quote, max int) []storage.Quote {
	if max <= 0 || len(quotes) <= max {
		return quotes
	}

	result := make([]storage.Quote, 0, max)
	step := float64(len(quotes)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(quotes) {
			idx = len(quotes) - 1
		}
		result = append(result, quotes[idx])
	}
	return result
}

func writeQuotesCSV(path string, quotes []storage.Quote) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"found_at", "origin", "dest", "depart_date", "return_date", "carrier", "stops", "price_usd", "cabin"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, quote := range quotes {
		record := []string{
			quote.FoundAt.UTC().Format(time.RFC3339),
			quote.Origin,
			quote.Destination,
			quote.DepartDate,
			quote.ReturnDate,
			quote.Carrier,
			strconv.Itoa(quote.Stops),
			quote.PriceUSD.String(),
			quote.Cabin,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeQuotesPNG(path string, quotes []storage.Quote) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(quotes))
	prices := make([]float64, len(quotes))
	for i, quote := range quotes {
		x[i] = quote.FoundAt
		prices[i] = quote.PriceUSD.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    quotes[0].Origin + "-" + quotes[0].Destination,
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
