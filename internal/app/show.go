package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recently recorded quotes.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show quotes")
	}
	if closeStore != nil {
		defer closeStore()
	}

	quotes, err := store.ListRecentQuotes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		fmt.Fprintln(os.Stdout, "no quotes found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Found (UTC)\tRoute\tDepart\tReturn\tCarrier\tStops\tPrice USD")

	for _, quote := range quotes {
		fmt.Fprintf(
			writer,
			"%s\t%s-%s\t%s\t%s\t%s\t%d\t%s\n",
			quote.FoundAt.UTC().Format(time.RFC3339),
			quote.Origin,
			quote.Destination,
			quote.DepartDate,
			quote.ReturnDate,
			quote.Carrier,
			quote.Stops,
			quote.PriceUSD.StringFixed(2),
		)
	}

	writer.Flush()
	return nil
}
