package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"flightwatch/internal/storage"
)

// Show prints recent observations, or recent baselines.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Baselines {
		to := storage.DateOf(time.Now())
		rows, err := store.ListBaselines(ctx, storage.BaselineFilter{
			From:  to.AddDate(0, 0, -a.Config.Monitor.HistoryDays),
			To:    to,
			Limit: opts.Limit,
		})
		if err != nil {
			return err
		}
		return writeBaselines(os.Stdout, rows)
	}

	observations, err := store.ListRecentObservations(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeObservations(os.Stdout, observations)
}

func writeObservations(out io.Writer, observations []storage.Observation) error {
	if len(observations) == 0 {
		fmt.Fprintln(out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tRoute\tDeparture\tReturn\tDays\tTransfers\tPrice")
	for _, obs := range observations {
		fmt.Fprintf(
			writer,
			"%s\t%s-%s\t%s\t%s\t%s\t%d\t%d\n",
			obs.ObservedAt.UTC().Format(time.RFC3339),
			obs.Origin,
			obs.Destination,
			obs.DepartureDate.Format(storage.DateLayout),
			formatOptionalDate(obs.ReturnDate),
			formatOptionalInt(obs.DaysBetween),
			obs.TransferCount,
			obs.Price,
		)
	}
	return writer.Flush()
}

func writeBaselines(out io.Writer, rows []storage.Baseline) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no baselines found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Day\tRoute\tDeparture\tReturn\tDays\tMin price")
	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s-%s\t%s\t%s\t%s\t%d\n",
			row.AggregationDate.Format(storage.DateLayout),
			row.Origin,
			row.Destination,
			row.DepartureDate.Format(storage.DateLayout),
			formatOptionalDate(row.ReturnDate),
			formatOptionalInt(row.DaysBetween),
			row.MinPrice,
		)
	}
	return writer.Flush()
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(storage.DateLayout)
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
