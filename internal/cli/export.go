package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"flightwatch/internal/app"
	"flightwatch/internal/storage"
)

var (
	exportOrigin      string
	exportDestination string
	exportFrom        string
	exportTo          string
	exportPNGPath     string
	exportCSVPath     string
	exportHistoryDays int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a route's baseline history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Origin:      strings.ToUpper(strings.TrimSpace(exportOrigin)),
			Destination: strings.ToUpper(strings.TrimSpace(exportDestination)),
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			HistoryDays: exportHistoryDays,
		}

		if exportFrom != "" {
			from, err := storage.ParseDate(exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := storage.ParseDate(exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOrigin, "origin", "", "Origin location code")
	exportCmd.Flags().StringVar(&exportDestination, "destination", "", "Destination location code")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First aggregation day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last aggregation day (YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportHistoryDays, "days", 0, "Days of history to export (defaults to config)")
	_ = exportCmd.MarkFlagRequired("origin")
	_ = exportCmd.MarkFlagRequired("destination")
}
