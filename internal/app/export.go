package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"flightwatch/internal/storage"
)

// Export renders a route's baseline history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Origin == "" || opts.Destination == "" {
		return errors.New("--origin and --destination are required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := storage.DateOf(time.Now())
	if opts.To != nil {
		to = storage.DateOf(*opts.To)
	}
	from := to.AddDate(0, 0, -a.Config.ResolveHistoryDays(opts.HistoryDays))
	if opts.From != nil {
		from = storage.DateOf(*opts.From)
	}
	if from.After(to) {
		return errors.New("from must not be after to")
	}

	rows, err := store.ListBaselines(ctx, storage.BaselineFilter{
		Origin:      opts.Origin,
		Destination: opts.Destination,
		From:        from,
		To:          to,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("route", opts.Origin+"-"+opts.Destination).Msg("no baselines found for export window")
		return nil
	}

	// oldest day first for both outputs
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].AggregationDate.Before(rows[j].AggregationDate)
	})
	a.Logger.Info().Int("rows", len(rows)).Msg("exporting baselines")

	if opts.CSVPath != "" {
		if err := writeBaselinesCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBaselinesPNG(opts.PNGPath, opts.Origin+" -> "+opts.Destination, rows); err != nil {
			return err
		}
	}

	return nil
}

func writeBaselinesCSV(path string, rows []storage.Baseline) error {
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

	header := []string{"aggregation_date", "origin", "destination", "departure_date", "return_date", "one_way", "days_between", "min_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		ret, days := "", ""
		if row.ReturnDate != nil {
			ret = row.ReturnDate.Format(storage.DateLayout)
		}
		if row.DaysBetween != nil {
			days = strconv.Itoa(*row.DaysBetween)
		}
		record := []string{
			row.AggregationDate.Format(storage.DateLayout),
			row.Origin,
			row.Destination,
			row.DepartureDate.Format(storage.DateLayout),
			ret,
			strconv.FormatBool(row.OneWay),
			days,
			strconv.FormatInt(row.MinPrice, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// shapeSeries averages the day's minimum prices over departure dates, one
// series per trip shape.
type shapeSeries struct {
	name string
	days []time.Time
	avgs []float64
}

func buildShapeSeries(rows []storage.Baseline) []shapeSeries {
	type acc struct {
		sum   int64
		count int64
	}
	byShape := map[string]map[time.Time]*acc{}
	for _, row := range rows {
		name := "one-way"
		if !row.OneWay && row.DaysBetween != nil {
			name = fmt.Sprintf("round-trip %dd", *row.DaysBetween)
		}
		if byShape[name] == nil {
			byShape[name] = map[time.Time]*acc{}
		}
		a := byShape[name][row.AggregationDate]
		if a == nil {
			a = &acc{}
			byShape[name][row.AggregationDate] = a
		}
		a.sum += row.MinPrice
		a.count++
	}

	names := make([]string, 0, len(byShape))
	for name := range byShape {
		names = append(names, name)
	}
	sort.Strings(names)

	series := make([]shapeSeries, 0, len(names))
	for _, name := range names {
		points := byShape[name]
		days := make([]time.Time, 0, len(points))
		for day := range points {
			days = append(days, day)
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

		s := shapeSeries{name: name, days: days, avgs: make([]float64, len(days))}
		for i, day := range days {
			p := points[day]
			s.avgs[i] = decimal.NewFromInt(p.sum).Div(decimal.NewFromInt(p.count)).InexactFloat64()
		}
		series = append(series, s)
	}
	return series
}

func writeBaselinesPNG(path, title string, rows []storage.Baseline) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	shapes := buildShapeSeries(rows)
	series := make([]chart.Series, 0, len(shapes))
	for _, shape := range shapes {
		x, y := shape.days, shape.avgs
		// go-chart needs at least two points to draw a line
		if len(x) == 1 {
			x = append(x, x[0].Add(time.Hour))
			y = append(y, y[0])
		}
		series = append(series, chart.TimeSeries{
			Name:    shape.name,
			XValues: x,
			YValues: y,
		})
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Average daily min price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
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
