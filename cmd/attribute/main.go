// Command attribute runs one attribution window against the warehouse and
// prints category, farm and wind-bin summaries.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"windperf/internal/attribution"
	"windperf/internal/config"
	"windperf/internal/export"
	"windperf/internal/icing"
	"windperf/internal/pipeline"
	"windperf/internal/publish"
	"windperf/internal/store"
)

type options struct {
	from, to   string
	configPath string
	csvPath    string
	icingPath  string
	dryRun     bool
	workers    int
	priceRule  string
	topFarms   int
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var opts options
	pflag.StringVarP(&opts.from, "from", "f", "", "window start, RFC 3339 or YYYY-MM-DD (default: --to minus 30 days)")
	pflag.StringVarP(&opts.to, "to", "t", "", "window end, exclusive (default: start of the current UTC day)")
	pflag.StringVarP(&opts.configPath, "config", "c", os.Getenv("WINDPERF_CONFIG"), "TOML config file")
	pflag.StringVar(&opts.csvPath, "csv", "", "write attributed hours to this CSV file")
	pflag.StringVar(&opts.icingPath, "icing-csv", "", "write HIGH-risk icing hours to this CSV file")
	pflag.BoolVarP(&opts.dryRun, "dry-run", "n", false, "compute and report without writing to the database or Kafka")
	pflag.IntVarP(&opts.workers, "workers", "w", 0, "farms attributed in parallel (default from config)")
	pflag.StringVar(&opts.priceRule, "price-rule", "", "curtailment price rule: max_volume or volume_weighted")
	pflag.IntVar(&opts.topFarms, "top", 10, "farms to list in the farm summary")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nAttributes wind farm underperformance for a time window.\n\nFlags:\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		slog.Error("attribution failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	from, to, err := resolveWindow(opts.from, opts.to, time.Now())
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}
	if opts.priceRule != "" {
		cfg.CurtailmentRule = opts.priceRule
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var publisher pipeline.Publisher
	if !opts.dryRun {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		pub, err := publish.New(publish.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		switch {
		case errors.Is(err, publish.ErrNoBrokers):
		case err != nil:
			return err
		default:
			defer pub.Close()
			publisher = pub
		}
	}

	svc := pipeline.NewService(db, attribution.NewEngine(cfg.AttributionParams()), publisher, nil, time.Minute)
	res, err := svc.Attribute(ctx, from, to, !opts.dryRun)
	if err != nil {
		return err
	}

	if opts.csvPath != "" {
		if err := writeFile(opts.csvPath, func(w io.Writer) error {
			return export.WriteAttributedHours(w, res.Hours)
		}); err != nil {
			return err
		}
	}
	if opts.icingPath != "" {
		if err := writeFile(opts.icingPath, func(w io.Writer) error {
			_, err := export.WriteHighRiskIcing(w, res.Classifications)
			return err
		}); err != nil {
			return err
		}
	}

	return report(out, from, to, res, opts.topFarms)
}

func resolveWindow(fromArg, toArg string, now time.Time) (time.Time, time.Time, error) {
	to := now.UTC().Truncate(24 * time.Hour)
	if toArg != "" {
		t, err := parseTime(toArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --to: %w", err)
		}
		to = t
	}
	from := to.AddDate(0, 0, -30)
	if fromArg != "" {
		t, err := parseTime(fromArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --from: %w", err)
		}
		from = t
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is not before --to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.UTC)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func report(out io.Writer, from, to time.Time, res *attribution.Result, topFarms int) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	s := res.Stats

	fmt.Fprintf(out, "run %s  %s -> %s\n", res.RunID, from.Format(time.RFC3339), to.Format(time.RFC3339))
	fmt.Fprintf(out, "observations %d  classified %d  attributed %d  no spec %d  no generation %d  invalid specs %d\n\n",
		s.Observations, s.Classified, s.Attributed, s.NoSpec, s.NoGeneration, s.InvalidSpecs)

	fmt.Fprintln(tw, "category\thours\tmean CF %\tmean dev %\tlost MW\tloss £\tshare %\tfarms\t")
	for _, c := range attribution.SummarizeByCategory(res.Hours) {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.0f\t%s\t%.1f\t%d\t\n",
			c.Category, c.Hours, c.MeanCFPct, c.MeanDeviationPct, c.LostMW, c.RevenueLossGBP.StringFixed(2), c.ShareOfLossPct, c.Farms)
	}
	fmt.Fprintf(tw, "total\t\t\t\t\t%s\t\t\t\n\n", attribution.TotalRevenueLoss(res.Hours).StringFixed(2))

	fmt.Fprintln(tw, "farm\thours\tmean CF %\texpected CF %\tlost MW\tloss £\tcurtailed\t")
	for i, f := range attribution.SummarizeByFarm(res.Hours) {
		if i == topFarms {
			break
		}
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.0f\t%s\t%d\t\n",
			f.FarmID, f.Hours, f.MeanCFPct, f.MeanExpectedCFPct, f.LostMW, f.RevenueLossGBP.StringFixed(2), f.CurtailedHours)
	}
	fmt.Fprintln(tw, "\t\t\t\t\t\t\t")

	fmt.Fprintln(tw, "wind bin\thours\tmean ws\tmean CF %\texpected CF %\tloss £\t")
	for _, b := range attribution.SummarizeByWindBin(res.Hours) {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\t%s\t\n",
			b.Label, b.Hours, b.MeanWindSpeed, b.MeanCFPct, b.MeanExpectedCF, b.RevenueLossGBP.StringFixed(2))
	}
	fmt.Fprintln(tw, "\t\t\t\t\t\t")

	fmt.Fprintln(tw, "icing risk\thours\t%\tmean T\tmean spread\t")
	for _, l := range icing.Distribution(res.Classifications) {
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.1f\t%.1f\t\n", l.Level, l.Hours, l.Percentage, l.MeanTemp, l.MeanSpread)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	eps := icing.DetectEpisodes(res.Classifications, icing.DefaultEpisodeMinHours, icing.DefaultEpisodeMaxGap)
	fmt.Fprintf(out, "\nicing episodes: %d\n", len(eps))
	for i, e := range eps {
		if i == 5 {
			break
		}
		fmt.Fprintf(out, "  %s  %s -> %s  %dh  mean T %.1f°C\n",
			e.FarmID, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Hours, e.MeanTemp)
	}
	return nil
}
