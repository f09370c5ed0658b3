package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/urfave/cli/v2"

	"ContentIngestor/internal/app"
	"ContentIngestor/internal/config"
	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/infrastructure/storage"
	"ContentIngestor/internal/logging"
	"ContentIngestor/internal/usecase"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "contentingestor",
		Usage: "Collect and index content published by configured subjects",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config (defaults to $CONTENT_INGESTOR_CONFIG)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Run one ingestion pass and print the report",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "Only ingest this subject"},
					&cli.StringSliceFlag{Name: "platform", Aliases: []string{"p"}, Usage: "Only ingest these platforms (requires --subject)"},
					&cli.IntFlag{Name: "max-items", Usage: "Cap items fetched per run (0 means unlimited)"},
					&cli.StringFlag{Name: "from", Usage: "Drop items published before this date"},
					&cli.StringFlag{Name: "to", Usage: "Drop items published after this date; a bare date covers the whole day"},
					&cli.IntFlag{Name: "min-score", Usage: "Minimum authenticity score for accepted items"},
					&cli.BoolFlag{Name: "no-authentic-only", Usage: "Keep items below the minimum score"},
					&cli.BoolFlag{Name: "process", Usage: "Chunk and embed accepted items afterwards"},
					&cli.BoolFlag{Name: "notify", Usage: "Publish the report to the configured notifier"},
				},
			},
			{
				Name:   "watch",
				Usage:  "Ingest on a fixed interval until interrupted",
				Action: watchCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Usage: "Time between passes (defaults to scheduler.interval)"},
					&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address", Value: ":9090"},
				},
			},
			{
				Name:   "process",
				Usage:  "Chunk and embed stored items that are still pending",
				Action: processCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Process at most this many items (0 means all)"},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print repository totals and ingestion cursors",
				Action: statsCommand,
			},
			{
				Name:   "export",
				Usage:  "Write stored items as JSON",
				Action: exportCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file, - for stdout", Value: "-"},
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "Only export this subject"},
					&cli.StringFlag{Name: "platform", Aliases: []string{"p"}, Usage: "Only export this platform"},
					&cli.IntFlag{Name: "min-score", Usage: "Only export items scoring at least this much"},
				},
			},
		},
	}
}

// openApp loads the config named by the global flags and builds the application.
func openApp(c *cli.Context) (*app.Application, error) {
	var (
		cfg config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logger := logging.New(cfg.Logging.Level)
	return app.New(c.Context, cfg, logger)
}

func ingestCommand(c *cli.Context) error {
	opts, err := ingestOptions(c)
	if err != nil {
		return err
	}
	platforms, err := parsePlatforms(c.StringSlice("platform"))
	if err != nil {
		return err
	}
	subject := c.String("subject")
	if subject == "" && len(platforms) > 0 {
		return fmt.Errorf("--platform requires --subject")
	}

	application, err := openApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	base := application.DefaultOptions()
	if c.IsSet("max-items") {
		base.MaxItems = opts.MaxItems
	}
	if c.IsSet("min-score") {
		base.MinScore = opts.MinScore
	}
	if c.Bool("no-authentic-only") {
		base.AuthenticOnly = false
	}
	base.DateFrom, base.DateTo = opts.DateFrom, opts.DateTo

	ctx := c.Context
	var report usecase.Report
	if subject == "" {
		report = application.Orchestrator().IngestAll(ctx, base)
	} else {
		report = application.Orchestrator().IngestMany(ctx, subject, platforms, base)
	}
	fmt.Fprintln(c.App.Writer, report.String())

	if c.Bool("process") && report.Accepted() > 0 {
		stats, err := application.Pipeline().ProcessPending(ctx, domain.ItemFilter{SubjectID: subject})
		if err != nil {
			return fmt.Errorf("process: %w", err)
		}
		printProcessStats(c.App.Writer, stats)
	}
	if c.Bool("notify") {
		if err := application.Notify(ctx, report); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}

	if failed := len(report.Failures()); failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(report.Results))
	}
	return nil
}

// ingestOptions parses the per-run flags. Config defaults are applied by the caller.
func ingestOptions(c *cli.Context) (usecase.Options, error) {
	opts := usecase.Options{
		MaxItems: c.Int("max-items"),
		MinScore: c.Int("min-score"),
	}
	if opts.MaxItems < 0 {
		return opts, fmt.Errorf("--max-items must not be negative")
	}
	if c.IsSet("min-score") && (opts.MinScore < 0 || opts.MinScore > 100) {
		return opts, fmt.Errorf("--min-score must be within 0..100")
	}

	var err error
	if opts.DateFrom, err = parseDate(c.String("from"), false); err != nil {
		return opts, fmt.Errorf("--from: %w", err)
	}
	if opts.DateTo, err = parseDate(c.String("to"), true); err != nil {
		return opts, fmt.Errorf("--to: %w", err)
	}
	if opts.DateFrom != nil && opts.DateTo != nil && opts.DateTo.Before(*opts.DateFrom) {
		return opts, fmt.Errorf("--to is before --from")
	}
	return opts, nil
}

// parseDate accepts anything dateparse understands. With endOfDay a bare date
// is moved to the last instant of that day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return nil, err
	}
	if endOfDay && t.Equal(t.Truncate(24*time.Hour)) {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parsePlatforms(raw []string) ([]domain.Platform, error) {
	var out []domain.Platform
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			p := domain.Platform(strings.ToLower(strings.TrimSpace(part)))
			if p == "" {
				continue
			}
			if !p.Valid() {
				return nil, fmt.Errorf("unknown platform %q", part)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func watchCommand(c *cli.Context) error {
	application, err := openApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Watch(ctx, c.Duration("interval"), c.String("metrics-addr"))
}

func processCommand(c *cli.Context) error {
	if c.Int("limit") < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	application, err := openApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Pipeline().ProcessPending(c.Context, domain.ItemFilter{Limit: c.Int("limit")})
	if err != nil {
		return err
	}
	printProcessStats(c.App.Writer, stats)
	return nil
}

func printProcessStats(w io.Writer, stats usecase.ProcessStats) {
	fmt.Fprintf(w, "Processed %d items: %d chunks, %d embedded, %d failed\n",
		stats.Processed, stats.Chunks, stats.Embedded, stats.Failed)
}

func statsCommand(c *cli.Context) error {
	application, err := openApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.Repository().Stats(c.Context)
	if err != nil {
		return err
	}
	states, err := application.States(c.Context)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Items: %d total, %d processed, %d embedded, %d chunks\n",
		stats.Total, stats.Processed, stats.Embedded, stats.Chunks)
	for _, subject := range slices.Sorted(maps.Keys(stats.BySubject)) {
		fmt.Fprintf(w, "  subject %s: %d\n", subject, stats.BySubject[subject])
	}
	for _, platform := range slices.Sorted(maps.Keys(stats.ByPlatform)) {
		fmt.Fprintf(w, "  platform %s: %d\n", platform, stats.ByPlatform[platform])
	}

	slices.SortFunc(states, func(a, b domain.SourceState) int {
		if n := strings.Compare(a.SubjectID, b.SubjectID); n != 0 {
			return n
		}
		return strings.Compare(string(a.Platform), string(b.Platform))
	})
	fmt.Fprintf(w, "Cursors: %d\n", len(states))
	for _, s := range states {
		fmt.Fprintf(w, "  %s/%s: %d seen, last fetched %s\n",
			s.SubjectID, s.Platform, len(s.ItemsSeen), s.LastFetchedAt.Format(time.RFC3339))
	}
	return nil
}

func exportCommand(c *cli.Context) error {
	filter := domain.ItemFilter{
		SubjectID: c.String("subject"),
		MinScore:  c.Int("min-score"),
	}
	if raw := c.String("platform"); raw != "" {
		platforms, err := parsePlatforms([]string{raw})
		if err != nil {
			return err
		}
		if len(platforms) > 0 {
			filter.Platform = platforms[0]
		}
	}

	application, err := openApp(c)
	if err != nil {
		return err
	}
	defer application.Close()

	out := c.App.Writer
	if path := c.String("output"); path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	n, err := storage.ExportJSON(c.Context, application.Repository(), filter, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Exported %d items\n", n)
	return nil
}
