package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/google/shlex"

	"github.com/wesm/tracedash/internal/analytics"
	"github.com/wesm/tracedash/internal/config"
	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/sync"
)

// ReportConfig holds parsed CLI options for the report command.
type ReportConfig struct {
	Filter analytics.Filter
	Top    int
}

func newReportFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	config.RegisterSourceFlags(fs)
	fs.String(
		"users", "",
		"Shell-quoted list of user names (default All)",
	)
	fs.String("outcome", "All", "All, Successful or Failed")
	fs.String("from", "", "Start date, inclusive (YYYY-MM-DD)")
	fs.String("to", "", "End date, inclusive (YYYY-MM-DD)")
	fs.Int("top", 0, "Number of top users to print")
	return fs
}

// parseReportFlags parses args into fs and returns the report
// options. fs is returned parsed so the caller can layer the
// source flags over the config.
func parseReportFlags(
	fs *flag.FlagSet, args []string,
) (ReportConfig, error) {
	if err := fs.Parse(args); err != nil {
		return ReportConfig{}, err
	}

	cfg := ReportConfig{Filter: analytics.DefaultFilter()}
	get := func(name string) string {
		return fs.Lookup(name).Value.String()
	}

	if raw := get("users"); raw != "" {
		users, err := shlex.Split(raw)
		if err != nil {
			return ReportConfig{}, fmt.Errorf("parsing -users: %w", err)
		}
		cfg.Filter.Users = users
	}

	outcome := get("outcome")
	cfg.Filter.Outcome = analytics.ParseOutcome(outcome)
	if outcome != "" && string(cfg.Filter.Outcome) != outcome {
		return ReportConfig{}, fmt.Errorf(
			"invalid -outcome %q: want All, Successful or Failed",
			outcome,
		)
	}

	from, to := get("from"), get("to")
	if (from == "") != (to == "") {
		return ReportConfig{}, errors.New(
			"-from and -to must be given together",
		)
	}
	if from != "" {
		cfg.Filter.Dates = analytics.DateRange{from, to}
		if _, _, ok := cfg.Filter.Dates.Bounds(); !ok {
			return ReportConfig{}, fmt.Errorf(
				"invalid date range %s..%s: want YYYY-MM-DD", from, to,
			)
		}
	}

	// flag already validated the int
	cfg.Top, _ = strconv.Atoi(get("top"))
	if cfg.Top < 0 {
		return ReportConfig{}, errors.New("-top must be >= 0")
	}
	return cfg, nil
}

// snapshotLoader is the part of sync.Engine the reporter needs.
type snapshotLoader interface {
	Load(ctx context.Context, force bool) (*sync.Snapshot, error)
}

// Reporter prints key metrics and top users of a snapshot.
type Reporter struct {
	Loader  snapshotLoader
	Out     io.Writer
	Policy  analytics.NamePolicy
	Summary analytics.SummaryOptions
	Top     int // default top-users count
}

// Report loads the window, applies the filter and writes the
// report to r.Out.
func (r *Reporter) Report(ctx context.Context, cfg ReportConfig) error {
	snap, err := r.Loader.Load(ctx, false)
	if errors.Is(err, sync.ErrNoData) {
		fmt.Fprintln(r.Out, "No conversation data in the lookback window.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading traces: %w", err)
	}

	top := cfg.Top
	if top == 0 {
		top = r.Top
	}
	ds := analytics.Apply(snap.Dataset, cfg.Filter)
	writeReport(r.Out, snap, ds, analytics.Summarize(ds, r.Summary),
		analytics.TopUsers(ds, top, r.Policy))
	return nil
}

func writeReport(
	w io.Writer, snap *sync.Snapshot, ds analytics.Dataset,
	sum analytics.Summary, users []analytics.UserStat,
) {
	project := snap.Project
	if project == "" {
		project = "(export directory)"
	}
	fmt.Fprintf(w, "Project %s, last %d days\n\n",
		project, snap.LookbackDays)

	if ds.Empty() {
		fmt.Fprintln(w, "No conversations match the given filters.")
		return
	}

	fmt.Fprintf(w, "  %-20s %d\n", "Conversations", sum.Total)
	fmt.Fprintf(w, "  %-20s %d (%.1f%%)\n",
		"Successful", sum.Successful, sum.SuccessRate)
	fmt.Fprintf(w, "  %-20s %d\n", "Failed", sum.Failed)
	fmt.Fprintf(w, "  %-20s %.2fs\n", "Avg latency", sum.AvgLatencySeconds)
	fmt.Fprintf(w, "  %-20s %d\n", "Unique users", sum.UniqueUsers)
	fmt.Fprintf(w, "  %-20s %d\n", "Slow traces", sum.SlowTraces)
	fmt.Fprintf(w, "  %-20s %d\n", "Total tokens", sum.TotalTokens)
	fmt.Fprintf(w, "  %-20s $%.4f (%s)\n",
		"Estimated cost", sum.EstimatedCost, sum.CostModel)

	if len(users) == 0 {
		return
	}
	fmt.Fprintln(w, "\nTop users:")
	for _, u := range users {
		fmt.Fprintf(w, "  %-30s %5d  %5.1f%%  %6.2fs\n",
			u.UserName, u.Count, u.SuccessRate, u.AvgLatencySeconds)
	}
}

func runReport(args []string) {
	fs := newReportFlagSet()
	rcfg, err := parseReportFlags(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	var database *db.DB
	if !cfg.NoStore {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			log.Fatalf("creating data dir: %v", err)
		}
		database = mustOpenDB(cfg)
		defer database.Close()
	}

	engine, err := newEngine(cfg, database, nil, nil)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}

	reporter := &Reporter{
		Loader: engine,
		Out:    os.Stdout,
		Policy: analytics.NamePolicy{
			HidePlaceholders: cfg.HidePlaceholderNames,
		},
		Summary: analytics.SummaryOptions{
			SlowThreshold: cfg.SlowThreshold,
			CostModel:     cfg.CostModel,
		},
		Top: cfg.TopUsersLimit,
	}
	if err := reporter.Report(context.Background(), rcfg); err != nil {
		log.Fatalf("report: %v", err)
	}
}
