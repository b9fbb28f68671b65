package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesm/tracedash/internal/analytics"
	"github.com/wesm/tracedash/internal/config"
	"github.com/wesm/tracedash/internal/db"
	"github.com/wesm/tracedash/internal/langsmith"
	"github.com/wesm/tracedash/internal/server"
	"github.com/wesm/tracedash/internal/sync"
	"github.com/wesm/tracedash/internal/trace"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	watcherDebounce     = 500 * time.Millisecond
	browserPollInterval = 100 * time.Millisecond
	browserPollAttempts = 60
	shutdownTimeout     = 5 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "report":
			runReport(os.Args[2:])
			return
		case "prune":
			runPrune(os.Args[2:])
			return
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("tracedash %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`tracedash %s - usage analytics for counseling bot traces

Fetches root runs of a LangSmith project (or reads exported runs
from a directory), turns them into conversations and serves a usage
dashboard API.

Usage:
  tracedash [flags]          Start the server (default command)
  tracedash serve [flags]    Start the server (explicit)
  tracedash report [flags]   Print key metrics and top users
  tracedash prune [flags]    Delete stored runs older than a date
  tracedash version          Show version information
  tracedash help             Show this help

Server flags:
  -host string              Host to bind to (default "127.0.0.1")
  -port int                 Port to listen on (default 8080)
  -no-browser               Don't open browser on startup
  -refresh-schedule string  Cron expression for scheduled refresh
  -no-store                 Keep runs in memory only

Source flags (serve and report):
  -project string     LangSmith project name
  -trace-dir string   Read exported runs from this directory
  -days int           Lookback window in days (default 355)
  -timezone string    Timezone for calendar grouping (default "UTC")
  -programs string    YAML file with program keyword rules
  -real-names         Hide placeholder user names in rankings

Report flags:
  -users string       Shell-quoted list of user names (default All)
  -outcome string     All, Successful or Failed
  -from, -to string   Inclusive date range (YYYY-MM-DD)
  -top int            Number of top users to print (default 10)

Prune flags:
  -before string      Delete runs that started before this date
  -project string     Only prune this project
  -dry-run            Show what would be pruned without deleting
  -yes                Skip confirmation prompt

Environment variables:
  LANGSMITH_API_KEY        LangSmith API key
  LANGSMITH_ENDPOINT       LangSmith API base URL
  PROJECT_NAME             LangSmith project name
  TRACEDASH_TRACE_DIR      Exported runs directory
  TRACEDASH_LOOKBACK_DAYS  Lookback window in days
  TRACEDASH_TIMEZONE       Timezone for calendar grouping
  TRACEDASH_DATA_DIR       Data directory (database, config)

Data is stored in ~/.tracedash/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)

	var database *db.DB
	if !cfg.NoStore {
		database = mustOpenDB(cfg)
		defer database.Close()
	}

	reg := prometheus.NewRegistry()
	engine := mustNewEngine(cfg, database, sync.NewMetrics(reg))

	runInitialLoad(engine)

	stopWatcher := startFileWatcher(cfg, engine)
	defer stopWatcher()

	stopScheduler := startScheduler(cfg, engine)
	defer stopScheduler()

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		fmt.Printf("Port %d in use, using %d\n", cfg.Port, port)
	}
	cfg.Port = port

	srv := server.New(cfg, database, engine,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
		server.WithMetrics(reg),
	)

	url := server.URL(cfg.Host, cfg.Port)
	fmt.Printf("tracedash %s listening at %s\n", version, url)

	if !cfg.NoBrowser {
		go openBrowser(url)
	}

	go shutdownOnSignal(srv)

	if err := srv.ListenAndServe(); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("tracedash", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: tracedash [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	return cfg
}

func mustOpenDB(cfg config.Config) *db.DB {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return database
}

// newSource picks the trace source: an export directory when one
// is configured, the LangSmith API otherwise.
func newSource(cfg config.Config) trace.Source {
	if cfg.TraceDir != "" {
		return trace.DirSource{Dir: cfg.TraceDir}
	}
	return langsmith.New(cfg.APIURL, cfg.APIKey, cfg.RequestTimeout)
}

// newEngine wires the source, store, program table and cache
// into a refresh engine. database and metrics may be nil.
func newEngine(
	cfg config.Config, database *db.DB, metrics *sync.Metrics,
	onProgress sync.ProgressFunc,
) (*sync.Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	var programs analytics.ProgramTable
	if cfg.ProgramsPath != "" {
		programs, err = analytics.LoadPrograms(cfg.ProgramsPath)
		if err != nil {
			return nil, err
		}
	}
	return sync.NewEngine(newSource(cfg), database, sync.Options{
		Project:      cfg.Project,
		LookbackDays: cfg.LookbackDays,
		Location:     loc,
		Programs:     programs,
		Cache:        sync.NewCache(cfg.CacheTTL),
		Metrics:      metrics,
		OnProgress:   onProgress,
	}), nil
}

func mustNewEngine(
	cfg config.Config, database *db.DB, metrics *sync.Metrics,
) *sync.Engine {
	engine, err := newEngine(cfg, database, metrics, printLoadProgress)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}
	return engine
}

func runInitialLoad(engine *sync.Engine) {
	fmt.Println("Loading traces...")
	snap, err := engine.Load(context.Background(), false)
	switch {
	case errors.Is(err, sync.ErrNoData):
		fmt.Println("\nNo conversations in the lookback window yet.")
	case err != nil:
		// The server still starts; the dashboard reports the error
		// and a refresh can retry.
		log.Printf("\nwarning: initial load failed: %v", err)
	default:
		fmt.Printf(
			"\nLoad complete: %d conversations (%d runs fetched, %d skipped)\n",
			snap.Dataset.Len(), snap.Stats.Fetched, snap.Stats.Skipped,
		)
	}
}

func printLoadProgress(p sync.Progress) {
	switch p.Phase {
	case sync.PhaseFetching, sync.PhaseStoring:
		fmt.Printf("\r  %s · %d runs", p.Phase, p.RunsFetched)
	case sync.PhaseBuilding, sync.PhaseDone:
		fmt.Printf("\r  %s · %d conversations", p.Phase, p.Conversations)
	}
}

// startFileWatcher reloads the snapshot when exported trace files
// change. It is a no-op for the API source.
func startFileWatcher(
	cfg config.Config, engine *sync.Engine,
) func() {
	if cfg.TraceDir == "" {
		return func() {}
	}
	onChange := func(paths []string) {
		log.Printf("%d trace files changed, reloading", len(paths))
		_, err := engine.Load(context.Background(), true)
		if err != nil && !errors.Is(err, sync.ErrNoData) {
			log.Printf("reload error: %v", err)
		}
	}
	watcher, err := sync.NewWatcher(
		watcherDebounce, trace.IsTraceFile, onChange,
	)
	if err != nil {
		log.Printf("warning: file watcher unavailable: %v", err)
		return func() {}
	}

	if _, err := os.Stat(cfg.TraceDir); err == nil {
		watched, unwatched, err := watcher.WatchRecursive(cfg.TraceDir)
		if err != nil {
			log.Printf("warning: watching %s: %v", cfg.TraceDir, err)
		}
		log.Printf("watching %d directories under %s", watched, cfg.TraceDir)
		if unwatched > 0 {
			log.Printf("warning: %d directories could not be watched",
				unwatched)
		}
	}
	watcher.Start()
	return watcher.Stop
}

func startScheduler(
	cfg config.Config, engine *sync.Engine,
) func() {
	if cfg.RefreshSchedule == "" {
		return func() {}
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("resolving timezone: %v", err)
	}
	sched, err := sync.NewScheduler(cfg.RefreshSchedule, loc, engine)
	if err != nil {
		log.Fatalf("creating scheduler: %v", err)
	}
	sched.Start()
	log.Printf("Scheduled refresh %q, next at %s",
		cfg.RefreshSchedule,
		sched.Next(time.Now()).Format(time.RFC3339))
	return sched.Stop
}

func shutdownOnSignal(srv *server.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func openBrowser(url string) {
	for range browserPollAttempts {
		time.Sleep(browserPollInterval)
		resp, err := http.Get(url + "/api/v1/version")
		if err == nil {
			resp.Body.Close()
			break
		}
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32",
			"url.dll,FileProtocolHandler", url)
	default:
		return
	}
	_ = cmd.Run()
}
