package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/wesm/tracedash/internal/config"
	"github.com/wesm/tracedash/internal/db"
)

// PruneConfig holds parsed CLI options for the prune command.
type PruneConfig struct {
	Before  time.Time
	Project string
	DryRun  bool
	Yes     bool
}

func parsePruneFlags(args []string) (PruneConfig, error) {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	before := fs.String(
		"before", "",
		"Runs that started before this date (YYYY-MM-DD)",
	)
	project := fs.String(
		"project", "",
		"Only prune runs of this project",
	)
	dryRun := fs.Bool(
		"dry-run", false,
		"Show what would be pruned without deleting",
	)
	yes := fs.Bool(
		"yes", false,
		"Skip confirmation prompt",
	)

	if err := fs.Parse(args); err != nil {
		return PruneConfig{}, err
	}

	if *before == "" {
		return PruneConfig{}, errors.New(
			"-before is required (refusing to prune all runs)",
		)
	}
	cutoff, err := time.Parse("2006-01-02", *before)
	if err != nil {
		return PruneConfig{}, fmt.Errorf(
			"invalid -before %q: want YYYY-MM-DD", *before,
		)
	}

	return PruneConfig{
		Before:  cutoff,
		Project: *project,
		DryRun:  *dryRun,
		Yes:     *yes,
	}, nil
}

// Pruner executes the prune workflow against a database.
type Pruner struct {
	DB  *db.DB
	Out io.Writer
	In  io.Reader
}

// Prune counts the runs older than the cutoff and deletes them.
func (p *Pruner) Prune(ctx context.Context, cfg PruneConfig) error {
	if cfg.Before.IsZero() {
		return errors.New(
			"a cutoff date is required (refusing to prune all runs)",
		)
	}

	n, err := p.DB.CountRunsBefore(ctx, cfg.Project, cfg.Before)
	if err != nil {
		return fmt.Errorf("counting runs: %w", err)
	}
	if n == 0 {
		fmt.Fprintln(p.Out, "No stored runs match the given filters.")
		return nil
	}

	scope := "all projects"
	if cfg.Project != "" {
		scope = "project " + cfg.Project
	}
	fmt.Fprintf(p.Out, "Found %d runs before %s in %s\n",
		n, cfg.Before.Format("2006-01-02"), scope)

	if cfg.DryRun {
		fmt.Fprintln(p.Out, "\nDry run: no changes made.")
		return nil
	}

	if !cfg.Yes {
		msg := fmt.Sprintf("\nDelete %d runs?", n)
		if !confirm(p.In, p.Out, msg) {
			fmt.Fprintln(p.Out, "Aborted.")
			return nil
		}
	}

	deleted, err := p.DB.PruneBefore(ctx, cfg.Project, cfg.Before)
	if err != nil {
		return fmt.Errorf("deleting runs: %w", err)
	}
	fmt.Fprintf(p.Out, "\nDeleted %d runs\n", deleted)
	return nil
}

func confirm(r io.Reader, w io.Writer, msg string) bool {
	fmt.Fprintf(w, "%s [y/N] ", msg)
	scanner := bufio.NewScanner(r)
	scanner.Scan()
	ans := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return ans == "y" || ans == "yes"
}

func runPrune(args []string) {
	cfg, err := parsePruneFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	appCfg, err := config.LoadMinimal()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if _, err := os.Stat(appCfg.DBPath); err != nil {
		log.Fatalf("no run store at %s: %v", appCfg.DBPath, err)
	}

	database, err := db.Open(appCfg.DBPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer database.Close()

	pruner := &Pruner{
		DB:  database,
		Out: os.Stdout,
		In:  os.Stdin,
	}
	if err := pruner.Prune(context.Background(), cfg); err != nil {
		log.Fatalf("prune: %v", err)
	}
}
