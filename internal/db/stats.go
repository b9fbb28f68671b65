package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats summarizes the stored runs.
type Stats struct {
	RunCount     int        `json:"run_count"`
	ProjectCount int        `json:"project_count"`
	OldestRun    *time.Time `json:"oldest_run,omitempty"`
	NewestRun    *time.Time `json:"newest_run,omitempty"`
}

// GetStats returns run counts and the stored time span.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(DISTINCT project),
			MIN(start_time),
			MAX(start_time)
		FROM runs`

	var s Stats
	var oldest, newest sql.NullString
	err := db.reader.QueryRowContext(ctx, query).Scan(
		&s.RunCount,
		&s.ProjectCount,
		&oldest,
		&newest,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("fetching stats: %w", err)
	}
	if s.OldestRun, err = nullTS(oldest); err != nil {
		return Stats{}, err
	}
	if s.NewestRun, err = nullTS(newest); err != nil {
		return Stats{}, err
	}
	return s, nil
}

func nullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}
