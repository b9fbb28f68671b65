package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LastFetch returns the high-water mark recorded by the last
// successful fetch of project. ok is false when the project has
// never been fetched.
func (db *DB) LastFetch(
	ctx context.Context, project string,
) (t time.Time, ok bool, err error) {
	var s string
	err = db.reader.QueryRowContext(ctx,
		"SELECT last_fetch FROM fetch_state WHERE project = ?",
		project,
	).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf(
			"loading fetch state: %w", err,
		)
	}
	t, err = parseTS(s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf(
			"parsing last_fetch %q: %w", s, err,
		)
	}
	return t, true, nil
}

// SetLastFetch records t as the high-water mark for project.
func (db *DB) SetLastFetch(
	ctx context.Context, project string, t time.Time,
) error {
	return db.Update(func(tx *sql.Tx) error {
		return setLastFetchTx(ctx, tx, project, t)
	})
}

func setLastFetchTx(
	ctx context.Context, tx *sql.Tx, project string, t time.Time,
) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fetch_state (project, last_fetch)
		VALUES (?, ?)
		ON CONFLICT(project) DO UPDATE SET
			last_fetch = excluded.last_fetch`,
		project, formatTS(t),
	)
	if err != nil {
		return fmt.Errorf("saving fetch state: %w", err)
	}
	return nil
}

// FetchStates returns the high-water mark of every project.
func (db *DB) FetchStates(
	ctx context.Context,
) (map[string]time.Time, error) {
	rows, err := db.reader.QueryContext(ctx,
		"SELECT project, last_fetch FROM fetch_state",
	)
	if err != nil {
		return nil, fmt.Errorf("loading fetch states: %w", err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var project, s string
		if err := rows.Scan(&project, &s); err != nil {
			return nil, fmt.Errorf("scanning fetch state: %w", err)
		}
		t, err := parseTS(s)
		if err != nil {
			return nil, fmt.Errorf(
				"parsing last_fetch for %s: %w", project, err,
			)
		}
		result[project] = t
	}
	return result, rows.Err()
}
