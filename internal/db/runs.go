package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesm/tracedash/internal/trace"
)

// UpsertRuns stores recs under project, replacing rows with the
// same run ID. Records without an ID or start time cannot be
// placed in a time window and are not stored. It returns the
// number of rows written.
func (db *DB) UpsertRuns(
	ctx context.Context, project string, recs []trace.Record,
) (int, error) {
	var stored int
	err := db.Update(func(tx *sql.Tx) error {
		var err error
		stored, err = upsertRunsTx(ctx, tx, project, recs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func upsertRunsTx(
	ctx context.Context, tx *sql.Tx, project string, recs []trace.Record,
) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO runs (id, project, start_time, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project, id) DO UPDATE SET
			start_time = excluded.start_time,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := formatTS(time.Now())
	stored := 0
	for _, rec := range recs {
		if rec.ID == "" || rec.StartTime == nil {
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encoding run %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, project, formatTS(*rec.StartTime),
			string(payload), now,
		); err != nil {
			return 0, fmt.Errorf("upserting run %s: %w", rec.ID, err)
		}
		stored++
	}
	return stored, nil
}

// ListRuns returns the stored runs of project that started in
// [start, end], oldest first. A zero bound is open.
func (db *DB) ListRuns(
	ctx context.Context, project string, start, end time.Time,
) ([]trace.Record, error) {
	query := `SELECT id, payload FROM runs WHERE project = ?`
	args := []any{project}
	if !start.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, formatTS(start))
	}
	if !end.IsZero() {
		query += ` AND start_time <= ?`
		args = append(args, formatTS(end))
	}
	query += ` ORDER BY start_time, id`

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var recs []trace.Record
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec, err := trace.ParseRun(gjson.Parse(payload))
		if err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", id, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ReplaceRuns swaps every stored run of project for recs and
// records fetchedAt as its high-water mark, in one transaction.
// On error the previous runs and fetch state are kept. It returns
// the number of runs removed and stored.
func (db *DB) ReplaceRuns(
	ctx context.Context, project string, recs []trace.Record,
	fetchedAt time.Time,
) (removed int64, stored int, err error) {
	err = db.Update(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM runs WHERE project = ?", project)
		if err != nil {
			return fmt.Errorf("clearing runs: %w", err)
		}
		removed, _ = res.RowsAffected()
		if stored, err = upsertRunsTx(ctx, tx, project, recs); err != nil {
			return err
		}
		return setLastFetchTx(ctx, tx, project, fetchedAt)
	})
	if err != nil {
		return 0, 0, err
	}
	return removed, stored, nil
}

// PruneBefore deletes runs that started before cutoff. An empty
// project prunes every project. It returns the number of runs
// deleted.
func (db *DB) PruneBefore(
	ctx context.Context, project string, cutoff time.Time,
) (int64, error) {
	query := "DELETE FROM runs WHERE start_time < ?"
	args := []any{formatTS(cutoff)}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}

	var n int64
	err := db.Update(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("pruning runs: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// CountRunsBefore returns how many runs PruneBefore would delete.
func (db *DB) CountRunsBefore(
	ctx context.Context, project string, cutoff time.Time,
) (int, error) {
	query := "SELECT COUNT(*) FROM runs WHERE start_time < ?"
	args := []any{formatTS(cutoff)}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	var n int
	if err := db.reader.QueryRowContext(ctx, query, args...).
		Scan(&n); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}
