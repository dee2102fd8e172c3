package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"bdpower/internal/dataset"
	"bdpower/internal/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	hourly     INTEGER NOT NULL,
	columns    TEXT NOT NULL,
	row_count  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS observations (
	run_id    TEXT NOT NULL,
	date      TEXT NOT NULL,
	district  TEXT NOT NULL,
	division  TEXT NOT NULL,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL,
	parameter TEXT NOT NULL,
	value     REAL,
	PRIMARY KEY (run_id, date, district, parameter)
);`

// ErrRunNotFound is returned when a run ID has no stored observations.
var ErrRunNotFound = errors.New("run not found")

// SQLite stores observations in long format, one row per measurement. A
// missing measurement is stored as NULL so every observation row survives a
// round trip.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warn("Could not set WAL mode on %s: %v", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

// Write replaces everything stored under runID with t.
func (s *SQLite) Write(ctx context.Context, runID string, t *dataset.Table) (err error) {
	columns, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("encode columns: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs(run_id, created_at, hourly, columns, row_count) VALUES(?,?,?,?,?)
		 ON CONFLICT(run_id) DO UPDATE SET created_at=excluded.created_at, hourly=excluded.hourly,
		 columns=excluded.columns, row_count=excluded.row_count`,
		runID, s.now().UTC().Format(time.RFC3339), t.Hourly, string(columns), t.Len()); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM observations WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations(run_id, date, district, division, latitude, longitude, parameter, value)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(run_id, date, district, parameter) DO UPDATE SET value=excluded.value`)
	if err != nil {
		return fmt.Errorf("prepare observation insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range t.Rows {
		date := formatDate(t, r)
		for _, col := range t.Columns {
			var value sql.NullFloat64
			if v := r.Value(col); !math.IsNaN(v) {
				value = sql.NullFloat64{Float64: v, Valid: true}
			}
			if _, err = stmt.ExecContext(ctx, runID, date, r.Location, r.Division, r.Latitude, r.Longitude, col, value); err != nil {
				return fmt.Errorf("insert observation %s/%s/%s: %w", r.Location, date, col, err)
			}
		}
	}

	return tx.Commit()
}

// Count returns the number of present measurements stored for runID.
func (s *SQLite) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(value) FROM observations WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// LatestRun returns the most recently written run ID.
func (s *SQLite) LatestRun(ctx context.Context) (string, error) {
	var runID string
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return runID, err
}

// LoadTable rebuilds the combined table of runID in its original column
// order, rows ordered by district then date.
func (s *SQLite) LoadTable(ctx context.Context, runID string) (*dataset.Table, error) {
	var (
		hourly  bool
		columns string
	)
	err := s.db.QueryRowContext(ctx, `SELECT hourly, columns FROM runs WHERE run_id = ?`, runID).Scan(&hourly, &columns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	t := &dataset.Table{Hourly: hourly}
	if err := json.Unmarshal([]byte(columns), &t.Columns); err != nil {
		return nil, fmt.Errorf("decode columns of run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, district, division, latitude, longitude, parameter, value
		 FROM observations WHERE run_id = ? ORDER BY district, date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	layout := dataset.DateLayout
	if hourly {
		layout = dataset.HourLayout
	}
	index := make(map[string]int)
	for rows.Next() {
		var (
			date, district, division, parameter string
			lat, lon                            float64
			value                               sql.NullFloat64
		)
		if err := rows.Scan(&date, &district, &division, &lat, &lon, &parameter, &value); err != nil {
			return nil, err
		}
		key := district + "|" + date
		i, ok := index[key]
		if !ok {
			d, err := time.Parse(layout, date)
			if err != nil {
				return nil, fmt.Errorf("stored date %q: %w", date, err)
			}
			i = len(t.Rows)
			index[key] = i
			t.Rows = append(t.Rows, dataset.Row{
				Date:      d,
				Location:  district,
				Division:  division,
				Latitude:  lat,
				Longitude: lon,
				Values:    make(map[string]float64),
			})
		}
		if value.Valid {
			t.Rows[i].Values[parameter] = value.Float64
		}
	}
	return t, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
