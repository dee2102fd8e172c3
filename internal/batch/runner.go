// Package batch fetches many locations one after another and combines the
// results into a single dataset.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"bdpower/api"
	"bdpower/internal/dataset"
	"bdpower/internal/districts"
	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
	"bdpower/internal/observability"
)

// DefaultDelay is the pause between consecutive requests.
const DefaultDelay = time.Second

// Fetcher is the part of api.PowerClient the runner needs.
type Fetcher interface {
	FetchDaily(ctx context.Context, params api.DailyParams) (*dataset.Table, error)
	FetchHourly(ctx context.Context, params api.DailyParams) (*dataset.Table, error)
}

// Request is the date range and parameter set applied to every location.
type Request struct {
	Start      time.Time
	End        time.Time
	Parameters []string
	Community  string
	Hourly     bool
}

// Days is the inclusive number of calendar days requested.
func (r Request) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

func (r Request) params(loc districts.Location) api.DailyParams {
	return api.DailyParams{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Start:      r.Start,
		End:        r.End,
		Parameters: r.Parameters,
		Community:  r.Community,
	}
}

// RunnerConfig configures a Runner. Zero values select the defaults.
type RunnerConfig struct {
	Clock    clockwork.Clock
	Delay    time.Duration
	Metrics  *observability.Metrics
	Progress io.Writer
}

// Runner fetches locations sequentially with a fixed delay between requests.
type Runner struct {
	source   Fetcher
	clock    clockwork.Clock
	delay    time.Duration
	metrics  *observability.Metrics
	progress io.Writer
}

// NewRunner creates a runner over source. A negative delay disables pacing.
func NewRunner(source Fetcher, cfg RunnerConfig) *Runner {
	r := &Runner{
		source:   source,
		clock:    cfg.Clock,
		delay:    cfg.Delay,
		metrics:  cfg.Metrics,
		progress: cfg.Progress,
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.delay == 0 {
		r.delay = DefaultDelay
	}
	if r.progress == nil {
		r.progress = io.Discard
	}
	return r
}

// Failure is a location that contributed no rows.
type Failure struct {
	Location districts.Location
	Err      error
}

// DivisionCount is the number of combined rows from one division.
type DivisionCount struct {
	Division string
	Rows     int
}

// Result is the outcome of a batch run.
type Result struct {
	RunID        string
	Request      Request
	Attempted    int
	Combined     *dataset.Table
	Succeeded    []string
	Failures     []Failure
	DivisionRows []DivisionCount
	StartedAt    time.Time
	Elapsed      time.Duration
}

// FailedNames lists the failed locations in request order.
func (r *Result) FailedNames() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.Location.Name
	}
	return names
}

// Run fetches every location in order. A location that fails is recorded
// and skipped; the batch only stops early when ctx is done, in which case
// the context error is returned and no result is produced.
func (r *Runner) Run(ctx context.Context, locs []districts.Location, req Request) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Request:   req,
		Attempted: len(locs),
		StartedAt: r.clock.Now(),
	}

	complete := logger.LogOperationStart("batch_run", map[string]any{
		"run_id":    res.RunID,
		"locations": len(locs),
		"start":     req.Start.Format(dataset.DateLayout),
		"end":       req.End.Format(dataset.DateLayout),
		"hourly":    req.Hourly,
	})

	var tables []*dataset.Table
	for i, loc := range locs {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				complete(ctx.Err())
				return nil, ctx.Err()
			case <-r.clock.After(r.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			complete(err)
			return nil, err
		}

		fmt.Fprintf(r.progress, "[%d/%d] %s\n", i+1, len(locs), loc)
		fmt.Fprintf(r.progress, "    Coordinates: %.4f°N, %.4f°E\n", loc.Latitude, loc.Longitude)

		tbl, err := r.fetchOne(ctx, loc, req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				complete(ctxErr)
				return nil, ctxErr
			}
			res.Failures = append(res.Failures, Failure{Location: loc, Err: err})
			errorutil.LogWarning(logger.Slog(), "fetch "+loc.Name, err, errorutil.LocationContext(loc.Name, loc.Latitude, loc.Longitude)...)
			fmt.Fprintf(r.progress, "    Failed: %v\n", err)
			continue
		}

		tables = append(tables, tbl.WithLocation(loc))
		res.Succeeded = append(res.Succeeded, loc.Name)
		fmt.Fprintf(r.progress, "    Success: %d records retrieved\n", tbl.Len())
	}

	res.Combined = dataset.Concat(tables...)
	res.Combined.Hourly = req.Hourly
	res.DivisionRows = divisionRows(res.Combined)
	res.Elapsed = r.clock.Since(res.StartedAt)

	if res.Combined.Len() > 0 {
		r.metrics.MarkSuccess(r.clock.Now())
	}

	logger.LogWithFields(logger.InfoLevel, "Batch finished", map[string]any{
		"run_id":    res.RunID,
		"succeeded": len(res.Succeeded),
		"failed":    len(res.Failures),
		"rows":      res.Combined.Len(),
		"elapsed":   res.Elapsed,
	})
	complete(nil)
	return res, nil
}

func (r *Runner) fetchOne(ctx context.Context, loc districts.Location, req Request) (*dataset.Table, error) {
	started := r.clock.Now()
	var (
		tbl *dataset.Table
		err error
	)
	if req.Hourly {
		tbl, err = r.source.FetchHourly(ctx, req.params(loc))
	} else {
		tbl, err = r.source.FetchDaily(ctx, req.params(loc))
	}
	outcome := observability.OutcomeSuccess
	switch {
	case errors.Is(err, api.ErrNoParameterData):
		outcome = observability.OutcomeEmpty
	case err != nil:
		outcome = observability.OutcomeError
	}
	r.metrics.ObserveRequest(outcome, r.clock.Since(started), tbl.Len())

	return tbl, err
}

// divisionRows counts combined rows per division in first-seen order.
func divisionRows(t *dataset.Table) []DivisionCount {
	index := make(map[string]int)
	var out []DivisionCount
	for _, row := range t.Rows {
		i, ok := index[row.Division]
		if !ok {
			i = len(out)
			index[row.Division] = i
			out = append(out, DivisionCount{Division: row.Division})
		}
		out[i].Rows++
	}
	return out
}
