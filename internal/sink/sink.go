// Package sink publishes a combined dataset to optional secondary stores.
package sink

import (
	"context"

	"bdpower/internal/dataset"
	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
)

// Sink receives the combined table of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, runID string, t *dataset.Table) error
	Close() error
}

// WriteAll writes t to every sink. A failing sink is logged and skipped;
// the names of the sinks that failed are returned.
func WriteAll(ctx context.Context, sinks []Sink, runID string, t *dataset.Table) []string {
	var failed []string
	for _, s := range sinks {
		complete := logger.LogOperationStart("sink_write", map[string]any{
			"sink":   s.Name(),
			"run_id": runID,
			"rows":   t.Len(),
		})
		err := s.Write(ctx, runID, t)
		complete(err)
		if err != nil {
			errorutil.LogWarning(logger.Slog(), "sink "+s.Name(), err, errorutil.SinkContext(s.Name(), runID)...)
			failed = append(failed, s.Name())
		}
	}
	return failed
}

// CloseAll closes every sink, logging failures.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errorutil.LogWarning(logger.Slog(), "close sink "+s.Name(), err)
		}
	}
}

func formatDate(t *dataset.Table, r dataset.Row) string {
	if t.Hourly {
		return r.Date.Format(dataset.HourLayout)
	}
	return r.Date.Format(dataset.DateLayout)
}
