package errorutil

import (
	"fmt"
	"log/slog"
	"time"
)

// LogAndWrap logs an error with structured context and returns it wrapped
// with the operation name.
func LogAndWrap(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) error {
	if logger == nil || err == nil {
		return err
	}

	logger.Error(operation+" failed", attrsToAny(err, attrs)...)
	return fmt.Errorf("%s: %w", operation, err)
}

// LogWarning logs a non-fatal error as warning without wrapping.
// Used for secondary outputs whose failure must not stop the run.
func LogWarning(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) {
	if logger == nil || err == nil {
		return
	}

	logger.Warn("Non-fatal error in "+operation, attrsToAny(err, attrs)...)
}

// ExecuteWithLogging wraps a function call with start/completion logging
func ExecuteWithLogging(logger *slog.Logger, operation string, fn func() error, attrs ...slog.Attr) error {
	if logger == nil {
		return fn()
	}

	start := time.Now()
	logger.Debug("Starting "+operation, attrsToAny(nil, attrs)...)

	err := fn()
	completion := append(append([]slog.Attr{}, attrs...), slog.Duration("duration", time.Since(start)))

	if err != nil {
		logger.Error("Failed "+operation, attrsToAny(err, completion)...)
		return fmt.Errorf("%s: %w", operation, err)
	}

	logger.Debug("Completed "+operation, attrsToAny(nil, completion)...)
	return nil
}

func attrsToAny(err error, attrs []slog.Attr) []any {
	out := make([]any, 0, len(attrs)+1)
	if err != nil {
		out = append(out, slog.String("error", err.Error()))
	}
	for _, attr := range attrs {
		out = append(out, attr)
	}
	return out
}

// LocationContext creates context attributes for a per-location request
func LocationContext(name string, latitude, longitude float64) []slog.Attr {
	attrs := []slog.Attr{
		slog.Float64("latitude", latitude),
		slog.Float64("longitude", longitude),
	}
	if name != "" {
		attrs = append([]slog.Attr{slog.String("location", name)}, attrs...)
	}
	return attrs
}

// FileContext creates context attributes for file operations
func FileContext(filePath string) []slog.Attr {
	if filePath == "" {
		return nil
	}
	return []slog.Attr{slog.String("file_path", filePath)}
}

// SinkContext creates context attributes for dataset sinks
func SinkContext(sink, runID string) []slog.Attr {
	return []slog.Attr{slog.String("sink", sink), slog.String("run_id", runID)}
}
