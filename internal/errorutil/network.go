package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// NetworkError represents a failed request to a remote service with enough
// context to decide whether the location should be retried by an operator.
type NetworkError struct {
	Operation  string        // What was being attempted (e.g. "POWER daily request")
	URL        string        // The URL or path that was being accessed
	Timeout    time.Duration // Client timeout in force when the request timed out
	Underlying error
	Retryable  bool
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.URL, e.Underlying)
}

func (e *NetworkError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether the error suggests retrying might be worthwhile
func (e *NetworkError) IsRetryable() bool {
	return e.Retryable
}

// NewNetworkError wraps a transport failure. timeout is the client timeout and
// is only recorded when err is a timeout.
func NewNetworkError(operation, url string, timeout time.Duration, err error) *NetworkError {
	netErr := &NetworkError{
		Operation:  operation,
		URL:        url,
		Underlying: err,
		Retryable:  isRetryableError(err),
	}
	if IsTimeout(err) {
		netErr.Timeout = timeout
	}
	return netErr
}

// LogNetworkError logs a network error with structured context
func LogNetworkError(logger *slog.Logger, netErr *NetworkError) *NetworkError {
	if logger == nil {
		return netErr
	}

	attrs := []any{
		slog.String("operation", netErr.Operation),
		slog.String("url", netErr.URL),
		slog.String("error", netErr.Underlying.Error()),
		slog.Bool("retryable", netErr.Retryable),
	}
	if netErr.Timeout > 0 {
		attrs = append(attrs, slog.Duration("timeout", netErr.Timeout))
	}

	level := slog.LevelError
	if netErr.Retryable {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "Network operation failed", attrs...)
	return netErr
}

// IsRetryableStatus reports whether an HTTP status is worth a later retry.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}

// IsTimeout checks if an error is a timeout, including context deadlines.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
