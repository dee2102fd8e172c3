package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNetworkError(t *testing.T) {
	tests := []struct {
		name      string
		err       *NetworkError
		retryable bool
		contains  string
	}{
		{
			name:      "deadline exceeded",
			err:       NewNetworkError("POWER daily request", "/daily/point", 30*time.Second, fmt.Errorf("get: %w", context.DeadlineExceeded)),
			retryable: true,
			contains:  "POWER daily request failed for /daily/point",
		},
		{
			name:      "plain transport error",
			err:       NewNetworkError("POWER daily request", "/daily/point", 30*time.Second, errors.New("tls: bad certificate")),
			retryable: false,
			contains:  "tls: bad certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", tt.err.IsRetryable(), tt.retryable)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want substring %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusUnprocessableEntity, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		if got := IsRetryableStatus(tt.status); got != tt.want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestNetworkErrorRecordsTimeout(t *testing.T) {
	netErr := NewNetworkError("op", "/x", 5*time.Second, context.DeadlineExceeded)
	if netErr.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", netErr.Timeout)
	}
	if !errors.Is(netErr, context.DeadlineExceeded) {
		t.Error("NetworkError should unwrap to the underlying error")
	}

	var logOutput strings.Builder
	LogNetworkError(slog.New(slog.NewTextHandler(&logOutput, nil)), netErr)
	if !strings.Contains(logOutput.String(), "level=WARN") {
		t.Errorf("retryable errors should log at WARN: %s", logOutput.String())
	}
}

func TestSafeFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")

	if err := SafeFileWrite(nil, path, []byte("Date\n"), 0644); err != nil {
		t.Fatalf("SafeFileWrite() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(data) != "Date\n" {
		t.Errorf("content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after a successful write")
	}
}

func TestSafeFileWriteIntoFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	err := SafeFileWrite(nil, filepath.Join(blocker, "out.csv"), []byte("x"), 0644)
	var dirErr *DirectoryError
	if !errors.As(err, &dirErr) {
		t.Fatalf("expected DirectoryError, got %T: %v", err, err)
	}
}

func TestFileErrorType(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing.csv"))
	if got := FileErrorType(err); got != "file_not_found" {
		t.Errorf("FileErrorType() = %q, want file_not_found", got)
	}
	if got := FileErrorType(nil); got != "unknown" {
		t.Errorf("FileErrorType(nil) = %q", got)
	}
}
