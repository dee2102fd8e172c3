package batch

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
)

// RenderSummary prints success and failure counts, timing and rows per division.
func (r *Result) RenderSummary(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "EXTRACTION SUMMARY\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(&buf, "Successful: %d/%d locations\n", len(r.Succeeded), r.Attempted)
	fmt.Fprintf(&buf, "Failed: %d locations\n", len(r.Failures))
	if len(r.Failures) > 0 {
		fmt.Fprintf(&buf, "  Failed: %s\n", strings.Join(r.FailedNames(), ", "))
	}
	fmt.Fprintf(&buf, "Total time: %.1f seconds (%.1f minutes)\n", r.Elapsed.Seconds(), r.Elapsed.Minutes())
	if r.Attempted > 0 {
		fmt.Fprintf(&buf, "Average: %.2f seconds per location\n", r.Elapsed.Seconds()/float64(r.Attempted))
	}

	if r.Combined.Len() > 0 {
		fmt.Fprintf(&buf, "\nCombined dataset: %d rows x %d columns\n", r.Combined.Len(), len(r.Combined.Header()))
		fmt.Fprintln(&buf, "Rows per division:")
		for _, d := range r.DivisionRows {
			fmt.Fprintf(&buf, "  %-15s %d\n", d.Division, d.Rows)
		}
	} else {
		fmt.Fprintln(&buf, "\nNo data collected.")
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Estimate predicts the wall time of a batch: every request takes
// avgResponse and consecutive requests are separated by delay.
func Estimate(requests int, avgResponse, delay time.Duration) time.Duration {
	if requests <= 0 {
		return 0
	}
	return time.Duration(requests)*avgResponse + time.Duration(requests-1)*delay
}

// FormatDuration renders d the way estimates are shown: seconds under a
// minute, minutes under an hour, hours beyond.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1f minutes", d.Minutes())
	default:
		return fmt.Sprintf("%.2f hours (%.0f minutes)", d.Hours(), d.Minutes())
	}
}
