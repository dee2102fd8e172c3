package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tidwall/gjson"

	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
)

// Date layouts used in flat files.
const (
	DateLayout = "2006-01-02"
	HourLayout = "2006-01-02 15:00"
)

// WriteCSV encodes t with a header row. Missing values are empty cells.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}

	identity := t.HasIdentity()
	var record []string
	for _, r := range t.Rows {
		record = t.appendRecord(record[:0], r, identity)
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// WritePreview prints the header and first n rows of t as aligned columns.
func WritePreview(w io.Writer, t *Table, n int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Header(), "\t"))
	identity := t.HasIdentity()
	for i, r := range t.Rows {
		if i == n {
			break
		}
		fmt.Fprintln(tw, strings.Join(t.appendRecord(nil, r, identity), "\t"))
	}
	return tw.Flush()
}

// appendRecord appends the flat-file cells of r in Header order.
func (t *Table) appendRecord(record []string, r Row, identity bool) []string {
	layout := DateLayout
	if t.Hourly {
		layout = HourLayout
	}
	record = append(record, r.Date.Format(layout))
	if identity {
		record = append(record, r.Location, r.Division, formatFloat(r.Latitude), formatFloat(r.Longitude))
	}
	for _, c := range t.Columns {
		record = append(record, formatFloat(r.Value(c)))
	}
	return record
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadCSV decodes a file written by WriteCSV. Identity columns are recognized
// by name; every other column after Date is a measurement.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if len(header) == 0 || strings.TrimPrefix(header[0], "\ufeff") != ColDate {
		return nil, fmt.Errorf("first CSV column must be %q", ColDate)
	}

	t := &Table{}
	measurement := make(map[int]string)
	for i, name := range header[1:] {
		switch name {
		case ColDistrict, ColDivision, ColLatitude, ColLongitude:
		default:
			measurement[i+1] = name
			t.Columns = append(t.Columns, name)
		}
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", line, err)
		}

		row := Row{Values: make(map[string]float64, len(measurement))}
		if row.Date, err = time.Parse(DateLayout, record[0]); err != nil {
			if row.Date, err = time.Parse(HourLayout, record[0]); err != nil {
				return nil, fmt.Errorf("line %d: invalid date %q", line, record[0])
			}
			t.Hourly = true
		}

		for i := 1; i < len(record); i++ {
			cell := strings.TrimSpace(record[i])
			switch header[i] {
			case ColDistrict:
				row.Location = cell
				continue
			case ColDivision:
				row.Division = cell
				continue
			}
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
			switch header[i] {
			case ColLatitude:
				row.Latitude = v
			case ColLongitude:
				row.Longitude = v
			default:
				row.Values[header[i]] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// LoadCSV reads a table from path.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorutil.LogFileError(logger.Slog(), errorutil.NewFileError("open", path, err))
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return t, nil
}

// SaveCSV writes t to path atomically.
func SaveCSV(path string, t *Table) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return fmt.Errorf("encoding CSV: %w", err)
	}
	if err := errorutil.SafeFileWrite(logger.Slog(), path, buf.Bytes(), 0644); err != nil {
		return err
	}
	logger.LogFileOperation("save_csv", path, int64(buf.Len()))
	return nil
}

// SaveJSON writes a raw response body to path, indented for reading.
func SaveJSON(path string, body []byte) error {
	if !gjson.ValidBytes(body) {
		return errors.New("response is not valid JSON")
	}
	pretty := strings.TrimRight(gjson.GetBytes(body, "@pretty").Raw, "\n") + "\n"
	if err := errorutil.SafeFileWrite(logger.Slog(), path, []byte(pretty), 0644); err != nil {
		return err
	}
	logger.LogFileOperation("save_json", path, int64(len(pretty)))
	return nil
}
