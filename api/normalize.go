package api

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"bdpower/internal/dataset"
	"bdpower/internal/logger"
)

// ErrNoParameterData means the body has no properties.parameter object.
var ErrNoParameterData = errors.New("response has no properties.parameter data")

// POWER marks missing observations with this value unless the header says otherwise.
const defaultFillValue = -999.0

// NormalizeOptions controls how provider values are interpreted.
type NormalizeOptions struct {
	// MissingAsNaN drops values equal to the response's fill value so they
	// read as absent instead of as -999.
	MissingAsNaN bool
}

// Normalize turns a POWER point response into a table with one row per
// distinct date key, sorted by date, and one display-named column per
// parameter. Dates a parameter has no entry for are left absent.
func Normalize(body []byte, opts NormalizeOptions) (*dataset.Table, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrNoParameterData)
	}
	params := gjson.GetBytes(body, "properties.parameter")
	if !params.IsObject() {
		return nil, ErrNoParameterData
	}

	fill := defaultFillValue
	if fv := gjson.GetBytes(body, "header.fill_value"); fv.Exists() {
		fill = fv.Float()
	}

	table := &dataset.Table{}
	byDate := make(map[time.Time]map[string]float64)
	skipped := 0

	params.ForEach(func(code, series gjson.Result) bool {
		column := dataset.DisplayName(code.String())
		table.Columns = append(table.Columns, column)

		series.ForEach(func(key, value gjson.Result) bool {
			date, hourly, err := parseDateKey(key.String())
			if err != nil {
				skipped++
				logger.Debug("Skipping %s key %q: %v", code.String(), key.String(), err)
				return true
			}
			table.Hourly = table.Hourly || hourly

			values, ok := byDate[date]
			if !ok {
				values = make(map[string]float64)
				byDate[date] = values
			}
			if value.Type != gjson.Number {
				return true
			}
			v := value.Float()
			if opts.MissingAsNaN && v == fill {
				return true
			}
			values[column] = v
			return true
		})
		return true
	})

	if skipped > 0 {
		logger.Warn("Skipped %d parameter entries with unrecognized date keys", skipped)
	}

	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	table.Rows = make([]dataset.Row, len(dates))
	for i, d := range dates {
		table.Rows[i] = dataset.Row{Date: d, Values: byDate[d]}
	}
	return table, nil
}

// parseDateKey accepts YYYYMMDD and YYYYMMDDHH keys.
func parseDateKey(key string) (time.Time, bool, error) {
	switch len(key) {
	case 8:
		t, err := time.Parse("20060102", key)
		return t, false, err
	case 10:
		t, err := time.Parse("2006010215", key)
		return t, true, err
	}
	return time.Time{}, false, fmt.Errorf("unexpected date key length %d", len(key))
}
