// Package dataset holds the tabular form of POWER observations and its
// flat-file encodings.
package dataset

import (
	"math"
	"time"

	"bdpower/internal/districts"
)

// Identity column names, in output order after the date.
const (
	ColDate      = "Date"
	ColDistrict  = "District"
	ColDivision  = "Division"
	ColLatitude  = "Latitude"
	ColLongitude = "Longitude"
)

// Row is one date (or hour) of observations, optionally tagged with the
// location it was fetched for. A measurement missing from Values is absent,
// never zero.
type Row struct {
	Date      time.Time
	Location  string
	Division  string
	Latitude  float64
	Longitude float64
	Values    map[string]float64
}

// Value returns the named measurement or NaN when the row has none.
func (r Row) Value(column string) float64 {
	if v, ok := r.Values[column]; ok {
		return v
	}
	return math.NaN()
}

// Table is an ordered set of rows sharing a list of measurement columns.
type Table struct {
	Columns []string
	Rows    []Row
	Hourly  bool
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasIdentity reports whether rows carry location columns.
func (t *Table) HasIdentity() bool {
	for _, r := range t.Rows {
		if r.Location != "" {
			return true
		}
	}
	return false
}

// HasColumn reports whether name is one of the measurement columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of a measurement column in row order, NaN where
// a row has no value.
func (t *Table) Column(name string) []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Value(name)
	}
	return out
}

// AddColumn appends a derived measurement column computed per row. An
// existing column of the same name is recomputed in place.
func (t *Table) AddColumn(name string, fn func(Row) float64) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
	for i := range t.Rows {
		if t.Rows[i].Values == nil {
			t.Rows[i].Values = make(map[string]float64)
		}
		t.Rows[i].Values[name] = fn(t.Rows[i])
	}
}

// WithLocation returns a copy of t with every row tagged with loc.
func (t *Table) WithLocation(loc districts.Location) *Table {
	out := t.clone()
	for i := range out.Rows {
		out.Rows[i].Location = loc.Name
		out.Rows[i].Division = loc.Division
		out.Rows[i].Latitude = loc.Latitude
		out.Rows[i].Longitude = loc.Longitude
	}
	return out
}

// Filter returns the rows for which keep returns true, sharing no state with t.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...), Hourly: t.Hourly}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, copyRow(r))
		}
	}
	return out
}

// Locations returns the distinct location names in first-seen order.
func (t *Table) Locations() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		if r.Location != "" && !seen[r.Location] {
			seen[r.Location] = true
			out = append(out, r.Location)
		}
	}
	return out
}

func (t *Table) clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([]Row, len(t.Rows)),
		Hourly:  t.Hourly,
	}
	for i, r := range t.Rows {
		out.Rows[i] = copyRow(r)
	}
	return out
}

func copyRow(r Row) Row {
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}

// Concat stacks tables in order. The result's columns are the union of the
// inputs' columns in order of first appearance. Nil tables are skipped.
func Concat(tables ...*Table) *Table {
	out := &Table{}
	seen := make(map[string]bool)
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			if !seen[c] {
				seen[c] = true
				out.Columns = append(out.Columns, c)
			}
		}
		for _, r := range t.Rows {
			out.Rows = append(out.Rows, copyRow(r))
		}
		out.Hourly = out.Hourly || t.Hourly
	}
	return out
}

// Header returns the full output header: the date, then identity columns
// when present, then measurement columns.
func (t *Table) Header() []string {
	header := []string{ColDate}
	if t.HasIdentity() {
		header = append(header, ColDistrict, ColDivision, ColLatitude, ColLongitude)
	}
	return append(header, t.Columns...)
}
