package analysis

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"bdpower/internal/dataset"
)

// Key selects the grouping column.
type Key string

const (
	ByDivision Key = "Division"
	ByDistrict Key = "District"
	ByDate     Key = "Date"
	ByMonth    Key = "Month"
)

// AggFunc names a reduction applied to one column of a group.
type AggFunc string

const (
	AggMean  AggFunc = "mean"
	AggSum   AggFunc = "sum"
	AggCount AggFunc = "count"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
)

// Aggregation reduces Column with Func.
type Aggregation struct {
	Column string
	Func   AggFunc
}

func (a Aggregation) String() string {
	return fmt.Sprintf("%s(%s)", a.Func, a.Column)
}

// Group is one output row of GroupBy. Values lines up with the
// aggregations passed in.
type Group struct {
	Key    string
	Rows   int
	Values []float64
}

func keyFunc(key Key, hourly bool) (func(dataset.Row) string, error) {
	switch key {
	case ByDivision:
		return func(r dataset.Row) string { return r.Division }, nil
	case ByDistrict:
		return func(r dataset.Row) string { return r.Location }, nil
	case ByDate:
		layout := dataset.DateLayout
		if hourly {
			layout = dataset.HourLayout
		}
		return func(r dataset.Row) string { return r.Date.Format(layout) }, nil
	case ByMonth:
		return func(r dataset.Row) string { return r.Date.Format("2006-01") }, nil
	}
	return nil, fmt.Errorf("unknown group key %q", key)
}

func reduce(fn AggFunc, xs []float64) (float64, error) {
	switch fn {
	case AggMean:
		return Mean(xs), nil
	case AggSum:
		return Sum(xs), nil
	case AggCount:
		return float64(Count(xs)), nil
	case AggMin:
		return Min(xs), nil
	case AggMax:
		return Max(xs), nil
	}
	return 0, fmt.Errorf("unknown aggregation %q", fn)
}

// GroupBy partitions t by key and applies each aggregation per group.
// Groups are returned sorted by key.
func GroupBy(t *dataset.Table, key Key, aggs []Aggregation) ([]Group, error) {
	keyOf, err := keyFunc(key, t.Hourly)
	if err != nil {
		return nil, err
	}
	for _, a := range aggs {
		if _, err := reduce(a.Func, nil); err != nil {
			return nil, err
		}
	}

	members := make(map[string][]int)
	for i, r := range t.Rows {
		k := keyOf(r)
		members[k] = append(members[k], i)
	}

	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		idx := members[k]
		g := Group{Key: k, Rows: len(idx), Values: make([]float64, len(aggs))}
		for j, a := range aggs {
			col := make([]float64, len(idx))
			for n, i := range idx {
				col[n] = t.Rows[i].Value(a.Column)
			}
			g.Values[j], _ = reduce(a.Func, col)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// monthlyAggs is the monthly climate summary: mean temperature, the month's
// extremes, total rain, mean humidity and mean wind.
var monthlyAggs = []Aggregation{
	{dataset.Temperature, AggMean},
	{dataset.TemperatureMax, AggMax},
	{dataset.TemperatureMin, AggMin},
	{dataset.Precipitation, AggSum},
	{dataset.Humidity, AggMean},
	{dataset.WindSpeed, AggMean},
}

// Monthly groups t by calendar month using the monthly summary
// aggregations of the columns t actually has.
func Monthly(t *dataset.Table) ([]Aggregation, []Group, error) {
	var aggs []Aggregation
	for _, a := range monthlyAggs {
		if t.HasColumn(a.Column) {
			aggs = append(aggs, a)
		}
	}
	if len(aggs) == 0 {
		return nil, nil, fmt.Errorf("table has none of the monthly summary columns")
	}
	groups, err := GroupBy(t, ByMonth, aggs)
	return aggs, groups, err
}

// WriteGroupsCSV writes one line per group: the key under keyTitle, then one
// column per aggregation named after its source column. NaN is an empty cell.
func WriteGroupsCSV(w io.Writer, keyTitle string, aggs []Aggregation, groups []Group) error {
	cw := csv.NewWriter(w)
	header := []string{keyTitle}
	for _, a := range aggs {
		header = append(header, a.Column)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, g := range groups {
		record := []string{g.Key}
		for _, v := range g.Values {
			if math.IsNaN(v) {
				record = append(record, "")
			} else {
				record = append(record, strconv.FormatFloat(v, 'f', 2, 64))
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
