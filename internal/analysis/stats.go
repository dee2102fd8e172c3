// Package analysis computes read-only summaries over observation tables.
// Every function skips NaN, which is how absent values are represented.
package analysis

import (
	"math"
	"sort"

	"bdpower/internal/dataset"
)

func present(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// Count returns the number of non-missing values.
func Count(xs []float64) int {
	return len(present(xs))
}

// CountMissing returns the number of NaN values.
func CountMissing(xs []float64) int {
	return len(xs) - Count(xs)
}

// Sum adds the non-missing values. The sum of nothing is zero.
func Sum(xs []float64) float64 {
	var s float64
	for _, x := range present(xs) {
		s += x
	}
	return s
}

// Mean is NaN when there are no values.
func Mean(xs []float64) float64 {
	vs := present(xs)
	if len(vs) == 0 {
		return math.NaN()
	}
	return Sum(vs) / float64(len(vs))
}

// Min is NaN when there are no values.
func Min(xs []float64) float64 {
	vs := present(xs)
	if len(vs) == 0 {
		return math.NaN()
	}
	m := vs[0]
	for _, x := range vs[1:] {
		m = math.Min(m, x)
	}
	return m
}

// Max is NaN when there are no values.
func Max(xs []float64) float64 {
	vs := present(xs)
	if len(vs) == 0 {
		return math.NaN()
	}
	m := vs[0]
	for _, x := range vs[1:] {
		m = math.Max(m, x)
	}
	return m
}

// Std is the sample standard deviation, NaN for fewer than two values.
func Std(xs []float64) float64 {
	vs := present(xs)
	if len(vs) < 2 {
		return math.NaN()
	}
	mean := Mean(vs)
	var ss float64
	for _, x := range vs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(vs)-1))
}

// Quantile uses linear interpolation between closest ranks. q is clamped
// to [0, 1].
func Quantile(xs []float64, q float64) float64 {
	vs := present(xs)
	if len(vs) == 0 {
		return math.NaN()
	}
	sort.Float64s(vs)
	q = math.Max(0, math.Min(1, q))

	pos := q * float64(len(vs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return vs[lo] + (vs[hi]-vs[lo])*(pos-float64(lo))
}

// CountAbove counts values strictly greater than threshold.
func CountAbove(xs []float64, threshold float64) int {
	n := 0
	for _, x := range xs {
		if x > threshold {
			n++
		}
	}
	return n
}

// ColumnSummary is the describe() view of a single column.
type ColumnSummary struct {
	Column  string
	Count   int
	Missing int
	Mean    float64
	Std     float64
	Min     float64
	Q25     float64
	Median  float64
	Q75     float64
	Max     float64
}

// Describe summarizes every measurement column of t in column order.
func Describe(t *dataset.Table) []ColumnSummary {
	out := make([]ColumnSummary, 0, len(t.Columns))
	for _, name := range t.Columns {
		col := t.Column(name)
		out = append(out, ColumnSummary{
			Column:  name,
			Count:   Count(col),
			Missing: CountMissing(col),
			Mean:    Mean(col),
			Std:     Std(col),
			Min:     Min(col),
			Q25:     Quantile(col, 0.25),
			Median:  Quantile(col, 0.5),
			Q75:     Quantile(col, 0.75),
			Max:     Max(col),
		})
	}
	return out
}
