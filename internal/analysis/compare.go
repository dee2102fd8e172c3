package analysis

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"bdpower/internal/dataset"
)

// Comparison is the headline climate of one dataset, for side-by-side
// reading of several locations or periods.
type Comparison struct {
	Name        string
	Records     int
	Start, End  time.Time
	AvgTemp     float64
	TotalRain   float64
	AvgHumidity float64
}

// Compare summarizes t under name. Figures for absent columns are NaN.
func Compare(name string, t *dataset.Table) Comparison {
	c := Comparison{
		Name:        name,
		Records:     t.Len(),
		AvgTemp:     math.NaN(),
		TotalRain:   math.NaN(),
		AvgHumidity: math.NaN(),
	}
	for i, row := range t.Rows {
		if i == 0 || row.Date.Before(c.Start) {
			c.Start = row.Date
		}
		if i == 0 || row.Date.After(c.End) {
			c.End = row.Date
		}
	}
	if t.HasColumn(dataset.Temperature) {
		c.AvgTemp = Mean(t.Column(dataset.Temperature))
	}
	if t.HasColumn(dataset.Precipitation) {
		c.TotalRain = Sum(t.Column(dataset.Precipitation))
	}
	if t.HasColumn(dataset.Humidity) {
		c.AvgHumidity = Mean(t.Column(dataset.Humidity))
	}
	return c
}

// RenderComparison prints one line per dataset.
func RenderComparison(w io.Writer, cs []Comparison) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Dataset\tPeriod\tRecords\tAvg Temp(°C)\tTotal Rain(mm)\tAvg Humidity(%)")
	for _, c := range cs {
		period := "-"
		if c.Records > 0 {
			period = c.Start.Format(dataset.DateLayout) + " to " + c.End.Format(dataset.DateLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			c.Name, period, c.Records, formatValue(c.AvgTemp), formatValue(c.TotalRain), formatValue(c.AvgHumidity))
	}
	return tw.Flush()
}
