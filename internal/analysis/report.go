package analysis

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"bdpower/internal/dataset"
)

// Options tune BuildReport.
type Options struct {
	Thresholds     Thresholds
	TopN           int
	IncludeDaily   bool
	IncludeMonthly bool
}

// DefaultOptions returns the default thresholds, a top-10 ranking and the
// daily table.
func DefaultOptions() Options {
	return Options{Thresholds: DefaultThresholds(), TopN: 10, IncludeDaily: true}
}

// Ranked is a named value in a ranking.
type Ranked struct {
	Name  string
	Value float64
}

// Extreme is the record holding the highest or lowest value of a column.
type Extreme struct {
	Value    float64
	Date     time.Time
	Location string
}

// Section is a titled block of report lines.
type Section struct {
	Title string
	Lines []string
}

// Report is the full analysis of a table. The typed fields carry the key
// figures; Sections carries everything in printable form.
type Report struct {
	Records           int
	Districts         int
	Divisions         int
	Start, End        time.Time
	Features          []string
	HighInstability   int
	Hottest           *Extreme
	Coldest           *Extreme
	Wettest           *Extreme
	TotalSolar        float64
	RiskDistribution  [5]int
	HighRisk          int
	WettestDistricts  []Ranked
	RiskiestDistricts []Ranked
	Missing           []Ranked
	Sections          []Section
}

// divisionAggs and dailyAggs are the columns of the division and daily tables.
var (
	divisionAggs = []Aggregation{
		{dataset.Temperature, AggMean},
		{dataset.Precipitation, AggSum},
		{dataset.Humidity, AggMean},
		{dataset.WindSpeed, AggMean},
		{RiskScoreColumn, AggMean},
	}
	dailyAggs = []Aggregation{
		{dataset.Temperature, AggMean},
		{dataset.Precipitation, AggSum},
		{RiskScoreColumn, AggMean},
	}
)

// BuildReport appends the risk score column to t and analyzes it.
func BuildReport(t *dataset.Table, opts Options) *Report {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	AddRiskScores(t, opts.Thresholds)

	r := &Report{Records: t.Len(), TotalSolar: math.NaN()}
	for _, c := range t.Columns {
		if c != RiskScoreColumn {
			r.Features = append(r.Features, c)
		}
	}

	b := &builder{t: t, r: r}
	b.overview()
	b.geography()
	b.temperature()
	b.moisture()
	b.precipitation(opts.TopN)
	b.wind()
	b.radiation()
	b.risk(opts)
	b.divisions()
	b.quality()
	if opts.IncludeMonthly {
		b.monthly()
	}
	if opts.IncludeDaily {
		b.daily()
	}
	return r
}

type builder struct {
	t *dataset.Table
	r *Report
}

func (b *builder) add(title string, lines ...string) {
	if len(lines) > 0 {
		b.r.Sections = append(b.r.Sections, Section{Title: title, Lines: lines})
	}
}

func (b *builder) has(columns ...string) bool {
	for _, c := range columns {
		if !b.t.HasColumn(c) {
			return false
		}
	}
	return true
}

// extreme finds the first row holding the highest (or lowest) value of column.
func (b *builder) extreme(column string, highest bool) *Extreme {
	var e *Extreme
	for _, row := range b.t.Rows {
		v := row.Value(column)
		if math.IsNaN(v) {
			continue
		}
		if e == nil || (highest && v > e.Value) || (!highest && v < e.Value) {
			e = &Extreme{Value: v, Date: row.Date, Location: row.Location}
		}
	}
	return e
}

// when renders where and when an extreme was recorded.
func (b *builder) when(e *Extreme) string {
	layout := dataset.DateLayout
	if b.t.Hourly {
		layout = dataset.HourLayout
	}
	s := "on " + e.Date.Format(layout)
	if e.Location != "" {
		s += " (" + e.Location + ")"
	}
	return s
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func (b *builder) overview() {
	t, r := b.t, b.r
	if t.Len() > 0 {
		r.Start, r.End = t.Rows[0].Date, t.Rows[0].Date
		for _, row := range t.Rows {
			if row.Date.Before(r.Start) {
				r.Start = row.Date
			}
			if row.Date.After(r.End) {
				r.End = row.Date
			}
		}
	}
	r.Districts = len(t.Locations())
	divisions := make(map[string]bool)
	for _, row := range t.Rows {
		if row.Division != "" {
			divisions[row.Division] = true
		}
	}
	r.Divisions = len(divisions)

	lines := []string{
		fmt.Sprintf("Total records: %d", r.Records),
		fmt.Sprintf("Total features: %d", len(r.Features)),
	}
	if r.Records > 0 {
		lines = append(lines, fmt.Sprintf("Date range: %s to %s", r.Start.Format(dataset.DateLayout), r.End.Format(dataset.DateLayout)))
	}
	if r.Districts > 0 {
		lines = append(lines,
			fmt.Sprintf("Districts covered: %d", r.Districts),
			fmt.Sprintf("Divisions: %d", r.Divisions))
	}
	b.add("DATASET OVERVIEW", lines...)

	features := make([]string, len(r.Features))
	for i, f := range r.Features {
		features[i] = fmt.Sprintf("%2d. %s", i+1, f)
	}
	b.add("FEATURES", features...)
}

func (b *builder) geography() {
	if b.r.Districts == 0 {
		return
	}
	perDivision := make(map[string]map[string]bool)
	for _, row := range b.t.Rows {
		if perDivision[row.Division] == nil {
			perDivision[row.Division] = make(map[string]bool)
		}
		perDivision[row.Division][row.Location] = true
	}
	names := make([]string, 0, len(perDivision))
	for d := range perDivision {
		names = append(names, d)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, d := range names {
		lines = append(lines, fmt.Sprintf("%-15s: %d districts", d, len(perDivision[d])))
	}
	b.add("DISTRICTS BY DIVISION", lines...)
}

func (b *builder) temperature() {
	t := b.t
	var lines []string
	if b.has(dataset.Temperature) {
		lines = append(lines, fmt.Sprintf("Average temperature: %.2f°C", Mean(t.Column(dataset.Temperature))))
	}
	if b.has(dataset.TemperatureMin, dataset.TemperatureMax) {
		lo, hi := Min(t.Column(dataset.TemperatureMin)), Max(t.Column(dataset.TemperatureMax))
		lines = append(lines,
			fmt.Sprintf("Minimum: %.2f°C", lo),
			fmt.Sprintf("Maximum: %.2f°C", hi),
			fmt.Sprintf("Spread: %.2f°C", hi-lo))
	}
	if b.r.Hottest = b.extreme(dataset.TemperatureMax, true); b.r.Hottest != nil {
		lines = append(lines, fmt.Sprintf("Highest temperature: %.2f°C %s", b.r.Hottest.Value, b.when(b.r.Hottest)))
	}
	if b.r.Coldest = b.extreme(dataset.TemperatureMin, false); b.r.Coldest != nil {
		lines = append(lines, fmt.Sprintf("Lowest temperature: %.2f°C %s", b.r.Coldest.Value, b.when(b.r.Coldest)))
	}
	if b.has(dataset.TemperatureRange) {
		ranges := t.Column(dataset.TemperatureRange)
		q75 := Quantile(ranges, 0.75)
		var unstable []float64
		for _, v := range ranges {
			if v > q75 {
				unstable = append(unstable, v)
			}
		}
		b.r.HighInstability = len(unstable)
		lines = append(lines,
			fmt.Sprintf("Average temperature range: %.2f°C", Mean(ranges)),
			fmt.Sprintf("High instability records (top 25%%): %d, average range %.2f°C", len(unstable), Mean(unstable)))
	}
	if b.has("T2MDEW") {
		lines = append(lines, fmt.Sprintf("Dew point: %.2f°C", Mean(t.Column("T2MDEW"))))
	}
	b.add("TEMPERATURE", lines...)
}

func (b *builder) moisture() {
	var lines []string
	if b.has(dataset.Humidity) {
		rh := b.t.Column(dataset.Humidity)
		n := CountAbove(rh, 90)
		lines = append(lines,
			fmt.Sprintf("Average relative humidity: %.1f%%", Mean(rh)),
			fmt.Sprintf("High humidity records (>90%%): %d (%.1f%%)", n, pct(n, b.t.Len())))
	}
	if b.has("QV2M") {
		lines = append(lines, fmt.Sprintf("Specific humidity: %.2f g/kg", Mean(b.t.Column("QV2M"))))
	}
	b.add("MOISTURE", lines...)
}

func (b *builder) precipitation(topN int) {
	if !b.has(dataset.Precipitation) {
		return
	}
	p := b.t.Column(dataset.Precipitation)
	rainy, heavy := CountAbove(p, 1), CountAbove(p, 50)
	lines := []string{
		fmt.Sprintf("Total precipitation: %.2f mm", Sum(p)),
		fmt.Sprintf("Average per record: %.2f mm", Mean(p)),
		fmt.Sprintf("Records with rain (>1mm): %d (%.1f%%)", rainy, pct(rainy, len(p))),
		fmt.Sprintf("Heavy rain records (>50mm): %d (%.1f%%)", heavy, pct(heavy, len(p))),
	}
	if b.r.Wettest = b.extreme(dataset.Precipitation, true); b.r.Wettest != nil {
		lines = append(lines, fmt.Sprintf("Heaviest rainfall: %.2f mm %s", b.r.Wettest.Value, b.when(b.r.Wettest)))
	}

	if b.r.Districts > 0 {
		b.r.WettestDistricts = b.rank(dataset.Precipitation, AggSum, min(5, topN))
		lines = append(lines, "Wettest districts:")
		for _, d := range b.r.WettestDistricts {
			lines = append(lines, fmt.Sprintf("  %-20s %8.2f mm", d.Name, d.Value))
		}
	}
	b.add("PRECIPITATION", lines...)
}

func (b *builder) wind() {
	var lines []string
	if b.has(dataset.WindSpeed) {
		ws := b.t.Column(dataset.WindSpeed)
		n := CountAbove(ws, 3)
		lines = append(lines, fmt.Sprintf("Average wind speed (2m): %.2f m/s", Mean(ws)))
		if b.has("WS10M") {
			lines = append(lines, fmt.Sprintf("Average wind speed (10m): %.2f m/s", Mean(b.t.Column("WS10M"))))
		}
		lines = append(lines,
			fmt.Sprintf("Maximum wind speed: %.2f m/s", Max(ws)),
			fmt.Sprintf("High wind records (>3 m/s): %d (%.1f%%)", n, pct(n, len(ws))))
	}
	b.add("WIND", lines...)
}

func (b *builder) radiation() {
	var lines []string
	if b.has(dataset.SolarRadiation) {
		solar := b.t.Column(dataset.SolarRadiation)
		b.r.TotalSolar = Sum(solar)
		lines = append(lines,
			fmt.Sprintf("Average solar radiation: %.2f kWh/m²/day", Mean(solar)),
			fmt.Sprintf("Total solar energy: %.2f kWh/m²", b.r.TotalSolar))
	}
	if b.has("ALLSKY_SFC_LW_DWN") {
		lines = append(lines, fmt.Sprintf("Average longwave radiation: %.2f W/m²", Mean(b.t.Column("ALLSKY_SFC_LW_DWN"))))
	}
	if b.has(dataset.SurfacePressure) {
		ps := b.t.Column(dataset.SurfacePressure)
		lines = append(lines,
			fmt.Sprintf("Average surface pressure: %.2f kPa", Mean(ps)),
			fmt.Sprintf("Pressure range: %.2f - %.2f kPa", Min(ps), Max(ps)))
	}
	b.add("RADIATION & PRESSURE", lines...)
}

func (b *builder) risk(opts Options) {
	r := b.r
	r.RiskDistribution = RiskDistribution(b.t, opts.Thresholds)
	for score := HighRiskScore; score < len(r.RiskDistribution); score++ {
		r.HighRisk += r.RiskDistribution[score]
	}

	lines := []string{"Risk score distribution (0-4):"}
	for score, n := range r.RiskDistribution {
		if n == 0 {
			continue
		}
		share := pct(n, r.Records)
		lines = append(lines, fmt.Sprintf("  Score %d: %4d records (%5.1f%%) %s", score, n, share, strings.Repeat("█", int(share/2))))
	}
	lines = append(lines, fmt.Sprintf("High risk records (score >= %d): %d (%.1f%%)", HighRiskScore, r.HighRisk, pct(r.HighRisk, r.Records)))

	if r.Districts > 0 {
		r.RiskiestDistricts = b.rank(RiskScoreColumn, AggMean, opts.TopN)
		lines = append(lines, "Highest risk districts:")
		for _, d := range r.RiskiestDistricts {
			lines = append(lines, fmt.Sprintf("  %-20s %.2f/4.0", d.Name, d.Value))
		}
	}
	b.add("LIGHTNING RISK", lines...)
}

// rank orders districts by an aggregate of column, highest first, ties by name.
func (b *builder) rank(column string, fn AggFunc, n int) []Ranked {
	groups, err := GroupBy(b.t, ByDistrict, []Aggregation{{column, fn}})
	if err != nil {
		return nil
	}
	ranked := make([]Ranked, 0, len(groups))
	for _, g := range groups {
		if !math.IsNaN(g.Values[0]) {
			ranked = append(ranked, Ranked{Name: g.Key, Value: g.Values[0]})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (b *builder) divisions() {
	if b.r.Divisions == 0 {
		return
	}
	groups, err := GroupBy(b.t, ByDivision, divisionAggs)
	if err != nil {
		return
	}
	b.add("CONDITIONS BY DIVISION", renderGroups("Division", []string{"Temp(°C)", "Rain(mm)", "Humidity(%)", "Wind(m/s)", "Risk"}, groups)...)
}

func (b *builder) quality() {
	var lines []string
	for _, c := range b.r.Features {
		if n := CountMissing(b.t.Column(c)); n > 0 {
			b.r.Missing = append(b.r.Missing, Ranked{Name: c, Value: float64(n)})
			lines = append(lines, fmt.Sprintf("%s: %d missing (%.2f%%)", c, n, pct(n, b.r.Records)))
		}
	}
	if len(lines) == 0 {
		lines = []string{"No missing values"}
	}
	b.add("MISSING VALUES", lines...)
}

func (b *builder) monthly() {
	aggs, groups, err := Monthly(b.t)
	if err != nil || len(groups) == 0 {
		return
	}
	titles := make([]string, len(aggs))
	for i, a := range aggs {
		titles[i] = a.String()
	}
	b.add("MONTHLY STATISTICS", renderGroups("Month", titles, groups)...)
}

func (b *builder) daily() {
	groups, err := GroupBy(b.t, ByDate, dailyAggs)
	if err != nil || len(groups) == 0 {
		return
	}
	b.add("DAILY AVERAGES", renderGroups("Date", []string{"Avg Temp(°C)", "Total Rain(mm)", "Avg Risk"}, groups)...)
}

// renderGroups lays groups out as aligned text rows.
func renderGroups(keyTitle string, titles []string, groups []Group) []string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", keyTitle, strings.Join(titles, "\t"))
	for _, g := range groups {
		cells := make([]string, len(g.Values))
		for i, v := range g.Values {
			cells[i] = formatValue(v)
		}
		fmt.Fprintf(tw, "%s\t%s\n", g.Key, strings.Join(cells, "\t"))
	}
	tw.Flush()
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// Render writes the report as plain text.
func (r *Report) Render(w io.Writer) error {
	var buf bytes.Buffer
	for i, s := range r.Sections {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprintf(&buf, "%s\n%s\n", s.Title, strings.Repeat("-", 60))
		for _, line := range s.Lines {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Variables exposes the key figures as template variables for a briefing
// prompt. "report" holds the full rendered text.
func (r *Report) Variables() map[string]string {
	var text bytes.Buffer
	r.Render(&text)

	vars := map[string]string{
		"records":       fmt.Sprintf("%d", r.Records),
		"districts":     fmt.Sprintf("%d", r.Districts),
		"divisions":     fmt.Sprintf("%d", r.Divisions),
		"high_risk":     fmt.Sprintf("%d", r.HighRisk),
		"high_risk_pct": fmt.Sprintf("%.1f", pct(r.HighRisk, r.Records)),
		"riskiest":      joinRanked(r.RiskiestDistricts, 5),
		"wettest":       joinRanked(r.WettestDistricts, 5),
		"report":        text.String(),
	}
	if !r.Start.IsZero() {
		vars["start"] = r.Start.Format(dataset.DateLayout)
		vars["end"] = r.End.Format(dataset.DateLayout)
	}
	return vars
}

func joinRanked(rs []Ranked, n int) string {
	if len(rs) == 0 {
		return "none"
	}
	if len(rs) > n {
		rs = rs[:n]
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("%s (%.2f)", r.Name, r.Value)
	}
	return strings.Join(parts, ", ")
}

// Summarize prints describe() style statistics for every column of t.
func Summarize(w io.Writer, t *dataset.Table) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Column\tcount\tmean\tstd\tmin\t25%\t50%\t75%\tmax\t")
	for _, s := range Describe(t) {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			s.Column, s.Count,
			formatValue(s.Mean), formatValue(s.Std), formatValue(s.Min),
			formatValue(s.Q25), formatValue(s.Median), formatValue(s.Q75), formatValue(s.Max))
	}
	return tw.Flush()
}
