package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bdpower/api"
	"bdpower/internal/analysis"
	"bdpower/internal/batch"
	"bdpower/internal/dataset"
	"bdpower/internal/districts"
	"bdpower/internal/errorutil"
	"bdpower/internal/logger"
	"bdpower/internal/observability"
	"bdpower/internal/sink"
)

// errNoData is returned by extract when every location failed.
var errNoData = errors.New("no data collected")

const previewRows = 10

func (a *app) powerClient() *api.PowerClient {
	return api.NewPowerClient(api.PowerConfig{
		BaseURL:      a.cfg.Power.BaseURL,
		Timeout:      a.cfg.PowerTimeout(),
		RetryCount:   a.cfg.Power.RetryCount,
		RetryWait:    time.Duration(a.cfg.Power.RetryWaitMs) * time.Millisecond,
		MissingAsNaN: a.cfg.Power.MissingAsNaN,
	})
}

// parameters resolves a parameter set name. Hourly requests with the default
// set use the hourly defaults.
func parameters(set string, hourly bool) ([]string, error) {
	if hourly && (set == "" || set == "default") {
		return dataset.DefaultHourlyParameters(), nil
	}
	params, ok := dataset.ParameterSet(set)
	if !ok {
		return nil, fmt.Errorf("unknown parameter set %q (default, lightning, hourly)", set)
	}
	return params, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(dataset.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q, want YYYY-MM-DD", start)
	}
	e, err := time.Parse(dataset.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q, want YYYY-MM-DD", end)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return s, e, nil
}

// selectLocations picks "all", "major" or a comma-separated list of district
// names, optionally narrowed to one division.
func selectLocations(set, division string) ([]districts.Location, error) {
	var locs []districts.Location
	switch strings.ToLower(strings.TrimSpace(set)) {
	case "", "all":
		locs = districts.All()
	case "major":
		locs = districts.Major()
	default:
		for _, name := range strings.Split(set, ",") {
			loc, ok := districts.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown district %q", strings.TrimSpace(name))
			}
			locs = append(locs, loc)
		}
	}

	if division != "" {
		locs = districts.InDivision(locs, division)
		if len(locs) == 0 {
			return nil, fmt.Errorf("no districts in division %q (%s)", division, strings.Join(districts.Divisions(), ", "))
		}
	}
	return locs, nil
}

// slug turns a location name into a file name fragment.
func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "'", "")
	return strings.Join(strings.Fields(name), "_")
}

func (a *app) fetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	district := fs.String("district", "", "District name; overrides -lat and -lon")
	lat := fs.Float64("lat", 23.8103, "Latitude")
	lon := fs.Float64("lon", 90.4125, "Longitude")
	start := fs.String("start", a.cfg.Batch.Start, "First day (YYYY-MM-DD)")
	end := fs.String("end", a.cfg.Batch.End, "Last day (YYYY-MM-DD)")
	set := fs.String("params", a.cfg.Power.ParameterSet, "Parameter set: default, lightning or hourly")
	hourly := fs.Bool("hourly", false, "Use the hourly endpoint")
	out := fs.String("out", "", "CSV output path (default derived from location and dates)")
	raw := fs.Bool("raw", false, "Also save the raw JSON response next to the CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	name := fmt.Sprintf("%.4f_%.4f", *lat, *lon)
	if *district != "" {
		loc, ok := districts.Lookup(*district)
		if !ok {
			return fmt.Errorf("unknown district %q", *district)
		}
		*lat, *lon, name = loc.Latitude, loc.Longitude, slug(loc.Name)
	}

	from, to, err := parseRange(*start, *end)
	if err != nil {
		return err
	}
	params, err := parameters(*set, *hourly)
	if err != nil {
		return err
	}

	req := api.DailyParams{
		Latitude:   *lat,
		Longitude:  *lon,
		Start:      from,
		End:        to,
		Parameters: params,
		Community:  strings.ToLower(a.cfg.Power.Community),
	}

	kind := "daily"
	if *hourly {
		kind = "hourly"
	}
	fmt.Fprintf(a.stdout, "Fetching %s data for %.4f°N, %.4f°E from %s to %s\n", kind, *lat, *lon, *start, *end)

	client := a.powerClient()
	var body []byte
	if *hourly {
		body, err = client.GetHourly(ctx, req)
	} else {
		body, err = client.GetDaily(ctx, req)
	}
	if err != nil {
		return err
	}

	tbl, err := api.Normalize(body, api.NormalizeOptions{MissingAsNaN: a.cfg.Power.MissingAsNaN})
	if err != nil {
		return err
	}

	path := *out
	if path == "" {
		path = filepath.Join(a.cfg.Batch.OutputDir, fmt.Sprintf("power_%s_%s_%s_%s.csv",
			kind, name, from.Format("20060102"), to.Format("20060102")))
	}
	if err := dataset.SaveCSV(path, tbl); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Retrieved %d records, saved to %s\n", tbl.Len(), path)

	if *raw {
		rawPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		if err := dataset.SaveJSON(rawPath, body); err != nil {
			errorutil.LogWarning(logger.Slog(), "save raw response", err, errorutil.FileContext(rawPath)...)
		} else {
			fmt.Fprintf(a.stdout, "Raw response saved to %s\n", rawPath)
		}
	}

	fmt.Fprintln(a.stdout)
	return analysis.Summarize(a.stdout, tbl)
}

func (a *app) extract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	set := fs.String("set", "all", "Locations: all, major, or a comma-separated list of districts")
	division := fs.String("division", "", "Only districts in this division")
	start := fs.String("start", a.cfg.Batch.Start, "First day (YYYY-MM-DD)")
	end := fs.String("end", a.cfg.Batch.End, "Last day (YYYY-MM-DD)")
	paramSet := fs.String("params", a.cfg.Power.ParameterSet, "Parameter set: default, lightning or hourly")
	hourly := fs.Bool("hourly", false, "Use the hourly endpoint")
	out := fs.String("out", a.cfg.OutputPath(), "Combined CSV output path")
	noSinks := fs.Bool("no-sinks", false, "Skip the configured SQLite and Kafka sinks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	locs, err := selectLocations(*set, *division)
	if err != nil {
		return err
	}
	from, to, err := parseRange(*start, *end)
	if err != nil {
		return err
	}
	params, err := parameters(*paramSet, *hourly)
	if err != nil {
		return err
	}

	req := batch.Request{
		Start:      from,
		End:        to,
		Parameters: params,
		Community:  strings.ToLower(a.cfg.Power.Community),
		Hourly:     *hourly,
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	defer a.writeMetrics(registry)

	estimate := batch.Estimate(len(locs), time.Duration(a.cfg.Batch.AvgResponseMs)*time.Millisecond, a.cfg.Delay())
	fmt.Fprintf(a.stdout, "Extracting %d locations, %s to %s (%d days, %d parameters)\n",
		len(locs), *start, *end, req.Days(), len(params))
	fmt.Fprintf(a.stdout, "Estimated time: %s\n\n", batch.FormatDuration(estimate))

	runner := batch.NewRunner(a.powerClient(), batch.RunnerConfig{
		Delay:    a.cfg.Delay(),
		Metrics:  metrics,
		Progress: a.stdout,
	})
	res, err := runner.Run(ctx, locs, req)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout)
	if err := res.RenderSummary(a.stdout); err != nil {
		return err
	}
	if res.Combined.Len() == 0 {
		return errNoData
	}

	if err := dataset.SaveCSV(*out, res.Combined); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nSaved: %s\n", *out)

	fmt.Fprintf(a.stdout, "\nDATASET STATISTICS\n%s\n", strings.Repeat("-", 60))
	if err := analysis.Summarize(a.stdout, res.Combined); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\nDATA PREVIEW (first %d rows)\n%s\n", previewRows, strings.Repeat("-", 60))
	if err := dataset.WritePreview(a.stdout, res.Combined, previewRows); err != nil {
		return err
	}

	manifestPath := batch.ManifestPath(*out)
	if err := batch.WriteManifest(manifestPath, batch.NewManifest("extract", res, *out)); err != nil {
		errorutil.LogWarning(logger.Slog(), "write manifest", err, errorutil.FileContext(manifestPath)...)
	}

	if !*noSinks {
		sinks := a.openSinks()
		defer sink.CloseAll(sinks)
		if failed := sink.WriteAll(ctx, sinks, res.RunID, res.Combined); len(failed) > 0 {
			fmt.Fprintf(a.stdout, "Sinks failed: %s (see log)\n", strings.Join(failed, ", "))
		}
	}
	return nil
}

// openSinks opens every configured sink; one that cannot be opened is
// logged and left out.
func (a *app) openSinks() []sink.Sink {
	var sinks []sink.Sink
	if a.cfg.SQLite.Path != "" {
		db, err := sink.OpenSQLite(a.cfg.SQLite.Path)
		if err != nil {
			errorutil.LogWarning(logger.Slog(), "open sqlite sink", err, errorutil.FileContext(a.cfg.SQLite.Path)...)
		} else {
			sinks = append(sinks, db)
		}
	}
	if len(a.cfg.Kafka.Brokers) > 0 {
		timeout := time.Duration(a.cfg.Kafka.TimeoutSeconds) * time.Second
		sinks = append(sinks, sink.NewKafka(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, timeout))
	}
	return sinks
}

func (a *app) writeMetrics(g prometheus.Gatherer) {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := errorutil.EnsureDirectoryWithLogging(logger.Slog(), filepath.Dir(path), 0755); err != nil {
		return
	}
	err := errorutil.ExecuteWithLogging(logger.Slog(), "write metrics textfile", func() error {
		return observability.WriteTextfile(path, g)
	}, errorutil.FileContext(path)...)
	if err != nil {
		fmt.Fprintf(a.stdout, "Metrics not written: %v\n", err)
	}
}

// pathList collects a repeatable path flag.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

func (a *app) analyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	var inputs pathList
	fs.Var(&inputs, "in", "Dataset CSV to analyze; repeat to compare several files")
	dbPath := fs.String("db", "", "Read the dataset from this SQLite database instead of a CSV")
	runID := fs.String("run", "", "Run ID to read from -db (default: latest)")
	topN := fs.Int("top", a.cfg.Analysis.TopN, "Number of districts in rankings")
	noDaily := fs.Bool("no-daily", a.cfg.Analysis.SkipDaily, "Leave out the daily averages table")
	monthly := fs.Bool("monthly", false, "Add the monthly statistics table")
	monthlyOut := fs.String("monthly-out", "", "Save the monthly statistics to this CSV")
	division := fs.String("division", "", "Only analyze rows from this division")
	brief := fs.Bool("brief", false, "Ask Claude for a prose briefing of the report")
	briefOut := fs.String("brief-out", "", "Also save the briefing to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(inputs) == 0 {
		inputs = pathList{a.cfg.OutputPath()}
	}
	if len(inputs) > 1 && *dbPath == "" {
		return a.compare(inputs, *division)
	}

	tbl, source, err := a.loadDataset(ctx, inputs[0], *dbPath, *runID)
	if err != nil {
		return err
	}
	if *division != "" {
		tbl = tbl.Filter(func(r dataset.Row) bool { return strings.EqualFold(r.Division, *division) })
		source = fmt.Sprintf("%s, %s Division", source, *division)
	}
	if tbl.Len() == 0 {
		return fmt.Errorf("%s holds no rows", source)
	}
	fmt.Fprintf(a.stdout, "Loaded %d records from %s\n", tbl.Len(), source)
	if *dbPath == "" {
		a.printRunInfo(inputs[0])
	}
	fmt.Fprintln(a.stdout)

	opts := analysis.DefaultOptions()
	opts.Thresholds = a.cfg.Analysis.Thresholds
	opts.TopN = *topN
	opts.IncludeDaily = !*noDaily
	opts.IncludeMonthly = *monthly
	rep := analysis.BuildReport(tbl, opts)
	if err := rep.Render(a.stdout); err != nil {
		return err
	}

	if *monthlyOut != "" {
		if err := a.saveMonthly(tbl, *monthlyOut); err != nil {
			return err
		}
	}

	if !*brief {
		return nil
	}
	return a.briefing(ctx, rep, *briefOut)
}

// printRunInfo reports the extraction run recorded next to a dataset CSV,
// if there is one.
func (a *app) printRunInfo(csvPath string) {
	path := batch.ManifestPath(csvPath)
	m, err := batch.ReadManifest(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			errorutil.LogWarning(logger.Slog(), "read manifest", err, errorutil.FileContext(path)...)
		}
		return
	}
	fmt.Fprintf(a.stdout, "Extraction run %s (%s to %s): %d/%d locations succeeded\n",
		m.RunID, m.Start, m.End, len(m.Succeeded), m.Attempted)
	if len(m.Failed) > 0 {
		names := make([]string, len(m.Failed))
		for i, f := range m.Failed {
			names[i] = f.Location
		}
		fmt.Fprintf(a.stdout, "Failed locations: %s\n", strings.Join(names, ", "))
	}
}

func (a *app) saveMonthly(tbl *dataset.Table, path string) error {
	aggs, groups, err := analysis.Monthly(tbl)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := analysis.WriteGroupsCSV(&buf, "Month", aggs, groups); err != nil {
		return err
	}
	if err := errorutil.SafeFileWrite(logger.Slog(), path, buf.Bytes(), 0644); err != nil {
		return errorutil.LogAndWrap(logger.Slog(), "save monthly statistics", err, errorutil.FileContext(path)...)
	}
	logger.LogFileOperation("save_monthly", path, int64(buf.Len()))
	fmt.Fprintf(a.stdout, "\nMonthly statistics saved to %s\n", path)
	return nil
}

// compare prints the headline figures of several dataset CSVs side by side.
// A file that cannot be read is reported and left out.
func (a *app) compare(paths []string, division string) error {
	var rows []analysis.Comparison
	for _, path := range paths {
		tbl, err := dataset.LoadCSV(path)
		if err != nil {
			fmt.Fprintf(a.stdout, "Skipping %s: %v\n", path, err)
			continue
		}
		if division != "" {
			tbl = tbl.Filter(func(r dataset.Row) bool { return strings.EqualFold(r.Division, division) })
		}
		rows = append(rows, analysis.Compare(filepath.Base(path), tbl))
	}
	if len(rows) == 0 {
		return fmt.Errorf("none of the %d datasets could be read", len(paths))
	}

	fmt.Fprintf(a.stdout, "COMPARING %d DATASETS\n%s\n", len(rows), strings.Repeat("-", 60))
	return analysis.RenderComparison(a.stdout, rows)
}

func (a *app) loadDataset(ctx context.Context, csvPath, dbPath, runID string) (*dataset.Table, string, error) {
	if dbPath == "" {
		tbl, err := dataset.LoadCSV(csvPath)
		return tbl, csvPath, err
	}

	db, err := sink.OpenSQLite(dbPath)
	if err != nil {
		return nil, "", err
	}
	defer db.Close()

	if runID == "" {
		if runID, err = db.LatestRun(ctx); err != nil {
			return nil, "", fmt.Errorf("%s: %w", dbPath, err)
		}
	}
	tbl, err := db.LoadTable(ctx, runID)
	return tbl, fmt.Sprintf("%s (run %s)", dbPath, runID), err
}

func (a *app) briefing(ctx context.Context, rep *analysis.Report, outPath string) error {
	c := a.cfg.Claude
	client, err := api.NewClaudeClient(api.ClaudeConfig{
		APIKey:      a.cfg.APIs.Anthropic,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		MaxRetries:  c.MaxRetries,
		BaseDelay:   time.Duration(c.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.MaxDelayMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("%w (set [apis] anthropic or ANTHROPIC_API_KEY)", err)
	}

	vars := rep.Variables()
	b, err := client.GenerateBriefing(ctx, api.BriefingRequest{
		Context:        vars["report"],
		PromptTemplate: c.PromptTemplate,
		Variables:      vars,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "\nBRIEFING\n%s\n%s\n", strings.Repeat("-", 60), b.Text)
	if outPath != "" {
		if err := errorutil.SafeFileWrite(logger.Slog(), outPath, []byte(b.Text+"\n"), 0644); err != nil {
			return errorutil.LogAndWrap(logger.Slog(), "save briefing", err, errorutil.FileContext(outPath)...)
		}
		fmt.Fprintf(a.stdout, "\nBriefing saved to %s\n", outPath)
	}
	return nil
}

func (a *app) estimate(args []string) error {
	fs := flag.NewFlagSet("estimate", flag.ContinueOnError)
	set := fs.String("set", "all", "Locations: all, major, or a comma-separated list of districts")
	division := fs.String("division", "", "Only districts in this division")
	start := fs.String("start", a.cfg.Batch.Start, "First day (YYYY-MM-DD)")
	end := fs.String("end", a.cfg.Batch.End, "Last day (YYYY-MM-DD)")
	avg := fs.Duration("avg", time.Duration(a.cfg.Batch.AvgResponseMs)*time.Millisecond, "Average response time per request")
	delay := fs.Duration("delay", a.cfg.Delay(), "Pause between requests")
	if err := fs.Parse(args); err != nil {
		return err
	}

	locs, err := selectLocations(*set, *division)
	if err != nil {
		return err
	}
	from, to, err := parseRange(*start, *end)
	if err != nil {
		return err
	}
	days := batch.Request{Start: from, End: to}.Days()

	total := batch.Estimate(len(locs), *avg, *delay)
	fmt.Fprintf(a.stdout, "Locations:        %d\n", len(locs))
	fmt.Fprintf(a.stdout, "Days:             %d (%s to %s)\n", days, *start, *end)
	fmt.Fprintf(a.stdout, "Expected records: %d\n", len(locs)*days)
	fmt.Fprintf(a.stdout, "Per request:      %s + %s delay\n", *avg, *delay)
	fmt.Fprintf(a.stdout, "Estimated time:   %s\n", batch.FormatDuration(total))
	return nil
}

func (a *app) districts(args []string) error {
	fs := flag.NewFlagSet("districts", flag.ContinueOnError)
	division := fs.String("division", "", "Only districts in this division")
	major := fs.Bool("major", false, "Only the major cities")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := "all"
	if *major {
		set = "major"
	}
	locs, err := selectLocations(set, *division)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "District\tDivision\tLatitude\tLongitude")
	for _, loc := range locs {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%.4f\n", loc.Name, loc.Division, loc.Latitude, loc.Longitude)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "\n%d districts\n", len(locs))
	return nil
}
