package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdpower/internal/batch"
	"bdpower/internal/dataset"
	"bdpower/internal/sink"
)

const lightningResponse = `{
  "type": "Feature",
  "properties": {
    "parameter": {
      "T2M":         {"20240816": 29.1, "20240817": 28.4},
      "RH2M":        {"20240816": 91.0, "20240817": 84.0},
      "PRECTOTCORR": {"20240816": 22.5, "20240817": 3.1},
      "WS2M":        {"20240816": 2.9,  "20240817": 1.8},
      "T2M_RANGE":   {"20240816": 4.2,  "20240817": 3.0}
    }
  },
  "header": {"fill_value": -999}
}`

func powerServer(t *testing.T, failLat string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/daily/point" {
			http.NotFound(w, r)
			return
		}
		if failLat != "" && r.URL.Query().Get("latitude") == failLat {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"messages": ["upstream unavailable"]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, lightningResponse)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeTestConfig(t *testing.T, dir, baseURL string) string {
	t.Helper()
	content := fmt.Sprintf(`[power]
base_url = %q
parameter_set = "lightning"

[batch]
start = "2024-08-16"
end = "2024-08-17"
delay_ms = 1
output_dir = %q

[metrics]
textfile = %q

[sqlite]
path = %q
`, baseURL, dir, filepath.Join(dir, "metrics", "bdpower.prom"), filepath.Join(dir, "bdpower.db"))

	path := filepath.Join(dir, "bdpower.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func runCLI(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-env", filepath.Join(dir, "missing.env")}, args...)
	code := run(full, &out)
	return code, out.String()
}

func TestExtractThenAnalyze(t *testing.T) {
	dir := t.TempDir()
	srv, calls := powerServer(t, "24.8949") // Sylhet
	cfgPath := writeTestConfig(t, dir, srv.URL)

	code, out := runCLI(t, dir, "-config", cfgPath, "extract", "-set", "Dhaka,Sylhet,Khulna")
	require.Equal(t, 0, code, out)
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, out, "[2/3] Sylhet (Sylhet Division)")
	assert.Contains(t, out, "Successful: 2/3 locations")
	assert.Contains(t, out, "Failed: Sylhet")
	assert.Contains(t, out, "DATASET STATISTICS")
	assert.Contains(t, out, "DATA PREVIEW (first 10 rows)")

	csvPath := filepath.Join(dir, "bangladesh_64_districts_lightning_data.csv")
	tbl, err := dataset.LoadCSV(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, []string{"Dhaka", "Khulna"}, tbl.Locations())
	assert.Equal(t, dataset.ColDistrict, tbl.Header()[1])

	manifest, err := batch.ReadManifest(batch.ManifestPath(csvPath))
	require.NoError(t, err)
	assert.Equal(t, 4, manifest.Rows)
	require.Len(t, manifest.Failed, 1)
	assert.Equal(t, "Sylhet", manifest.Failed[0].Location)

	db, err := sink.OpenSQLite(filepath.Join(dir, "bdpower.db"))
	require.NoError(t, err)
	n, err := db.Count(context.Background(), manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, 4*5, n)
	require.NoError(t, db.Close())

	prom, err := os.ReadFile(filepath.Join(dir, "metrics", "bdpower.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `bdpower_power_requests_total{outcome="success"} 2`)
	assert.Contains(t, string(prom), `bdpower_power_requests_total{outcome="error"} 1`)

	code, out = runCLI(t, dir, "-config", cfgPath, "analyze", "-in", csvPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Loaded 4 records")
	assert.Contains(t, out, "Extraction run "+manifest.RunID+" (2024-08-16 to 2024-08-17): 2/3 locations succeeded")
	assert.Contains(t, out, "Failed locations: Sylhet")
	assert.Contains(t, out, "DATASET OVERVIEW")
	assert.Contains(t, out, "Heaviest rainfall: 22.50 mm on 2024-08-16 (Dhaka)")
	assert.Contains(t, out, "LIGHTNING RISK")

	code, out = runCLI(t, dir, "-config", cfgPath, "analyze", "-db", filepath.Join(dir, "bdpower.db"))
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Loaded 4 records from")
	assert.Contains(t, out, "(run "+manifest.RunID+")")

	code, out = runCLI(t, dir, "-config", cfgPath, "analyze", "-in", csvPath, "-division", "khulna")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Loaded 2 records")

	code, _ = runCLI(t, dir, "-config", cfgPath, "analyze", "-in", csvPath, "-division", "Rangpur")
	assert.Equal(t, 1, code)
}

func TestAnalyzeMonthlyAndCompare(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, "http://127.0.0.1:1")

	mk := func(name string, temps ...float64) string {
		tbl := &dataset.Table{Columns: []string{dataset.Temperature, dataset.Precipitation, dataset.Humidity}}
		start := time.Date(2024, time.August, 31, 0, 0, 0, 0, time.UTC)
		for i, v := range temps {
			tbl.Rows = append(tbl.Rows, dataset.Row{
				Date:   start.AddDate(0, 0, i),
				Values: map[string]float64{dataset.Temperature: v, dataset.Precipitation: 2, dataset.Humidity: 80},
			})
		}
		path := filepath.Join(dir, name)
		require.NoError(t, dataset.SaveCSV(path, tbl))
		return path
	}
	dhaka := mk("dhaka.csv", 30, 29, 31)
	sylhet := mk("sylhet.csv", 27, 28)

	monthlyPath := filepath.Join(dir, "dhaka_monthly.csv")
	code, out := runCLI(t, dir, "-config", cfgPath, "analyze", "-in", dhaka, "-monthly", "-monthly-out", monthlyPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "MONTHLY STATISTICS")
	assert.NotContains(t, out, "Extraction run")

	data, err := os.ReadFile(monthlyPath)
	require.NoError(t, err)
	assert.Equal(t,
		"Month,Temperature_2m_C,Precipitation_mm,Relative_Humidity_%\n"+
			"2024-08,30.00,2.00,80.00\n"+
			"2024-09,30.00,4.00,80.00\n",
		string(data))

	code, out = runCLI(t, dir, "-config", cfgPath, "analyze",
		"-in", dhaka, "-in", sylhet, "-in", filepath.Join(dir, "missing.csv"))
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "COMPARING 2 DATASETS")
	assert.Contains(t, out, "Skipping "+filepath.Join(dir, "missing.csv"))
	assert.Contains(t, out, "2024-08-31 to 2024-09-02")
	assert.Contains(t, out, "2024-08-31 to 2024-09-01")
	assert.Contains(t, out, "27.50")
}

func TestExtractAllFailWritesNothing(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	cfgPath := writeTestConfig(t, dir, srv.URL)

	code, out := runCLI(t, dir, "-config", cfgPath, "extract", "-set", "major")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Successful: 0/5 locations")
	assert.Contains(t, out, "No data collected.")
	assert.NoFileExists(t, filepath.Join(dir, "bangladesh_64_districts_lightning_data.csv"))
}

func TestFetchSavesCSVAndRaw(t *testing.T) {
	dir := t.TempDir()
	srv, _ := powerServer(t, "")
	cfgPath := writeTestConfig(t, dir, srv.URL)
	out := filepath.Join(dir, "dhaka.csv")

	code, stdout := runCLI(t, dir, "-config", cfgPath, "fetch", "-district", "dhaka", "-out", out, "-raw")
	require.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "Retrieved 2 records")
	assert.FileExists(t, filepath.Join(dir, "dhaka.json"))

	tbl, err := dataset.LoadCSV(out)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.HasColumn(dataset.Humidity))
}

func TestEstimateCommand(t *testing.T) {
	dir := t.TempDir()
	code, out := runCLI(t, dir, "-config", filepath.Join(dir, "none.toml"), "estimate")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Locations:        64")
	assert.Contains(t, out, "Days:             16 (2024-08-16 to 2024-08-31)")
	assert.Contains(t, out, "Expected records: 1024")
	assert.Contains(t, out, "Estimated time:   3.2 minutes")
}

func TestDistrictsCommand(t *testing.T) {
	dir := t.TempDir()
	code, out := runCLI(t, dir, "-config", filepath.Join(dir, "none.toml"), "districts", "-division", "sylhet")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Moulvibazar")
	assert.Contains(t, out, "4 districts")
}

func TestUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	code, _ := runCLI(t, dir, "-config", filepath.Join(dir, "none.toml"), "forecast")
	assert.Equal(t, 2, code)
}

func TestSelectLocations(t *testing.T) {
	locs, err := selectLocations("all", "")
	require.NoError(t, err)
	assert.Len(t, locs, 64)

	locs, err = selectLocations("major", "khulna")
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "Khulna", locs[0].Name)

	locs, err = selectLocations("Dhaka, cox's bazar", "")
	require.NoError(t, err)
	assert.Equal(t, "Cox's Bazar", locs[1].Name)

	_, err = selectLocations("Dhaka,Atlantis", "")
	assert.ErrorContains(t, err, `unknown district "Atlantis"`)

	_, err = selectLocations("major", "Rangpur")
	assert.ErrorContains(t, err, "no districts in division")
}

func TestParameters(t *testing.T) {
	params, err := parameters("default", true)
	require.NoError(t, err)
	assert.Equal(t, dataset.DefaultHourlyParameters(), params)

	params, err = parameters("lightning", false)
	require.NoError(t, err)
	assert.Len(t, params, 14)

	_, err = parameters("solar", false)
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	_, _, err := parseRange("2024-08-31", "2024-08-16")
	assert.ErrorContains(t, err, "before start")
	_, _, err = parseRange("20240816", "2024-08-31")
	assert.ErrorContains(t, err, "YYYY-MM-DD")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "coxs_bazar", slug("Cox's Bazar"))
}
