package sink

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bdpower/internal/dataset"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "bdpower.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_CountSkipsMissingValues(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Write(ctx, "run-1", combinedTable()))

	n, err := db.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n, "4 rows x 2 columns minus one NULL value")
}

func TestSQLite_WriteIsUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tbl := combinedTable()

	require.NoError(t, db.Write(ctx, "run-1", tbl))
	tbl.Rows[0].Values[dataset.Temperature] = 29
	require.NoError(t, db.Write(ctx, "run-1", tbl))

	n, err := db.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	loaded, err := db.LoadTable(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 29.0, loaded.Rows[0].Value(dataset.Temperature))
}

func TestSQLite_UpsertClearsValueThatBecameMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	tbl := combinedTable()

	require.NoError(t, db.Write(ctx, "run-1", tbl))
	delete(tbl.Rows[0].Values, dataset.Temperature)
	require.NoError(t, db.Write(ctx, "run-1", tbl))

	n, err := db.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	loaded, err := db.LoadTable(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(loaded.Rows[0].Value(dataset.Temperature)))
}

func TestSQLite_KeepsRowsWithEveryValueMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tbl := &dataset.Table{
		Columns: []string{dataset.Temperature, dataset.Precipitation},
		Rows: []dataset.Row{
			{Date: day(16), Location: "Dhaka", Division: "Dhaka", Values: map[string]float64{dataset.Temperature: 30}},
			{Date: day(17), Location: "Dhaka", Division: "Dhaka", Values: map[string]float64{}},
		},
	}
	require.NoError(t, db.Write(ctx, "run-1", tbl))

	loaded, err := db.LoadTable(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, tbl.Len(), loaded.Len())
	assert.Equal(t, day(17), loaded.Rows[1].Date)
	assert.Empty(t, loaded.Rows[1].Values)

	n, err := db.Count(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_LoadTable(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Write(ctx, "run-1", combinedTable()))

	loaded, err := db.LoadTable(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, []string{dataset.Temperature, dataset.Precipitation}, loaded.Columns)
	require.Equal(t, 4, loaded.Len())
	assert.Equal(t, []string{"Dhaka", "Sylhet"}, loaded.Locations())

	first := loaded.Rows[0]
	assert.Equal(t, day(16), first.Date)
	assert.Equal(t, "Dhaka", first.Division)
	assert.Equal(t, 23.8103, first.Latitude)
	assert.Equal(t, 30.5, first.Value(dataset.Temperature))

	assert.True(t, math.IsNaN(loaded.Rows[3].Value(dataset.Precipitation)))
}

func TestSQLite_Runs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.LatestRun(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = db.LoadTable(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	clock := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return clock }
	require.NoError(t, db.Write(ctx, "run-1", combinedTable()))
	clock = clock.Add(time.Hour)
	require.NoError(t, db.Write(ctx, "run-2", combinedTable()))

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest)
}

func TestSQLite_Hourly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tbl := &dataset.Table{
		Columns: []string{dataset.Temperature},
		Hourly:  true,
		Rows: []dataset.Row{{
			Date:     time.Date(2024, 8, 16, 13, 0, 0, 0, time.UTC),
			Location: "Dhaka",
			Values:   map[string]float64{dataset.Temperature: 33},
		}},
	}
	require.NoError(t, db.Write(ctx, "hourly", tbl))

	loaded, err := db.LoadTable(ctx, "hourly")
	require.NoError(t, err)
	assert.True(t, loaded.Hourly)
	assert.Equal(t, 13, loaded.Rows[0].Date.Hour())
}
