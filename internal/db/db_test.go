package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calibrate.report/internal/calibrate"
)

// newTestDB opens a fresh migrated database in a per-test temp dir.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	d, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "NewDB failed")
	t.Cleanup(func() { d.Close() })

	require.NoError(t, d.MigrateUp(), "MigrateUp failed")
	return d
}

var benchPoints = []CalibrationPoint{
	{Raw: 3300, Calibrated: 0},
	{Raw: 3750, Calibrated: 10},
	{Raw: 3800, Calibrated: 40},
	{Raw: 3880, Calibrated: 65},
	{Raw: 4100, Calibrated: 90},
	{Raw: 4200, Calibrated: 100},
}

func TestCreateAndGetTable(t *testing.T) {
	d := newTestDB(t)

	created, err := d.CreateTable("fuel-level", "percent", true, benchPoints)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := d.GetTable(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "fuel-level", got.Name)
	assert.Equal(t, "percent", got.Units)
	assert.True(t, got.LimitToRange)
	require.Len(t, got.Points, len(benchPoints))
	for i, p := range got.Points {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, benchPoints[i].Raw, p.Raw)
		assert.Equal(t, benchPoints[i].Calibrated, p.Calibrated)
	}

	byName, err := d.GetTableByName("fuel-level")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
}

func TestGetTable_NotFound(t *testing.T) {
	d := newTestDB(t)

	_, err := d.GetTable("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.GetTableByName("no-such-name")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTable_DuplicateName(t *testing.T) {
	d := newTestDB(t)

	_, err := d.CreateTable("dup", "", false, benchPoints)
	require.NoError(t, err)

	_, err = d.CreateTable("dup", "", false, benchPoints)
	assert.Error(t, err, "duplicate table name must be rejected")
}

func TestListTables(t *testing.T) {
	d := newTestDB(t)

	_, err := d.CreateTable("a", "mps", false, benchPoints)
	require.NoError(t, err)
	_, err = d.CreateTable("b", "", false, benchPoints[:2])
	require.NoError(t, err)

	tables, err := d.ListTables()
	require.NoError(t, err)
	require.Len(t, tables, 2)

	counts := map[string]int{}
	for _, s := range tables {
		counts[s.Name] = s.PointCount
	}
	assert.Equal(t, len(benchPoints), counts["a"])
	assert.Equal(t, 2, counts["b"])
}

func TestDeleteTable_Cascades(t *testing.T) {
	d := newTestDB(t)

	created, err := d.CreateTable("doomed", "", false, benchPoints)
	require.NoError(t, err)
	require.NoError(t, d.RecordObservation(created.ID, 3775, 25))

	require.NoError(t, d.DeleteTable(created.ID))

	_, err = d.GetTable(created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var points int
	require.NoError(t, d.QueryRow(
		`SELECT COUNT(*) FROM calibration_points WHERE table_id = ?`, created.ID).Scan(&points))
	assert.Zero(t, points, "points must cascade with the table")

	var obs int
	require.NoError(t, d.QueryRow(
		`SELECT COUNT(*) FROM observations WHERE table_id = ?`, created.ID).Scan(&obs))
	assert.Zero(t, obs, "observations must cascade with the table")

	assert.ErrorIs(t, d.DeleteTable(created.ID), ErrNotFound)
}

func TestTableCalibrator(t *testing.T) {
	d := newTestDB(t)

	created, err := d.CreateTable("adc", "percent", true, benchPoints)
	require.NoError(t, err)

	table, err := d.GetTable(created.ID)
	require.NoError(t, err)

	c, err := table.Calibrator()
	require.NoError(t, err)

	assert.InDelta(t, 25, c.Calibrate(3775), 1e-9)
	assert.InDelta(t, 0, c.Calibrate(3000), 1e-9, "below range clamps with limit_to_range")
	assert.InDelta(t, 100, c.Calibrate(4500), 1e-9, "above range clamps with limit_to_range")
}

func TestTableCalibrator_UnfittableTable(t *testing.T) {
	d := newTestDB(t)

	created, err := d.CreateTable("partial", "", false, benchPoints[:1])
	require.NoError(t, err, "storing a partial table is allowed")

	table, err := d.GetTable(created.ID)
	require.NoError(t, err)

	_, err = table.Calibrator()
	assert.True(t, errors.Is(err, calibrate.ErrInsufficientPoints), "got %v", err)
}

func TestAppendPoint(t *testing.T) {
	d := newTestDB(t)

	table, err := d.EnsureTable("bench", "celsius", false)
	require.NoError(t, err)
	assert.Empty(t, table.Points)

	// EnsureTable finds the existing row on the second call
	again, err := d.EnsureTable("bench", "celsius", false)
	require.NoError(t, err)
	assert.Equal(t, table.ID, again.ID)

	p1, err := d.AppendPoint(table.ID, 100, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 0, p1.Index)

	p2, err := d.AppendPoint(table.ID, 200, 3.25)
	require.NoError(t, err)
	assert.Equal(t, 1, p2.Index)

	got, err := d.GetTable(table.ID)
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 100.0, got.Points[0].Raw)
	assert.Equal(t, 3.25, got.Points[1].Calibrated)
}

func TestObservations(t *testing.T) {
	d := newTestDB(t)

	created, err := d.CreateTable("obs", "", false, benchPoints)
	require.NoError(t, err)

	require.NoError(t, d.RecordObservation(created.ID, 3775, 25))
	require.NoError(t, d.RecordObservation(created.ID, 3300, 0))

	obs, err := d.ListObservations(created.ID, 10)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	// Newest first
	assert.Equal(t, 3300.0, obs[0].Raw)
	assert.Equal(t, 25.0, obs[1].Calibrated)

	limited, err := d.ListObservations(created.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
