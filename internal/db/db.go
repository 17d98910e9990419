// Package db stores calibration tables and calibrated observations in
// sqlite. A table row holds the name, units, and clamping flag; its ordered
// (raw, calibrated) points live in a child table keyed by (table_id, idx).
// Schema changes are applied through embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/calibrate.report/internal/calibrate"
)

// ErrNotFound is returned when a calibration table id or name does not exist.
var ErrNotFound = errors.New("db: calibration table not found")

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the sqlite database at path. Run
// MigrateUp before first use to bring the schema current.
func NewDB(path string) (*DB, error) {
	// Point deletes must cascade when a table is removed; the pragma goes
	// in the DSN so every pooled connection gets it.
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// CalibrationPoint is one (raw, calibrated) pair of a table. Index is the
// point's position in the table's ascending raw order.
type CalibrationPoint struct {
	Index      int     `json:"index"`
	Raw        float64 `json:"raw"`
	Calibrated float64 `json:"calibrated"`
}

// CalibrationTable is a named calibration table with its ordered points.
type CalibrationTable struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Units        string             `json:"units"`
	LimitToRange bool               `json:"limit_to_range"`
	CreatedAt    time.Time          `json:"created_at"`
	Points       []CalibrationPoint `json:"points,omitempty"`
}

// RawValues returns the table's raw values in index order.
func (t *CalibrationTable) RawValues() []float64 {
	out := make([]float64, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Raw
	}
	return out
}

// CalibratedValues returns the table's calibrated values in index order.
func (t *CalibrationTable) CalibratedValues() []float64 {
	out := make([]float64, len(t.Points))
	for i, p := range t.Points {
		out[i] = p.Calibrated
	}
	return out
}

// Calibrator builds a fitted calibrator over the table's points. The
// returned calibrator borrows slices derived from this table; it stays valid
// as long as the table struct is reachable. Fails with the core validation
// error (e.g. calibrate.ErrInsufficientPoints) when the stored table is not
// fittable.
func (t *CalibrationTable) Calibrator() (*calibrate.Calibrator[float64], error) {
	c := calibrate.New(t.RawValues(), t.CalibratedValues(), t.LimitToRange)
	if !c.Begin() {
		return nil, fmt.Errorf("table %q: %w", t.Name, c.Err())
	}
	return c, nil
}

// CreateTable inserts a new calibration table with its points. Point indices
// are assigned from slice order. The points are not validated for
// monotonicity here — a table under construction may be partial — but
// Calibrator will refuse to fit a bad table.
func (db *DB) CreateTable(name, units string, limitToRange bool, points []CalibrationPoint) (*CalibrationTable, error) {
	table := &CalibrationTable{
		ID:           uuid.NewString(),
		Name:         name,
		Units:        units,
		LimitToRange: limitToRange,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO calibration_tables (id, name, units, limit_to_range, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		table.ID, table.Name, table.Units, table.LimitToRange, table.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert calibration table: %w", err)
	}

	for i, p := range points {
		_, err = tx.Exec(`
			INSERT INTO calibration_points (table_id, idx, raw, calibrated)
			VALUES (?, ?, ?, ?)`,
			table.ID, i, p.Raw, p.Calibrated)
		if err != nil {
			return nil, fmt.Errorf("failed to insert calibration point %d: %w", i, err)
		}
		table.Points = append(table.Points, CalibrationPoint{Index: i, Raw: p.Raw, Calibrated: p.Calibrated})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit calibration table: %w", err)
	}
	return table, nil
}

// GetTable fetches a calibration table and its points by id.
func (db *DB) GetTable(id string) (*CalibrationTable, error) {
	return db.getTable(`id = ?`, id)
}

// GetTableByName fetches a calibration table and its points by name.
func (db *DB) GetTableByName(name string) (*CalibrationTable, error) {
	return db.getTable(`name = ?`, name)
}

func (db *DB) getTable(where string, arg any) (*CalibrationTable, error) {
	table := &CalibrationTable{}
	err := db.QueryRow(`
		SELECT id, name, units, limit_to_range, created_at
		FROM calibration_tables WHERE `+where,
		arg).Scan(&table.ID, &table.Name, &table.Units, &table.LimitToRange, &table.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration table: %w", err)
	}

	rows, err := db.Query(`
		SELECT idx, raw, calibrated
		FROM calibration_points WHERE table_id = ? ORDER BY idx`,
		table.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p CalibrationPoint
		if err := rows.Scan(&p.Index, &p.Raw, &p.Calibrated); err != nil {
			return nil, fmt.Errorf("failed to scan calibration point: %w", err)
		}
		table.Points = append(table.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read calibration points: %w", err)
	}

	return table, nil
}

// ListTables returns all calibration tables (without their points) with a
// point count, newest first.
func (db *DB) ListTables() ([]TableSummary, error) {
	rows, err := db.Query(`
		SELECT t.id, t.name, t.units, t.limit_to_range, t.created_at, COUNT(p.table_id)
		FROM calibration_tables t
		LEFT JOIN calibration_points p ON p.table_id = t.id
		GROUP BY t.id
		ORDER BY t.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibration tables: %w", err)
	}
	defer rows.Close()

	var out []TableSummary
	for rows.Next() {
		var s TableSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Units, &s.LimitToRange, &s.CreatedAt, &s.PointCount); err != nil {
			return nil, fmt.Errorf("failed to scan table summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TableSummary is a calibration table row without its points.
type TableSummary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Units        string    `json:"units"`
	LimitToRange bool      `json:"limit_to_range"`
	CreatedAt    time.Time `json:"created_at"`
	PointCount   int       `json:"point_count"`
}

// DeleteTable removes a calibration table; its points and observations
// cascade away with it.
func (db *DB) DeleteTable(id string) error {
	res, err := db.Exec(`DELETE FROM calibration_tables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calibration table: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendPoint adds one (raw, calibrated) pair to the end of a table. Used by
// the serial capture path to grow a table one bench sample at a time.
func (db *DB) AppendPoint(tableID string, raw, calibrated float64) (CalibrationPoint, error) {
	var p CalibrationPoint
	err := db.QueryRow(`
		SELECT COALESCE(MAX(idx)+1, 0) FROM calibration_points WHERE table_id = ?`,
		tableID).Scan(&p.Index)
	if err != nil {
		return p, fmt.Errorf("failed to compute next point index: %w", err)
	}

	p.Raw, p.Calibrated = raw, calibrated
	_, err = db.Exec(`
		INSERT INTO calibration_points (table_id, idx, raw, calibrated)
		VALUES (?, ?, ?, ?)`,
		tableID, p.Index, raw, calibrated)
	if err != nil {
		return p, fmt.Errorf("failed to append calibration point: %w", err)
	}
	return p, nil
}

// EnsureTable fetches a table by name, creating an empty one when absent.
func (db *DB) EnsureTable(name, units string, limitToRange bool) (*CalibrationTable, error) {
	table, err := db.GetTableByName(name)
	if err == nil {
		return table, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return db.CreateTable(name, units, limitToRange, nil)
}

// RecordObservation stores one calibrated lookup for later inspection.
func (db *DB) RecordObservation(tableID string, raw, calibrated float64) error {
	_, err := db.Exec(`
		INSERT INTO observations (table_id, raw, calibrated)
		VALUES (?, ?, ?)`,
		tableID, raw, calibrated)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// Observation is one recorded calibrated lookup.
type Observation struct {
	ID         int64     `json:"id"`
	TableID    string    `json:"table_id"`
	Raw        float64   `json:"raw"`
	Calibrated float64   `json:"calibrated"`
	Timestamp  time.Time `json:"timestamp"`
}

// ListObservations returns the most recent observations for a table, newest
// first, capped at limit.
func (db *DB) ListObservations(tableID string, limit int) ([]Observation, error) {
	rows, err := db.Query(`
		SELECT id, table_id, raw, calibrated, timestamp
		FROM observations WHERE table_id = ?
		ORDER BY id DESC LIMIT ?`,
		tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.TableID, &o.Raw, &o.Calibrated, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
