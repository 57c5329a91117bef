package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	rbtmodels "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Models"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
)

const (
	lockDeviceQuery = `SELECT pg_advisory_xact_lock($1)`

	// Rows are ordered by id: inserts for a device are serialized by the advisory
	// lock, so id is append order even when writer clocks disagree.
	latestReadingQuery = `
		SELECT id, device_id, cumulative, panels_cleaned, battery_discharge_cycle, timestamp
		FROM robot_data
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT 1
	`

	insertReadingQuery = `
		INSERT INTO robot_data (device_id, cumulative, panels_cleaned, battery_discharge_cycle, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	listReadingsQuery = `
		SELECT id, device_id, cumulative, panels_cleaned, battery_discharge_cycle, timestamp
		FROM robot_data
		WHERE device_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
)

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

type PostgresReadingRepository struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewPostgresReadingRepository creates the repository. queryTimeout bounds the
// read queries; zero leaves them to the caller's context.
func NewPostgresReadingRepository(db *sql.DB, queryTimeout time.Duration) *PostgresReadingRepository {
	return &PostgresReadingRepository{db: db, queryTimeout: queryTimeout}
}

func (r *PostgresReadingRepository) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}

// AppendReading runs lookup and insert in one transaction holding a per-device
// advisory lock, so other processes writing the same table observe the same order.
func (r *PostgresReadingRepository) AppendReading(ctx context.Context, deviceID int64, build interfaces.BuildReadingFunc) (*rbtmodels.DeviceReading, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockDeviceQuery, deviceID); err != nil {
		return nil, fmt.Errorf("failed to lock device %d: %w", deviceID, err)
	}

	previous, err := scanBaseline(tx.QueryRowContext(ctx, latestReadingQuery, deviceID))
	if err != nil && !errors.Is(err, interfaces.ErrReadingNotFound) {
		return nil, fmt.Errorf("failed to load latest reading: %w", err)
	}

	next, err := build(previous)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, insertReadingQuery,
		next.DeviceID, next.Cumulative, next.Delta, next.AuxValue, next.Timestamp,
	).Scan(&next.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reading: %w", err)
	}
	return next, nil
}

func (r *PostgresReadingRepository) LatestReading(ctx context.Context, deviceID int64) (*rbtmodels.DeviceReading, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()
	return scanBaseline(r.db.QueryRowContext(ctx, latestReadingQuery, deviceID))
}

func (r *PostgresReadingRepository) ListReadingsByDevice(ctx context.Context, deviceID int64, limit int) ([]rbtmodels.DeviceReading, error) {
	ctx, cancel := r.readContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, listReadingsQuery, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]rbtmodels.DeviceReading, 0)
	for rows.Next() {
		reading, _, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *reading)
	}
	return readings, rows.Err()
}

// scanReading maps a robot_data row. Rows written before the cumulative column
// existed carry no baseline; withBaseline reports whether the row has one.
func scanReading(row rowScanner) (reading *rbtmodels.DeviceReading, withBaseline bool, err error) {
	var r rbtmodels.DeviceReading
	var cumulative, delta, aux sql.NullFloat64

	if err := row.Scan(&r.ID, &r.DeviceID, &cumulative, &delta, &aux, &r.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, interfaces.ErrReadingNotFound
		}
		return nil, false, err
	}

	r.Cumulative = cumulative.Float64
	r.Delta = delta.Float64
	r.AuxValue = aux.Float64
	return &r, cumulative.Valid, nil
}

// scanBaseline is scanReading for baseline lookups: a legacy row is no baseline
func scanBaseline(row rowScanner) (*rbtmodels.DeviceReading, error) {
	reading, withBaseline, err := scanReading(row)
	if err != nil {
		return nil, err
	}
	if !withBaseline {
		return nil, interfaces.ErrReadingNotFound
	}
	return reading, nil
}
