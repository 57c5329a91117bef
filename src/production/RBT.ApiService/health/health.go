package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Probe reports whether a dependency is usable
type Probe func(ctx context.Context) error

// HealthChecker runs readiness probes against the service's dependencies
type HealthChecker struct {
	probes map[string]Probe
	order  []string
}

// NewHealthChecker creates a health checker with no probes
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{probes: make(map[string]Probe)}
}

// AddProbe registers a named probe; later registrations replace earlier ones
func (h *HealthChecker) AddProbe(name string, probe Probe) {
	if _, exists := h.probes[name]; !exists {
		h.order = append(h.order, name)
	}
	h.probes[name] = probe
}

// PostgresProbe pings the database and runs a trivial query
func PostgresProbe(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}
		var result int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
			return fmt.Errorf("database query failed: %w", err)
		}
		return nil
	}
}

// MongoProbe pings the archive's primary
func MongoProbe(client *mongo.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}

// GetHealthStatus runs every probe and reports whether all passed
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	checks := make(map[string]interface{}, len(h.probes))
	healthy := true

	for _, name := range h.order {
		if err := h.probes[name](ctx); err != nil {
			healthy = false
			checks[name] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
			continue
		}
		checks[name] = map[string]interface{}{"status": "ok"}
	}

	overallStatus := "ok"
	if !healthy {
		overallStatus = "degraded"
	}
	return map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}, healthy
}

// DatabaseManager handles database schema operations
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager creates a new database manager
func NewDatabaseManager(db *sql.DB) *DatabaseManager {
	return &DatabaseManager{db: db}
}

// ConnectPostgresWithTimeout creates a PostgreSQL connection with a timeout context
func ConnectPostgresWithTimeout(cfg *config.FleetConfig, timeout time.Duration) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectMongoWithTimeout connects to the uplink archive
func ConnectMongoWithTimeout(cfg config.ArchiveConfig, timeout time.Duration) (*mongo.Client, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoURI)
	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// CreateTables creates robot_data if it does not exist and upgrades tables
// created before the cumulative column was added.
func (dm *DatabaseManager) CreateTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createRobotDataTable := `
		CREATE TABLE IF NOT EXISTS robot_data (
			id                      BIGSERIAL PRIMARY KEY,
			device_id               BIGINT NOT NULL,
			cumulative              DOUBLE PRECISION,
			panels_cleaned          DOUBLE PRECISION,
			battery_discharge_cycle DOUBLE PRECISION,
			timestamp               TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`

	addCumulativeColumn := `
		ALTER TABLE robot_data ADD COLUMN IF NOT EXISTS cumulative DOUBLE PRECISION;
	`

	createIndexes := `
		CREATE INDEX IF NOT EXISTS idx_robot_data_device_id_desc ON robot_data (device_id, id DESC);
	`

	queries := []string{
		createRobotDataTable,
		addCumulativeColumn,
		createIndexes,
	}

	for _, query := range queries {
		if _, err := dm.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}

	return nil
}
