package container

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.ApiService/health"
	config "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Config"
	logger "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Logger"
	implementation "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/rbt.fleet_server/src/production/RBT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	mongoConnectTimeout = 10 * time.Second
	mongoDisconnectWait = 5 * time.Second
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.FleetConfig
	logger *logger.Logger
	db     *sql.DB
	mongo  *mongo.Client

	databaseManager *health.DatabaseManager

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order on shutdown
	cleanupFuncs []func() error
}

// NewContainer loads configuration and builds the logger
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewContainerWithConfig builds a container around an already loaded configuration
func NewContainerWithConfig(cfg *config.FleetConfig, log *logger.Logger) *Container {
	return &Container{
		config: cfg,
		logger: log,
	}
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.FleetConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// UsesPostgres reports whether readings are persisted in PostgreSQL
func (c *Container) UsesPostgres() bool {
	return c.config.ReadingStore != config.ReadingStoreMemory
}

// GetDatabase returns the database connection, connecting on first use
func (c *Container) GetDatabase() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := health.ConnectPostgresWithTimeout(c.config, c.config.Database.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db
		c.cleanupFuncs = append(c.cleanupFuncs, db.Close)
	}

	return c.db, nil
}

// GetDatabaseManager returns the database manager
func (c *Container) GetDatabaseManager() (*health.DatabaseManager, error) {
	c.mu.Lock()
	if c.databaseManager != nil {
		c.mu.Unlock()
		return c.databaseManager, nil
	}
	c.mu.Unlock()

	// Get database without holding the lock to avoid deadlock
	db, err := c.GetDatabase()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for database manager: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.databaseManager == nil {
		c.databaseManager = health.NewDatabaseManager(db)
	}

	return c.databaseManager, nil
}

// InitializeDatabase creates or upgrades the readings table
func (c *Container) InitializeDatabase(ctx context.Context) error {
	dbManager, err := c.GetDatabaseManager()
	if err != nil {
		return fmt.Errorf("failed to get database manager: %w", err)
	}

	if err := dbManager.CreateTables(ctx); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	c.logger.Info("Database initialized successfully")
	return nil
}

// ReadingRepository returns the configured reading store
func (c *Container) ReadingRepository() (interfaces.ReadingRepository, error) {
	if !c.UsesPostgres() {
		c.logger.Warn("Using in-memory reading store; readings are lost on restart")
		return implementation.NewMemoryReadingRepository(), nil
	}

	db, err := c.GetDatabase()
	if err != nil {
		return nil, err
	}
	return implementation.NewPostgresReadingRepository(db, c.config.Database.QueryTimeout), nil
}

// UplinkArchive returns the raw uplink archive, or nil when no MongoDB URI is configured.
// A connection failure is logged and the service continues without archiving.
func (c *Container) UplinkArchive() interfaces.UplinkArchive {
	archiveCfg := c.config.Archive
	if archiveCfg.MongoURI == "" {
		return nil
	}

	client, err := c.getMongo()
	if err != nil {
		c.logger.WithError(err).Warn("Uplink archive disabled")
		return nil
	}

	coll := client.Database(archiveCfg.Database).Collection(archiveCfg.Collection)
	c.logger.WithFields(map[string]interface{}{
		"database":   archiveCfg.Database,
		"collection": archiveCfg.Collection,
	}).Info("Uplink archive enabled")
	return implementation.NewMongoUplinkArchive(coll, archiveCfg.WriteTimeout)
}

func (c *Container) getMongo() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mongo == nil {
		client, err := health.ConnectMongoWithTimeout(c.config.Archive, mongoConnectTimeout)
		if err != nil {
			return nil, err
		}
		c.mongo = client
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectWait)
			defer cancel()
			return client.Disconnect(ctx)
		})
	}
	return c.mongo, nil
}

// RegisterProbes adds the storage probes for whatever this container connected
func (c *Container) RegisterProbes(checker *health.HealthChecker) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		checker.AddProbe("database", health.PostgresProbe(c.db))
	}
	if c.mongo != nil {
		checker.AddProbe("archive", health.MongoProbe(c.mongo))
	}
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown runs the cleanup functions in reverse registration order
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			c.logger.Warn("Shutdown deadline reached; skipping remaining cleanup")
			return ctx.Err()
		}
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
