package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// ReadingStorePostgres persists readings in PostgreSQL.
	ReadingStorePostgres = "postgres"
	// ReadingStoreMemory keeps readings in process memory (development only).
	ReadingStoreMemory = "memory"

	// ThresholdPolicyLive evaluates fire-time weather against the thresholds configured at fire time.
	ThresholdPolicyLive = "live"
	// ThresholdPolicySnapshot evaluates fire-time weather against the thresholds captured at creation.
	ThresholdPolicySnapshot = "snapshot"
)

// FleetConfig holds all configuration for the fleet service
type FleetConfig struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	ReadingStore  string              `json:"reading_store"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Ingest        IngestConfig        `json:"ingest"`
	NetworkServer NetworkServerConfig `json:"network_server"`
	Weather       WeatherConfig       `json:"weather"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Archive       ArchiveConfig       `json:"archive"`
	Logging       LoggingConfig       `json:"logging"`
	CORS          CORSConfig          `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConns       int           `json:"max_conns"`
	MinConns       int           `json:"min_conns"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost           string        `json:"broker_host"`
	BrokerPort           int           `json:"broker_port"`
	BrokerUser           string        `json:"broker_user"`
	BrokerPass           string        `json:"broker_pass"`
	UseTLS               bool          `json:"use_tls"`
	CACertPath           string        `json:"ca_cert_path"`
	ApplicationID        string        `json:"application_id"`
	ClientID             string        `json:"client_id"`
	SharedGroup          string        `json:"shared_group"`
	KeepAlive            time.Duration `json:"keep_alive"`
	PingTimeout          time.Duration `json:"ping_timeout"`
	ConnectRetryInterval time.Duration `json:"connect_retry_interval"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval"`
}

// IngestConfig holds the ingestion worker pool configuration
type IngestConfig struct {
	QueueSize    int           `json:"queue_size"`
	Workers      int           `json:"workers"`
	StoreTimeout time.Duration `json:"store_timeout"`
}

// NetworkServerConfig holds the LoRaWAN network server API configuration
type NetworkServerConfig struct {
	BaseURL            string        `json:"base_url"`
	APIToken           string        `json:"-"`
	GatewayID          string        `json:"gateway_id"`
	TenantID           string        `json:"tenant_id"`
	Timeout            time.Duration `json:"timeout"`
	DispatchTimeout    time.Duration `json:"dispatch_timeout"`
	FPort              int           `json:"f_port"`
	RosterLimit        int           `json:"roster_limit"`
	MaxRetries         int           `json:"max_retries"`
	RetryDelay         time.Duration `json:"retry_delay"`
	BreakerMaxFailures int           `json:"breaker_max_failures"`
	BreakerReset       time.Duration `json:"breaker_reset"`
}

// WeatherConfig holds the weather provider and default threshold configuration
type WeatherConfig struct {
	APIURL             string        `json:"api_url"`
	APIKey             string        `json:"-"`
	Latitude           string        `json:"latitude"`
	Longitude          string        `json:"longitude"`
	Timeout            time.Duration `json:"timeout"`
	WindSpeedThreshold float64       `json:"wind_speed_threshold"`
	HumidityThreshold  float64       `json:"humidity_threshold"`
	RainEnabled        bool          `json:"rain_enabled"`
}

// SchedulerConfig holds the deferred-task scheduler configuration
type SchedulerConfig struct {
	Timezone        string        `json:"timezone"`
	ThresholdPolicy string        `json:"threshold_policy"`
	FireTimeout     time.Duration `json:"fire_timeout"`
	TaskRetention   time.Duration `json:"task_retention"`
	JanitorInterval time.Duration `json:"janitor_interval"`
}

// ArchiveConfig holds the optional raw uplink archive configuration
type ArchiveConfig struct {
	MongoURI     string        `json:"-"`
	Database     string        `json:"database"`
	Collection   string        `json:"collection"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*FleetConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env: %v", err)
	}

	config := &FleetConfig{
		Server: ServerConfig{
			Port:            getEnv("PORT", "5000"),
			ReadTimeout:     getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDuration("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("POSTGRES_HOST", "localhost"),
			Port:           getInt("POSTGRES_PORT", 5432),
			User:           getEnv("POSTGRES_USER", ""),
			Password:       getEnv("POSTGRES_PASSWORD", ""),
			DBName:         getEnv("POSTGRES_DB", "robot_data"),
			SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns:       getInt("POSTGRES_MAX_CONNS", 25),
			MinConns:       getInt("POSTGRES_MIN_CONNS", 5),
			ConnectTimeout: getDuration("POSTGRES_CONNECT_TIMEOUT", 20*time.Second),
			QueryTimeout:   getDuration("POSTGRES_QUERY_TIMEOUT", 5*time.Second),
		},
		ReadingStore: strings.ToLower(getEnv("READING_STORE", ReadingStorePostgres)),
		MQTT: MQTTConfig{
			BrokerHost:           getEnv("BROKER_HOST", "localhost"),
			BrokerPort:           getInt("BROKER_PORT", 1883),
			BrokerUser:           getEnv("BROKER_USER", ""),
			BrokerPass:           getEnv("BROKER_PASS", ""),
			UseTLS:               getBool("BROKER_TLS", false),
			CACertPath:           getEnv("BROKER_CA_FILE", ""),
			ApplicationID:        getEnv("APPLICATION_ID", ""),
			ClientID:             getEnv("MQTT_CLIENT_ID", "robot-fleet-ingestor"),
			SharedGroup:          getEnv("MQTT_SHARED_GROUP", ""),
			KeepAlive:            getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout:          getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			ConnectRetryInterval: getDuration("MQTT_CONNECT_RETRY_INTERVAL", 5*time.Second),
			MaxReconnectInterval: getDuration("MQTT_MAX_RECONNECT_INTERVAL", 2*time.Minute),
		},
		Ingest: IngestConfig{
			QueueSize:    getInt("INGEST_QUEUE_SIZE", 4096),
			Workers:      getInt("INGEST_WORKERS", 8),
			StoreTimeout: getDuration("INGEST_STORE_TIMEOUT", 5*time.Second),
		},
		NetworkServer: NetworkServerConfig{
			BaseURL:            getEnv("NETWORK_SERVER_URL", "http://localhost:8090"),
			APIToken:           getEnv("NETWORK_SERVER_API_TOKEN", ""),
			GatewayID:          getEnv("GATEWAY_ID", ""),
			TenantID:           getEnv("TENANT_ID", ""),
			Timeout:            getDuration("NETWORK_SERVER_TIMEOUT", 5*time.Second),
			DispatchTimeout:    getDuration("DISPATCH_TIMEOUT", 5*time.Second),
			FPort:              getInt("DOWNLINK_FPORT", 1),
			RosterLimit:        getInt("ROSTER_LIMIT", 100),
			MaxRetries:         getInt("NETWORK_SERVER_MAX_RETRIES", 2),
			RetryDelay:         getDuration("NETWORK_SERVER_RETRY_DELAY", 500*time.Millisecond),
			BreakerMaxFailures: getInt("NETWORK_SERVER_BREAKER_MAX_FAILURES", 5),
			BreakerReset:       getDuration("NETWORK_SERVER_BREAKER_RESET", 30*time.Second),
		},
		Weather: WeatherConfig{
			APIURL:             getEnv("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
			APIKey:             getEnv("WEATHER_API_KEY", ""),
			Latitude:           getEnv("WEATHER_LATITUDE", ""),
			Longitude:          getEnv("WEATHER_LONGITUDE", ""),
			Timeout:            getDuration("WEATHER_TIMEOUT", 5*time.Second),
			WindSpeedThreshold: getFloat("WIND_SPEED_THRESHOLD", 7),
			HumidityThreshold:  getFloat("HUMIDITY_THRESHOLD", 85),
			RainEnabled:        getBool("RAIN_ENABLED", false),
		},
		Scheduler: SchedulerConfig{
			Timezone:        getEnv("SCHEDULER_TIMEZONE", "Local"),
			ThresholdPolicy: strings.ToLower(getEnv("SCHEDULER_THRESHOLD_POLICY", ThresholdPolicyLive)),
			FireTimeout:     getDuration("SCHEDULER_FIRE_TIMEOUT", 30*time.Second),
			TaskRetention:   getDuration("SCHEDULER_TASK_RETENTION", 24*time.Hour),
			JanitorInterval: getDuration("SCHEDULER_JANITOR_INTERVAL", 10*time.Minute),
		},
		Archive: ArchiveConfig{
			MongoURI:     getEnv("MONGODB_URI", ""),
			Database:     getEnv("DB_NAME", "iot"),
			Collection:   getEnv("COLL_NAME", "uplinks"),
			WriteTimeout: getDuration("ARCHIVE_WRITE_TIMEOUT", 3*time.Second),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *FleetConfig) Validate() error {
	switch c.ReadingStore {
	case ReadingStorePostgres:
		if c.Database.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case ReadingStoreMemory:
		log.Println("WARNING: READING_STORE=memory keeps counters in process memory only")
	default:
		return fmt.Errorf("unknown READING_STORE %q", c.ReadingStore)
	}
	if c.MQTT.ApplicationID == "" {
		return fmt.Errorf("APPLICATION_ID is required")
	}
	if c.Ingest.Workers <= 0 || c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("INGEST_WORKERS and INGEST_QUEUE_SIZE must be positive")
	}
	if c.NetworkServer.BaseURL == "" {
		return fmt.Errorf("NETWORK_SERVER_URL is required")
	}
	if c.NetworkServer.Timeout <= 0 || c.NetworkServer.DispatchTimeout <= 0 || c.Weather.Timeout <= 0 {
		return fmt.Errorf("network server, dispatch and weather timeouts must be positive")
	}
	if !c.HasStaticLocation() && c.NetworkServer.GatewayID == "" {
		return fmt.Errorf("either WEATHER_LATITUDE/WEATHER_LONGITUDE or GATEWAY_ID is required")
	}
	if c.Weather.WindSpeedThreshold < 0 {
		return fmt.Errorf("WIND_SPEED_THRESHOLD must not be negative")
	}
	if c.Weather.HumidityThreshold < 0 || c.Weather.HumidityThreshold > 100 {
		return fmt.Errorf("HUMIDITY_THRESHOLD must be between 0 and 100")
	}
	switch c.Scheduler.ThresholdPolicy {
	case ThresholdPolicyLive, ThresholdPolicySnapshot:
	default:
		return fmt.Errorf("unknown SCHEDULER_THRESHOLD_POLICY %q", c.Scheduler.ThresholdPolicy)
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	if c.NetworkServer.APIToken == "" {
		log.Println("WARNING: NETWORK_SERVER_API_TOKEN is empty; network server calls will be unauthenticated")
	}
	return nil
}

// HasStaticLocation reports whether weather coordinates are configured directly
func (c *FleetConfig) HasStaticLocation() bool {
	return c.Weather.Latitude != "" && c.Weather.Longitude != ""
}

// GetDatabaseDSN returns the database connection string
func (c *FleetConfig) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.DBName, c.Database.SSLMode)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *FleetConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

// GetUplinkTopic returns the fleet event topic, wildcarding device EUI and event kind
func (c *FleetConfig) GetUplinkTopic() string {
	topic := fmt.Sprintf("application/%s/device/+/event/+", c.MQTT.ApplicationID)
	if c.MQTT.SharedGroup != "" {
		topic = fmt.Sprintf("$share/%s/%s", c.MQTT.SharedGroup, topic)
	}
	return topic
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return floatValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
