package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewAccessPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	StoreType        string
	StoreAutoMigrate bool

	MongoURI      string
	MongoDatabase string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	SnowflakeNode int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Membership MembershipConfig

	AccessPolicyPath string
}

// TelemetryConfig carries the logging and OpenTelemetry settings. The OTEL_*
// names follow the OpenTelemetry SDK environment conventions.
type TelemetryConfig struct {
	LogLevel         string
	LogFormat        string
	OtelEnabled      bool
	ExporterProtocol string
	SamplingRatio    float64
}

type MembershipConfig struct {
	MaxAttempts int
	LockTTL     time.Duration
	LockWait    time.Duration
}

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
	StoreSQLite   = "sqlite"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "orgaccess"),
		AppVersion:        getenv("APP_VERSION", getenv("SERVICE_VERSION", "0.1.0")),
		Environment:       getenv("ENVIRONMENT", getenv("DEPLOYMENT_ENV", "development")),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:         getenv("LOG_LEVEL", "info"),
			LogFormat:        getenv("LOG_FORMAT", "json"),
			OtelEnabled:      getenvBool("OTEL_ENABLED", true),
			ExporterProtocol: getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		StoreType:         normalizeStoreType(getenv("STORE_TYPE", StoreMongo)),
		StoreAutoMigrate:  getenvBool("STORE_AUTO_MIGRATE", true),
		MongoURI:          getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getenv("MONGO_DATABASE", "mydatabase"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "orgaccess"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		Membership: MembershipConfig{
			MaxAttempts: getenvInt("MEMBERSHIP_MAX_ATTEMPTS", 5),
			LockTTL:     getenvDuration("MEMBERSHIP_LOCK_TTL", 5*time.Second),
			LockWait:    getenvDuration("MEMBERSHIP_LOCK_WAIT", 2*time.Second),
		},
		AccessPolicyPath: strings.TrimSpace(getenv("ACCESS_POLICY_PATH", "")),
	}
}

func (c Config) IsMongo() bool {
	return c.StoreType == StoreMongo
}

func normalizeStoreType(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case StorePostgres, "postgresql", "pg":
		return StorePostgres
	case StoreMySQL:
		return StoreMySQL
	case StoreSQLite, "sqlite3":
		return StoreSQLite
	default:
		return StoreMongo
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
