package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/subgate-microservice/subgate-sub000/internal/data/db"
	"github.com/subgate-microservice/subgate-sub000/internal/observability"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
	"github.com/subgate-microservice/subgate-sub000/internal/realtime/bus"
	"github.com/subgate-microservice/subgate-sub000/internal/utils"
)

const configPathEnv = "SUBGATE_CONFIG"

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled         bool `yaml:"enabled"`
	bus.RedisConfig `yaml:",inline"`
}

type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RetentionConfig controls purging of old unit of work logs. A zero MaxAge
// keeps logs forever.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	DB             db.Config                `yaml:"db"`
	HTTP           HTTPConfig               `yaml:"http"`
	Redis          RedisConfig              `yaml:"redis"`
	OTel           observability.OtelConfig `yaml:"otel"`
	MetricsEnabled bool                     `yaml:"metrics_enabled"`
	Admin          AdminConfig              `yaml:"admin"`
	Retention      RetentionConfig          `yaml:"retention"`
}

func defaultConfig() Config {
	return Config{
		DB: db.Config{
			Driver:      db.DriverPostgres,
			Host:        "localhost",
			Port:        "5432",
			User:        "postgres",
			Name:        "subgate",
			SSLMode:     "disable",
			AutoMigrate: true,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			RedisConfig: bus.RedisConfig{Addr: "localhost:6379"},
		},
		OTel: observability.OtelConfig{
			ServiceName: "subgate",
			SampleRatio: 0.1,
		},
		MetricsEnabled: true,
		Retention: RetentionConfig{
			Interval: time.Hour,
		},
	}
}

// LoadConfig starts from the defaults, applies the YAML file named by
// SUBGATE_CONFIG when set and then the environment.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := strings.TrimSpace(os.Getenv(configPathEnv)); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
	}
	applyEnv(&cfg, log)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, log *logger.Logger) {
	cfg.DB.Driver = utils.GetEnv("DB_DRIVER", cfg.DB.Driver, log)
	cfg.DB.Host = utils.GetEnv("POSTGRES_HOST", cfg.DB.Host, log)
	cfg.DB.Port = utils.GetEnv("POSTGRES_PORT", cfg.DB.Port, log)
	cfg.DB.User = utils.GetEnv("POSTGRES_USER", cfg.DB.User, log)
	cfg.DB.Password = utils.GetEnv("POSTGRES_PASSWORD", cfg.DB.Password, log)
	cfg.DB.Name = utils.GetEnv("POSTGRES_NAME", cfg.DB.Name, log)
	cfg.DB.SSLMode = utils.GetEnv("POSTGRES_SSLMODE", cfg.DB.SSLMode, log)
	cfg.DB.SQLitePath = utils.GetEnv("SQLITE_PATH", cfg.DB.SQLitePath, log)
	cfg.DB.MaxOpenConns = utils.GetEnvAsInt("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns, log)
	cfg.DB.MaxIdleConns = utils.GetEnvAsInt("DB_MAX_IDLE_CONNS", cfg.DB.MaxIdleConns, log)
	cfg.DB.AutoMigrate = utils.GetEnvAsBool("DB_AUTO_MIGRATE", cfg.DB.AutoMigrate, log)

	cfg.HTTP.Addr = utils.GetEnv("HTTP_ADDR", cfg.HTTP.Addr, log)
	cfg.HTTP.AllowedOrigins = utils.GetEnvAsList("CORS_ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)
	cfg.HTTP.ShutdownTimeout = utils.GetEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout, log)

	cfg.Redis.Enabled = utils.GetEnvAsBool("REDIS_ENABLED", cfg.Redis.Enabled, log)
	cfg.Redis.Addr = utils.GetEnv("REDIS_ADDR", cfg.Redis.Addr, log)
	cfg.Redis.Password = utils.GetEnv("REDIS_PASSWORD", cfg.Redis.Password, log)
	cfg.Redis.DB = utils.GetEnvAsInt("REDIS_DB", cfg.Redis.DB, log)
	cfg.Redis.Channel = utils.GetEnv("REDIS_CHANNEL", cfg.Redis.Channel, log)

	cfg.OTel.Enabled = utils.GetEnvAsBool("OTEL_ENABLED", cfg.OTel.Enabled, log)
	cfg.OTel.ServiceName = utils.GetEnv("OTEL_SERVICE_NAME", cfg.OTel.ServiceName, log)
	cfg.OTel.Environment = utils.GetEnv("APP_ENV", cfg.OTel.Environment, log)
	cfg.OTel.Version = utils.GetEnv("APP_VERSION", cfg.OTel.Version, log)
	cfg.OTel.Endpoint = utils.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTel.Endpoint, log)
	if raw := utils.GetEnv("OTEL_EXPORTER_OTLP_HEADERS", "", log); raw != "" {
		cfg.OTel.Headers = observability.ParseHeaders(raw)
	}
	cfg.OTel.Insecure = utils.GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTel.Insecure, log)
	cfg.OTel.SampleRatio = utils.GetEnvAsFloat("OTEL_SAMPLE_RATIO", cfg.OTel.SampleRatio, log)

	cfg.MetricsEnabled = utils.GetEnvAsBool("METRICS_ENABLED", cfg.MetricsEnabled, log)
	cfg.Admin.JWTSecret = utils.GetEnv("ADMIN_JWT_SECRET", cfg.Admin.JWTSecret, log)
	cfg.Retention.MaxAge = utils.GetEnvAsDuration("UOW_LOG_RETENTION", cfg.Retention.MaxAge, log)
	cfg.Retention.Interval = utils.GetEnvAsDuration("UOW_LOG_RETENTION_INTERVAL", cfg.Retention.Interval, log)
}

func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(c.DB.Driver)) {
	case db.DriverPostgres:
	case db.DriverSQLite:
		if strings.TrimSpace(c.DB.SQLitePath) == "" {
			errs = append(errs, errors.New("db.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("otel.sample_ratio %v is outside [0, 1]", c.OTel.SampleRatio))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention.max_age must not be negative"))
	}
	if c.Retention.MaxAge > 0 && c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("retention.interval must be positive when retention is enabled"))
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
