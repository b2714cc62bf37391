package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"Reloop"`
		Port int    `envconfig:"PORT" default:"8080"`
		// Store selects the persistence backend: "postgres" or "memory".
		Store string `envconfig:"STORE" default:"postgres"`
	}

	Log struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
		Format string `envconfig:"LOG_FORMAT" default:"text"`
	}

	DB struct {
		Host            string        `envconfig:"DB_HOST" default:"localhost"`
		Port            int           `envconfig:"DB_PORT" default:"5432"`
		User            string        `envconfig:"DB_USER" default:"postgres"`
		Password        string        `envconfig:"DB_PASSWORD" default:""`
		Name            string        `envconfig:"DB_NAME" default:"reloop"`
		MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
		MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
		ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
		Migrate         bool          `envconfig:"DB_MIGRATE" default:"true"`
	}

	Server struct {
		Timeout         time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
		CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	}

	Auth struct {
		Secret string `envconfig:"JWT_SECRET" required:"true"`
		Issuer string `envconfig:"JWT_ISSUER" default:"reloop"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:""`
		Password string `envconfig:"REDIS_PASSWORD" default:""`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Kafka struct {
		Brokers []string `envconfig:"KAFKA_BROKERS" default:""`
		Topic   string   `envconfig:"KAFKA_NOTIFICATION_TOPIC" default:"reloop.notifications"`
		Group   string   `envconfig:"KAFKA_GROUP_ID" default:"reloop-notifier"`
		Workers int      `envconfig:"KAFKA_WORKERS" default:"4"`
		Buffer  int      `envconfig:"KAFKA_PRODUCER_BUFFER" default:"256"`
	}

	Sweep struct {
		Interval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"24h"`
		RunOnStart  bool          `envconfig:"SWEEP_RUN_ON_START" default:"false"`
		Concurrency int           `envconfig:"SWEEP_CONCURRENCY" default:"4"`
		Enabled     bool          `envconfig:"SWEEP_ENABLED" default:"true"`
	}

	Payment struct {
		Production bool          `envconfig:"PAYMENT_PRODUCTION" default:"false"`
		ServerKey  string        `envconfig:"PAYMENT_SERVER_KEY" default:""`
		Mock       bool          `envconfig:"PAYMENT_GATEWAY_MOCK" default:"false"`
		Expiry     time.Duration `envconfig:"PAYMENT_EXPIRY" default:"24h"`
	}

	Images struct {
		Bucket   string `envconfig:"S3_BUCKET" default:""`
		Region   string `envconfig:"S3_REGION" default:"ap-southeast-1"`
		Endpoint string `envconfig:"S3_ENDPOINT" default:""`
		// Dir is used when no bucket is configured.
		Dir string `envconfig:"IMAGES_DIR" default:"./data/images"`
	}

	Notify struct {
		Language string `envconfig:"NOTIFY_LANGUAGE" default:"en"`
	}

	Categories struct {
		CacheSize int `envconfig:"CATEGORY_CACHE_SIZE" default:"256"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// KafkaEnabled reports whether at least one broker is configured.
func (c *Config) KafkaEnabled() bool {
	for _, b := range c.Kafka.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}

	return false
}

// Logger builds the process logger from the Log group.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, fmt.Errorf("JWT_SECRET must not be empty")
	}

	switch cfg.App.Store {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.App.Store)
	}

	return &cfg, nil
}
