// Package config loads service settings from configs/.env, an optional YAML
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultEnvFile    = "configs/.env"
	DefaultConfigFile = "configs/config.yaml"

	devJWTSecret = "default_super_secret_key"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Consul    ConsulConfig    `mapstructure:"consul"`
	Rollbar   RollbarConfig   `mapstructure:"rollbar"`
	Log       LogConfig       `mapstructure:"log"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	GinMode     string   `mapstructure:"gin_mode"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig is optional; an empty Addr disables the redis notifier.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// RabbitMQConfig is optional; an empty URI disables the amqp notifier.
type RabbitMQConfig struct {
	URI      string `mapstructure:"uri"`
	Exchange string `mapstructure:"exchange"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"db"`
}

// ConsulConfig is optional; an empty Addr skips service registration.
type ConsulConfig struct {
	Addr        string `mapstructure:"addr"`
	ServiceName string `mapstructure:"service_name"`
	ServiceHost string `mapstructure:"service_host"`
}

// RollbarConfig is optional; without a token alerts only go to the log.
type RollbarConfig struct {
	Token       string `mapstructure:"token"`
	Environment string `mapstructure:"environment"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ApprovalsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	ReapInterval    time.Duration `mapstructure:"reap_interval"`
	MaxCASAttempts  int           `mapstructure:"max_cas_attempts"`
	DefaultRequired int           `mapstructure:"default_required"`
	SingleUseAccess bool          `mapstructure:"single_use_access"`
	// Required and RejectQuorum are keyed by approval type.
	Required     map[string]int `mapstructure:"required"`
	RejectQuorum map[string]int `mapstructure:"reject_quorum"`
}

// env names kept from the deployment manifests
var envBindings = map[string]string{
	"server.port":                 "PORT",
	"server.gin_mode":             "GIN_MODE",
	"server.jwt_secret":           "JWT_SECRET",
	"server.cors_origins":         "CORS_ORIGINS",
	"db.host":                     "DB_HOST",
	"db.port":                     "DB_PORT",
	"db.user":                     "DB_USER",
	"db.password":                 "DB_PASSWORD",
	"db.name":                     "DB_NAME",
	"db.sslmode":                  "DB_SSLMODE",
	"redis.addr":                  "REDIS_ADDR",
	"redis.password":              "REDIS_PASSWORD",
	"redis.db":                    "REDIS_DB",
	"rabbitmq.uri":                "RABBITMQ_URI",
	"mongo.uri":                   "MONGO_URI",
	"mongo.db":                    "MONGO_DB",
	"consul.addr":                 "CONSUL_ADDR",
	"consul.service_host":         "SERVICE_HOST",
	"rollbar.token":               "ROLLBAR_TOKEN",
	"rollbar.environment":         "ROLLBAR_ENV",
	"log.level":                   "LOG_LEVEL",
	"approvals.ttl":               "APPROVALS_TTL",
	"approvals.reap_interval":     "APPROVALS_REAP_INTERVAL",
	"approvals.max_cas_attempts":  "APPROVALS_MAX_CAS_ATTEMPTS",
	"approvals.default_required":  "APPROVALS_DEFAULT_REQUIRED",
	"approvals.single_use_access": "APPROVALS_SINGLE_USE_ACCESS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "debug")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "postgres")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.channel", "approvals:events")
	v.SetDefault("rabbitmq.exchange", "approvals.events")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "school")
	v.SetDefault("consul.service_name", "approvals")
	v.SetDefault("rollbar.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("approvals.ttl", 72*time.Hour)
	v.SetDefault("approvals.reap_interval", 5*time.Minute)
	v.SetDefault("approvals.max_cas_attempts", 3)
	v.SetDefault("approvals.default_required", 2)
	v.SetDefault("approvals.single_use_access", false)
}

// Load reads the configuration. configFile may be empty, in which case
// configs/config.yaml is used when present.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(DefaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DefaultEnvFile, err)
	}

	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			configFile = DefaultConfigFile
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	if cfg.Server.JWTSecret == "" && cfg.Server.GinMode != "release" {
		slog.Warn("JWT_SECRET is not set, using the development secret")
		cfg.Server.JWTSecret = devJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in release mode")
	}
	a := c.Approvals
	if a.TTL <= 0 {
		return fmt.Errorf("approvals.ttl must be positive, got %s", a.TTL)
	}
	if a.ReapInterval <= 0 {
		return fmt.Errorf("approvals.reap_interval must be positive, got %s", a.ReapInterval)
	}
	if a.MaxCASAttempts < 1 {
		return fmt.Errorf("approvals.max_cas_attempts must be at least 1, got %d", a.MaxCASAttempts)
	}
	if a.DefaultRequired < 1 {
		return fmt.Errorf("approvals.default_required must be at least 1, got %d", a.DefaultRequired)
	}
	for t, n := range a.Required {
		if n < 1 {
			return fmt.Errorf("approvals.required.%s must be at least 1, got %d", t, n)
		}
	}
	for t, n := range a.RejectQuorum {
		if n < 1 {
			return fmt.Errorf("approvals.reject_quorum.%s must be at least 1, got %d", t, n)
		}
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
