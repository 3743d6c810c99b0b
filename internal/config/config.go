package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Delivery  DeliveryConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Timezone     string
	MisfireGrace time.Duration
}

type DeliveryConfig struct {
	BaseURL string
	Token   string
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}
	deliveryURL, err := requireEnv("DELIVERY_BASE_URL")
	if err != nil {
		errs = append(errs, err)
	}

	graceSeconds, err := getEnvInt("SCHED_MISFIRE_GRACE_SECONDS", 300)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Delivery: DeliveryConfig{
			BaseURL: deliveryURL,
			Token:   os.Getenv("DELIVERY_TOKEN"),
		},
		Scheduler: SchedulerConfig{
			Timezone:     getEnv("SCHED_TIMEZONE", "UTC"),
			MisfireGrace: time.Duration(graceSeconds) * time.Second,
		},
		Redis: redisCfg,
	}

	errs = append(errs, validate(cfg)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttlSeconds, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.MisfireGrace <= 0 {
		errs = append(errs, errors.New("SCHED_MISFIRE_GRACE_SECONDS must be > 0"))
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHED_TIMEZONE is not a valid location: %w", err))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
