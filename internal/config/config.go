package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
		Buffer   int    `yaml:"buffer"`
	} `yaml:"redis"`
	Local struct {
		Path string `yaml:"path"`
	} `yaml:"local"`
	Sync struct {
		Settle       string `yaml:"settle"`
		SuccessReset string `yaml:"success_reset"`
		ErrorReset   string `yaml:"error_reset"`
	} `yaml:"sync"`
	Replica struct {
		Origin string `yaml:"origin"`
	} `yaml:"replica"`
}

func defaults() Config {
	cfg := Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.LogLevel = "info"
	cfg.Redis.Channel = "pubranker:changes"
	cfg.Redis.Buffer = 16
	cfg.Local.Path = "data/pubranker.yaml"
	return cfg
}

// Load reads YAML config from path and applies PUBRANKER_* environment
// overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PUBRANKER_ADDR":          &cfg.Server.Addr,
		"PUBRANKER_LOG_LEVEL":     &cfg.Server.LogLevel,
		"PUBRANKER_POSTGRES_URL":  &cfg.Postgres.URL,
		"PUBRANKER_REDIS_ADDR":    &cfg.Redis.Addr,
		"PUBRANKER_REDIS_PASS":    &cfg.Redis.Password,
		"PUBRANKER_REDIS_CHANNEL": &cfg.Redis.Channel,
		"PUBRANKER_LOCAL_PATH":    &cfg.Local.Path,
		"PUBRANKER_SYNC_SETTLE":   &cfg.Sync.Settle,
		"PUBRANKER_ORIGIN":        &cfg.Replica.Origin,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	ints := map[string]*int{
		"PUBRANKER_REDIS_DB":     &cfg.Redis.DB,
		"PUBRANKER_REDIS_BUFFER": &cfg.Redis.Buffer,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
