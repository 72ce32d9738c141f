// README: Config loader: optional .env, optional YAML file, env overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type SimulatorConfig struct {
	IntervalMs int `yaml:"interval_ms" validate:"gt=0"`
	Samples    int `yaml:"samples" validate:"gt=0"`
}

type LiveConfig struct {
	MaxAgeMs     int  `yaml:"max_age_ms" validate:"gt=0"`
	HighAccuracy bool `yaml:"high_accuracy"`
	// Source is where live fixes come from: memory, redis or gtfsrt.
	Source string `yaml:"source" validate:"omitempty,oneof=memory redis gtfsrt"`
}

type GTFSRTConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	PollMs int    `yaml:"poll_ms" validate:"gt=0"`
}

type Config struct {
	HTTP struct {
		Addr string `yaml:"addr" validate:"required"`
	} `yaml:"http"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Maps struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"maps"`
	AI struct {
		GeminiKey string `yaml:"gemini_key"`
		Model     string `yaml:"model"`
		TimeZone  string `yaml:"time_zone"`
		// MonthlyPlans caps /navigation/plan per caller; metering needs a DB.
		MonthlyPlans int `yaml:"monthly_plans" validate:"gte=0"`
	} `yaml:"ai"`
	Firebase struct {
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
		DatabaseURL     string `yaml:"database_url" validate:"omitempty,url"`
	} `yaml:"firebase"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Live      LiveConfig      `yaml:"live"`
	GTFSRT    GTFSRTConfig    `yaml:"gtfsrt"`
	Location  struct {
		SnapshotSeconds int `yaml:"snapshot_seconds" validate:"gt=0"`
	} `yaml:"location"`
	Log struct {
		Level string `yaml:"level" validate:"oneof=debug info warn error"`
	} `yaml:"log"`
}

var validate = validator.New()

func defaults() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.AI.Model = "gemini-2.0-flash"
	cfg.AI.TimeZone = "Asia/Taipei"
	cfg.AI.MonthlyPlans = 100
	cfg.Simulator = SimulatorConfig{IntervalMs: 100, Samples: 1000}
	cfg.Live = LiveConfig{MaxAgeMs: 5000, HighAccuracy: true}
	cfg.GTFSRT.PollMs = 1000
	cfg.Location.SnapshotSeconds = 30
	cfg.Log.Level = "info"
	return cfg
}

// Load reads .env (if present), the YAML file named by NAVI_CONFIG (if set),
// then environment variables. Empty DB/Redis/API settings leave the
// corresponding integration off.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := defaults()
	if path := os.Getenv("NAVI_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.HTTP.Addr = envOrDefault("NAVI_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.DB.DSN = envOrDefault("NAVI_DB_DSN", cfg.DB.DSN)
	cfg.Redis.Addr = envOrDefault("NAVI_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Maps.APIKey = envOrDefault("NAVI_MAPS_API_KEY", cfg.Maps.APIKey)
	cfg.AI.GeminiKey = envOrDefault("GEMINI_API_KEY", cfg.AI.GeminiKey)
	cfg.AI.Model = envOrDefault("NAVI_GEMINI_MODEL", cfg.AI.Model)
	cfg.AI.TimeZone = envOrDefault("NAVI_TIME_ZONE", cfg.AI.TimeZone)
	cfg.AI.MonthlyPlans = envOrDefaultInt("NAVI_PLAN_QUOTA_MONTHLY", cfg.AI.MonthlyPlans)
	cfg.Firebase.ProjectID = envOrDefault("NAVI_FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsFile = envOrDefault("NAVI_FIREBASE_CREDENTIALS", cfg.Firebase.CredentialsFile)
	cfg.Firebase.DatabaseURL = envOrDefault("NAVI_FIREBASE_DATABASE_URL", cfg.Firebase.DatabaseURL)
	cfg.Simulator.IntervalMs = envOrDefaultInt("NAVI_SIM_INTERVAL_MS", cfg.Simulator.IntervalMs)
	cfg.Simulator.Samples = envOrDefaultInt("NAVI_SIM_SAMPLES", cfg.Simulator.Samples)
	cfg.Live.MaxAgeMs = envOrDefaultInt("NAVI_LIVE_MAX_AGE_MS", cfg.Live.MaxAgeMs)
	cfg.Live.HighAccuracy = envOrDefaultBool("NAVI_LIVE_HIGH_ACCURACY", cfg.Live.HighAccuracy)
	cfg.Live.Source = envOrDefault("NAVI_LIVE_SOURCE", cfg.Live.Source)
	cfg.GTFSRT.URL = envOrDefault("NAVI_GTFSRT_URL", cfg.GTFSRT.URL)
	cfg.GTFSRT.PollMs = envOrDefaultInt("NAVI_GTFSRT_POLL_MS", cfg.GTFSRT.PollMs)
	cfg.Location.SnapshotSeconds = envOrDefaultInt("NAVI_LOCATION_SNAPSHOT_S", cfg.Location.SnapshotSeconds)
	cfg.Log.Level = strings.ToLower(envOrDefault("NAVI_LOG_LEVEL", cfg.Log.Level))

	if cfg.Live.Source == "" {
		cfg.Live.Source = "memory"
		if cfg.Redis.Addr != "" {
			cfg.Live.Source = "redis"
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Live.Source == "gtfsrt" && cfg.GTFSRT.URL == "" {
		return Config{}, errors.New("invalid config: live source gtfsrt needs NAVI_GTFSRT_URL")
	}
	if cfg.Live.Source == "redis" && cfg.Redis.Addr == "" {
		return Config{}, errors.New("invalid config: live source redis needs NAVI_REDIS_ADDR")
	}
	return cfg, nil
}

func (s SimulatorConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

func (l LiveConfig) MaxAge() time.Duration {
	return time.Duration(l.MaxAgeMs) * time.Millisecond
}

func (g GTFSRTConfig) PollInterval() time.Duration {
	return time.Duration(g.PollMs) * time.Millisecond
}

func (c Config) SnapshotEvery() time.Duration {
	return time.Duration(c.Location.SnapshotSeconds) * time.Second
}

func (c Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
