// Package config assembles the server configuration from an optional .env
// file, SHIFT_ENGINE_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SHIFT_ENGINE_"

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config is the configuration for cmd/server.
type Config struct {
	// Port is the HTTP listen port.
	Port int
	// Store selects the persistence backend: sqlite or memory.
	Store string
	// DBPath is the SQLite database path; ":memory:" keeps it in memory.
	DBPath string

	// RedisAddr enables the settings cache when non-empty.
	RedisAddr string
	// SettingsTTL is how long cached settings live in Redis.
	SettingsTTL time.Duration

	// ShiftTypesFile is an optional YAML file seeding shift definitions.
	ShiftTypesFile string

	// SweepInterval is the cadence of the scheduled overdue sweep.
	SweepInterval time.Duration
	// MissedSweepInterval is the cadence of the scheduled missed sweep.
	MissedSweepInterval time.Duration
	// Debounce is the minimum gap between opportunistic sweeps.
	Debounce time.Duration

	// AllowedOrigins lists the CORS origins.
	AllowedOrigins []string

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:                8080,
		Store:               StoreSQLite,
		DBPath:              "shifts.db",
		SettingsTTL:         10 * time.Minute,
		SweepInterval:       5 * time.Minute,
		MissedSweepInterval: 30 * time.Minute,
		Debounce:            5 * time.Minute,
		AllowedOrigins:      []string{"http://localhost:5173", "http://localhost:8080"},
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Validate asserts the config holds sane values.
func (c Config) Validate() error {
	var errs error

	if c.Port <= 0 || c.Port > 65535 {
		errs = errors.Join(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = errors.Join(errs, fmt.Errorf("db path cannot be an empty string"))
		}
	case StoreMemory:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.SweepInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("sweep interval must be positive"))
	}
	if c.MissedSweepInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("missed sweep interval must be positive"))
	}
	if c.Debounce < 0 {
		errs = errors.Join(errs, fmt.Errorf("debounce must not be negative"))
	}
	if c.RedisAddr != "" && c.SettingsTTL <= 0 {
		errs = errors.Join(errs, fmt.Errorf("settings ttl must be positive when redis is enabled"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = errors.Join(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = errors.Join(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	return errs
}

// Load reads envFile when it exists, applies SHIFT_ENGINE_* variables over
// the defaults, then parses args. An empty envFile means ".env".
func Load(args []string, envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := Default()
	env := envReader{}
	env.setInt("PORT", &cfg.Port)
	env.setString("STORE", &cfg.Store)
	env.setString("DB_PATH", &cfg.DBPath)
	env.setString("REDIS_ADDR", &cfg.RedisAddr)
	env.setDuration("SETTINGS_TTL", &cfg.SettingsTTL)
	env.setString("SHIFT_TYPES_FILE", &cfg.ShiftTypesFile)
	env.setDuration("SWEEP_INTERVAL", &cfg.SweepInterval)
	env.setDuration("MISSED_SWEEP_INTERVAL", &cfg.MissedSweepInterval)
	env.setDuration("DEBOUNCE", &cfg.Debounce)
	env.setList("ALLOWED_ORIGINS", &cfg.AllowedOrigins)
	env.setString("LOG_LEVEL", &cfg.LogLevel)
	env.setString("LOG_FORMAT", &cfg.LogFormat)
	if env.errs != nil {
		return Config{}, env.errs
	}

	flags := pflag.NewFlagSet("shift-engine", pflag.ContinueOnError)
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "persistence backend: sqlite or memory")
	flags.StringVar(&cfg.DBPath, "db", cfg.DBPath, `SQLite database path (":memory:" for in-memory)`)
	flags.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the settings cache (empty disables it)")
	flags.DurationVar(&cfg.SettingsTTL, "settings-ttl", cfg.SettingsTTL, "settings cache TTL")
	flags.StringVar(&cfg.ShiftTypesFile, "shift-types", cfg.ShiftTypesFile, "YAML file seeding shift type definitions")
	flags.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "overdue sweep cadence")
	flags.DurationVar(&cfg.MissedSweepInterval, "missed-sweep-interval", cfg.MissedSweepInterval, "missed sweep cadence")
	flags.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "minimum gap between opportunistic sweeps")
	flags.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", cfg.AllowedOrigins, "CORS allowed origins")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// envReader applies prefixed environment variables, collecting parse errors.
type envReader struct {
	errs error
}

func (r *envReader) lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (r *envReader) setString(name string, dst *string) {
	if v, ok := r.lookup(name); ok {
		*dst = v
	}
}

func (r *envReader) setInt(name string, dst *int) {
	v, ok := r.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = errors.Join(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) setDuration(name string, dst *time.Duration) {
	v, ok := r.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = errors.Join(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return
	}
	*dst = d
}

func (r *envReader) setList(name string, dst *[]string) {
	v, ok := r.lookup(name)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

// Logger builds the root logger described by the config.
func (c Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
