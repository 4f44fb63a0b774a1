package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bookoftales/tales/internal/utils"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "TALES_"

// Sources locates the configuration layers. Every field is optional.
type Sources struct {
	File    string            // YAML file
	DotEnv  string            // dotenv file, read below the real environment
	Environ map[string]string // nil => process environment
}

// Resolve merges defaults < file < environment into a validated Config.
// It only reads the given sources, so calling it twice on unchanged inputs
// yields equal snapshots.
func Resolve(src Sources) (Config, error) {
	cfg := Defaults()

	if src.File != "" {
		if err := loadFile(src.File, &cfg); err != nil {
			return Config{}, err
		}
	}

	environ, err := environment(src)
	if err != nil {
		return Config{}, err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{
		Environment: environ,
		Prefix:      EnvPrefix,
	}); err != nil {
		return Config{}, &ConfigError{Field: "environment", Reason: "cannot parse", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg. Keys absent from the file keep their
// current value; unknown keys are rejected.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "file", Reason: "cannot read " + path, Err: err}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ConfigError{Field: "file", Reason: "cannot parse " + path, Err: err}
	}
	return nil
}

func environ(src Sources) map[string]string {
	if src.Environ != nil {
		return src.Environ
	}
	return env.ToMap(os.Environ())
}

// environment returns the variables of the environment layer: dotenv values
// overlaid by the real (or injected) environment.
func environment(src Sources) (map[string]string, error) {
	base := environ(src)
	if src.DotEnv == "" {
		return base, nil
	}

	merged, err := godotenv.Read(src.DotEnv)
	if err != nil {
		return nil, &ConfigError{Field: "dotenv", Reason: "cannot read " + src.DotEnv, Err: err}
	}
	for k, v := range base {
		merged[k] = v
	}
	return merged, nil
}

// Validate checks cross-field constraints. All problems are reported at once.
func (c Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Server.Listen == "" {
		add("server.listen", "is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "must be > 0, got %v", c.Server.ShutdownTimeout)
	}
	if c.Server.RequestTimeout < 0 {
		add("server.request_timeout", "must be >= 0, got %v", c.Server.RequestTimeout)
	}
	for _, cidr := range c.Server.MetricsCIDRs {
		if _, err := utils.ParsePrefix(cidr); err != nil {
			errs = append(errs, &ConfigError{Field: "server.metrics_cidrs", Reason: "invalid entry", Err: err})
		}
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		add("server.rate_limit.rps", "must be >= 0, got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}

	db := c.Database
	if db.Host == "" {
		add("database.host", "is required")
	}
	if db.Connections.Min < 0 {
		add("database.connections.min", "must be >= 0, got %d", db.Connections.Min)
	}
	if db.Connections.Max < 0 {
		add("database.connections.max", "must be >= 0, got %d", db.Connections.Max)
	}
	if db.Connections.Min > db.Connections.Max {
		add("database.connections", "min (%d) must not exceed max (%d)", db.Connections.Min, db.Connections.Max)
	}
	if db.Timeout.Connect < 0 {
		add("database.timeout.connect", "must be >= 0, got %v", db.Timeout.Connect)
	}
	if db.Timeout.Idle < 0 {
		add("database.timeout.idle", "must be >= 0, got %v", db.Timeout.Idle)
	}
	if db.Timeout.Reap < 0 {
		add("database.timeout.reap", "must be >= 0, got %v", db.Timeout.Reap)
	}
	if db.Retry.Attempts < 1 {
		add("database.retry.attempts", "must be >= 1, got %d", db.Retry.Attempts)
	}
	if db.Retry.Interval <= 0 {
		add("database.retry.interval", "must be > 0, got %v", db.Retry.Interval)
	}
	if db.Retry.MaxWait <= 0 {
		add("database.retry.max_wait", "must be > 0, got %v", db.Retry.MaxWait)
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint", "is required when telemetry is enabled")
	}

	return errors.Join(errs...)
}
