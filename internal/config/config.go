package config

import (
	"net/url"
	"time"
)

// Config is the resolved service configuration. It is built once by Resolve
// and handed by value to the components that need it; nothing mutates it
// afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DB_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
}

type ServerConfig struct {
	Listen          string          `yaml:"listen" env:"LISTEN"`                     // ex: ":8000"
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"` // grace period for in-flight requests, > 0
	RequestTimeout  time.Duration   `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`   // per-request deadline
	TrustProxy      bool            `yaml:"trust_proxy" env:"TRUST_PROXY"`           // resolve client IP from proxy headers
	MetricsCIDRs    []string        `yaml:"metrics_cidrs" env:"METRICS_CIDRS"`       // empty = /metrics open
	RateLimit       RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps" env:"RPS"` // 0 disables the limiter
	Burst             int     `yaml:"burst" env:"BURST"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug" | "info" | "warn" | "error"
	Pretty bool   `yaml:"pretty" env:"PRETTY"` // true => zap dev (color), false => zap prod (JSON)
}

// DatabaseConfig describes the backing store and the pool in front of it.
type DatabaseConfig struct {
	Host        string            `yaml:"host" env:"HOST"` // connection URI, scheme selects the driver
	Connections ConnectionsConfig `yaml:"connections" envPrefix:"CONNECTIONS_"`
	Timeout     TimeoutConfig     `yaml:"timeout" envPrefix:"TIMEOUT_"`
	Extensions  map[string]string `yaml:"extensions" env:"EXTENSIONS"` // opaque, handed to the driver
	Retry       RetryConfig       `yaml:"retry" envPrefix:"RETRY_"`
}

type ConnectionsConfig struct {
	Min int `yaml:"min" env:"MIN"`
	Max int `yaml:"max" env:"MAX"`
}

type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect" env:"CONNECT"` // bound on acquire and dial
	Idle    time.Duration `yaml:"idle" env:"IDLE"`       // 0 keeps idle connections forever
	Reap    time.Duration `yaml:"reap" env:"REAP"`       // reaper period, 0 derives it from Idle
}

type RetryConfig struct {
	Attempts      int           `yaml:"attempts" env:"ATTEMPTS"`
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"` // initial wait, doubles each attempt
	MaxWait       time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
	WarnThreshold int           `yaml:"warn_threshold" env:"WARN_THRESHOLD"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"` // OTLP/HTTP endpoint URL
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Defaults returns the bottom configuration layer.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":8000",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Connections: ConnectionsConfig{Min: 1, Max: 8},
			Timeout: TimeoutConfig{
				Connect: 5 * time.Second,
				Idle:    5 * time.Minute,
			},
			Retry: RetryConfig{
				Attempts:      5,
				Interval:      500 * time.Millisecond,
				MaxWait:       5 * time.Second,
				WarnThreshold: 3,
			},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "tales",
		},
	}
}

// Redacted returns a copy safe to log: the password in the database host is masked.
func (c Config) Redacted() Config {
	out := c
	if u, err := url.Parse(c.Database.Host); err == nil && u.User != nil {
		out.Database.Host = u.Redacted()
	}
	if len(c.Database.Extensions) > 0 {
		out.Database.Extensions = make(map[string]string, len(c.Database.Extensions))
		for k, v := range c.Database.Extensions {
			out.Database.Extensions[k] = v
		}
	}
	return out
}
