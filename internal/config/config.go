// Package config loads service settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/urfave/cli.v1"

	"github.com/example/catdog-api/internal/imageprocessor"
	"github.com/example/catdog-api/internal/repository"
)

// MaxUploadSize caps the multipart image upload.
const MaxUploadSize = 5 << 20

// Config is the fully resolved service configuration.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string
	FrontendOrigin  string
	MaxUploadSize   int64

	InferenceHost     string
	InferencePort     int
	ModelName         string
	InferenceTimeout  time.Duration
	InferenceGRPCAddr string

	ClassLabels []string
	TargetLabel string
	AutoOrient  bool
	MaxPixels   int

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr          string
	RateLimitPerMinute int

	JWTSecret   string
	JWTAudience string
}

// LoadDotEnv reads the given .env files into the process environment.
// Variables already set win; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Flags returns the command line flags, each bound to an environment variable.
func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "listen", Value: ":3001", EnvVar: "LISTEN_ADDR", Usage: "HTTP listen address"},
		cli.DurationFlag{Name: "shutdown-timeout", Value: 15 * time.Second, EnvVar: "SHUTDOWN_TIMEOUT", Usage: "graceful shutdown budget"},
		cli.StringFlag{Name: "log-level", Value: "info", EnvVar: "LOG_LEVEL", Usage: "debug, info, warn or error"},
		cli.StringFlag{Name: "frontend-origin", Value: "http://localhost:3000", EnvVar: "FRONTEND_ORIGIN", Usage: "allowed CORS origin"},
		cli.Int64Flag{Name: "max-upload-size", Value: MaxUploadSize, EnvVar: "MAX_UPLOAD_SIZE", Usage: "maximum upload size in bytes"},

		cli.StringFlag{Name: "ovms-host", Value: "model-server", EnvVar: "OVMS_HOSTNAME", Usage: "model server host"},
		cli.IntFlag{Name: "ovms-port", Value: 8000, EnvVar: "OVMS_PORT", Usage: "model server REST port"},
		cli.StringFlag{Name: "ovms-model", Value: "catdog", EnvVar: "OVMS_MODEL", Usage: "deployed model name"},
		cli.DurationFlag{Name: "inference-timeout", Value: 30 * time.Second, EnvVar: "INFERENCE_TIMEOUT", Usage: "per-call timeout, 0 disables"},
		cli.StringFlag{Name: "ovms-grpc-addr", EnvVar: "OVMS_GRPC_ADDR", Usage: "optional host:port for gRPC health checks"},

		cli.StringFlag{Name: "class-labels", Value: "dog,cat", EnvVar: "CLASS_LABELS", Usage: "model output labels in order"},
		cli.StringFlag{Name: "target-label", Value: "cat", EnvVar: "TARGET_LABEL", Usage: "label whose probability is reported"},
		cli.BoolFlag{Name: "auto-orient", EnvVar: "AUTO_ORIENT", Usage: "apply EXIF orientation before resizing"},
		cli.IntFlag{Name: "max-pixels", Value: imageprocessor.DefaultMaxPixels, EnvVar: "MAX_PIXELS", Usage: "largest accepted width*height, 0 disables"},

		cli.StringFlag{Name: "database-driver", EnvVar: "DATABASE_DRIVER", Usage: "postgres or sqlite, empty disables auditing"},
		cli.StringFlag{Name: "database-dsn", EnvVar: "DATABASE_DSN", Usage: "database connection string"},

		cli.StringFlag{Name: "redis-addr", EnvVar: "REDIS_ADDR", Usage: "Redis address for shared rate limiting"},
		cli.IntFlag{Name: "rate-limit", Value: 60, EnvVar: "RATE_LIMIT_PER_MINUTE", Usage: "requests per client per minute, 0 disables"},

		cli.StringFlag{Name: "jwt-secret", EnvVar: "JWT_SECRET", Usage: "HMAC secret guarding operator endpoints"},
		cli.StringFlag{Name: "jwt-audience", EnvVar: "JWT_AUDIENCE", Usage: "required token audience"},
	}
}

// FromContext builds and validates a Config from parsed flags.
func FromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		ListenAddr:         c.String("listen"),
		ShutdownTimeout:    c.Duration("shutdown-timeout"),
		LogLevel:           c.String("log-level"),
		FrontendOrigin:     c.String("frontend-origin"),
		MaxUploadSize:      c.Int64("max-upload-size"),
		InferenceHost:      c.String("ovms-host"),
		InferencePort:      c.Int("ovms-port"),
		ModelName:          c.String("ovms-model"),
		InferenceTimeout:   c.Duration("inference-timeout"),
		InferenceGRPCAddr:  c.String("ovms-grpc-addr"),
		ClassLabels:        splitList(c.String("class-labels")),
		TargetLabel:        strings.TrimSpace(c.String("target-label")),
		AutoOrient:         c.Bool("auto-orient"),
		MaxPixels:          c.Int("max-pixels"),
		DatabaseDriver:     strings.TrimSpace(c.String("database-driver")),
		DatabaseDSN:        c.String("database-dsn"),
		RedisAddr:          c.String("redis-addr"),
		RateLimitPerMinute: c.Int("rate-limit"),
		JWTSecret:          c.String("jwt-secret"),
		JWTAudience:        c.String("jwt-audience"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every configuration problem into one error.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("LISTEN_ADDR must not be empty"))
	}
	if strings.TrimSpace(c.InferenceHost) == "" {
		errs = append(errs, errors.New("OVMS_HOSTNAME must not be empty"))
	}
	if c.InferencePort <= 0 || c.InferencePort > 65535 {
		errs = append(errs, fmt.Errorf("OVMS_PORT %d out of range", c.InferencePort))
	}
	if strings.TrimSpace(c.ModelName) == "" {
		errs = append(errs, errors.New("OVMS_MODEL must not be empty"))
	}
	if c.InferenceTimeout < 0 {
		errs = append(errs, errors.New("INFERENCE_TIMEOUT must not be negative"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE must be positive"))
	}
	if c.MaxPixels < 0 {
		errs = append(errs, errors.New("MAX_PIXELS must not be negative"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must not be negative"))
	}
	switch c.DatabaseDriver {
	case "":
	case repository.DriverPostgres, repository.DriverSQLite:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required when DATABASE_DRIVER is set"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	return errors.Join(errs...)
}

// Pipeline returns the preprocessing configuration.
func (c *Config) Pipeline() imageprocessor.Config {
	cfg := imageprocessor.DefaultConfig()
	cfg.AutoOrient = c.AutoOrient
	cfg.MaxPixels = c.MaxPixels
	return cfg
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
