// Package config resolves runtime settings in three layers: built-in
// defaults, an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ExportModeLocal = "local"
	ExportModeS3    = "s3"
	ExportModeAuto  = "auto"
)

type Config struct {
	DBPath     string           `yaml:"db_path"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Inference  InferenceConfig  `yaml:"inference"`
	Credential CredentialConfig `yaml:"credential"`
	Export     ExportConfig     `yaml:"export"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr             string  `yaml:"addr"`
	RateLimitEnabled bool    `yaml:"rate_limit_enabled"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
	MaxBodyBytes     int64   `yaml:"max_body_bytes"`
}

type InferenceConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Models         []string      `yaml:"models"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// APIKey is only ever read from the environment.
	APIKey string `yaml:"-"`
}

type CredentialConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type ExportConfig struct {
	Mode   string   `yaml:"mode"`
	Dir    string   `yaml:"dir"`
	Format string   `yaml:"format"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Region          string        `yaml:"region"`
	Bucket          string        `yaml:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignTTL      time.Duration `yaml:"presign_ttl"`
}

func (c S3Config) MissingRequired() []string {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(c.Endpoint) == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if strings.TrimSpace(c.Region) == "" {
		missing = append(missing, "S3_REGION")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if strings.TrimSpace(c.AccessKeyID) == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if strings.TrimSpace(c.SecretAccessKey) == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	return missing
}

func (c S3Config) IsConfigured() bool {
	return len(c.MissingRequired()) == 0
}

func Default() Config {
	return Config{
		DBPath: "food-lens.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:             ":8080",
			RateLimitEnabled: true,
			RateLimitRPS:     2,
			RateLimitBurst:   10,
			MaxBodyBytes:     16 << 20,
		},
		Inference: InferenceConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			Models:         []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-flash"},
			MaxAttempts:    3,
			AttemptTimeout: 30 * time.Second,
			BackoffBase:    500 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
		},
		Export: ExportConfig{
			Mode:   ExportModeLocal,
			Format: "text",
			S3: S3Config{
				Region:     "us-east-1",
				PresignTTL: 15 * time.Minute,
			},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Inference.Models) == 0 {
		errs = append(errs, errors.New("inference.models must not be empty"))
	}
	if c.Inference.MaxAttempts < 1 {
		errs = append(errs, errors.New("inference.max_attempts must be at least 1"))
	}
	if c.Inference.AttemptTimeout < 0 {
		errs = append(errs, errors.New("inference.attempt_timeout must not be negative"))
	}
	switch c.Export.Mode {
	case ExportModeLocal, ExportModeS3, ExportModeAuto:
	default:
		errs = append(errs, fmt.Errorf("unsupported export mode: %s", c.Export.Mode))
	}
	if c.Server.RateLimitEnabled && (c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst < 1) {
		errs = append(errs, errors.New("rate limit needs a positive rps and burst"))
	}
	return errors.Join(errs...)
}

func applyEnv(c *Config) {
	c.DBPath = envString("FOOD_LENS_DB_PATH", c.DBPath)
	c.Log.Level = envString("FOOD_LENS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("FOOD_LENS_LOG_FORMAT", c.Log.Format)

	c.Server.Addr = envString("FOOD_LENS_ADDR", c.Server.Addr)
	if _, ok := os.LookupEnv("FOOD_LENS_RATE_LIMIT_ENABLED"); ok {
		c.Server.RateLimitEnabled = parseBoolEnv("FOOD_LENS_RATE_LIMIT_ENABLED")
	}
	c.Server.RateLimitRPS = envFloat("FOOD_LENS_RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = envInt("FOOD_LENS_RATE_LIMIT_BURST", c.Server.RateLimitBurst)

	c.Inference.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	c.Inference.BaseURL = envString("GEMINI_BASE_URL", c.Inference.BaseURL)
	if models := parseList(os.Getenv("GEMINI_MODELS")); len(models) > 0 {
		c.Inference.Models = models
	}
	c.Inference.MaxAttempts = envInt("GEMINI_MAX_ATTEMPTS", c.Inference.MaxAttempts)
	c.Inference.AttemptTimeout = envSeconds("GEMINI_ATTEMPT_TIMEOUT_SECONDS", c.Inference.AttemptTimeout)

	c.Credential.Passphrase = envString("FOOD_LENS_PASSPHRASE", c.Credential.Passphrase)

	c.Export.Mode = parseExportMode("EXPORT_MODE", c.Export.Mode)
	c.Export.Dir = envString("EXPORT_DIR", c.Export.Dir)
	c.Export.Format = envString("EXPORT_FORMAT", c.Export.Format)
	c.Export.S3.Endpoint = envString("S3_ENDPOINT", c.Export.S3.Endpoint)
	c.Export.S3.Region = envString("S3_REGION", c.Export.S3.Region)
	c.Export.S3.Bucket = envString("S3_BUCKET", c.Export.S3.Bucket)
	c.Export.S3.AccessKeyID = envString("S3_ACCESS_KEY_ID", c.Export.S3.AccessKeyID)
	c.Export.S3.SecretAccessKey = envString("S3_SECRET_ACCESS_KEY", c.Export.S3.SecretAccessKey)
	c.Export.S3.PresignTTL = envSeconds("S3_PRESIGN_TTL_SECONDS", c.Export.S3.PresignTTL)
}

func parseExportMode(key, defaultVal string) string {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if mode == "" {
		return defaultVal
	}
	return mode
}

func parseList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

// envInt reads an int env var with a default value.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func envSeconds(key string, defaultVal time.Duration) time.Duration {
	n := envInt(key, -1)
	if n < 0 {
		return defaultVal
	}
	return time.Duration(n) * time.Second
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
