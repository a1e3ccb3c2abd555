package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthJWTSecret string `mapstructure:"AUTH_JWT_SECRET"`
	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`

	StorageBackend    string `mapstructure:"STORAGE_BACKEND"`
	StorageDir        string `mapstructure:"STORAGE_DIR"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`

	RedisURL string        `mapstructure:"REDIS_URL"`
	LockTTL  time.Duration `mapstructure:"LOCK_TTL"`

	NATSURL           string `mapstructure:"NATS_URL"`
	AnalysisSubject   string `mapstructure:"ANALYSIS_SUBJECT"`
	AnalysisWorkers   int    `mapstructure:"ANALYSIS_WORKERS"`
	AnalysisQueueSize int    `mapstructure:"ANALYSIS_QUEUE_SIZE"`

	OCRProvider       string        `mapstructure:"OCR_PROVIDER"`
	OCRVisionAPIKey   string        `mapstructure:"OCR_VISION_API_KEY"`
	OCRVisionEndpoint string        `mapstructure:"OCR_VISION_ENDPOINT"`
	OCRTimeout        time.Duration `mapstructure:"OCR_TIMEOUT"`

	RiskServiceURL string        `mapstructure:"RISK_SERVICE_URL"`
	RiskTimeout    time.Duration `mapstructure:"RISK_TIMEOUT"`

	MaxUploadSize   string  `mapstructure:"MAX_UPLOAD_SIZE"`
	UploadRateRPS   float64 `mapstructure:"UPLOAD_RATE_RPS"`
	UploadRateBurst int     `mapstructure:"UPLOAD_RATE_BURST"`
}

var defaults = map[string]interface{}{
	"PORT":                "8000",
	"ENV":                 "development",
	"DB_MAX_CONNS":        20,
	"DB_MIN_CONNS":        2,
	"CORS_ORIGINS":        "http://localhost:3000",
	"LOG_LEVEL":           "info",
	"STORAGE_BACKEND":     "fs",
	"STORAGE_DIR":         "./uploads",
	"S3_REGION":           "us-east-1",
	"LOCK_TTL":            "2m",
	"ANALYSIS_SUBJECT":    "medivault.prescriptions.analyze",
	"ANALYSIS_WORKERS":    4,
	"ANALYSIS_QUEUE_SIZE": 256,
	"OCR_PROVIDER":        "static",
	"OCR_TIMEOUT":         "60s",
	"RISK_TIMEOUT":        "10s",
	"MAX_UPLOAD_SIZE":     "50M",
	"UPLOAD_RATE_RPS":     2,
	"UPLOAD_RATE_BURST":   10,
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_JWT_SECRET", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE",
	"LOG_LEVEL", "LOG_FILE",
	"STORAGE_BACKEND", "STORAGE_DIR", "S3_ENDPOINT", "S3_REGION", "S3_BUCKET",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"REDIS_URL", "LOCK_TTL",
	"NATS_URL", "ANALYSIS_SUBJECT", "ANALYSIS_WORKERS", "ANALYSIS_QUEUE_SIZE",
	"OCR_PROVIDER", "OCR_VISION_API_KEY", "OCR_VISION_ENDPOINT", "OCR_TIMEOUT",
	"RISK_SERVICE_URL", "RISK_TIMEOUT",
	"MAX_UPLOAD_SIZE", "UPLOAD_RATE_RPS", "UPLOAD_RATE_BURST",
}

// Load reads .env (optional) and the environment. DATABASE_URL is required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthJWTSecret == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWT_SECRET or AUTH_JWKS_URL must be set outside development (ENV=%q)", c.Env)
	}

	switch c.StorageBackend {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_BACKEND=memory is not allowed in production")
		}
	case "fs":
		if c.StorageDir == "" {
			return fmt.Errorf("STORAGE_DIR is required when STORAGE_BACKEND is \"fs\"")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"memory\", \"fs\", or \"s3\", got %q", c.StorageBackend)
	}

	switch c.OCRProvider {
	case "static":
		if c.IsProduction() {
			return fmt.Errorf("OCR_PROVIDER=static is not allowed in production")
		}
	case "vision":
	default:
		return fmt.Errorf("OCR_PROVIDER must be \"vision\" or \"static\", got %q", c.OCRProvider)
	}

	if c.OCRTimeout <= 0 {
		return fmt.Errorf("OCR_TIMEOUT must be positive")
	}
	if c.AnalysisWorkers <= 0 {
		return fmt.Errorf("ANALYSIS_WORKERS must be positive, got %d", c.AnalysisWorkers)
	}
	if c.AnalysisQueueSize < 0 {
		return fmt.Errorf("ANALYSIS_QUEUE_SIZE must not be negative, got %d", c.AnalysisQueueSize)
	}
	if c.NATSURL != "" && c.AnalysisSubject == "" {
		return fmt.Errorf("ANALYSIS_SUBJECT is required when NATS_URL is set")
	}
	return nil
}
