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

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// DefaultTimezone is the deployment timezone applied when the file leaves
// timezone empty. All submission windows and report times are wall-clock in
// this zone.
const DefaultTimezone = "Asia/Kolkata"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"logLevel"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	AMQPURL       string `yaml:"amqpURL"`
	Timezone      string `yaml:"timezone"`

	JWKSURL       string `yaml:"jwksURL"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenAudience string `yaml:"tokenAudience"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SetupRateLimitPerMinute int  `yaml:"setupRateLimitPerMinute"`
	TrustProxy              bool `yaml:"trustProxy"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("ROLLCALL_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("ROLLCALL_JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("ROLLCALL_TOKEN_ISSUER"); v != "" {
		cfg.TokenIssuer = v
	}
	if v := os.Getenv("ROLLCALL_TOKEN_AUDIENCE"); v != "" {
		cfg.TokenAudience = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if ssl, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = ssl
		}
	}
	if v := os.Getenv("ROLLCALL_SETUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SetupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("ROLLCALL_TRUST_PROXY"); v != "" {
		if trust, err := strconv.ParseBool(v); err == nil {
			cfg.TrustProxy = trust
		}
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves the configured deployment timezone.
func (c FileConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ArchiveEnabled reports whether report archiving to object storage is
// configured.
func (c FileConfig) ArchiveEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.AMQPURL == "" {
		return errors.New("config: amqpURL is required (set in config.yaml or AMQP_URL)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or ROLLCALL_JWKS_URL)")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("config: invalid timezone %q", cfg.Timezone)
	}
	if cfg.ArchiveEnabled() {
		if strings.TrimSpace(cfg.MinioAccessKey) == "" || strings.TrimSpace(cfg.MinioSecretKey) == "" {
			return errors.New("config: minio credentials are required when minioEndpoint is set")
		}
		if strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: minioBucket is required when minioEndpoint is set")
		}
	}
	if cfg.SetupRateLimitPerMinute < 0 {
		return errors.New("config: setupRateLimitPerMinute must be >= 0 (0 disables limiting)")
	}
	return nil
}
