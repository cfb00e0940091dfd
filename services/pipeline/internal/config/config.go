package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string `yaml:"port"`
	LogLevel                 string `yaml:"logLevel"`
	DatabaseURL              string `yaml:"databaseURL"`
	CatalogPath              string `yaml:"catalogPath"`
	MinioEndpoint            string `yaml:"minioEndpoint"`
	MinioAccessKey           string `yaml:"minioAccessKey"`
	MinioSecretKey           string `yaml:"minioSecretKey"`
	MinioBucket              string `yaml:"minioBucket"`
	MinioUseSSL              bool   `yaml:"minioUseSSL"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	EventsStream             string `yaml:"eventsStream"`
	UploadRateLimit          int    `yaml:"uploadRateLimit"`
	UploadRateWindowSeconds  int    `yaml:"uploadRateWindowSeconds"`
	MaxUploadBytes           int64  `yaml:"maxUploadBytes"`
	PresignExpiryMinutes     int    `yaml:"presignExpiryMinutes"`
	InternalJWTPublicKeyPath string `yaml:"internalJwtPublicKeyPath"`
	InternalJWTIssuers       string `yaml:"internalJwtIssuers"`
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
	if v := os.Getenv("LOANFLOW_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
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
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOANFLOW_EVENTS_STREAM"); v != "" {
		cfg.EventsStream = v
	}
	if v := os.Getenv("LOANFLOW_UPLOAD_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateLimit = n
		}
	}
	if v := os.Getenv("LOANFLOW_UPLOAD_RATE_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UploadRateWindowSeconds = n
		}
	}
	if v := os.Getenv("LOANFLOW_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LOANFLOW_INTERNAL_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.InternalJWTPublicKeyPath = v
	}
	if v := os.Getenv("LOANFLOW_INTERNAL_JWT_ISSUERS"); v != "" {
		cfg.InternalJWTIssuers = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InternalIssuers splits the configured issuer allowlist.
func (c FileConfig) InternalIssuers() []string {
	parts := strings.Split(c.InternalJWTIssuers, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml)")
	}
	if cfg.UploadRateLimit < 0 || cfg.UploadRateWindowSeconds < 0 {
		return errors.New("config: upload rate limit and window must be >= 0")
	}
	if (cfg.UploadRateLimit > 0) != (cfg.UploadRateWindowSeconds > 0) {
		return errors.New("config: uploadRateLimit and uploadRateWindowSeconds must be set together")
	}
	if cfg.UploadRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: upload rate limiting requires redisAddr")
	}
	if cfg.EventsStream != "" && cfg.RedisAddr == "" {
		return errors.New("config: eventsStream requires redisAddr")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.PresignExpiryMinutes < 0 {
		return errors.New("config: presignExpiryMinutes must be >= 0")
	}
	if cfg.InternalJWTPublicKeyPath != "" && len(cfg.InternalIssuers()) == 0 {
		return errors.New("config: internalJwtIssuers is required when internalJwtPublicKeyPath is set")
	}
	return nil
}
