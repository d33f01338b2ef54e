package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the agripay gateway.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Upload    UploadConfig
	HTTP      HTTPClientConfig
	Poll      PollConfig
	Tiler     TilerConfig
	Compute   ComputeConfig
	WebODM    WebODMConfig
	Geocode   GeocodeConfig
	Agro      AgroConfig
	Sentinel  SentinelConfig
	Drive     DriveConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int    `env:"AGRIPAY_PORT" envDefault:"8080"`
	Env  string `env:"AGRIPAY_ENV"  envDefault:"development"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS"    envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS"    envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type RedisConfig struct {
	URL string `env:"REDIS_URL"`
	// AssetTTL bounds how long downloaded result images stay cached.
	AssetTTL time.Duration `env:"ASSET_CACHE_TTL" envDefault:"2h"`
}

// StorageConfig locates uploaded rasters. Files under Root are what the tile
// server sees mounted at /data.
type StorageConfig struct {
	Root          string `env:"STORAGE_ROOT"       envDefault:"./data"`
	PublicBaseURL string `env:"STORAGE_PUBLIC_URL"`
}

// UploadConfig caps multipart uploads, in bytes.
type UploadConfig struct {
	MaxLayerBytes int64 `env:"UPLOAD_MAX_LAYER_BYTES" envDefault:"2147483648"`
	MaxImageBytes int64 `env:"UPLOAD_MAX_IMAGE_BYTES" envDefault:"52428800"`
	MaxBatchBytes int64 `env:"UPLOAD_MAX_BATCH_BYTES" envDefault:"4294967296"`
}

// HTTPClientConfig applies to every outbound remote client.
type HTTPClientConfig struct {
	Timeout             time.Duration `env:"HTTP_CLIENT_TIMEOUT"   envDefault:"30s"`
	HealthCheckTimeout  time.Duration `env:"HEALTH_CHECK_TIMEOUT"  envDefault:"3s"`
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

type PollConfig struct {
	Interval       time.Duration `env:"POLL_INTERVAL"        envDefault:"2s"`
	UploadInterval time.Duration `env:"UPLOAD_POLL_INTERVAL" envDefault:"1500ms"`
	// ProcessingInterval drives orthophoto reconstruction status checks.
	ProcessingInterval time.Duration `env:"PROCESSING_POLL_INTERVAL" envDefault:"10s"`
}

type TilerConfig struct {
	BaseURL string `env:"TITILER_URL"`
}

type ComputeConfig struct {
	BaseURL string `env:"COMPUTE_API_URL"`
	ModelID string `env:"COMPUTE_MODEL_ID" envDefault:"wheat_plant_counter_v1"`
}

type WebODMConfig struct {
	BaseURL  string `env:"WEBODM_URL"`
	Username string `env:"WEBODM_USERNAME" envDefault:"admin"`
	Password string `env:"WEBODM_PASSWORD"`
}

type GeocodeConfig struct {
	BaseURL string `env:"PHOTON_URL" envDefault:"https://photon.komoot.io"`
}

type AgroConfig struct {
	BaseURL string `env:"AGRO_API_URL" envDefault:"https://api.agromonitoring.com/agro/1.0"`
	APIKey  string `env:"AGRO_API_KEY"`
}

type SentinelConfig struct {
	BaseURL      string `env:"SENTINEL_API_URL"   envDefault:"https://services.sentinel-hub.com"`
	ClientID     string `env:"SENTINEL_CLIENT_ID"`
	ClientSecret string `env:"SENTINEL_CLIENT_SECRET"`
}

type DriveConfig struct {
	BaseURL string `env:"GOOGLE_DRIVE_API_URL" envDefault:"https://www.googleapis.com/drive/v3"`
	APIKey  string `env:"GOOGLE_DRIVE_API_KEY"`
}

type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"120"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"1m"`
}

// Load reads configuration from the environment (and an optional .env file)
// and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	urls := map[string]string{
		"TITILER_URL":     c.Tiler.BaseURL,
		"COMPUTE_API_URL": c.Compute.BaseURL,
		"WEBODM_URL":      c.WebODM.BaseURL,
		"PHOTON_URL":      c.Geocode.BaseURL,
	}
	for name, v := range urls {
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, v)
		}
	}

	if (c.Sentinel.ClientID == "") != (c.Sentinel.ClientSecret == "") {
		return fmt.Errorf("SENTINEL_CLIENT_ID and SENTINEL_CLIENT_SECRET must be set together")
	}

	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("HTTP_CLIENT_TIMEOUT must be positive")
	}
	if c.Poll.Interval <= 0 || c.Poll.UploadInterval <= 0 || c.Poll.ProcessingInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Upload.MaxLayerBytes <= 0 || c.Upload.MaxImageBytes <= 0 || c.Upload.MaxBatchBytes <= 0 {
		return fmt.Errorf("upload limits must be positive")
	}
	if c.Upload.MaxImageBytes > c.Upload.MaxBatchBytes {
		return fmt.Errorf("UPLOAD_MAX_IMAGE_BYTES must not exceed UPLOAD_MAX_BATCH_BYTES")
	}
	if c.Redis.AssetTTL <= 0 {
		return fmt.Errorf("ASSET_CACHE_TTL must be positive")
	}

	return nil
}

// SentinelEnabled reports whether Sentinel Hub credentials were supplied.
func (c *Config) SentinelEnabled() bool {
	return c.Sentinel.ClientID != "" && c.Sentinel.ClientSecret != ""
}
