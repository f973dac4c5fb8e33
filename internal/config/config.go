// Package config loads the card swap service configuration from a JSON5 or
// YAML file plus environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	Proximity  ProximityConfig  `json:"proximity" yaml:"proximity"`
	Handshake  HandshakeConfig  `json:"handshake" yaml:"handshake"`
	Thumbnails ThumbnailsConfig `json:"thumbnails" yaml:"thumbnails"`
	Audit      AuditConfig      `json:"audit" yaml:"audit"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

type GatewayConfig struct {
	Host           string   `json:"host" yaml:"host" env:"CARDSWAP_HOST"`
	Port           int      `json:"port" yaml:"port" env:"CARDSWAP_PORT"`
	Path           string   `json:"path" yaml:"path" env:"CARDSWAP_HUB_PATH"`
	PublicURL      string   `json:"publicUrl,omitempty" yaml:"publicUrl" env:"CARDSWAP_PUBLIC_URL"`
	Token          string   `json:"token,omitempty" yaml:"token" env:"CARDSWAP_GATEWAY_TOKEN"` // protects /v1 HTTP endpoints
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins" env:"CARDSWAP_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitRPM   int      `json:"rateLimitRpm" yaml:"rateLimitRpm" env:"CARDSWAP_RATE_LIMIT_RPM"`
	RateLimitBurst int      `json:"rateLimitBurst" yaml:"rateLimitBurst" env:"CARDSWAP_RATE_LIMIT_BURST"`
	SendBuffer     int      `json:"sendBuffer" yaml:"sendBuffer" env:"CARDSWAP_SEND_BUFFER"`
	// MaxMessageBytes bounds one inbound frame; it must fit a base64 Subscribe image.
	MaxMessageBytes int64 `json:"maxMessageBytes" yaml:"maxMessageBytes" env:"CARDSWAP_MAX_MESSAGE_BYTES"`
	// LegacyPeerEncoding sends peer lists as arrays of JSON strings.
	LegacyPeerEncoding bool `json:"legacyPeerEncoding" yaml:"legacyPeerEncoding" env:"CARDSWAP_LEGACY_PEER_ENCODING"`
}

type ProximityConfig struct {
	RadiusMeters float64 `json:"radiusMeters" yaml:"radiusMeters" env:"CARDSWAP_RADIUS_METERS"`
}

type HandshakeConfig struct {
	// SweepIntervalSec is how often terminal requests are purged; 0 disables the janitor.
	SweepIntervalSec int `json:"sweepIntervalSec" yaml:"sweepIntervalSec" env:"CARDSWAP_HANDSHAKE_SWEEP_INTERVAL"`
	RetentionSec     int `json:"retentionSec" yaml:"retentionSec" env:"CARDSWAP_HANDSHAKE_RETENTION"`
}

func (h HandshakeConfig) SweepInterval() time.Duration {
	return time.Duration(h.SweepIntervalSec) * time.Second
}

func (h HandshakeConfig) Retention() time.Duration {
	return time.Duration(h.RetentionSec) * time.Second
}

type ThumbnailsConfig struct {
	Backend   string `json:"backend" yaml:"backend" env:"CARDSWAP_THUMBNAIL_BACKEND"` // memory, file, s3, redis
	URLPrefix string `json:"urlPrefix" yaml:"urlPrefix" env:"CARDSWAP_THUMBNAIL_URL_PREFIX"`
	Normalize bool   `json:"normalize" yaml:"normalize" env:"CARDSWAP_THUMBNAIL_NORMALIZE"`
	MaxSide   int    `json:"maxSide" yaml:"maxSide" env:"CARDSWAP_THUMBNAIL_MAX_SIDE"`
	MaxBytes  int    `json:"maxBytes" yaml:"maxBytes" env:"CARDSWAP_THUMBNAIL_MAX_BYTES"`

	MemoryEntries int         `json:"memoryEntries" yaml:"memoryEntries" env:"CARDSWAP_THUMBNAIL_MEMORY_ENTRIES"`
	Dir           string      `json:"dir,omitempty" yaml:"dir" env:"CARDSWAP_THUMBNAIL_DIR"`
	S3            S3Config    `json:"s3" yaml:"s3"`
	Redis         RedisConfig `json:"redis" yaml:"redis"`
}

type S3Config struct {
	Bucket          string `json:"bucket,omitempty" yaml:"bucket" env:"CARDSWAP_S3_BUCKET"`
	Region          string `json:"region,omitempty" yaml:"region" env:"CARDSWAP_S3_REGION"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint" env:"CARDSWAP_S3_ENDPOINT"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix" env:"CARDSWAP_S3_PREFIX"`
	AccessKeyID     string `json:"accessKeyId,omitempty" yaml:"accessKeyId" env:"CARDSWAP_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret,omitempty" yaml:"secret" env:"CARDSWAP_S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `json:"usePathStyle,omitempty" yaml:"usePathStyle" env:"CARDSWAP_S3_PATH_STYLE"`
}

type RedisConfig struct {
	Addr      string `json:"addr,omitempty" yaml:"addr" env:"CARDSWAP_REDIS_ADDR"`
	Password  string `json:"secret,omitempty" yaml:"password" env:"CARDSWAP_REDIS_PASSWORD"`
	DB        int    `json:"db,omitempty" yaml:"db" env:"CARDSWAP_REDIS_DB"`
	KeyPrefix string `json:"keyPrefix,omitempty" yaml:"keyPrefix" env:"CARDSWAP_REDIS_KEY_PREFIX"`
	TTLSec    int    `json:"ttlSec,omitempty" yaml:"ttlSec" env:"CARDSWAP_REDIS_TTL"`
}

type AuditConfig struct {
	Driver    string `json:"driver,omitempty" yaml:"driver" env:"CARDSWAP_AUDIT_DRIVER"` // "", sqlite, postgres
	DSN       string `json:"dsn,omitempty" yaml:"dsn" env:"CARDSWAP_AUDIT_DSN"`
	QueueSize int    `json:"queueSize" yaml:"queueSize" env:"CARDSWAP_AUDIT_QUEUE_SIZE"`
}

// Enabled reports whether exchange events are persisted.
func (a AuditConfig) Enabled() bool { return a.Driver != "" }

type TelemetryConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled" env:"CARDSWAP_OTEL_ENABLED"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint" env:"CARDSWAP_OTEL_ENDPOINT"`
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol" env:"CARDSWAP_OTEL_PROTOCOL"` // grpc or http
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure" env:"CARDSWAP_OTEL_INSECURE"`
	ServiceName string            `json:"serviceName,omitempty" yaml:"serviceName" env:"CARDSWAP_OTEL_SERVICE_NAME"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers" env:"CARDSWAP_OTEL_HEADERS"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" env:"CARDSWAP_LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"CARDSWAP_LOG_FORMAT"` // text or json
}

// legacyEnv holds variable names older deployments still set.
type legacyEnv struct {
	Port int `env:"PORT_TCP_API"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			Path:            "/swaphub",
			RateLimitBurst:  20,
			SendBuffer:      256,
			MaxMessageBytes: 12 << 20,
		},
		Proximity: ProximityConfig{RadiusMeters: 100},
		Handshake: HandshakeConfig{SweepIntervalSec: 60, RetentionSec: 600},
		Thumbnails: ThumbnailsConfig{
			Backend:       "memory",
			URLPrefix:     "/thumbnails",
			Normalize:     true,
			MaxSide:       256,
			MaxBytes:      64 << 10,
			MemoryEntries: 10000,
			Redis:         RedisConfig{KeyPrefix: "cardswap:thumb:", TTLSec: 86400},
		},
		Audit: AuditConfig{QueueSize: 1024},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "cardswap",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config at path on top of the defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	var legacy legacyEnv
	if err := ParseEnv(&legacy); err != nil {
		return nil, err
	}
	if legacy.Port != 0 {
		cfg.Gateway.Port = legacy.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// ParseEnv applies `env` struct tags from the process environment.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d out of range", c.Gateway.Port)
	}
	if c.Gateway.MaxMessageBytes < 4096 {
		return fmt.Errorf("gateway.maxMessageBytes %d too small", c.Gateway.MaxMessageBytes)
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		return fmt.Errorf("gateway.path %q must start with /", c.Gateway.Path)
	}
	if r := c.Proximity.RadiusMeters; r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("proximity.radiusMeters %v must be a non-negative number", r)
	}
	if c.Handshake.SweepIntervalSec < 0 || c.Handshake.RetentionSec < 0 {
		return errors.New("handshake intervals must not be negative")
	}

	switch c.Thumbnails.Backend {
	case "memory":
	case "file":
		if c.Thumbnails.Dir == "" {
			return errors.New("thumbnails.dir is required for the file backend")
		}
	case "s3":
		if c.Thumbnails.S3.Bucket == "" {
			return errors.New("thumbnails.s3.bucket is required for the s3 backend")
		}
	case "redis":
		if c.Thumbnails.Redis.Addr == "" {
			return errors.New("thumbnails.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown thumbnails.backend %q", c.Thumbnails.Backend)
	}

	switch c.Audit.Driver {
	case "":
	case "sqlite", "postgres":
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit.dsn is required for driver %s", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("unknown audit.driver %q", c.Audit.Driver)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("unknown telemetry.protocol %q", c.Telemetry.Protocol)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// ListenAddr returns host:port for the gateway listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// ResolvePath picks the config file: explicit flag, then $CARDSWAP_CONFIG,
// then ./config.json5.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CARDSWAP_CONFIG"); p != "" {
		return p
	}
	return "config.json5"
}
