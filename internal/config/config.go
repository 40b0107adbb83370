// Package config loads the gateway configuration from the environment, an
// optional .env file and an optional TOML file
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/otcheredev/dicomweb-gateway/internal/models"
)

// Config is the complete gateway configuration
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Archive  ArchiveConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	CORS     CORSConfig
	DicomWeb DicomWebConfig
}

type ServerConfig struct {
	Host         string
	Port         int `validate:"min=1,max=65535"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit is the number of requests per minute and client IP, 0
	// disables rate limiting
	RateLimit int `validate:"min=0"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	File   string
}

type ArchiveConfig struct {
	URL      string `validate:"required,url"`
	Username string
	Password string
	Timeout  time.Duration
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	LogLevel string
}

type CacheConfig struct {
	Enabled bool
	Type    string `validate:"oneof=memory redis"`
	TTL     time.Duration
	SizeMB  int `validate:"min=1"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MetricsConfig struct {
	Enabled bool
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// DicomWebConfig is the [DicomWeb] section of the TOML file
type DicomWebConfig struct {
	Enable           bool                     `toml:"Enable"`
	EnableWado       bool                     `toml:"EnableWado"`
	Root             string                   `toml:"Root"`
	WadoRoot         string                   `toml:"WadoRoot"`
	Host             string                   `toml:"Host"`
	Ssl              bool                     `toml:"Ssl"`
	StudiesMetadata  string                   `toml:"StudiesMetadata" validate:"oneof=Full MainDicomTags"`
	SeriesMetadata   string                   `toml:"SeriesMetadata" validate:"oneof=Full MainDicomTags"`
	StowMaxInstances int                      `toml:"StowMaxInstances" validate:"min=0"`
	StowMaxSize      int                      `toml:"StowMaxSize" validate:"min=0"`
	Servers          map[string]models.Server `toml:"Servers" validate:"dive"`
}

// StowMaxBytes returns StowMaxSize in bytes
func (d DicomWebConfig) StowMaxBytes() int64 {
	return int64(d.StowMaxSize) * 1024 * 1024
}

type fileConfig struct {
	DicomWeb DicomWebConfig `toml:"DicomWeb"`
}

// DefaultDicomWeb returns the defaults of the [DicomWeb] section
func DefaultDicomWeb() DicomWebConfig {
	return DicomWebConfig{
		Enable:           true,
		EnableWado:       true,
		Root:             "/dicom-web/",
		WadoRoot:         "/wado/",
		StudiesMetadata:  "Full",
		SeriesMetadata:   "Full",
		StowMaxInstances: 10,
		StowMaxSize:      10,
	}
}

// Load reads .env when present, the environment and CONFIG_FILE
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			RateLimit:    getEnvInt("RATE_LIMIT", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Archive: ArchiveConfig{
			URL:      getEnv("ARCHIVE_URL", "http://localhost:8042"),
			Username: getEnv("ARCHIVE_USERNAME", ""),
			Password: getEnv("ARCHIVE_PASSWORD", ""),
			Timeout:  getEnvDuration("ARCHIVE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "dicomweb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			LogLevel: getEnv("DB_LOG_LEVEL", "warn"),
		},
		Cache: CacheConfig{
			Enabled: getEnvBool("CACHE_ENABLED", true),
			Type:    getEnv("CACHE_TYPE", "memory"),
			TTL:     getEnvDuration("CACHE_TTL", time.Hour),
			SizeMB:  getEnvInt("CACHE_SIZE_MB", 32),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvList("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"}),
		},
		DicomWeb: DefaultDicomWeb(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		dw, err := LoadDicomWeb(path)
		if err != nil {
			return nil, err
		}
		cfg.DicomWeb = dw
	}

	cfg.DicomWeb.Root = normalizeRoot(cfg.DicomWeb.Root)
	cfg.DicomWeb.WadoRoot = normalizeRoot(cfg.DicomWeb.WadoRoot)
	return cfg, nil
}

// LoadDicomWeb decodes the [DicomWeb] section of a TOML file. Options
// absent from the file keep their defaults.
func LoadDicomWeb(path string) (DicomWebConfig, error) {
	fc := fileConfig{DicomWeb: DefaultDicomWeb()}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return DicomWebConfig{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	for name, s := range fc.DicomWeb.Servers {
		s.Name = name
		fc.DicomWeb.Servers[name] = s
	}
	fc.DicomWeb.Root = normalizeRoot(fc.DicomWeb.Root)
	fc.DicomWeb.WadoRoot = normalizeRoot(fc.DicomWeb.WadoRoot)
	return fc.DicomWeb, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.DicomWeb.Root == c.DicomWeb.WadoRoot && c.DicomWeb.Enable && c.DicomWeb.EnableWado {
		return fmt.Errorf("invalid configuration: Root and WadoRoot are both %s", c.DicomWeb.Root)
	}

	for name, s := range c.DicomWeb.Servers {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid configuration: server %s has no absolute http(s) URL", name)
		}
	}
	return nil
}

// normalizeRoot adds the leading and trailing slashes of a URI root
func normalizeRoot(root string) string {
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	return root
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
