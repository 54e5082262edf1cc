package config

import (
	"errors"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"

	"github.com/Fileri/showcase/server/internal/logging"
)

// Config holds the server configuration
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Log        logging.Config `yaml:"log"`
	Database   DatabaseConfig `yaml:"database"`
	Supabase   SupabaseConfig `yaml:"supabase"`
	Files      FilesConfig    `yaml:"files"`
	Limits     LimitsConfig   `yaml:"limits"`
}

// DatabaseConfig holds the direct Postgres connection. An empty URL disables
// the direct-DB tier.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	Schema       string `yaml:"schema"`
	Table        string `yaml:"table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SupabaseConfig holds the Supabase REST client settings. The tier is enabled
// when URL and at least one key are set.
type SupabaseConfig struct {
	URL            string `yaml:"url"`
	AnonKey        string `yaml:"anon_key"`
	ServiceRoleKey string `yaml:"service_role_key"`
	Schema         string `yaml:"schema"`
	Table          string `yaml:"table"`
}

// Key returns the key used for requests, preferring the anon key.
func (s SupabaseConfig) Key() string {
	if s.AnonKey != "" {
		return s.AnonKey
	}
	return s.ServiceRoleKey
}

// Enabled reports whether the Supabase tier should be built.
func (s SupabaseConfig) Enabled() bool {
	return s.URL != "" && s.Key() != ""
}

// FilesConfig locates the flat-file content document
type FilesConfig struct {
	Type string `yaml:"type"` // "filesystem" or "s3"
	// For filesystem storage
	Path string `yaml:"path"`
	// For S3-compatible storage
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Key             string `yaml:"key"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LimitsConfig holds request limits
type LimitsConfig struct {
	MaxBodySize string `yaml:"max_body_size"` // e.g., "1MB", "0" for unlimited
}

// Load reads configuration from the file named by CONTENT_CONFIG (or
// ./config.yaml), then applies environment overrides and validates.
func Load() (*Config, error) {
	configPath := os.Getenv("CONTENT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile is Load for an explicit path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr: ":8080",
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Schema:       "public",
			Table:        "contents",
			MaxOpenConns: 10,
		},
		Supabase: SupabaseConfig{
			Schema: "public",
			Table:  "contents",
		},
		Files: FilesConfig{
			Type: "filesystem",
			Path: "./data",
			Key:  "contents.json",
		},
		Limits: LimitsConfig{
			MaxBodySize: "1MB",
		},
	}
}

// applyEnvOverrides lets the same environment variables the hosted frontend
// uses configure the server.
func (c *Config) applyEnvOverrides() {
	setFromEnv(&c.ListenAddr, "LISTEN_ADDR")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")
	setFromEnv(&c.Log.Format, "LOG_FORMAT")
	setFromEnv(&c.Database.URL, "SUPABASE_DB_URL")
	setFromEnv(&c.Supabase.URL, "SUPABASE_URL")
	setFromEnv(&c.Supabase.URL, "NEXT_PUBLIC_SUPABASE_URL")
	setFromEnv(&c.Supabase.AnonKey, "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	setFromEnv(&c.Supabase.ServiceRoleKey, "SUPABASE_SERVICE_ROLE_KEY")
	setFromEnv(&c.Files.Path, "CONTENT_DATA_DIR")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.Database.Schema == "" {
		c.Database.Schema = "public"
	}
	if c.Database.Table == "" {
		c.Database.Table = "contents"
	}
	if c.Supabase.Schema == "" {
		c.Supabase.Schema = "public"
	}
	if c.Supabase.Table == "" {
		c.Supabase.Table = "contents"
	}
	if c.Files.Type == "" {
		c.Files.Type = "filesystem"
	}
	if c.Files.Type == "filesystem" && c.Files.Path == "" {
		c.Files.Path = "./data"
	}
	if c.Files.Key == "" {
		c.Files.Key = "contents.json"
	}
	if c.Limits.MaxBodySize == "" {
		c.Limits.MaxBodySize = "0"
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ListenAddr, validation.Required),
		validation.Field(&c.Log, validation.By(func(value interface{}) error {
			lc, ok := value.(logging.Config)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a logging config")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level, validation.In("debug", "info", "warn", "error")),
				validation.Field(&lc.Format, validation.In("json", "console")),
			)
		})),
		validation.Field(&c.Supabase, validation.By(func(value interface{}) error {
			sc, ok := value.(SupabaseConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a supabase config")
			}
			return validation.ValidateStruct(&sc,
				validation.Field(&sc.URL, is.URL),
			)
		})),
		validation.Field(&c.Files, validation.By(func(value interface{}) error {
			fc, ok := value.(FilesConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a files config")
			}
			return validation.ValidateStruct(&fc,
				validation.Field(&fc.Type, validation.Required, validation.In("filesystem", "s3")),
				validation.Field(&fc.Path, validation.When(fc.Type == "filesystem", validation.Required)),
				validation.Field(&fc.Bucket, validation.When(fc.Type == "s3", validation.Required)),
				validation.Field(&fc.Endpoint, is.URL),
			)
		})),
	)
}
