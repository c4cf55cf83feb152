package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"documerge/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Gotenberg GotenbergConfig `mapstructure:"gotenberg"`
	Airtable  AirtableConfig  `mapstructure:"airtable"`
	Google    GoogleConfig    `mapstructure:"google"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Security  SecurityConfig  `mapstructure:"security"`
	Mapping   MappingConfig   `mapstructure:"mapping"`
	Logger    logger.Config   `mapstructure:"logger"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	Environment  string        `mapstructure:"environment"`
	BaseURL      string        `mapstructure:"base_url"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // mysql, postgres or sqlite
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"`
	SSLMode  string `mapstructure:"sslmode"`
}

type StorageConfig struct {
	Backend         string        `mapstructure:"backend"` // local or gcs
	LocalDir        string        `mapstructure:"local_dir"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type GCSConfig struct {
	BucketName      string        `mapstructure:"bucket_name"`
	ProjectID       string        `mapstructure:"project_id"`
	CredentialsPath string        `mapstructure:"credentials_path"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry"`
}

type GotenbergConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type AirtableConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FieldCacheTTL time.Duration `mapstructure:"field_cache_ttl"`
	MaxPages      int           `mapstructure:"max_pages"`
}

type GoogleConfig struct {
	CredentialsPath string        `mapstructure:"credentials_path"`
	ExportBaseURL   string        `mapstructure:"export_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SecurityConfig struct {
	CredentialsKey string `mapstructure:"credentials_key"`
}

type MappingConfig struct {
	NormalizeNames bool `mapstructure:"normalize_names"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

const devCredentialsKey = "documerge-development-key"

func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	case "sqlite":
		return d.Path
	}
	// Cloud SQL Unix socket support
	if len(d.Host) > 0 && d.Host[0] == '/' {
		return fmt.Sprintf("%s:%s@unix(%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// Load reads .env, then the optional YAML file at path, then the
// environment. Later sources win.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Server.AllowOrigins = splitOrigins(cfg.Server.AllowOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allow_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.db_name", "documerge")
	v.SetDefault("database.path", "data/documerge.db")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "outputs")
	v.SetDefault("storage.max_age", 24*time.Hour)
	v.SetDefault("storage.cleanup_interval", time.Hour)

	v.SetDefault("gcs.signed_url_expiry", 15*time.Minute)

	v.SetDefault("gotenberg.url", "http://localhost:3000")
	v.SetDefault("gotenberg.timeout", 30*time.Second)
	v.SetDefault("gotenberg.retries", 3)

	v.SetDefault("airtable.base_url", "https://api.airtable.com/v0")
	v.SetDefault("airtable.timeout", 30*time.Second)
	v.SetDefault("airtable.field_cache_ttl", 5*time.Minute)
	v.SetDefault("airtable.max_pages", 100)

	v.SetDefault("google.export_base_url", "https://docs.google.com")
	v.SetDefault("google.timeout", 30*time.Second)

	v.SetDefault("security.credentials_key", devCredentialsKey)
	v.SetDefault("mapping.normalize_names", false)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_path", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("tracing.service_name", "documerge")
}

func bindEnvVars(v *viper.Viper) {
	binds := map[string][]string{
		"server.port":               {"SERVER_PORT", "PORT"},
		"server.environment":        {"ENVIRONMENT"},
		"server.base_url":           {"BASE_URL"},
		"server.allow_origins":      {"ALLOW_ORIGINS"},
		"database.driver":           {"DB_DRIVER"},
		"database.host":             {"DB_HOST"},
		"database.port":             {"DB_PORT"},
		"database.user":             {"DB_USER"},
		"database.password":         {"DB_PASSWORD"},
		"database.db_name":          {"DB_NAME"},
		"database.path":             {"DB_PATH"},
		"database.sslmode":          {"DB_SSLMODE"},
		"storage.backend":           {"STORAGE_BACKEND"},
		"storage.local_dir":         {"STORAGE_LOCAL_DIR"},
		"gcs.bucket_name":           {"GCS_BUCKET_NAME"},
		"gcs.project_id":            {"GOOGLE_CLOUD_PROJECT"},
		"gcs.credentials_path":      {"GCS_CREDENTIALS_PATH"},
		"gotenberg.url":             {"GOTENBERG_URL"},
		"gotenberg.timeout":         {"GOTENBERG_TIMEOUT"},
		"airtable.base_url":         {"AIRTABLE_BASE_URL"},
		"google.credentials_path":   {"GOOGLE_CREDENTIALS_PATH"},
		"redis.addr":                {"REDIS_ADDR"},
		"redis.password":            {"REDIS_PASSWORD"},
		"security.credentials_key":  {"CREDENTIALS_KEY"},
		"mapping.normalize_names":   {"MAPPING_NORMALIZE_NAMES"},
		"logger.level":              {"LOG_LEVEL"},
		"logger.format":             {"LOG_FORMAT"},
		"tracing.enabled":           {"OTEL_ENABLED"},
		"tracing.endpoint":          {"OTEL_EXPORTER_OTLP_ENDPOINT"},
		"tracing.insecure":          {"OTEL_EXPORTER_OTLP_INSECURE"},
		"tracing.sample_ratio":      {"OTEL_SAMPLER_RATIO"},
		"tracing.service_name":      {"OTEL_SERVICE_NAME"},
	}
	for key, envs := range binds {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// splitOrigins accepts both a YAML list and a comma separated env value.
func splitOrigins(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, origin := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, fmt.Errorf("database.host and database.db_name are required for %s", c.Database.Driver))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("storage.local_dir is required for the local backend"))
		}
	case "gcs":
		if c.GCS.BucketName == "" {
			errs = append(errs, errors.New("gcs.bucket_name is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend))
	}

	if c.Gotenberg.URL == "" {
		errs = append(errs, errors.New("gotenberg.url is required"))
	}
	if c.Airtable.MaxPages <= 0 {
		errs = append(errs, errors.New("airtable.max_pages must be positive"))
	}
	if c.Security.CredentialsKey == "" {
		errs = append(errs, errors.New("security.credentials_key is required"))
	}
	if c.Server.IsProduction() && c.Security.CredentialsKey == devCredentialsKey {
		errs = append(errs, errors.New("security.credentials_key must be set in production"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
