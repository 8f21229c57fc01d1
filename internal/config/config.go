package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	HubSpot  HubSpotConfig  `mapstructure:"hubspot"`
	Source   SourceConfig   `mapstructure:"source"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	// APIToken guards the sync API; empty leaves it open
	APIToken     string `mapstructure:"api_token"`
	// RateLimit is requests per minute per client; 0 disables it
	RateLimit    int    `mapstructure:"rate_limit"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig holds TTLs (seconds) for the Redis-backed metadata cache
type CacheConfig struct {
	PropertyTTL  int    `mapstructure:"property_ttl"`
	ReferenceTTL int    `mapstructure:"reference_ttl"`
	KeyPrefix    string `mapstructure:"key_prefix"`
}

// HubSpotConfig holds the CRM API connection settings
type HubSpotConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AccessToken string `mapstructure:"access_token"`
	Timeout     int    `mapstructure:"timeout"`
	MaxRetries  int    `mapstructure:"max_retries"`
	PageSize    int    `mapstructure:"page_size"`
}

// SourceConfig holds the source-of-record API connection settings
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"`
}

// LoadConfig loads configuration from environment and config files
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 300)
	viper.SetDefault("server.idle_timeout", 120)
	viper.SetDefault("server.rate_limit", 60)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("cache.property_ttl", 86400)
	viper.SetDefault("cache.reference_ttl", 3600)
	viper.SetDefault("cache.key_prefix", "crmsync")
	viper.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	viper.SetDefault("hubspot.timeout", 30)
	viper.SetDefault("hubspot.max_retries", 3)
	viper.SetDefault("hubspot.page_size", 100)
	viper.SetDefault("source.timeout", 60)

	viper.SetDefault("sync.target", "hubspot")
	viper.SetDefault("sync.timezone", "UTC")
	viper.SetDefault("sync.window_hours", 0)
	viper.SetDefault("sync.backoff_seconds", 5)
	viper.SetDefault("sync.max_widen_attempts", 500)
	viper.SetDefault("sync.ship_cutoff_timezone", "America/Los_Angeles")
	viper.SetDefault("sync.ship_cutoff_hour", 12)
	viper.SetDefault("sync.deal_filter.qualifying_status", "Billed")
	viper.SetDefault("sync.deal_filter.order_type_field", "order_type")
	viper.SetDefault("sync.company_reference_property", "company_number")
	viper.SetDefault("sync.contact_account_property", "account_number")
	viper.SetDefault("sync.document_number_property", "document_number")
	viper.SetDefault("sync.extract_target", "source")
	viper.SetDefault("sync.deal_target_id_field", "hs_object_id")
	viper.SetDefault("sync.company_id_field", "company_id")
	viper.SetDefault("sync.associated_contact_field", "associated_email_contact")
	viper.SetDefault("sync.po_number_property", "po_number")
	viper.SetDefault("sync.ship_date_property", "closedate")
	viper.SetDefault("sync.id_property", map[string]string{
		"opportunity":       "deal_number",
		"order":             "deal_number",
		"sample_conversion": "deal_number",
		"contact":           "email",
		"company":           "company_number",
		"product":           "hs_sku",
	})
}
