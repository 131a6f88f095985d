/**
 * @description
 * This package handles the configuration management for the linking-service. It uses
 * the Viper library to read settings from environment variables or an optional .env
 * file, and builds the provider configuration injected into the validators.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 * - github.com/sirupsen/logrus: For warnings about coerced values.
 */
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/payex/linking-service/internal/validator"
	"github.com/payex/linking-service/pkg/mpesaclient"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort      string `mapstructure:"SERVER_PORT"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix  string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	EventsExchange  string `mapstructure:"EVENTS_EXCHANGE"`
	SyncQueue       string `mapstructure:"SYNC_REQUEST_QUEUE"`
	JWTSecret       string `mapstructure:"JWT_SECRET"`
	TrustUserHeader bool   `mapstructure:"TRUST_USER_HEADER"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	SyncSchedule    string `mapstructure:"SYNC_SCHEDULE"`

	DerivAPIToken string `mapstructure:"DERIV_API_TOKEN"`
	DerivAppID    string `mapstructure:"DERIV_APP_ID"`
	DerivBaseURL  string `mapstructure:"DERIV_BASE_URL"`
	DerivWSURL    string `mapstructure:"DERIV_WS_URL"`

	BinanceAPIKey    string `mapstructure:"BINANCE_API_KEY"`
	BinanceAPISecret string `mapstructure:"BINANCE_API_SECRET"`
	BinanceBaseURL   string `mapstructure:"BINANCE_BASE_URL"`

	MpesaConsumerKey    string `mapstructure:"MPESA_CONSUMER_KEY"`
	MpesaConsumerSecret string `mapstructure:"MPESA_CONSUMER_SECRET"`
	MpesaShortCode      string `mapstructure:"MPESA_SHORTCODE"`
	MpesaPasskey        string `mapstructure:"MPESA_PASSKEY"`
	MpesaCallbackURL    string `mapstructure:"MPESA_CALLBACK_URL"`
	MpesaBaseURL        string `mapstructure:"MPESA_BASE_URL"`

	BankAggregatorAPIKey  string `mapstructure:"BANK_AGGREGATOR_API_KEY"`
	BankAggregatorBaseURL string `mapstructure:"BANK_AGGREGATOR_BASE_URL"`

	// Numeric settings are parsed by hand so a bad value falls back to its default.
	SyncConcurrency         int `mapstructure:"-"`
	LinkRateLimitPerMinute  int `mapstructure:"-"`
	CallbackDedupTTLMinutes int `mapstructure:"-"`
	HTTPRequestsPerSecond   int `mapstructure:"-"`
	HTTPBurst               int `mapstructure:"-"`
}

var numericDefaults = map[string]int{
	"SYNC_CONCURRENCY":           4,
	"LINK_RATE_LIMIT_PER_MINUTE": 10,
	"CALLBACK_DEDUP_TTL_MINUTES": 1440,
	"HTTP_RATE_LIMIT_PER_SECOND": 10,
	"HTTP_RATE_LIMIT_BURST":      20,
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_KEY_PREFIX", "linking")
	viper.SetDefault("EVENTS_EXCHANGE", "account_events")
	viper.SetDefault("SYNC_REQUEST_QUEUE", "linking_service.sync_requests")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("SYNC_SCHEDULE", "@every 6h")
	viper.SetDefault("TRUST_USER_HEADER", false)
	viper.SetDefault("DERIV_APP_ID", "1089")

	for _, key := range []string{
		"SERVER_PORT", "PORT", "DATABASE_URL", "REDIS_URL", "REDIS_KEY_PREFIX", "RABBITMQ_URL",
		"EVENTS_EXCHANGE", "SYNC_REQUEST_QUEUE", "JWT_SECRET", "TRUST_USER_HEADER", "LOG_LEVEL",
		"SYNC_SCHEDULE", "DERIV_API_TOKEN", "DERIV_APP_ID", "DERIV_BASE_URL", "DERIV_WS_URL",
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "BINANCE_BASE_URL",
		"MPESA_CONSUMER_KEY", "MPESA_CONSUMER_SECRET", "MPESA_SHORTCODE", "MPESA_PASSKEY",
		"MPESA_CALLBACK_URL", "MPESA_BASE_URL",
		"BANK_AGGREGATOR_API_KEY", "BANK_AGGREGATOR_BASE_URL",
	} {
		_ = viper.BindEnv(key)
	}
	for key := range numericDefaults {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.WithError(err).WithField("component", "config").Warn("failed to read config file; using environment values")
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.ServerPort = port
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.RedisKeyPrefix = strings.TrimSpace(cfg.RedisKeyPrefix)
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = "linking"
	}

	cfg.SyncConcurrency = positiveInt("SYNC_CONCURRENCY")
	cfg.LinkRateLimitPerMinute = positiveInt("LINK_RATE_LIMIT_PER_MINUTE")
	cfg.CallbackDedupTTLMinutes = positiveInt("CALLBACK_DEDUP_TTL_MINUTES")
	cfg.HTTPRequestsPerSecond = positiveInt("HTTP_RATE_LIMIT_PER_SECOND")
	cfg.HTTPBurst = positiveInt("HTTP_RATE_LIMIT_BURST")

	return &cfg, nil
}

// positiveInt reads key as a positive integer, falling back to its default.
func positiveInt(key string) int {
	def := numericDefaults[key]
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		logrus.WithFields(logrus.Fields{"component": "config", "key": key, "value": raw, "default": def}).
			Warn("invalid numeric setting; using default")
		return def
	}
	return value
}

// CallbackDedupTTL is how long a processed callback is remembered.
func (c *Config) CallbackDedupTTL() time.Duration {
	return time.Duration(c.CallbackDedupTTLMinutes) * time.Minute
}

// ProviderConfig builds the credentials and endpoints injected into the validators.
func (c *Config) ProviderConfig() validator.ProviderConfig {
	return validator.ProviderConfig{
		Deriv: validator.DerivConfig{
			APIToken: c.DerivAPIToken,
			AppID:    c.DerivAppID,
			BaseURL:  c.DerivBaseURL,
			WSURL:    c.DerivWSURL,
		},
		Binance: validator.BinanceConfig{
			APIKey:    c.BinanceAPIKey,
			APISecret: c.BinanceAPISecret,
			BaseURL:   c.BinanceBaseURL,
		},
		Mpesa: mpesaclient.Config{
			BaseURL:        c.MpesaBaseURL,
			ConsumerKey:    c.MpesaConsumerKey,
			ConsumerSecret: c.MpesaConsumerSecret,
			ShortCode:      c.MpesaShortCode,
			Passkey:        c.MpesaPasskey,
			CallbackURL:    c.MpesaCallbackURL,
		},
		Bank: validator.BankConfig{
			APIKey:  c.BankAggregatorAPIKey,
			BaseURL: c.BankAggregatorBaseURL,
		},
	}
}
