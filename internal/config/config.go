/**
 * @description
 * This package handles the configuration management for the subscription-service.
 * It uses the Viper library to read configuration from environment variables and an
 * optional .env file, and builds the price-to-tier table the reconciler depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 * - gopkg.in/yaml.v3: Optional price tier file.
 */
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/echonow/subscription-service/internal/domain"
)

const (
	defaultServerPort              = "8085"
	defaultEventDedupPrefix        = "echonow:stripe_event"
	defaultEventDedupTTLHours      = 24
	defaultSubscriptionExchange    = "subscription_events"
	defaultSweepBatchSize          = 100
	defaultInvoiceFailureThreshold = 3
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	StripeSecretKey            string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret        string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripePricePremium         string `mapstructure:"STRIPE_PRICE_PREMIUM"`
	StripePricePro             string `mapstructure:"STRIPE_PRICE_PRO"`
	PriceTierFile              string `mapstructure:"PRICE_TIER_FILE"`
	AuthJWKSURL                string `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer                 string `mapstructure:"AUTH_ISSUER"`
	AuthAudience               string `mapstructure:"AUTH_AUDIENCE"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	EventDedupPrefix           string `mapstructure:"EVENT_DEDUP_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	SubscriptionEventsExchange string `mapstructure:"SUBSCRIPTION_EVENTS_EXCHANGE"`
	SweepSchedule              string `mapstructure:"SWEEP_SCHEDULE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	EventDedupTTLHours      int `mapstructure:"-"`
	SweepBatchSize          int `mapstructure:"-"`
	InvoiceFailureThreshold int `mapstructure:"-"`

	// PriceTiers maps provider price ids to tiers. Built from the STRIPE_PRICE_* keys
	// and PRICE_TIER_FILE.
	PriceTiers map[string]domain.Tier `mapstructure:"-"`
}

// priceTierFile is the YAML layout of PRICE_TIER_FILE.
//
//	prices:
//	  - price_id: price_123
//	    tier: pro
type priceTierFile struct {
	Prices []struct {
		PriceID string `yaml:"price_id"`
		Tier    string `yaml:"tier"`
	} `yaml:"prices"`
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("EVENT_DEDUP_PREFIX", defaultEventDedupPrefix)
	viper.SetDefault("SUBSCRIPTION_EVENTS_EXCHANGE", defaultSubscriptionExchange)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_PRICE_PREMIUM")
	_ = viper.BindEnv("STRIPE_PRICE_PRO")
	_ = viper.BindEnv("PRICE_TIER_FILE")
	_ = viper.BindEnv("AUTH_JWKS_URL", "AUTH_JWKS_URL", "CLERK_JWKS_URL")
	_ = viper.BindEnv("AUTH_ISSUER")
	_ = viper.BindEnv("AUTH_AUDIENCE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("EVENT_DEDUP_PREFIX")
	_ = viper.BindEnv("EVENT_DEDUP_TTL_HOURS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SUBSCRIPTION_EVENTS_EXCHANGE")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_BATCH_SIZE")
	_ = viper.BindEnv("INVOICE_FAILURE_THRESHOLD")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.ServerPort = strings.TrimSpace(config.ServerPort)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.SweepSchedule = strings.TrimSpace(config.SweepSchedule)
	config.EventDedupPrefix = strings.TrimSpace(config.EventDedupPrefix)
	if config.EventDedupPrefix == "" {
		config.EventDedupPrefix = defaultEventDedupPrefix
	}
	config.SubscriptionEventsExchange = strings.TrimSpace(config.SubscriptionEventsExchange)
	if config.SubscriptionEventsExchange == "" {
		config.SubscriptionEventsExchange = defaultSubscriptionExchange
	}

	config.EventDedupTTLHours = positiveInt("EVENT_DEDUP_TTL_HOURS", defaultEventDedupTTLHours)
	config.SweepBatchSize = positiveInt("SWEEP_BATCH_SIZE", defaultSweepBatchSize)
	config.InvoiceFailureThreshold = positiveInt("INVOICE_FAILURE_THRESHOLD", defaultInvoiceFailureThreshold)

	config.PriceTiers, err = buildPriceTiers(config)
	return
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into its entries.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func positiveInt(key string, fallback int) int {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("level=warn component=config msg=\"invalid %s; using default\" value=%q default=%d", key, raw, fallback)
		return fallback
	}
	return value
}

func buildPriceTiers(config Config) (map[string]domain.Tier, error) {
	tiers := make(map[string]domain.Tier)

	if path := strings.TrimSpace(config.PriceTierFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read price tier file: %w", err)
		}
		var file priceTierFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse price tier file: %w", err)
		}
		for _, row := range file.Prices {
			priceID := strings.TrimSpace(row.PriceID)
			if priceID == "" {
				continue
			}
			tier, ok := domain.ParseTier(row.Tier)
			if !ok {
				return nil, fmt.Errorf("price tier file: unknown tier %q for price %s", row.Tier, priceID)
			}
			tiers[priceID] = tier
		}
	}

	// Explicit environment entries take precedence over the file.
	if priceID := strings.TrimSpace(config.StripePricePremium); priceID != "" {
		tiers[priceID] = domain.TierPremium
	}
	if priceID := strings.TrimSpace(config.StripePricePro); priceID != "" {
		tiers[priceID] = domain.TierPro
	}
	return tiers, nil
}
