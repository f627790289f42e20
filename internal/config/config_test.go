package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/echonow/subscription-service/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"SERVER_PORT", "PORT", "EVENT_DEDUP_TTL_HOURS", "SWEEP_BATCH_SIZE", "INVOICE_FAILURE_THRESHOLD", "SWEEP_SCHEDULE", "PRICE_TIER_FILE", "STRIPE_PRICE_PREMIUM", "STRIPE_PRICE_PRO"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8085" {
		t.Fatalf("expected default port 8085, got %q", cfg.ServerPort)
	}
	if cfg.EventDedupTTLHours != 24 || cfg.SweepBatchSize != 100 || cfg.InvoiceFailureThreshold != 3 {
		t.Fatalf("unexpected numeric defaults %+v", cfg)
	}
	if cfg.EventDedupPrefix != "echonow:stripe_event" || cfg.SubscriptionEventsExchange != "subscription_events" {
		t.Fatalf("unexpected string defaults %+v", cfg)
	}
	if cfg.SweepSchedule != "" {
		t.Fatalf("expected sweep disabled by default, got %q", cfg.SweepSchedule)
	}
	if len(cfg.PriceTiers) != 0 {
		t.Fatalf("expected empty price table, got %v", cfg.PriceTiers)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "10000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "10000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_InvalidNumbersFallBack(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INVOICE_FAILURE_THRESHOLD", "three")
	setEnvWithCleanup(t, "SWEEP_BATCH_SIZE", "-5")
	setEnvWithCleanup(t, "EVENT_DEDUP_TTL_HOURS", "48")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InvoiceFailureThreshold != 3 || cfg.SweepBatchSize != 100 {
		t.Fatalf("expected defaults for invalid values, got %+v", cfg)
	}
	if cfg.EventDedupTTLHours != 48 {
		t.Fatalf("expected 48, got %d", cfg.EventDedupTTLHours)
	}
}

func TestLoadConfig_PriceTiers(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	file := filepath.Join(dir, "prices.yaml")
	content := "prices:\n  - price_id: price_legacy_pro\n    tier: PRO\n  - price_id: price_premium_env\n    tier: free\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write price file: %v", err)
	}

	setEnvWithCleanup(t, "PRICE_TIER_FILE", file)
	setEnvWithCleanup(t, "STRIPE_PRICE_PREMIUM", " price_premium_env ")
	setEnvWithCleanup(t, "STRIPE_PRICE_PRO", "price_pro_env")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	want := map[string]domain.Tier{
		"price_legacy_pro":  domain.TierPro,
		"price_premium_env": domain.TierPremium,
		"price_pro_env":     domain.TierPro,
	}
	if len(cfg.PriceTiers) != len(want) {
		t.Fatalf("expected %d prices, got %v", len(want), cfg.PriceTiers)
	}
	for priceID, tier := range want {
		if cfg.PriceTiers[priceID] != tier {
			t.Fatalf("expected %s -> %s, got %s", priceID, tier, cfg.PriceTiers[priceID])
		}
	}
}

func TestLoadConfig_RejectsUnknownTierInFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	file := filepath.Join(t.TempDir(), "prices.yaml")
	if err := os.WriteFile(file, []byte("prices:\n  - price_id: price_x\n    tier: platinum\n"), 0o600); err != nil {
		t.Fatalf("failed to write price file: %v", err)
	}
	setEnvWithCleanup(t, "PRICE_TIER_FILE", file)

	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestAllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: " https://app.echonow.io, ,http://localhost:3000"}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[0] != "https://app.echonow.io" || origins[1] != "http://localhost:3000" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
