// Package config bootstraps the market universe and ambient settings the
// engine needs at startup from the environment, the way this codebase's
// lineage loads every other subsystem's configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/epic1st/crossmargin/internal/core"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// MarketConfig is one market's bootstrap definition: its id and the
// initial/maintenance margin fractions the engine enforces for it.
type MarketConfig struct {
	MarketID                  string
	InitialMarginFraction     decimal.Decimal
	MaintenanceMarginFraction decimal.Decimal
}

// ToMarket constructs the core.Market this configuration entry
// describes, ready to be handed to Engine.AddMarket.
func (m MarketConfig) ToMarket() *core.Market {
	return core.NewMarket(core.MarketId(m.MarketID), m.InitialMarginFraction, m.MaintenanceMarginFraction)
}

// Config holds the settings needed to stand up an engine instance.
type Config struct {
	Environment string
	LogLevel    string
	Markets     []MarketConfig
}

// BootstrapMarkets returns every configured market as a core.Market,
// ready to be registered on a fresh Engine via AddMarket, in
// configuration order.
func (c *Config) BootstrapMarkets() []*core.Market {
	out := make([]*core.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.ToMarket())
	}
	return out
}

// defaultMarkets mirrors the fractions this codebase's test scenarios and
// documentation use for BTC-PERP and ETH-PERP.
func defaultMarkets() []MarketConfig {
	return []MarketConfig{
		{MarketID: "BTC-PERP", InitialMarginFraction: decimal.NewFromFloat(0.05), MaintenanceMarginFraction: decimal.NewFromFloat(0.03)},
		{MarketID: "ETH-PERP", InitialMarginFraction: decimal.NewFromFloat(0.10), MaintenanceMarginFraction: decimal.NewFromFloat(0.05)},
	}
}

// Load loads configuration from environment variables, falling back to
// .env if present. MARKETS, when set, overrides the default market list
// as a comma-separated list of "symbol:imf:mmf" triples, e.g.
// "BTC-PERP:0.05:0.03,ETH-PERP:0.10:0.05".
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
	}

	if raw := getEnv("MARKETS", ""); raw != "" {
		markets, err := parseMarkets(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		cfg.Markets = markets
	} else {
		cfg.Markets = defaultMarkets()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every configured market satisfies
// 0 < MMF <= IMF < 1.
func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)
	for _, m := range c.Markets {
		if m.MaintenanceMarginFraction.Sign() <= 0 {
			return fmt.Errorf("config: market %s: maintenance margin fraction must be > 0", m.MarketID)
		}
		if m.MaintenanceMarginFraction.GreaterThan(m.InitialMarginFraction) {
			return fmt.Errorf("config: market %s: maintenance margin fraction must be <= initial margin fraction", m.MarketID)
		}
		if m.InitialMarginFraction.GreaterThanOrEqual(one) {
			return fmt.Errorf("config: market %s: initial margin fraction must be < 1", m.MarketID)
		}
	}
	return nil
}

func parseMarkets(raw string) ([]MarketConfig, error) {
	var out []MarketConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed market entry %q, want symbol:imf:mmf", entry)
		}
		imf, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("market %s: invalid imf %q: %w", parts[0], parts[1], err)
		}
		mmf, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("market %s: invalid mmf %q: %w", parts[0], parts[2], err)
		}
		out = append(out, MarketConfig{MarketID: parts[0], InitialMarginFraction: imf, MaintenanceMarginFraction: mmf})
	}
	return out, nil
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
