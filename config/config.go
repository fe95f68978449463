package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"

	"goflare.io/cartsync/models/enum"
	"goflare.io/cartsync/pricing"
)

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	Logger   LoggerConfig   `yaml:"logger"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Remote   RemoteConfig   `yaml:"remote"`
	Cart     CartConfig     `yaml:"cart"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

type LoggerConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Encoding   string `yaml:"encoding" env:"LOG_ENCODING" env-default:"json"`
	TimeFormat string `yaml:"time_format" env:"LOG_TIME_FORMAT" env-default:"2006-01-02T15:04:05.000Z07:00"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// PostgresConfig is optional; receipt history is disabled when DSN is empty.
type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

// NATSConfig is optional; events are not published when URL is empty.
type NATSConfig struct {
	URL            string        `yaml:"url" env:"NATS_URL"`
	SubjectPrefix  string        `yaml:"subject_prefix" env:"NATS_SUBJECT_PREFIX" env-default:"cartsync"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"NATS_CONNECT_TIMEOUT" env-default:"5s"`
}

type RemoteConfig struct {
	BaseURL     string        `yaml:"base_url" env:"REMOTE_BASE_URL" env-required:"true"`
	Timeout     time.Duration `yaml:"timeout" env:"REMOTE_TIMEOUT" env-default:"10s"`
	MaxFailures uint32        `yaml:"max_failures" env:"REMOTE_MAX_FAILURES" env-default:"5"`
	OpenTimeout time.Duration `yaml:"open_timeout" env:"REMOTE_OPEN_TIMEOUT" env-default:"30s"`
}

type CartConfig struct {
	Namespace       string        `yaml:"namespace" env:"CART_NAMESPACE" env-default:"anonymous"`
	TTL             time.Duration `yaml:"ttl" env:"CART_TTL" env-default:"168h"`
	Currency        string        `yaml:"currency" env:"CART_CURRENCY" env-default:"usd"`
	LogoutPolicy    string        `yaml:"logout_policy" env:"CART_LOGOUT_POLICY" env-default:"clear"`
	OverStockPolicy string        `yaml:"over_stock_policy" env:"CART_OVER_STOCK_POLICY" env-default:"reject"`
}

type TaxRuleConfig struct {
	Category string `yaml:"category"`
	Rate     string `yaml:"rate"`
	Prefix   bool   `yaml:"prefix"`
}

// Amounts are strings so they parse exactly into decimals.
type PricingConfig struct {
	DefaultRate   string          `yaml:"default_rate" env:"PRICING_DEFAULT_RATE" env-default:"0.21"`
	TaxRules      []TaxRuleConfig `yaml:"tax_rules"`
	FreeThreshold string          `yaml:"free_threshold" env:"PRICING_FREE_THRESHOLD" env-default:"1000"`
	FlatFee       string          `yaml:"flat_fee" env:"PRICING_FLAT_FEE" env-default:"50"`
	ShippingBasis string          `yaml:"shipping_basis" env:"PRICING_SHIPPING_BASIS" env-default:"subtotal_plus_tax"`
}

type CatalogConfig struct {
	TTL time.Duration `yaml:"ttl" env:"CATALOG_CACHE_TTL" env-default:"5m"`
}

// Load reads path when it exists and the environment otherwise. A .env file
// in the working directory is applied first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
		return &cfg, cfg.Validate()
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err = cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	}
	return &cfg, cfg.Validate()
}

// MustLoad loads from CONFIG_PATH, defaulting to config.yaml.
func MustLoad() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("cannot load config: %v", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	switch enum.LogoutPolicy(c.Cart.LogoutPolicy) {
	case enum.LogoutPolicyClear, enum.LogoutPolicyRetain:
	default:
		return fmt.Errorf("unknown logout policy %q", c.Cart.LogoutPolicy)
	}
	switch enum.OverStockPolicy(c.Cart.OverStockPolicy) {
	case enum.OverStockPolicyReject, enum.OverStockPolicyClamp:
	default:
		return fmt.Errorf("unknown over stock policy %q", c.Cart.OverStockPolicy)
	}
	_, _, err := c.Pricing.Rules()
	return err
}

func (c CartConfig) CurrencyCode() stripe.Currency {
	return stripe.Currency(c.Currency)
}

// Rules converts the pricing section into validated rule values.
func (p PricingConfig) Rules() (pricing.TaxRuleTable, pricing.ShippingRule, error) {
	var (
		table    pricing.TaxRuleTable
		shipping pricing.ShippingRule
		err      error
	)

	if table.DefaultRate, err = decimal.NewFromString(p.DefaultRate); err != nil {
		return table, shipping, fmt.Errorf("invalid default tax rate %q: %w", p.DefaultRate, err)
	}
	for _, rule := range p.TaxRules {
		rate, err := decimal.NewFromString(rule.Rate)
		if err != nil {
			return table, shipping, fmt.Errorf("invalid tax rate %q for %s: %w", rule.Rate, rule.Category, err)
		}
		table.Rules = append(table.Rules, pricing.TaxRule{Category: rule.Category, Rate: rate, Prefix: rule.Prefix})
	}

	if shipping.FreeThreshold, err = decimal.NewFromString(p.FreeThreshold); err != nil {
		return table, shipping, fmt.Errorf("invalid free shipping threshold %q: %w", p.FreeThreshold, err)
	}
	if shipping.FlatFee, err = decimal.NewFromString(p.FlatFee); err != nil {
		return table, shipping, fmt.Errorf("invalid flat shipping fee %q: %w", p.FlatFee, err)
	}
	shipping.Basis = enum.ShippingBasis(p.ShippingBasis)

	if err = table.Validate(); err != nil {
		return table, shipping, err
	}
	if err = shipping.Validate(); err != nil {
		return table, shipping, err
	}
	return table, shipping, nil
}
