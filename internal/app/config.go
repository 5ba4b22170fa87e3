package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/gateway/paypal"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for relative product image paths" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CHECKOUT_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing      PricingConfig
	Gateway      paypal.Config
	Payment      PaymentConfig
	Redis        RedisConfig
	AMQP         AMQPConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig holds the delivery fee policy. Amounts are decimal strings.
type PricingConfig struct {
	DeliveryFee           string `default:"1.50" usage:"Flat delivery fee"`
	FreeDeliveryThreshold string `default:"0" usage:"Subtotal at which delivery is free; 0 disables"`
	MaxAddressLength      int    `default:"255" usage:"Delivery address length limit, in characters"`
}

// Policy parses the configured amounts.
func (c PricingConfig) Policy() (pricing.Policy, error) {
	fee, err := decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return pricing.Policy{}, errors.Wrap(err, "parse delivery fee")
	}
	threshold := decimal.Zero
	if c.FreeDeliveryThreshold != "" {
		if threshold, err = decimal.NewFromString(c.FreeDeliveryThreshold); err != nil {
			return pricing.Policy{}, errors.Wrap(err, "parse free delivery threshold")
		}
	}
	return pricing.Policy{
		Fee:                   pricing.NormalizePrice(fee),
		FreeDeliveryThreshold: pricing.NormalizePrice(threshold),
	}, nil
}

// PaymentConfig bounds capture and refund work.
type PaymentConfig struct {
	Timeout   time.Duration `default:"30s" usage:"Overall capture/refund timeout, independent of the client"`
	LockTTL   time.Duration `default:"2m" usage:"How long an in-flight capture or refund holds its idempotency key"`
	ResultTTL time.Duration `default:"24h" usage:"How long a completed capture is remembered"`
}

// RedisConfig selects the Redis idempotency store. An empty Addr keeps keys
// in PostgreSQL.
type RedisConfig struct {
	Addr      string `default:"" usage:"Redis address host:port"`
	Password  string `default:"" usage:"Redis password"`
	DB        int    `default:"0" usage:"Redis database number"`
	KeyPrefix string `default:"checkout:idem:" usage:"Prefix for idempotency keys"`
}

// AMQPConfig selects the RabbitMQ event publisher. An empty URL logs events
// instead.
type AMQPConfig struct {
	URL      string `default:"" usage:"AMQP broker URL"`
	Exchange string `default:"checkout.events" usage:"Topic exchange for domain events"`
}

// RateLimitConfig controls the per-client token bucket limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Requests a client may burst per window"`
	Window time.Duration `default:"1m"  usage:"Time to refill an empty bucket"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML files
// and applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set CHECKOUT_API_KEY_PEPPER")
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// applyPlatformDefaults maps DATABASE_URL and PORT, as set by hosting
// platforms, onto the CHECKOUT_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
