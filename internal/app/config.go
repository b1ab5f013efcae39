package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string        `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string        `usage:"HMAC pepper for API key hashing (POS_API_KEY_PEPPER)" flag:"api-key-pepper"`
	TokenSecret  string        `usage:"HS256 secret for session tokens; empty disables sessions" flag:"token-secret"`
	TokenTTL     time.Duration `default:"12h" usage:"Session token lifetime" flag:"token-ttl"`
	Redis        RedisConfig
	Kafka        KafkaConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RedisConfig controls the idempotency store and status cache. An empty
// Addr disables both.
type RedisConfig struct {
	Addr           string        `default:"" usage:"Redis address host:port (POS_REDIS_ADDR or REDIS_URL)"`
	Password       string        `default:"" usage:"Redis password"`
	DB             int           `default:"0" usage:"Redis database index"`
	IdempotencyTTL time.Duration `default:"24h" usage:"How long a checkout idempotency key is remembered"`
	StatusTTL      time.Duration `default:"5m" usage:"Order status cache lifetime"`
}

// KafkaConfig controls order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string `usage:"Kafka bootstrap brokers"`
	Topic      string   `default:"pos.orders" usage:"Order events topic"`
	BufferSize int      `default:"256" usage:"Events buffered before new ones are dropped"`
}

// CheckoutConfig holds store policy.
type CheckoutConfig struct {
	AllowNegativeStock bool `default:"false" usage:"Allow selling below zero stock"`
	RestockOnCancel    bool `default:"false" usage:"Return item quantities to stock on cancellation"`
	ResolvePromotions  bool `default:"false" usage:"Charge promotional prices for lines without a client price"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if err := cfg.applyPlatformDefaults(); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, REDIS_URL and PORT
// to the application's POS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() error {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			opts, err := redis.ParseURL(v)
			if err != nil {
				return errors.Wrap(err, "parse REDIS_URL")
			}
			c.Redis.Addr = opts.Addr
			c.Redis.Password = opts.Password
			c.Redis.DB = opts.DB
		}
	}
	return nil
}
