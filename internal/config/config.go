package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database Database `envPrefix:"DB_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Chapa    Chapa    `envPrefix:"CHAPA_"`
	Notify   Notify   `envPrefix:"NOTIFY_"`
	Kafka    Kafka    `envPrefix:"KAFKA_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Checkout Checkout `envPrefix:"CHECKOUT_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
	// requests per second per client IP on payment routes
	PaymentRateLimit float64 `env:"HTTP_PAYMENT_RATE_LIMIT" envDefault:"5"`
}

type Database struct {
	Driver          string        `env:"DRIVER" envDefault:"sqlite"` // mysql, sqlite
	URL             string        `env:"URL" envDefault:"storefront.db?_busy_timeout=5000"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"50"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"1h"`
	Seed            bool          `env:"SEED" envDefault:"false"`
}

type Redis struct {
	Addr      string `env:"ADDR"` // empty disables redis
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"ecommerce"`
}

type Chapa struct {
	BaseApiURL      string        `env:"BASE_API_URL" envDefault:"https://api.chapa.co/v1"`
	SecretKey       string        `env:"SECRET_KEY"`
	CallbackURL     string        `env:"CALLBACK_URL"`
	ReturnURL       string        `env:"RETURN_URL" envDefault:"http://localhost:3000/payment/success"`
	Currency        string        `env:"CURRENCY" envDefault:"ETB"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"10s"`
	BreakerFailures uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
}

type Notify struct {
	Backend        string        `env:"BACKEND" envDefault:"memory"` // memory, redis
	Workers        int           `env:"WORKERS" envDefault:"4"`
	BufferSize     int           `env:"BUFFER_SIZE" envDefault:"256"`
	EnqueueTimeout time.Duration `env:"ENQUEUE_TIMEOUT" envDefault:"5s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	Backoff        time.Duration `env:"BACKOFF" envDefault:"60s"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	MailAPIURL     string        `env:"MAIL_API_URL"` // empty logs emails instead of sending
	MailAPIKey     string        `env:"MAIL_API_KEY"`
	FromAddress    string        `env:"FROM_ADDRESS" envDefault:"noreply@storefront.local"`
}

type Kafka struct {
	Brokers []string `env:"BROKERS" envSeparator:","` // empty disables publishing
	Topic   string   `env:"TOPIC" envDefault:"storefront.checkout"`
}

const defaultJWTSecret = "change-me"

type Auth struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-me"`
}

type Checkout struct {
	// reserve: deduct stock when the order is created
	// confirm: deduct stock when the payment is verified
	StockPolicy string `env:"STOCK_POLICY" envDefault:"reserve"`

	// true when CHECKOUT_STOCK_POLICY was not set
	StockPolicyDefaulted bool
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.Chapa.CallbackURL == "" {
		cfg.Chapa.CallbackURL = strings.TrimRight(cfg.BaseURL, "/") + "/api/payments/verify/"
	}

	if cfg.Auth.JWTSecret == defaultJWTSecret && cfg.Environment.Name != "development" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be set when ENVIRONMENT is %q", cfg.Environment.Name)
	}

	_, set := os.LookupEnv("CHECKOUT_STOCK_POLICY")
	cfg.Checkout.StockPolicyDefaulted = !set

	switch cfg.Checkout.StockPolicy {
	case "reserve", "confirm":
	default:
		return nil, fmt.Errorf("invalid CHECKOUT_STOCK_POLICY %q", cfg.Checkout.StockPolicy)
	}

	switch cfg.Notify.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("NOTIFY_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("invalid NOTIFY_BACKEND %q", cfg.Notify.Backend)
	}

	return cfg, nil
}

func (c *Config) Address() string {
	return c.HTTP.Host + ":" + c.HTTP.Port
}
