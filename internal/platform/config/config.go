package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultAPITimeout     = 8 * time.Second
	defaultEnvironment    = "local"
	defaultTaxRate        = 0.05
	defaultCountry        = "Bangladesh"
	defaultSessionTTL     = 2 * time.Hour
	defaultKafkaTopic     = "storefront.orders"
	productionEnvironment = "production"
	minSigningKeyLength   = 32
)

var defaultCartClearPaths = []string{"/users/cart", "/cart", "/users/cart/clear", "/cart/clear"}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	API         APIConfig
	Checkout    CheckoutConfig
	Session     SessionConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	CORS        CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// APIConfig points at the storefront backend. An empty BaseURL serves demo data.
type APIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	CartClearPaths []string
}

// CheckoutConfig tunes the checkout flow.
type CheckoutConfig struct {
	MockOrders         bool
	StrictProductIDs   bool
	TaxRate            float64
	DefaultCountry     string
	PaymentMethodsFile string
}

// SessionConfig controls the checkout session cookie.
type SessionConfig struct {
	SigningKey string
	TTL        time.Duration
}

// RedisConfig enables the Redis client-state store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig enables order events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// CORSConfig lists browser origins allowed to call the service.
type CORSConfig struct {
	AllowedOrigins []string
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, productionEnvironment)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, .env overrides, the process environment and
// any explicit map, in increasing precedence.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		API: APIConfig{
			BaseURL:        strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_API_BASE_URL", ""), "/"),
			Timeout:        durationWithDefault(lookup, "STOREFRONT_API_TIMEOUT", defaultAPITimeout),
			CartClearPaths: csvWithDefault(lookup, "STOREFRONT_API_CART_CLEAR_PATHS", defaultCartClearPaths),
		},
		Checkout: CheckoutConfig{
			MockOrders:         boolWithDefault(lookup, "STOREFRONT_CHECKOUT_MOCK_ORDERS", false),
			StrictProductIDs:   boolWithDefault(lookup, "STOREFRONT_CHECKOUT_STRICT_PRODUCT_IDS", false),
			DefaultCountry:     stringWithDefault(lookup, "STOREFRONT_CHECKOUT_DEFAULT_COUNTRY", defaultCountry),
			PaymentMethodsFile: stringWithDefault(lookup, "STOREFRONT_CHECKOUT_PAYMENT_METHODS_FILE", ""),
		},
		Session: SessionConfig{
			SigningKey: stringWithDefault(lookup, "STOREFRONT_SESSION_SIGNING_KEY", ""),
			TTL:        durationWithDefault(lookup, "STOREFRONT_CHECKOUT_SESSION_TTL", defaultSessionTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "STOREFRONT_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "STOREFRONT_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "STOREFRONT_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: csvWithDefault(lookup, "STOREFRONT_KAFKA_BROKERS", nil),
			Topic:   stringWithDefault(lookup, "STOREFRONT_KAFKA_TOPIC", defaultKafkaTopic),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "STOREFRONT_CORS_ALLOWED_ORIGINS", nil),
		},
	}

	var invalid []string
	cfg.Checkout.TaxRate, err = floatWithDefault(lookup, "STOREFRONT_CHECKOUT_TAX_RATE", defaultTaxRate)
	if err != nil {
		invalid = append(invalid, "Checkout.TaxRate")
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.API.Timeout <= 0 {
		invalid = append(invalid, "API.Timeout")
	}
	if cfg.Checkout.TaxRate < 0 || cfg.Checkout.TaxRate >= 1 {
		invalid = append(invalid, "Checkout.TaxRate")
	}
	if cfg.Session.TTL <= 0 {
		invalid = append(invalid, "Session.TTL")
	}
	if cfg.IsProduction() {
		if cfg.Checkout.MockOrders {
			invalid = append(invalid, "Checkout.MockOrders")
		}
		if len(cfg.Session.SigningKey) < minSigningKeyLength {
			invalid = append(invalid, "Session.SigningKey")
		}
		if cfg.API.BaseURL == "" {
			invalid = append(invalid, "API.BaseURL")
		}
	}
	if cfg.Redis.DB < 0 {
		invalid = append(invalid, "Redis.DB")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: dedupe(invalid)}
	}
	return nil
}

func dedupe(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
