package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	BaseURL     string

	AuthCookieSecure bool

	OTLPEndpoint  string
	Observability ObservabilityConfig

	Cognito CognitoConfig
	Stripe  StripeConfig

	RevenueCatWebhookSecret string
	RevenueCatWebhookAuth   string

	EntitlementsBackend string
	EntitlementsTable   string
	DynamoDB            DynamoDBConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Briefing  BriefingConfig

	ProviderTimeout time.Duration

	TrialDays          int
	TrialSweepInterval time.Duration
	EventLogRetention  time.Duration

	MetricsPush MetricsPushConfig
}

// ObservabilityConfig carries the logging and OTel exporter knobs. Empty
// values fall back to the observability package defaults.
type ObservabilityConfig struct {
	DeploymentEnv string
	LogLevel      string
	LogFormat     string
	OTelEnabled   bool
	OTelProtocol  string
	SamplingRatio float64
}

type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
}

// Issuer returns the Cognito user pool issuer URL.
func (c CognitoConfig) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// JWKSURL returns the user pool key set location.
func (c CognitoConfig) JWKSURL() string {
	return c.Issuer() + "/.well-known/jwks.json"
}

func (c CognitoConfig) Configured() bool {
	return c.UserPoolID != "" && c.ClientID != ""
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	PriceIDMonthly string
	PriceIDYearly  string
}

// PriceIDs returns the configured, non-empty checkout price IDs.
func (c StripeConfig) PriceIDs() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{c.PriceIDMonthly, c.PriceIDYearly} {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// DynamoDBConfig is used when ENTITLEMENTS_BACKEND=dynamodb. Empty
// credentials fall back to the default AWS provider chain.
type DynamoDBConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

type BriefingConfig struct {
	NewsFeedURL  string
	GeneratorURL string
	NewsAPIKey   string
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

const (
	BackendSQL      = "sql"
	BackendDynamoDB = "dynamodb"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "predixa-entitlements"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		BaseURL:          strings.TrimRight(getenv("APP_BASE_URL", "http://localhost:3000"), "/"),
		AuthCookieSecure: authCookieSecure,
		OTLPEndpoint:     getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Observability: ObservabilityConfig{
			DeploymentEnv: strings.TrimSpace(getenv("DEPLOYMENT_ENV", "")),
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Cognito: CognitoConfig{
			Region:     getenv("AWS_REGION", "us-east-1"),
			UserPoolID: strings.TrimSpace(getenv("COGNITO_USER_POOL_ID", "")),
			ClientID:   strings.TrimSpace(getenv("COGNITO_CLIENT_ID", "")),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			PriceIDMonthly: strings.TrimSpace(getenv("STRIPE_PRICE_ID_MONTHLY", "")),
			PriceIDYearly:  strings.TrimSpace(getenv("STRIPE_PRICE_ID_YEARLY", "")),
		},
		RevenueCatWebhookSecret: strings.TrimSpace(getenv("REVENUECAT_WEBHOOK_SECRET", "")),
		RevenueCatWebhookAuth:   strings.TrimSpace(getenv("REVENUECAT_WEBHOOK_AUTH", "")),
		EntitlementsBackend:     normalizeBackend(getenv("ENTITLEMENTS_BACKEND", BackendSQL)),
		EntitlementsTable:       getenv("ENTITLEMENTS_TABLE", "predixa_entitlements"),
		DynamoDB: DynamoDBConfig{
			Region:          getenv("AWS_REGION", "us-east-1"),
			Endpoint:        strings.TrimSpace(getenv("DYNAMODB_ENDPOINT", "")),
			AccessKeyID:     strings.TrimSpace(getenv("AWS_ACCESS_KEY_ID", "")),
			SecretAccessKey: strings.TrimSpace(getenv("AWS_SECRET_ACCESS_KEY", "")),
		},
		DBType:                  getenv("DATABASE_TYPE", "postgres"),
		DBHost:                  getenv("DATABASE_HOST", "localhost"),
		DBPort:                  getenv("DATABASE_PORT", "5432"),
		DBName:                  getenv("DATABASE_NAME", "predixa"),
		DBUser:                  getenv("DATABASE_USER", "postgres"),
		DBPassword:              getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:               getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:           getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:           getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:       getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:       getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getenvInt("RATE_LIMIT_REQUESTS_PER_WINDOW", 100),
			Window:            time.Duration(getenvInt("RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
		},
		Briefing: BriefingConfig{
			NewsFeedURL:  strings.TrimSpace(getenv("NEWS_FEED_URL", "")),
			GeneratorURL: strings.TrimSpace(getenv("BRIEFING_GENERATOR_URL", "")),
			NewsAPIKey:   strings.TrimSpace(getenv("NEWS_API_KEY", "")),
		},
		ProviderTimeout:    getenvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		TrialDays:          getenvInt("TRIAL_DAYS", 7),
		TrialSweepInterval: getenvDuration("TRIAL_SWEEP_INTERVAL", 24*time.Hour),
		EventLogRetention:  getenvDuration("EVENT_LOG_RETENTION", 90*24*time.Hour),
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 5*time.Minute),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func normalizeBackend(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case BackendDynamoDB, "ddb", "dynamo":
		return BackendDynamoDB
	default:
		return BackendSQL
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15s") or a bare number of milliseconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
