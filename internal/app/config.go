package app

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"affilink/internal/api"
	"affilink/internal/auth"
	"affilink/internal/realtime"
	"affilink/internal/shopify"
	"affilink/security/vault"

	"github.com/shopspring/decimal"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// PublicURL is the externally reachable base used for OAuth and webhook callbacks.
	PublicURL     string
	DashboardPath string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	AutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	EncryptionKey string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OAuthStateTTL       time.Duration
	AutoRegisterWebhook bool

	KafkaBrokers []string
	KafkaTopic   string

	DefaultCommissionRate decimal.Decimal
	DefaultDiscountValue  decimal.Decimal
	ProvisionCompensate   bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	API      api.Config
	Realtime realtime.Config
	Auth     auth.Config
	Shopify  shopify.Config
	Vault    vault.Config
}

// LoadConfig loads Config from the environment after applying an optional
// .env file (AFFILINK_ENV_FILE, default ".env").
func LoadConfig() (Config, error) {
	if err := LoadDotEnv(EnvString("AFFILINK_ENV_FILE", ".env")); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		HTTPAddr:  EnvString("AFFILINK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("AFFILINK_LOG_LEVEL", "info"),
		LogFormat: EnvString("AFFILINK_LOG_FORMAT", "json"),
		LogColor:  EnvBool("AFFILINK_LOG_COLOR", true),

		ReadHeaderTimeout: EnvDuration("AFFILINK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AFFILINK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("AFFILINK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AFFILINK_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("AFFILINK_HTTP_MAX_HEADER_BYTES", 1<<20),

		PublicURL:     strings.TrimRight(EnvString("AFFILINK_PUBLIC_URL", "http://localhost:8080"), "/"),
		DashboardPath: EnvString("AFFILINK_DASHBOARD_PATH", "/brand/dashboard"),

		DatabaseURL: EnvString("AFFILINK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("AFFILINK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("AFFILINK_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("AFFILINK_DB_SCHEMA", "affilink"),
		AutoMigrate: EnvBool("AFFILINK_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("AFFILINK_READINESS_REQUIRE_DB", false),

		EncryptionKey: EnvString("AFFILINK_ENCRYPTION_KEY", ""),

		RedisAddr:     EnvString("AFFILINK_REDIS_ADDR", ""),
		RedisPassword: EnvString("AFFILINK_REDIS_PASSWORD", ""),
		RedisDB:       int(EnvInt32("AFFILINK_REDIS_DB", 0)),

		OAuthStateTTL:       EnvDuration("AFFILINK_OAUTH_STATE_TTL", 10*time.Minute),
		AutoRegisterWebhook: EnvBool("AFFILINK_AUTO_REGISTER_WEBHOOK", false),

		KafkaBrokers: EnvCSV("AFFILINK_KAFKA_BROKERS", nil),
		KafkaTopic:   EnvString("AFFILINK_KAFKA_TOPIC", "affilink.notifications"),

		ProvisionCompensate: EnvBool("AFFILINK_PROVISION_COMPENSATE", true),

		CORSAllowedOrigins:   EnvCSV("AFFILINK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("AFFILINK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("AFFILINK_CORS_MAX_AGE_SECONDS", 600),
	}

	var err error
	if cfg.DefaultCommissionRate, err = envDecimal("AFFILINK_COMMISSION_DEFAULT_RATE", "0.10"); err != nil {
		return Config{}, err
	}
	if cfg.DefaultDiscountValue, err = envDecimal("AFFILINK_DISCOUNT_DEFAULT_VALUE", "10"); err != nil {
		return Config{}, err
	}

	cfg.API = loadAPIConfig(cfg)
	cfg.Realtime = loadRealtimeConfig()

	if cfg.Auth, err = auth.LoadConfigFromEnv(); err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}
	if cfg.Shopify, err = shopify.LoadConfig(); err != nil {
		return Config{}, fmt.Errorf("shopify config: %w", err)
	}
	if cfg.Vault, err = vault.FromEnv(); err != nil {
		return Config{}, fmt.Errorf("vault config: %w", err)
	}
	return cfg, nil
}

func loadAPIConfig(cfg Config) api.Config {
	d := api.DefaultConfig()
	return api.Config{
		DashboardURL:  dashboardURL(cfg.PublicURL, EnvString("AFFILINK_DASHBOARD_URL", ""), cfg.DashboardPath),
		TrustProxy:    EnvBool("AFFILINK_TRUST_PROXY", false),
		MaxBodyBytes:  int64(EnvInt("AFFILINK_API_MAX_BODY_BYTES", int(d.MaxBodyBytes))),
		RequestMax:    EnvInt("AFFILINK_COUPON_REQUEST_MAX", d.RequestMax),
		RequestWindow: EnvDuration("AFFILINK_COUPON_REQUEST_WINDOW", d.RequestWindow),
	}
}

func loadRealtimeConfig() realtime.Config {
	d := realtime.DefaultConfig()
	return realtime.Config{
		OriginRequired:     EnvBool("AFFILINK_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins:     EnvCSV("AFFILINK_WS_ALLOWED_ORIGINS", d.AllowedOrigins),
		InsecureSkipVerify: EnvBool("AFFILINK_WS_INSECURE_SKIP_VERIFY", false),
		SendQueueSize:      EnvInt("AFFILINK_WS_SEND_QUEUE", d.SendQueueSize),
		WriteTimeout:       EnvDuration("AFFILINK_WS_WRITE_TIMEOUT", d.WriteTimeout),
		HelloTimeout:       EnvDuration("AFFILINK_WS_HELLO_TIMEOUT", d.HelloTimeout),
		HeartbeatInterval:  EnvDuration("AFFILINK_WS_HEARTBEAT_INTERVAL", d.HeartbeatInterval),
		HeartbeatTimeout:   EnvDuration("AFFILINK_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),
		RateEvents:         EnvInt("AFFILINK_WS_RATE_EVENTS", d.RateEvents),
		RateWindow:         EnvDuration("AFFILINK_WS_RATE_WINDOW", d.RateWindow),
	}
}

// dashboardURL prefers an explicit URL, else joins path onto base.
func dashboardURL(base, explicit, path string) string {
	if explicit != "" {
		return explicit
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base + path
	}
	u.Path = "/" + strings.TrimLeft(path, "/")
	return u.String()
}

// CallbackURL is the OAuth redirect registered with the platform.
func (c Config) CallbackURL() string { return c.PublicURL + "/shopify/callback" }

// WebhookURL is the orders-paid endpoint registered with the platform.
func (c Config) WebhookURL() string { return c.PublicURL + webhookPath }

func envDecimal(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(EnvString(key, def))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
