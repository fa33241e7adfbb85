// Package app wires the affilink server runtime: config, logging, storage,
// the commerce platform client, domain services and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"affilink/internal/api"
	"affilink/internal/auth"
	"affilink/internal/commission"
	"affilink/internal/connector"
	"affilink/internal/ledger"
	"affilink/internal/metrics"
	"affilink/internal/notify"
	"affilink/internal/partnership"
	"affilink/internal/provision"
	"affilink/internal/realtime"
	"affilink/internal/shopify"
	"affilink/internal/webhook"
	"affilink/security/vault"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// closer is a resource released on shutdown, in reverse acquisition order.
type closer struct {
	name  string
	close func() error
}

// App is the affilink server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool  *pgxpool.Pool
	redis   redis.UniversalClient
	closers []closer

	metrics *metrics.Pipeline
	ws      *realtime.Gateway
	webhook *webhook.Gateway
	api     *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	stores, inboxStore, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	states, err := a.openStateStore(ctx)
	if err != nil {
		return nil, err
	}

	sealer, err := vault.New([]byte(cfg.EncryptionKey), cfg.Vault)
	if err != nil {
		return nil, err
	}

	identity, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	platform := shopify.NewClient(cfg.Shopify, shopify.WithObserver(a.metrics.PlatformRequest))

	conn, err := connector.NewService(connector.Config{
		APISecret:           cfg.Shopify.APISecret,
		ShopSuffix:          cfg.Shopify.ShopSuffix,
		RedirectURL:         cfg.CallbackURL(),
		WebhookURL:          cfg.WebhookURL(),
		StateTTL:            cfg.OAuthStateTTL,
		AutoRegisterWebhook: cfg.AutoRegisterWebhook,
	}, stores, states, platform, sealer,
		connector.WithLogger(log),
		connector.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log, a.metrics)
	inbox, err := notify.NewInbox(inboxStore, notify.WithPusher(hub), notify.WithInboxLogger(log))
	if err != nil {
		return nil, err
	}
	sink, err := a.notificationSink(inbox)
	if err != nil {
		return nil, err
	}

	prov, err := provision.New(platform,
		provision.WithLogger(log),
		provision.WithMetrics(a.metrics),
		provision.WithCompensation(cfg.ProvisionCompensate),
	)
	if err != nil {
		return nil, err
	}

	parts, err := partnership.NewService(stores, prov.ForApproval(conn),
		partnership.WithLogger(log),
		partnership.WithMetrics(a.metrics),
		partnership.WithNotifier(sink),
		partnership.WithUndo(prov.UndoForApproval(conn)),
		partnership.WithDefaultTerms(cfg.DefaultCommissionRate, cfg.DefaultDiscountValue),
	)
	if err != nil {
		return nil, err
	}

	recorder, err := commission.NewRecorder(stores,
		commission.WithLogger(log),
		commission.WithMetrics(a.metrics),
		commission.WithNotifier(sink),
	)
	if err != nil {
		return nil, err
	}

	a.webhook, err = webhook.NewGateway(cfg.Shopify.WebhookSecret, recorder,
		webhook.WithLogger(log),
		webhook.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}

	a.ws, err = realtime.NewGateway(identity, hub, inboxStore, cfg.Realtime, realtime.WithLogger(log))
	if err != nil {
		return nil, err
	}

	apiOpts := []api.HandlerOption{api.WithLogger(log)}
	if a.dbPool != nil {
		auditor, err := api.NewPostgresAuditor(a.dbPool, cfg.DBSchema, log)
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithAuditor(auditor), api.WithRequestCounter(auditor))
	}
	a.api, err = api.NewHandler(cfg.API, identity, conn, parts, inbox, apiOpts...)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openStores picks Postgres when a database is configured, else in-memory
// stores for local development.
func (a *App) openStores(ctx context.Context) (ledger.Store, notify.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return ledger.NewMemoryStore(), notify.NewMemoryStore(), nil
	}

	if a.cfg.AutoMigrate {
		if err := Migrate(ctx, a.cfg); err != nil {
			return nil, nil, err
		}
		a.log.Info("db.migrated", "schema", a.cfg.DBSchema)
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.dbPool = pool
	a.closers = append(a.closers, closer{name: "db", close: func() error { pool.Close(); return nil }})

	stores, err := ledger.NewPostgresStore(pool, ledger.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	inbox, err := notify.NewPostgresStore(pool, notify.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return stores, inbox, nil
}

func (a *App) openStateStore(ctx context.Context) (connector.StateStore, error) {
	if a.cfg.RedisAddr == "" {
		a.log.Info("oauth.state.inmemory_store")
		return connector.NewMemoryStateStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.closers = append(a.closers, closer{name: "redis", close: client.Close})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	a.redis = client

	a.log.Info("oauth.state.redis_store", "addr", a.cfg.RedisAddr)
	return connector.NewRedisStateStore(client), nil
}

// notificationSink persists and pushes through inbox, and also publishes to
// Kafka when brokers are configured.
func (a *App) notificationSink(inbox *notify.Inbox) (notify.Sink, error) {
	if len(a.cfg.KafkaBrokers) == 0 {
		return inbox, nil
	}
	k, err := notify.NewKafkaSink(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closer{name: "kafka", close: k.Close})
	a.log.Info("notify.kafka.enabled", "topic", a.cfg.KafkaTopic, "brokers", len(a.cfg.KafkaBrokers))
	return notify.Multi{inbox, k}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, routes{
		dbPool:  a.dbPool,
		redis:   a.redis,
		metrics: a.metrics,
		ws:      a.ws,
		webhook: a.webhook,
		api:     a.api,
	})

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http", base,
		"ws", wsBaseURL(base)+"/ws",
		"public_url", a.cfg.PublicURL,
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
		"kafka_enabled", len(a.cfg.KafkaBrokers) > 0,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeAll()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeAll()
		return err
	}

	a.closeAll()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.log.Error("shutdown.close.fail", "resource", c.name, "err", err)
		}
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
