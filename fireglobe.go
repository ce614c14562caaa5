// Package fireglobe is the public API for embedding the FireGlobe relay: the
// HTTP server that pins test run documents to IPFS and records them in
// Postgres for the dashboard.
//
//	app, err := fireglobe.New(
//	    fireglobe.WithVersion(version),
//	    fireglobe.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports it. Public
// extension types live in interfaces.go and are adapted here.
package fireglobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/Marshal-AM/fireglobe/api"
	"github.com/Marshal-AM/fireglobe/internal/authz"
	"github.com/Marshal-AM/fireglobe/internal/config"
	"github.com/Marshal-AM/fireglobe/internal/ipfs"
	"github.com/Marshal-AM/fireglobe/internal/mcp"
	"github.com/Marshal-AM/fireglobe/internal/ratelimit"
	"github.com/Marshal-AM/fireglobe/internal/server"
	"github.com/Marshal-AM/fireglobe/internal/service/relay"
	"github.com/Marshal-AM/fireglobe/internal/sources"
	"github.com/Marshal-AM/fireglobe/internal/storage"
	"github.com/Marshal-AM/fireglobe/internal/telemetry"
	"github.com/Marshal-AM/fireglobe/migrations"
)

// shutdownTimeout bounds the HTTP drain when Run's context is cancelled.
const shutdownTimeout = 15 * time.Second

// App is the relay lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the relay. It connects to the database, runs migrations,
// wires all subsystems, and returns a ready-to-run App. It does NOT accept
// HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("fireglobe relay starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}

	if cfg.SkipMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}

	var content ipfs.Store
	if o.contentStore != nil {
		content = &contentStoreAdapter{s: o.contentStore}
	} else {
		content, err = newContentStore(cfg)
		if err != nil {
			db.Close()
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("content store: %w", err)
		}
	}
	if content.Configured() {
		logger.Info("content store: enabled", "store", content.Name())
	} else {
		logger.Warn("content store: not configured, uploads will fail", "store", content.Name())
	}

	tokens := authz.NewTokenCache(db, cfg.TokenCacheSize, cfg.TokenCacheTTL)
	fetcher := sources.NewFetcher(cfg.BackendURL, cfg.MetricsURL, cfg.FetchTimeout, nil)

	relaySvc := relay.New(relay.Config{
		Store:      db,
		Auth:       tokens,
		Sources:    fetcher,
		Content:    content,
		GatewayURL: cfg.IPFSGatewayURL,
		BackendURL: cfg.BackendURL,
		MetricsURL: cfg.MetricsURL,
		Version:    version,
		Logger:     logger,
	})

	mcpSrv := mcp.New(relaySvc, logger, version)

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if cfg.RateLimitRPS > 0 {
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		logger.Info("rate limiting: disabled")
	}

	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux) { fn(mux) })
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.ServerConfig{
		Relay:               relaySvc,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		RouteRegistrars:     extraRoutes,
		Middlewares:         middlewares,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. On return, Shutdown has been called; callers should not call it
// separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes the rate limiter, the
// database pool and the OTEL exporters.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("fireglobe relay shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	err := a.srv.Shutdown(httpCtx)
	cancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("fireglobe relay stopped")
	return err
}

// newContentStore builds the IPFS store selected by IPFS_STORE.
func newContentStore(cfg config.Config) (ipfs.Store, error) {
	switch cfg.IPFSStore {
	case config.StoreS3:
		return ipfs.NewS3Store(ipfs.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return ipfs.NewLighthouseStore(cfg.LighthouseAPIKey, cfg.LighthouseUploadURL, nil), nil
	}
}

// contentStoreAdapter exposes a public ContentStore as an ipfs.Store.
type contentStoreAdapter struct {
	s ContentStore
}

func (a *contentStoreAdapter) Name() string     { return a.s.Name() }
func (a *contentStoreAdapter) Configured() bool { return true }

func (a *contentStoreAdapter) Put(ctx context.Context, name string, data []byte) (ipfs.Object, error) {
	hash, err := a.s.Put(ctx, name, data)
	if err != nil {
		return ipfs.Object{}, err
	}
	return ipfs.Object{Name: name, Hash: hash, Size: int64(len(data))}, nil
}
