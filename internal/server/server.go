// Package server assembles the gateway's dependencies and HTTP routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chain-data-gateway/internal/config"
	"github.com/chain-data-gateway/internal/forwarder"
	"github.com/chain-data-gateway/internal/handler"
	"github.com/chain-data-gateway/internal/handler/admin"
	"github.com/chain-data-gateway/internal/middleware"
	"github.com/chain-data-gateway/internal/nonce"
	"github.com/chain-data-gateway/internal/pagination"
	"github.com/chain-data-gateway/internal/registry"
	"github.com/chain-data-gateway/internal/service"
	"github.com/chain-data-gateway/internal/session"
	"github.com/chain-data-gateway/internal/store"
	"github.com/chain-data-gateway/internal/wallet"
	"github.com/chain-data-gateway/internal/x402"
)

const shutdownTimeout = 15 * time.Second

// Server owns the HTTP listener and every long-lived dependency.
type Server struct {
	cfg     *config.Config
	version string

	pool     *pgxpool.Pool
	redis    *redis.Client
	store    store.Store
	registry *registry.Registry
	nonces   nonce.Store
	builder  *x402.Builder

	router       http.Handler
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
}

// New connects to Postgres (and Redis when configured), loads the endpoint
// registry and builds the router. Nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	s := &Server{cfg: cfg, version: version}

	if cfg.RunMigrations {
		if err := store.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return nil, err
		}
		log.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.pool = pool
	s.store = store.NewPostgres(pool)

	s.registry = registry.New(s.store)
	n, err := s.registry.Reload(ctx)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("load endpoint registry: %w", err)
	}
	log.Info().Int("endpoints", n).Msg("endpoint registry loaded")

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opts)
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		s.nonces = nonce.NewRedisStore(s.redis, "gateway:nonce", cfg.NonceTTL)
		log.Info().Msg("using redis nonce store")
	} else {
		s.nonces = nonce.NewMemoryStore()
		log.Info().Msg("using in-memory nonce store")
	}

	router, err := s.buildRouter(ctx)
	if err != nil {
		s.close()
		return nil, err
	}
	s.router = router

	return s, nil
}

func (s *Server) buildRouter(ctx context.Context) (http.Handler, error) {
	cfg := s.cfg

	pricing, err := x402.NewPricing(cfg.X402ResearchPrice, cfg.X402TradingPrice)
	if err != nil {
		return nil, err
	}
	rails, err := cfg.Rails()
	if err != nil {
		return nil, err
	}
	builder, err := x402.NewBuilder(cfg.PublicBaseURL, pricing, rails...)
	if err != nil {
		return nil, err
	}
	s.builder = builder

	facilitator := x402.NewHTTPFacilitator(cfg.FacilitatorURL, &http.Client{})
	s.discoverFeePayers(ctx, facilitator)

	sessions, err := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	fwd := forwarder.New(&http.Client{}, forwarder.Config{
		CredentialHeader: cfg.UpstreamAPIKeyHeader,
		Credential:       cfg.UpstreamAPIKey,
		Timeout:          cfg.UpstreamTimeout,
	})

	gatewaySvc := service.NewGatewayService(
		s.registry,
		fwd,
		service.NewCreditService(s.store, s.store),
		service.NewPaymentService(builder, facilitator, s.store),
		pagination.Options{PageSize: cfg.PageSize, DeepPageThreshold: cfg.DeepPageThreshold},
	)
	apiKeySvc := service.NewAPIKeyService(s.store, s.store, s.store, cfg.APIKeyTestMode)
	walletSvc := service.NewWalletAuthService(
		nonce.NewAuthenticator(s.nonces, cfg.NonceTTL),
		wallet.DefaultVerifiers(),
		sessions,
	)

	authLimiter := middleware.NewAuthAttemptLimiter(10, 5*time.Minute, 15*time.Minute)
	rateLimiter := middleware.NewRateLimiter()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader, x402.HeaderPayment},
		ExposedHeaders: []string{
			x402.HeaderPaymentResponse,
			x402.HeaderSettlement,
			handler.HeaderCreditsRemaining,
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		MaxAge: 300,
	}))

	r.Get("/health", handler.NewHealthHandler(s.store, s.registry, s.version).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/endpoints", handler.NewCatalogHandler(s.registry, builder).ServeHTTP)
	r.With(
		middleware.APIKeyAuth(s.store, authLimiter, ""),
		middleware.RateLimitMiddleware(rateLimiter),
	).Get("/v1/account", handler.NewAccountHandler(apiKeySvc, rateLimiter).ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Get("/nonce", handler.NewNonceHandler(walletSvc).ServeHTTP)
		r.With(middleware.RequireJSON).Post("/verify", handler.NewVerifyHandler(walletSvc, authLimiter).ServeHTTP)
		r.With(middleware.SessionAuth(sessions, authLimiter)).Get("/session", handler.NewSessionHandler().ServeHTTP)
	})

	r.Route("/gateway", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.store, authLimiter, x402.HeaderPayment))
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
		r.Use(middleware.AnonymousRateLimit(rateLimiter, middleware.Limit{Max: cfg.AnonRateLimit, Window: time.Minute}))
		r.Handle("/*", handler.NewGatewayHandler(gatewaySvc, "/gateway", false))
	})
	r.Route("/x402", func(r chi.Router) {
		r.Use(middleware.AnonymousRateLimit(rateLimiter, middleware.Limit{Max: cfg.AnonRateLimit, Window: time.Minute}))
		r.Handle("/*", handler.NewGatewayHandler(gatewaySvc, "/x402", true))
	})

	if cfg.GoogleClientID != "" {
		googleAuth, err := middleware.NewGoogleAuth(cfg.GoogleClientID, cfg.GoogleAllowedDomain, cfg.GoogleAllowedEmails)
		if err != nil {
			return nil, fmt.Errorf("init google auth: %w", err)
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(googleAuth.Middleware(authLimiter))

			r.Get("/api-keys", admin.NewListAPIKeysHandler(apiKeySvc).ServeHTTP)
			r.With(middleware.RequireJSON).Post("/api-keys", admin.NewCreateAPIKeyHandler(apiKeySvc).ServeHTTP)
			r.Get("/api-keys/{id}", admin.NewGetAPIKeyHandler(apiKeySvc).ServeHTTP)
			r.Delete("/api-keys/{id}", admin.NewRevokeAPIKeyHandler(apiKeySvc).ServeHTTP)
			r.With(middleware.RequireJSON).Post("/api-keys/{id}/credits", admin.NewTopUpCreditsHandler(apiKeySvc).ServeHTTP)

			r.Get("/usage", admin.NewUsageLogsHandler(s.store).ServeHTTP)
			r.Get("/registry", admin.NewListRegistryHandler(s.registry).ServeHTTP)
			r.Post("/registry/reload", admin.NewReloadRegistryHandler(s.registry).ServeHTTP)
		})
	} else {
		log.Warn().Msg("GOOGLE_CLIENT_ID not set, admin API disabled")
	}

	return r, nil
}

// discoverFeePayers fills in Solana fee payers the operator did not
// configure from the facilitator's supported kinds. Failure is logged and
// startup continues; requirements then omit the fee payer.
func (s *Server) discoverFeePayers(ctx context.Context, facilitator *x402.HTTPFacilitator) {
	if s.cfg.SolanaFeePayer != "" {
		return
	}
	var solana []string
	for _, n := range s.builder.Networks() {
		if f, _ := x402.NetworkFamily(n); f == x402.FamilySolana {
			solana = append(solana, n)
		}
	}
	if len(solana) == 0 {
		return
	}

	supported, err := facilitator.Supported(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("facilitator /supported unavailable, solana fee payer unset")
		return
	}
	for _, n := range solana {
		feePayer, ok := x402.FeePayer(supported, n)
		if !ok {
			log.Warn().Str("network", n).Msg("facilitator advertises no fee payer")
			continue
		}
		s.builder.SetExtra(n, "feePayer", feePayer)
		log.Info().Str("network", n).Str("fee_payer", feePayer).Msg("solana fee payer discovered")
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, a signal arrives or the listener
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Port).Strs("networks", s.builder.Networks()).Msg("starting server")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.registry.Start(runCtx, s.cfg.RegistryRefreshInterval)
	nonce.StartSweeper(runCtx, s.nonces, s.cfg.NonceSweepInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops background work, drains in-flight requests and closes
// connections.
func (s *Server) Shutdown() error {
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	var err error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := s.httpSrv.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutdown http server: %w", shutdownErr)
		}
	}

	s.close()
	log.Info().Msg("server stopped")
	return err
}

func (s *Server) close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
