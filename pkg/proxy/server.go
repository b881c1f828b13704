// Package proxy is the HTTP surface of the gateway: the chat stream, the
// settings and probe endpoints, and the admin routes.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme/autocert"

	"chatgate/pkg/backend"
	"chatgate/pkg/config"
	"chatgate/pkg/metrics"
	"chatgate/pkg/pricing"
	"chatgate/pkg/ratelimit"
	"chatgate/pkg/relay"
	"chatgate/pkg/secrets"
	"chatgate/pkg/store"
)

type Server struct {
	cfg     *config.ServerConfig
	store   *store.Store
	cipher  *secrets.Cipher
	pricing *pricing.Manager
	shared  config.SharedBackend
	relayer *relay.Relayer
	prober  *backend.Prober
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	log     zerolog.Logger

	httpServer *http.Server

	activeChatRequests atomic.Int64
	draining           atomic.Bool
}

func NewServer(cfg *config.ServerConfig, st *store.Store, log zerolog.Logger) (*Server, error) {
	cipher, err := secrets.NewCipher(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("init secrets cipher: %w", err)
	}
	pricingMgr, err := pricing.NewManager(cfg.PricingTablePath, cfg.ProviderRulesPath)
	if err != nil {
		return nil, fmt.Errorf("init pricing manager: %w", err)
	}
	shared, err := config.LoadSharedBackend(cfg.SharedBackendPath)
	if err != nil {
		return nil, err
	}

	upstream := &http.Client{Timeout: time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second}

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = ratelimit.New(rdb, cfg.RateLimitPerHour)
	}

	s := &Server{
		cfg:     cfg,
		store:   st,
		cipher:  cipher,
		pricing: pricingMgr,
		shared:  shared,
		relayer: relay.New(upstream, log),
		prober:  backend.NewProber(&http.Client{Timeout: 15 * time.Second}, log),
		limiter: limiter,
		metrics: metrics.Global(),
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.chatLifecycleMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Post("/chat", s.handleChat)
		api.Post("/test_connection", s.handleTestConnection)
		api.Post("/fetch_models", s.handleFetchModels)
		api.Get("/settings", s.handleGetSettings)
		api.Post("/settings", s.handleSaveSettings)
		api.Get("/me", s.handleMe)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.adminAuthMiddleware)
		admin.Post("/reload_pricing", s.handleReloadPricing)
		admin.Post("/grant_points", s.handleGrantPoints)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0, // chat streams outlive any fixed write deadline
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	if s.cfg.TLS.Enabled {
		mgr := &autocert.Manager{
			Cache:      autocert.DirCache(s.cfg.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(s.cfg.TLS.Domain),
			Email:      s.cfg.TLS.Email,
		}

		httpsSrv := &http.Server{
			Addr:              ":443",
			Handler:           s.httpServer.Handler,
			ReadHeaderTimeout: s.httpServer.ReadHeaderTimeout,
			ReadTimeout:       s.httpServer.ReadTimeout,
			WriteTimeout:      s.httpServer.WriteTimeout,
			IdleTimeout:       s.httpServer.IdleTimeout,
			TLSConfig:         &tls.Config{GetCertificate: mgr.GetCertificate, MinVersion: tls.VersionTLS12},
		}

		httpChallenge := &http.Server{
			Addr:              ":80",
			Handler:           mgr.HTTPHandler(http.HandlerFunc(redirectHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			s.log.Info().Msg("http challenge/redirect listening on :80")
			if err := httpChallenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http challenge server: %w", err)
			}
		}()

		go func() {
			s.log.Info().Str("domain", s.cfg.TLS.Domain).Msg("https listening on :443")
			if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
		}()

		<-ctx.Done()
		s.draining.Store(true)
		s.waitForChatIdle()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpChallenge.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
		return firstErr(errCh)
	}

	go func() {
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("gateway listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	<-ctx.Done()
	s.draining.Store(true)
	s.waitForChatIdle()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(shutdownCtx)
	return firstErr(errCh)
}

func redirectHTTPS(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
}

// chatLifecycleMiddleware refuses new chat streams while draining and counts
// the in-flight ones so shutdown can wait for them.
func (s *Server) chatLifecycleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isChat := strings.HasPrefix(r.URL.Path, "/api/chat")
		if isChat && s.draining.Load() {
			w.Header().Set("Retry-After", "3")
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		if isChat {
			s.activeChatRequests.Add(1)
			defer s.activeChatRequests.Add(-1)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) waitForChatIdle() {
	deadline := time.Now().Add(30 * time.Second)
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		active := s.activeChatRequests.Load()
		if active <= 0 {
			s.log.Info().Msg("shutdown: chat streams idle")
			return
		}
		if time.Now().After(deadline) {
			s.log.Warn().Int64("active", active).Msg("shutdown: giving up on in-flight chat streams")
			return
		}
		<-t.C
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func firstErr(errCh chan error) error {
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
