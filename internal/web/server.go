// Package web exposes the trading pipeline over HTTP.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// Server HTTP API server.
type Server struct {
	Addr     string
	handler  *Handler
	identity Identifier
	logger   *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, handler *Handler, identity Identifier, logger *zap.Logger) *Server {
	if identity == nil {
		identity = HeaderIdentity{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, handler: handler, identity: identity, logger: logger}
}

// Routes returns the API mux.
func (s *Server) Routes() http.Handler {
	h := s.handler
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.Handle("POST /api/trade/buy", s.authed(h.handleBuy))
	mux.Handle("POST /api/trade/sell", s.authed(h.handleSell))
	mux.Handle("POST /api/wallet/sync", s.authed(h.handleSync))
	mux.Handle("GET /api/portfolio", s.authed(h.handlePortfolio))

	mux.Handle("POST /api/agent/ensure", s.authed(h.handleEnsureAgent))
	mux.Handle("GET /api/agent/authorization", s.authed(h.handleCheckAuthorization))
	mux.Handle("POST /api/agent/authorization", s.authed(h.handleRegisterAuthorization))
	mux.Handle("POST /api/agent/authorization/sync", s.authed(h.handleSyncAuthorization))

	mux.Handle("GET /api/dca/plans", s.authed(h.handleListPlans))
	mux.Handle("POST /api/dca/plans", s.authed(h.handleCreatePlan))
	mux.Handle("POST /api/dca/plans/{id}/pause", s.authed(h.handleSetPlanActive(false)))
	mux.Handle("POST /api/dca/plans/{id}/resume", s.authed(h.handleSetPlanActive(true)))
	mux.Handle("GET /api/dca/plans/{id}/executions", s.authed(h.handlePlanExecutions))

	return s.logRequests(gzipJSON(mux))
}

func (s *Server) newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := s.newHTTPServer(s.Addr, s.Routes())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("API server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := s.newHTTPServer(":80", manager.HTTPHandler(nil))

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := s.newHTTPServer(s.Addr, s.Routes())
	httpsSrv.TLSConfig = tlsConfig

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.logger.Info("API server listening with automatic TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
