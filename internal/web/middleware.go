package web

import (
	"compress/gzip"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stino180/invest-simply/internal/domain"
	"go.uber.org/zap"
)

// Identifier establishes the caller of a request.
type Identifier interface {
	Identify(r *http.Request) (domain.Identity, error)
}

const (
	HeaderUserID        = "X-User-Id"
	HeaderWalletAddress = "X-Wallet-Address"
)

// HeaderIdentity trusts identity headers set by the authenticating gateway.
type HeaderIdentity struct{}

// Identify reads the caller from the gateway headers.
func (HeaderIdentity) Identify(r *http.Request) (domain.Identity, error) {
	id := domain.Identity{
		UserID:        strings.TrimSpace(r.Header.Get(HeaderUserID)),
		WalletAddress: strings.TrimSpace(r.Header.Get(HeaderWalletAddress)),
	}
	if id.UserID == "" || id.WalletAddress == "" {
		return domain.Identity{}, errUnauthenticated
	}
	return id, nil
}

type identityKey struct{}

func identityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey{}).(domain.Identity)
	return id
}

func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.identity.Identify(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

// gzipJSON compresses responses for clients that accept gzip.
func gzipJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}
