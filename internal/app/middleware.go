package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"flux/api/internal/auth"
)

type sessionKey struct{}

func sessionFrom(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(Session)
	return session, ok
}

// requestLogger logs one line per request. It runs after middleware.RequestID
// so the chi request id is echoed back to the caller.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := middleware.GetReqID(r.Context())
			started := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set("X-Request-ID", requestID)
			ww.Header().Set("Cache-Control", "no-store")

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				log.Info("request",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int64("duration_ms", time.Since(started).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			"Content-Disposition",
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		options.AllowedOrigins = []string{"*"}
		options.AllowCredentials = false
	}
	return cors.Handler(options)
}

// requireSession rejects requests without a valid bearer token and stores
// the session in the request context.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeDomainError(w, errUnauthorized())
			return
		}
		session, err := s.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeDomainError(w, errUnauthorized())
				return
			}
			var domainErr *DomainError
			if errors.As(err, &domainErr) {
				writeDomainError(w, domainErr)
				return
			}
			s.log.Error("session lookup failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, codeServerError, "Internal server error", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}
