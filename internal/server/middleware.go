// File: internal/server/middleware.go
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
	headerSignature     = "X-Twilio-Signature"
)

type principalKey struct{}

// Principal is the authenticated console user behind a UI request
type Principal struct {
	UserID   string
	TenantID string
}

// ConsoleClaims are the bearer token claims issued by the fleet console
type ConsoleClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// traceMiddleware attaches request and correlation ids to the context
func (s *HTTPServer) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := utils.WithTraceID(r.Context(), requestID)
		ctx = utils.WithCorrelationID(ctx, r.Header.Get(headerCorrelationID))

		w.Header().Set(headerRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapper.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
			"request_id":  utils.AmbientTraceID(r.Context()),
		}).Debug("HTTP request")
	})
}

// metricsMiddleware records HTTP request metrics
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapper, r)

		s.deps.Metrics.GetPrometheusMetrics().RecordHTTPRequest(
			r.Method,
			s.getRoutePath(r),
			strconv.Itoa(wrapper.statusCode),
			time.Since(start),
		)
	})
}

// corsMiddleware lets the console call the acknowledgement endpoint
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware sheds load from provider endpoints
func (s *HTTPServer) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// signatureMiddleware verifies provider callback signatures. Without a
// configured secret the check is skipped outside production and every
// request is rejected in production.
func (s *HTTPServer) signatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenant"]
		if err := r.ParseForm(); err != nil {
			s.rejectCallback(w, r, tenantID, "unparseable form")
			return
		}

		secret := ""
		if s.deps.Secrets != nil {
			secret = s.deps.Secrets.CallbackSecret(tenantID)
		}
		if secret == "" {
			if s.app.IsProduction() {
				s.rejectCallback(w, r, tenantID, "no callback secret configured")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(headerSignature)
		if signature == "" || !utils.ValidSignature(secret, s.callbackURL(r), r.PostForm, signature) {
			s.rejectCallback(w, r, tenantID, "invalid signature")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) rejectCallback(w http.ResponseWriter, r *http.Request, tenantID, reason string) {
	s.logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
		"reason":      reason,
	}).Warn("Rejected provider callback")
	s.deps.Metrics.GetPrometheusMetrics().RecordCallback(callbackKind(r.URL.Path), "unauthorized")
	w.WriteHeader(http.StatusUnauthorized)
}

// callbackURL rebuilds the URL the provider signed
func (s *HTTPServer) callbackURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// authMiddleware validates console bearer tokens
func (s *HTTPServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.JWTSecret == "" {
			s.writeError(w, http.StatusUnauthorized, "Authentication is not configured", nil)
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			s.writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if s.auth.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(s.auth.Issuer))
		}
		claims := &ConsoleClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(s.auth.JWTSecret), nil
		}, opts...)
		if err != nil || !token.Valid {
			s.writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}
		if claims.Subject == "" || claims.TenantID == "" {
			s.writeError(w, http.StatusUnauthorized, "Token is missing subject or tenant", nil)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, Principal{
			UserID:   claims.Subject,
			TenantID: claims.TenantID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// getRoutePath extracts the route template from the request
func (s *HTTPServer) getRoutePath(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}

	template, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}

	return template
}
