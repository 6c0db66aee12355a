package router

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/internal/user"
	"github.com/ovaphlow/pitchfork/service-sherpa-broker/pkg/utilities"
)

const (
	HeaderVersion   = "ADMIN-VERSION"
	HeaderRequestID = "X-Request-ID"
)

type ctxKey struct{}

// RequestID returns the id LoggingMiddleware assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

func (lrw *loggingResponseWriter) statusCode() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}

// LoggingMiddleware tags each request with an id (reusing X-Request-ID when
// the caller sent one) and logs it at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = utilities.NewRequestID()
			}
			w.Header().Set(HeaderRequestID, id)
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))

			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			logger.Debugw("http request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", lrw.statusCode(),
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VersionMiddleware stamps every /api response with the deployed version.
func VersionMiddleware(version string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				w.Header().Set(HeaderVersion, version)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResponseTimeMiddleware reports a count and the response time in
// milliseconds, once process-wide and once for the matched route pattern.
// It must wrap the mux so the pattern is known after dispatch.
func ResponseTimeMiddleware(sink metrics.Sink) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			ms := float64(time.Since(start).Microseconds()) / 1000.0

			sink.Increment("", "count")
			sink.Measure("", "response-time", ms)
			if r.Pattern != "" {
				sink.Increment(r.Pattern, "count")
				sink.Measure(r.Pattern, "response-time", ms)
			}
		})
	}
}

// Options carries what RegisterRoutes mounts.
type Options struct {
	Logger  *zap.SugaredLogger
	Version string
	Metrics metrics.Sink
	User    *user.Handler
}

// RegisterRoutes mounts the broker's HTTP surface on a http.ServeMux.
func RegisterRoutes(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sink := opts.Metrics
	if sink == nil {
		sink = metrics.Nop{}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("User-agent: *\r\nDisallow: /"))
	})

	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": opts.Version})
	})

	if opts.User != nil {
		mux.HandleFunc("GET /api/user/me", opts.User.Me)
		mux.HandleFunc("POST /api/user/login", opts.User.Login)
		mux.HandleFunc("POST /api/user/login/admin-code", opts.User.AdminCodeLogin)
	}

	var handler http.Handler = mux
	handler = ResponseTimeMiddleware(sink)(handler)
	handler = VersionMiddleware(opts.Version)(handler)
	handler = SecurityHeadersMiddleware()(handler)
	handler = LoggingMiddleware(logger)(handler)
	return handler
}
