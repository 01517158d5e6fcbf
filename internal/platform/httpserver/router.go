package httpserver

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/video-collab/internal/platform/api"
	"github.com/example/video-collab/internal/platform/metrics"
)

// RouterConfig customizes SetupRouter. The zero value is valid.
type RouterConfig struct {
	// ReadyFunc backs /readyz; nil means always ready.
	ReadyFunc func() error
	// CORSOrigins is a comma separated allow list; empty falls back to
	// CORS_ALLOWED_ORIGINS, then "*".
	CORSOrigins string
	// Registry enables request metrics and serves it on /metrics.
	Registry *prometheus.Registry
}

// SetupRouter attaches base middlewares and common endpoints.
// IMPORTANT: must be called before registering any routes.
func SetupRouter(r chi.Router, cfg ...RouterConfig) {
	var c RouterConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware("X-Request-Id"))
	if c.Registry != nil {
		r.Use(metrics.NewHTTP(c.Registry).Middleware)
	}

	raw := c.CORSOrigins
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv("CORS_ALLOWED_ORIGINS")
	}
	origins := parseCORSOrigins(raw)
	wildcard := len(origins) == 1 && origins[0] == "*"
	// Cookie auth needs credentials, which browsers refuse with a wildcard.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if c.ReadyFunc != nil {
			if err := c.ReadyFunc(); err != nil {
				api.Unavailable(w, err.Error(), RequestIDFromContext(req.Context()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if c.Registry != nil {
		r.Handle("/metrics", metrics.Handler(c.Registry))
	}
}

func parseCORSOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
