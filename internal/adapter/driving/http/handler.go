package http

import (
	"net/http"
	"time"

	"github.com/developer-khadim/Business-nexus/internal/auth"
	"github.com/developer-khadim/Business-nexus/internal/core/port"
	"github.com/developer-khadim/Business-nexus/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

type Options struct {
	// AllowedOrigins empty accepts any browser origin.
	AllowedOrigins []string
	// RateLimit is messages per second per socket; zero disables limiting.
	RateLimit float64
	RateBurst int
}

type Handler struct {
	relay   *service.Relay
	auth    *auth.Manager
	metrics port.RelayMetrics
	exposed http.Handler
	opts    Options
	now     func() time.Time
}

// NewHandler builds the relay's HTTP surface. With a nil auth manager the
// user id is taken from the userId query parameter, which is only meant for
// development.
func NewHandler(relay *service.Relay, am *auth.Manager, metrics port.RelayMetrics, exposed http.Handler, opts Options) *Handler {
	return &Handler{
		relay:   relay,
		auth:    am,
		metrics: metrics,
		exposed: exposed,
		opts:    opts,
		now:     time.Now,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if h.exposed != nil {
		r.Method(http.MethodGet, "/metrics", h.exposed)
	}
	return r
}

func (h *Handler) limiter() *rate.Limiter {
	if h.opts.RateLimit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := h.opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.opts.RateLimit), burst)
}
