// Package httpapi exposes the session REST surface, the websocket endpoint,
// and the operational endpoints (health, readiness, metrics).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tipcast/internal/session"
	"tipcast/internal/tips"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	rateLimit        = 100
)

// API wires the stores into HTTP handlers.
type API struct {
	sessions       *session.Store
	ledger         *tips.Ledger
	frontendOrigin string
	log            zerolog.Logger
}

// New constructs the API layer.
func New(sessions *session.Store, ledger *tips.Ledger, frontendOrigin string, log zerolog.Logger) *API {
	return &API{
		sessions:       sessions,
		ledger:         ledger,
		frontendOrigin: frontendOrigin,
		log:            log.With().Str("component", "httpapi").Logger(),
	}
}

// Routes builds the chi router. ws handles websocket upgrades and may be nil
// in tests that only exercise the REST surface.
func (a *API) Routes(allowedOrigins []string, ws http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(rateLimit, time.Minute))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", a.handleCreateSession)
		r.Get("/", a.handleListSessions)
		r.Get("/{id}", a.handleGetSession)
		r.Get("/{id}/tips", a.handleListTips)
		r.Patch("/{id}/end", a.handleEndSession)
	})

	return r
}
