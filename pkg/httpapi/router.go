// Package httpapi exposes the session registry as a thin CRUD surface.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BrnEnd/AgenteAutonomoWPP/pkg/session"
)

// Info is static deployment metadata reported by the health endpoint.
type Info struct {
	Provider           string
	Model              string
	Transport          string
	RecorderConfigured bool
}

// Handlers binds the HTTP routes to the session manager.
type Handlers struct {
	mgr     *session.Manager
	info    Info
	log     zerolog.Logger
	started time.Time
}

func NewHandlers(mgr *session.Manager, info Info, log zerolog.Logger) *Handlers {
	return &Handlers{mgr: mgr, info: info, log: log, started: time.Now()}
}

// Router assembles the API routes.
func (h *Handlers) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)
	r.Get("/status", h.aggregateStatus)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/status", h.sessionStatus)
			r.Get("/qr", h.sessionPairing)
			r.Patch("/", h.patchSession)
			r.Delete("/", h.deleteSession)
			r.Post("/send", h.sendMessage)
		})
	})

	return r
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
