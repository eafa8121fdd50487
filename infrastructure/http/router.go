package http

import (
	"ephemeral-chat/auth"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 30 * time.Second

func NewRouter(h *Handler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middlewareChi.Recoverer)

	r.Route("/api/rooms", func(rm chi.Router) {
		rm.Use(auth.TokenMiddleware)
		rm.With(middlewareChi.Timeout(requestTimeout)).Post("/", h.CreateRoom)

		rm.Route("/{id}", func(rr chi.Router) {
			// The event stream is long-lived and must escape the request timeout.
			rr.Get("/events", h.Events)

			rr.Group(func(pr chi.Router) {
				pr.Use(middlewareChi.Timeout(requestTimeout))
				pr.Get("/", h.GetRoom)
				pr.Delete("/", h.DestroyRoom)
				pr.Post("/join", h.JoinRoom)
				pr.Get("/ttl", h.GetTTL)
				pr.Get("/messages", h.GetMessages)
				pr.Post("/messages", h.PostMessage)
			})
		})
	})

	r.Get("/healthz", h.Health)
	return r
}

// RequestLogger logs one line per request, tagged with chi's request id.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middlewareChi.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("HTTP request",
					"request_id", middlewareChi.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
