package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events/stream inside the auth
// group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Image upload.
	r.Post("/images", h.UploadImage)

	// Pipeline trigger.
	r.Post("/pipeline", h.ProcessImage)

	// Stored events.
	r.Get("/events", h.ListEvents)
	r.Get("/events/{id}", h.GetEvent)
	r.Delete("/events/{id}", h.DeleteEvent)

	// Pipeline progress stream (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events/stream", sseHandler.ServeHTTP)
	}

	return r
}
