package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/dagaz/internal/apperr"
	"github.com/starford/dagaz/internal/checksum"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
)

const maxUploadBytes = 20 << 20 // 20 MB

// imageExtensions maps sniffed content types to storage key extensions.
var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Handler holds API route handlers.
type Handler struct {
	runner *pipeline.Runner
	db     *persistence.DB
	blobs  storage.Provider
}

// NewHandler creates a new Handler.
func NewHandler(runner *pipeline.Runner, db *persistence.DB, blobs storage.Provider) *Handler {
	return &Handler{runner: runner, db: db, blobs: blobs}
}

// UploadImage handles POST /api/images (multipart/form-data, field "file").
// The storage key is derived from the content hash, so re-uploading the same
// photo lands on the same key.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read upload"))
		return
	}
	if len(data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("empty upload"))
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody("unsupported image type: "+contentType))
		return
	}

	key := "uploads/" + checksum.Sum(data) + ext
	if err := h.blobs.Put(key, data, contentType); err != nil {
		slog.Error("image upload failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"image_key":    key,
		"content_type": contentType,
		"size":         len(data),
	})
}

// ProcessImage handles POST /api/pipeline: runs the full photo-to-calendar
// pipeline synchronously and returns its result. Progress is streamed
// separately over SSE.
func (h *Handler) ProcessImage(w http.ResponseWriter, r *http.Request) {
	var in pipeline.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if in.ImageKey == "" || in.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("image_key and user_id are required"))
		return
	}

	res, err := h.runner.Run(r.Context(), in)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// writePipelineError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writePipelineError(w http.ResponseWriter, err error) {
	var verr *apperr.ValidationError
	var rerr *apperr.RemoteError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrCredentialMissing):
		writeJSON(w, http.StatusUnauthorized, errorBody("calendar authorization required"))
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "event validation failed",
			"fields": verr.Fields,
		})
	case errors.As(err, &rerr):
		slog.Error("calendar rejected event", slog.Int("status", rerr.Status), slog.String("body", rerr.Body))
		writeJSON(w, http.StatusBadGateway, errorBody("calendar service rejected the event"))
	default:
		slog.Error("pipeline run failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListEvents handles GET /api/events?user_id=...&limit=...&offset=...
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("user_id is required"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	events, err := h.db.ListEvents(r.Context(), userID, limit, offset)
	if err != nil {
		slog.Error("list events failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetEvent handles GET /api/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.db.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get event failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteEvent handles DELETE /api/events/{id}. It removes only the local
// record; the remote calendar event is left alone.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.db.DeleteEvent(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("delete event failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
