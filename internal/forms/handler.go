package forms

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/logging"
)

// Handler serves the read-only forms API used by dashboards and the
// chat widget.
type Handler struct {
	repo      *Repository
	directory *Directory
	logger    *logging.Logger
}

func NewHandler(repo *Repository, directory *Directory, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("forms: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, directory: directory, logger: logger.Named("forms")}
}

// Routes mounts the forms endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/refresh", h.Refresh)
	r.Get("/{formID}", h.Get)
	r.Get("/{formID}/questions", h.Questions)
	return r
}

// Refresh drops the cached form directory so newly published forms
// become matchable before the cache TTL elapses.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory not configured")
		return
	}
	if err := h.directory.Invalidate(r.Context()); err != nil {
		h.logger.Error("failed to invalidate form directory", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to refresh directory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	forms, err := h.repo.ListForms(r.Context())
	if err != nil {
		h.logger.Error("failed to list forms", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list forms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form id")
		return
	}
	form, err := h.repo.GetForm(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			writeError(w, http.StatusNotFound, "form not found")
			return
		}
		h.logger.Error("failed to get form", "form_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get form")
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form id")
		return
	}
	questions, err := h.repo.GetQuestionsOrdered(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrFormNotFound) {
			writeError(w, http.StatusNotFound, "form not found")
			return
		}
		h.logger.Error("failed to get questions", "form_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get questions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
