// internal/membership/handler.go
package membership

import (
	"log/slog"
	"net/http"

	"libraryhub/internal/apperr"
	"libraryhub/internal/respond"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service Service
	logger  *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes mounts the patron endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleRegister)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleRemove)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	patrons, err := h.service.ListPatrons(r.Context())
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if patrons == nil {
		patrons = []*Patron{}
	}
	respond.JSON(w, http.StatusOK, patrons)
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req PatronDetails
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	patron, err := h.service.RegisterPatron(r.Context(), req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, patron)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := patronID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	patron, err := h.service.GetPatron(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, patron)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := patronID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	var req PatronDetails
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	patron, err := h.service.UpdatePatron(r.Context(), id, req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, patron)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := patronID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	if err := h.service.RemovePatron(r.Context(), id); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func patronID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid patron ID")
	}
	return id, nil
}
