// internal/catalog/handler.go
package catalog

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

// Routes mounts the book endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleAdd)
	r.Get("/{id}", h.HandleGet)
	r.Put("/{id}", h.HandleUpdate)
	r.Delete("/{id}", h.HandleRemove)
}

// HandleList lists all books, or the single book matching ?isbn=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if isbn := r.URL.Query().Get("isbn"); isbn != "" {
		book, err := h.service.FindByISBN(r.Context(), isbn)
		if err != nil {
			respond.Error(w, r, h.logger, err)
			return
		}
		respond.JSON(w, http.StatusOK, []*Book{book})
		return
	}

	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if books == nil {
		books = []*Book{}
	}
	respond.JSON(w, http.StatusOK, books)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req BookDetails
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	var req BookDetails
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, req)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := bookID(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bookID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "invalid book ID")
	}
	return id, nil
}
