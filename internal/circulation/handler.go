// internal/circulation/handler.go
package circulation

import (
	"errors"
	"log/slog"
	"net/http"

	"libraryhub/internal/apperr"
	"libraryhub/internal/respond"
	"libraryhub/pkg/eventstore"

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

// Routes mounts the borrow/return workflow and the record listing on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/borrow/{bookId}/patron/{patronId}", h.HandleBorrow)
	r.Put("/return/{bookId}/patron/{patronId}", h.HandleReturn)
	r.Get("/borrowingRecords", h.HandleListRecords)
	r.Get("/borrowingRecords/{id}/events", h.HandleRecordEvents)
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	bookID, patronID, err := loanParams(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	record, err := h.service.Borrow(r.Context(), bookID, patronID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, record)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	bookID, patronID, err := loanParams(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	record, err := h.service.Return(r.Context(), bookID, patronID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, record)
}

func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListRecords(r.Context())
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if records == nil {
		records = []*BorrowingRecord{}
	}
	respond.JSON(w, http.StatusOK, records)
}

func (h *Handler) HandleRecordEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, r, h.logger, apperr.Invalid("id", "invalid borrowing record ID"))
		return
	}

	events, err := h.service.RecordHistory(r.Context(), id)
	if errors.Is(err, ErrJournalDisabled) {
		respond.JSON(w, http.StatusNotImplemented, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	respond.JSON(w, http.StatusOK, events)
}

func loanParams(r *http.Request) (bookID, patronID uuid.UUID, err error) {
	bookID, err = uuid.Parse(chi.URLParam(r, "bookId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Invalid("bookId", "invalid book ID")
	}
	patronID, err = uuid.Parse(chi.URLParam(r, "patronId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, apperr.Invalid("patronId", "invalid patron ID")
	}
	return bookID, patronID, nil
}
