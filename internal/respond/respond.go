// internal/respond/respond.go

// Package respond writes JSON responses and maps the error taxonomy onto
// HTTP status codes.
package respond

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"libraryhub/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type errorBody struct {
	Error string `json:"error"`
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Status maps err to the HTTP status of its taxonomy class.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error": "..."}. Unclassified errors are logged and
// answered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := Status(err)
	message := apperr.Message(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		message = "internal error"
	}
	JSON(w, status, errorBody{Error: message})
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("body", "must not be empty")
		}
		return apperr.Invalid("body", err.Error())
	}
	return nil
}
