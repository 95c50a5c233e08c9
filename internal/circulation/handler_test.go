package circulation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/circulation"
)

func newTestRouter(svc circulation.Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", circulation.NewHandler(svc, nil).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_BorrowAndReturn(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f.service())

	borrowPath := "/api/borrow/" + f.book.String() + "/patron/" + f.patron.String()
	returnPath := "/api/return/" + f.book.String() + "/patron/" + f.patron.String()

	rec := do(t, h, http.MethodPost, borrowPath)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var record circulation.BorrowingRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Nil(t, record.ReturnDate)
	require.NotNil(t, record.Book)
	assert.Equal(t, f.book, record.Book.ID)

	rec = do(t, h, http.MethodPost, "/api/borrow/"+f.book.String()+"/patron/"+f.patron2.String())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"book unavailable"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, "/api/return/"+f.book.String()+"/patron/"+f.patron2.String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"active loan not found"}`, rec.Body.String())

	rec = do(t, h, http.MethodPut, returnPath)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.NotNil(t, record.ReturnDate)

	rec = do(t, h, http.MethodGet, "/api/borrowingRecords")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []circulation.BorrowingRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f.service())

	tests := []struct {
		name   string
		method string
		path   string
		status int
		body   string
	}{
		{"bad book id", http.MethodPost, "/api/borrow/nope/patron/" + f.patron.String(), http.StatusBadRequest, `{"error":"bookId: invalid book ID"}`},
		{"bad patron id", http.MethodPut, "/api/return/" + f.book.String() + "/patron/nope", http.StatusBadRequest, `{"error":"patronId: invalid patron ID"}`},
		{"unknown book", http.MethodPost, "/api/borrow/" + uuid.NewString() + "/patron/" + f.patron.String(), http.StatusNotFound, `{"error":"book not found"}`},
		{"unknown patron", http.MethodPost, "/api/borrow/" + f.book.String() + "/patron/" + uuid.NewString(), http.StatusNotFound, `{"error":"patron not found"}`},
		{"wrong method", http.MethodGet, "/api/borrow/" + f.book.String() + "/patron/" + f.patron.String(), http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestHandler_RecordEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("without journal", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service()
		h := newTestRouter(svc)

		record, err := svc.Borrow(ctx, f.book, f.patron)
		require.NoError(t, err)

		rec := do(t, h, http.MethodGet, "/api/borrowingRecords/"+record.ID.String()+"/events")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("with journal", func(t *testing.T) {
		f := newFixture(t)
		svc := f.service(circulation.WithJournal(newMemJournal()))
		h := newTestRouter(svc)

		record, err := svc.Borrow(ctx, f.book, f.patron)
		require.NoError(t, err)

		rec := do(t, h, http.MethodGet, "/api/borrowingRecords/"+record.ID.String()+"/events")
		require.Equal(t, http.StatusOK, rec.Code)

		var events []struct {
			EventType string `json:"event_type"`
			Version   int    `json:"version"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		require.Len(t, events, 1)
		assert.Equal(t, circulation.EventBookBorrowed, events[0].EventType)

		rec = do(t, h, http.MethodGet, "/api/borrowingRecords/"+uuid.NewString()+"/events")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
