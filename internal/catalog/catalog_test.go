package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/store/memstore"
)

func validDetails() catalog.BookDetails {
	return catalog.BookDetails{
		Title:           "Dune",
		Author:          "Frank Herbert",
		PublicationYear: 1965,
		ISBN:            "978-0-441-17271-9",
	}
}

func TestBookDetails_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*catalog.BookDetails)
		field  string
	}{
		{"valid", func(*catalog.BookDetails) {}, ""},
		{"blank title", func(d *catalog.BookDetails) { d.Title = "  " }, "title"},
		{"long title", func(d *catalog.BookDetails) { d.Title = strings.Repeat("x", 256) }, "title"},
		{"blank author", func(d *catalog.BookDetails) { d.Author = "" }, "author"},
		{"year before 1000", func(d *catalog.BookDetails) { d.PublicationYear = 999 }, "publication_year"},
		{"isbn with letters", func(d *catalog.BookDetails) { d.ISBN = "97804411727X9" }, "isbn"},
		{"isbn with 12 digits", func(d *catalog.BookDetails) { d.ISBN = "978044117271" }, "isbn"},
		{"isbn-10", func(d *catalog.BookDetails) { d.ISBN = "0-441-17271-7" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDetails()
			tt.mutate(&d)
			err := d.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ie apperr.InvalidError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc := catalog.NewService(memstore.New(), nil)

	book, err := svc.AddBook(ctx, validDetails())
	require.NoError(t, err)
	assert.Equal(t, "Dune", book.Title)

	_, err = svc.AddBook(ctx, validDetails())
	assert.ErrorIs(t, err, apperr.ErrConflict, "duplicate isbn")

	found, err := svc.FindByISBN(ctx, "978-0-441-17271-9")
	require.NoError(t, err)
	assert.Equal(t, book.ID, found.ID)

	details := validDetails()
	details.Title = "Dune (40th anniversary)"
	updated, err := svc.UpdateBook(ctx, book.ID, details)
	require.NoError(t, err)
	assert.Equal(t, details.Title, updated.Title)

	books, err := svc.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 1)

	require.NoError(t, svc.RemoveBook(ctx, book.ID))
	_, err = svc.GetBook(ctx, book.ID)
	assert.True(t, apperr.IsNotFound(err, "book"))
}

func TestHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/api/books", catalog.NewHandler(catalog.NewService(memstore.New(), nil), nil).Routes)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/api/books", `{"title":"Dune","author":"Frank Herbert","publication_year":1965,"isbn":"9780441172719"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodPost, "/api/books", `{"title":"","author":"x","publication_year":1965,"isbn":"9780441172719"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"title: must not be blank"}`, rec.Body.String())

	rec = do(http.MethodGet, "/api/books?isbn=9780441172719", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Dune"`)

	rec = do(http.MethodGet, "/api/books/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodDelete, "/api/books/00000000-0000-0000-0000-000000000001", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
