package clients_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/api"
	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/clients"
	"libraryhub/internal/membership"
	"libraryhub/internal/store/memstore"
)

func newServer(t *testing.T, opts api.Options) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Logger = logger
	store := memstore.New()
	srv := httptest.NewServer(api.NewRouter(api.Services{
		Catalog:     catalog.NewService(store, logger),
		Membership:  membership.NewService(store, logger),
		Circulation: circulation.NewService(store, circulation.WithLogger(logger)),
	}, opts))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LendingRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := clients.NewClient(newServer(t, api.Options{}).URL + "/")

	require.NoError(t, c.Health(ctx))

	book, err := c.CreateBook(ctx, catalog.BookDetails{
		Title: "Hyperion", Author: "Dan Simmons", PublicationYear: 1989, ISBN: "0-385-24949-7",
	})
	require.NoError(t, err)

	found, err := c.FindBookByISBN(ctx, "0-385-24949-7")
	require.NoError(t, err)
	assert.Equal(t, book.ID, found.ID)

	p1, err := c.CreatePatron(ctx, membership.PatronDetails{Name: "Sol", ContactInformation: "sol@hyperion.example"})
	require.NoError(t, err)
	p2, err := c.CreatePatron(ctx, membership.PatronDetails{Name: "Brawne", ContactInformation: "brawne@hyperion.example"})
	require.NoError(t, err)

	record, err := c.Borrow(ctx, book.ID, p1.ID)
	require.NoError(t, err)
	assert.True(t, record.Open())

	_, err = c.Borrow(ctx, book.ID, p2.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	var apiErr *clients.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "book unavailable", apiErr.Message)

	_, err = c.Return(ctx, book.ID, p2.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	record, err = c.Return(ctx, book.ID, p1.ID)
	require.NoError(t, err)
	assert.False(t, record.Open())

	records, err := c.ListRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	c := clients.NewClient(newServer(t, api.Options{}).URL)

	_, err := c.GetBook(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.GetPatron(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = c.CreateBook(ctx, catalog.BookDetails{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, err = c.FindBookByISBN(ctx, "9780000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClient_Token(t *testing.T) {
	ctx := context.Background()
	hash, err := api.HashToken("letmein")
	require.NoError(t, err)
	srv := newServer(t, api.Options{TokenHash: hash})

	details := membership.PatronDetails{Name: "Jane", ContactInformation: "jane@example.com"}

	_, err = clients.NewClient(srv.URL).CreatePatron(ctx, details)
	var apiErr *clients.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	_, err = clients.NewClient(srv.URL, clients.WithToken("letmein")).CreatePatron(ctx, details)
	assert.NoError(t, err)
}
