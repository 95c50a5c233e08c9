// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"libraryhub/internal/catalog"
)

func (c *Client) CreateBook(ctx context.Context, details catalog.BookDetails) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodPost, "/api/books", details, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books/"+id.String(), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// FindBookByISBN returns the book registered under isbn.
func (c *Client) FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error) {
	var books []*catalog.Book
	if err := c.do(ctx, http.MethodGet, "/api/books?isbn="+url.QueryEscape(isbn), nil, &books); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, &APIError{StatusCode: http.StatusNotFound, Message: "book not found"}
	}
	return books[0], nil
}
