// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, details BookDetails) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	FindByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, details BookDetails) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
}

// Repository is the book half of the record store.
//
// Lookups of a missing book fail with apperr.NotFound("book"). Writes that
// collide with the ISBN uniqueness or with borrowing records referencing the
// book fail with an apperr.ConflictError.
type Repository interface {
	CreateBook(ctx context.Context, book *Book) error
	FindBookByID(ctx context.Context, id uuid.UUID) (*Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	UpdateBook(ctx context.Context, book *Book) error
	DeleteBook(ctx context.Context, id uuid.UUID) error
}
