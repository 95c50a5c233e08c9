// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		repo:   repo,
		logger: logger.With("component", "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddBook validates the details and stores a new book.
func (s *service) AddBook(ctx context.Context, details BookDetails) (*Book, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	book := &Book{
		ID:              uuid.New(),
		Title:           details.Title,
		Author:          details.Author,
		PublicationYear: details.PublicationYear,
		ISBN:            details.ISBN,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.CreateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to add book: %w", err)
	}

	s.logger.InfoContext(ctx, "book added", "book_id", book.ID, "isbn", book.ISBN)
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	book, err := s.repo.FindBookByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// FindByISBN looks a book up by its unique ISBN.
func (s *service) FindByISBN(ctx context.Context, isbn string) (*Book, error) {
	book, err := s.repo.FindBookByISBN(ctx, isbn)
	if err != nil {
		return nil, fmt.Errorf("failed to find book by isbn: %w", err)
	}
	return book, nil
}

func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	books, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// UpdateBook applies a corrective edit to an existing book.
func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, details BookDetails) (*Book, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	book, err := s.repo.FindBookByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	book.Title = details.Title
	book.Author = details.Author
	book.PublicationYear = details.PublicationYear
	book.ISBN = details.ISBN
	book.UpdatedAt = s.now()

	if err := s.repo.UpdateBook(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return book, nil
}

// RemoveBook deletes a book. The record store refuses when borrowing records
// still reference it.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteBook(ctx, id); err != nil {
		return fmt.Errorf("failed to remove book: %w", err)
	}

	s.logger.InfoContext(ctx, "book removed", "book_id", id)
	return nil
}
