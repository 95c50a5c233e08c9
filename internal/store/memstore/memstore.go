// internal/store/memstore/memstore.go

// Package memstore is an in-memory record store guarded by a single mutex.
package memstore

import (
	"context"
	"sync"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/store"

	"github.com/google/uuid"
)

var _ store.RecordStore = (*Store)(nil)

// Store keeps every entity in insertion order. Values are copied on the way
// in and out, so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	books   map[uuid.UUID]catalog.Book
	patrons map[uuid.UUID]membership.Patron
	loans   map[uuid.UUID]circulation.BorrowingRecord

	bookOrder   []uuid.UUID
	patronOrder []uuid.UUID
	loanOrder   []uuid.UUID
}

func New() *Store {
	return &Store{
		books:   make(map[uuid.UUID]catalog.Book),
		patrons: make(map[uuid.UUID]membership.Patron),
		loans:   make(map[uuid.UUID]circulation.BorrowingRecord),
	}
}

func (s *Store) CreateBook(ctx context.Context, book *catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isbnTaken(book.ISBN, uuid.Nil) {
		return apperr.Conflict(store.ReasonISBNTaken)
	}
	s.books[book.ID] = *book
	s.bookOrder = append(s.bookOrder, book.ID)
	return nil
}

func (s *Store) FindBookByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[id]
	if !ok {
		return nil, apperr.NotFound(circulation.EntityBook)
	}
	return &book, nil
}

func (s *Store) FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, book := range s.books {
		if book.ISBN == isbn {
			return &book, nil
		}
	}
	return nil, apperr.NotFound(circulation.EntityBook)
}

func (s *Store) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]*catalog.Book, 0, len(s.bookOrder))
	for _, id := range s.bookOrder {
		book := s.books[id]
		books = append(books, &book)
	}
	return books, nil
}

func (s *Store) UpdateBook(ctx context.Context, book *catalog.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[book.ID]; !ok {
		return apperr.NotFound(circulation.EntityBook)
	}
	if s.isbnTaken(book.ISBN, book.ID) {
		return apperr.Conflict(store.ReasonISBNTaken)
	}
	s.books[book.ID] = *book
	return nil
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[id]; !ok {
		return apperr.NotFound(circulation.EntityBook)
	}
	for _, loan := range s.loans {
		if loan.BookID == id {
			return apperr.Conflict(store.ReasonBookReferenced)
		}
	}
	delete(s.books, id)
	s.bookOrder = without(s.bookOrder, id)
	return nil
}

func (s *Store) CreatePatron(ctx context.Context, patron *membership.Patron) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.patrons[patron.ID] = *patron
	s.patronOrder = append(s.patronOrder, patron.ID)
	return nil
}

func (s *Store) FindPatronByID(ctx context.Context, id uuid.UUID) (*membership.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patron, ok := s.patrons[id]
	if !ok {
		return nil, apperr.NotFound(circulation.EntityPatron)
	}
	return &patron, nil
}

func (s *Store) ListPatrons(ctx context.Context) ([]*membership.Patron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	patrons := make([]*membership.Patron, 0, len(s.patronOrder))
	for _, id := range s.patronOrder {
		patron := s.patrons[id]
		patrons = append(patrons, &patron)
	}
	return patrons, nil
}

func (s *Store) UpdatePatron(ctx context.Context, patron *membership.Patron) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patrons[patron.ID]; !ok {
		return apperr.NotFound(circulation.EntityPatron)
	}
	s.patrons[patron.ID] = *patron
	return nil
}

func (s *Store) DeletePatron(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patrons[id]; !ok {
		return apperr.NotFound(circulation.EntityPatron)
	}
	for _, loan := range s.loans {
		if loan.PatronID == id {
			return apperr.Conflict(store.ReasonPatronReferenced)
		}
	}
	delete(s.patrons, id)
	s.patronOrder = without(s.patronOrder, id)
	return nil
}

func (s *Store) FindOpenLoanByBook(ctx context.Context, bookID uuid.UUID) (*circulation.BorrowingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.openLoan(func(r circulation.BorrowingRecord) bool {
		return r.BookID == bookID
	}), nil
}

func (s *Store) FindOpenLoanByBookAndPatron(ctx context.Context, bookID, patronID uuid.UUID) (*circulation.BorrowingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.openLoan(func(r circulation.BorrowingRecord) bool {
		return r.BookID == bookID && r.PatronID == patronID
	}), nil
}

// CreateLoan stores a new open loan. The open-loan check and the insert
// happen under one lock, so at most one of two racing loans for a book wins.
func (s *Store) CreateLoan(ctx context.Context, record *circulation.BorrowingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[record.BookID]; !ok {
		return apperr.NotFound(circulation.EntityBook)
	}
	if _, ok := s.patrons[record.PatronID]; !ok {
		return apperr.NotFound(circulation.EntityPatron)
	}
	if record.Open() && s.openLoan(func(r circulation.BorrowingRecord) bool { return r.BookID == record.BookID }) != nil {
		return apperr.Conflict(store.ReasonBookUnavailable)
	}

	s.loans[record.ID] = detach(record)
	s.loanOrder = append(s.loanOrder, record.ID)
	return nil
}

// SaveLoan writes the return date of a record that is still open.
func (s *Store) SaveLoan(ctx context.Context, record *circulation.BorrowingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.loans[record.ID]
	if !ok {
		return apperr.NotFound(circulation.EntityBorrowingRecord)
	}
	if !stored.Open() {
		return apperr.Conflict(store.ReasonLoanClosed)
	}
	if record.ReturnDate != nil {
		returnDate := *record.ReturnDate
		stored.ReturnDate = &returnDate
	}
	s.loans[record.ID] = stored
	return nil
}

func (s *Store) FindLoanByID(ctx context.Context, id uuid.UUID) (*circulation.BorrowingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return nil, apperr.NotFound(circulation.EntityBorrowingRecord)
	}
	return copyLoan(loan), nil
}

func (s *Store) ListLoans(ctx context.Context) ([]*circulation.BorrowingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loans := make([]*circulation.BorrowingRecord, 0, len(s.loanOrder))
	for _, id := range s.loanOrder {
		loans = append(loans, copyLoan(s.loans[id]))
	}
	return loans, nil
}

// caller holds s.mu
func (s *Store) isbnTaken(isbn string, except uuid.UUID) bool {
	for id, book := range s.books {
		if book.ISBN == isbn && id != except {
			return true
		}
	}
	return false
}

// caller holds s.mu
func (s *Store) openLoan(match func(circulation.BorrowingRecord) bool) *circulation.BorrowingRecord {
	for _, loan := range s.loans {
		if loan.Open() && match(loan) {
			return copyLoan(loan)
		}
	}
	return nil
}

func detach(record *circulation.BorrowingRecord) circulation.BorrowingRecord {
	stored := *copyLoan(*record)
	stored.Book = nil
	stored.Patron = nil
	return stored
}

func copyLoan(loan circulation.BorrowingRecord) *circulation.BorrowingRecord {
	if loan.ReturnDate != nil {
		returnDate := *loan.ReturnDate
		loan.ReturnDate = &returnDate
	}
	return &loan
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
