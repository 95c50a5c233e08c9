// internal/store/storetest/storetest.go

// Package storetest holds the behaviour every store.RecordStore adapter must
// show. Adapter tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/store"
)

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.RecordStore) {
	t.Run("books", func(t *testing.T) { testBooks(t, newStore(t)) })
	t.Run("patrons", func(t *testing.T) { testPatrons(t, newStore(t)) })
	t.Run("loans", func(t *testing.T) { testLoans(t, newStore(t)) })
	t.Run("referenced entities cannot be deleted", func(t *testing.T) { testReferences(t, newStore(t)) })
	t.Run("racing loans for one book", func(t *testing.T) { testLoanRace(t, newStore(t)) })
	t.Run("lists keep creation order", func(t *testing.T) { testCreationOrder(t, newStore(t)) })
}

var isbnSeq struct {
	sync.Mutex
	n int
}

// NewBook returns a valid book with a unique ISBN.
func NewBook(title string) *catalog.Book {
	isbnSeq.Lock()
	isbnSeq.n++
	n := isbnSeq.n
	isbnSeq.Unlock()

	now := time.Now().UTC().Truncate(time.Second)
	return &catalog.Book{
		ID:              uuid.New(),
		Title:           title,
		Author:          "Frank Herbert",
		PublicationYear: 1965,
		ISBN:            isbn13(n),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func isbn13(n int) string {
	// random digits keep repeated runs against a shared database apart
	id := uuid.New()
	digits := []byte("978")
	for _, b := range id[:5] {
		digits = append(digits, '0'+b%10)
	}
	for i := 0; i < 5; i++ {
		digits = append(digits, '0'+byte(n%10))
		n /= 10
	}
	return string(digits)
}

// NewPatron returns a valid patron.
func NewPatron(name string) *membership.Patron {
	now := time.Now().UTC().Truncate(time.Second)
	return &membership.Patron{
		ID:                 uuid.New(),
		Name:               name,
		ContactInformation: "reader@example.com",
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NewLoan returns an open loan dated today.
func NewLoan(bookID, patronID uuid.UUID) *circulation.BorrowingRecord {
	return &circulation.BorrowingRecord{
		ID:         uuid.New(),
		BookID:     bookID,
		PatronID:   patronID,
		BorrowDate: circulation.Day(time.Now()),
	}
}

func testBooks(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	book := NewBook("Dune")
	require.NoError(t, s.CreateBook(ctx, book))

	got, err := s.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, book.ISBN, got.ISBN)

	got, err = s.FindBookByISBN(ctx, book.ISBN)
	require.NoError(t, err)
	assert.Equal(t, book.ID, got.ID)

	duplicate := NewBook("Dune Messiah")
	duplicate.ISBN = book.ISBN
	assert.ErrorIs(t, s.CreateBook(ctx, duplicate), apperr.ErrConflict)

	book.Title = "Dune (revised)"
	require.NoError(t, s.UpdateBook(ctx, book))
	got, err = s.FindBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune (revised)", got.Title)

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(books, func(b *catalog.Book) uuid.UUID { return b.ID }), book.ID)

	missing := NewBook("Missing")
	assert.True(t, apperr.IsNotFound(s.UpdateBook(ctx, missing), "book"))

	require.NoError(t, s.DeleteBook(ctx, book.ID))
	_, err = s.FindBookByID(ctx, book.ID)
	assert.True(t, apperr.IsNotFound(err, "book"))
	assert.True(t, apperr.IsNotFound(s.DeleteBook(ctx, book.ID), "book"))
}

func testPatrons(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	patron := NewPatron("Jane Reader")
	require.NoError(t, s.CreatePatron(ctx, patron))

	got, err := s.FindPatronByID(ctx, patron.ID)
	require.NoError(t, err)
	assert.Equal(t, patron.Name, got.Name)
	assert.Equal(t, patron.ContactInformation, got.ContactInformation)

	patron.Name = "Jane Q. Reader"
	require.NoError(t, s.UpdatePatron(ctx, patron))
	got, err = s.FindPatronByID(ctx, patron.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Q. Reader", got.Name)

	patrons, err := s.ListPatrons(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(patrons, func(p *membership.Patron) uuid.UUID { return p.ID }), patron.ID)

	require.NoError(t, s.DeletePatron(ctx, patron.ID))
	_, err = s.FindPatronByID(ctx, patron.ID)
	assert.True(t, apperr.IsNotFound(err, "patron"))
}

func testLoans(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	book := NewBook("Neuromancer")
	patron := NewPatron("Case")
	other := NewPatron("Molly")
	require.NoError(t, s.CreateBook(ctx, book))
	require.NoError(t, s.CreatePatron(ctx, patron))
	require.NoError(t, s.CreatePatron(ctx, other))

	open, err := s.FindOpenLoanByBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	loan := NewLoan(book.ID, patron.ID)
	require.NoError(t, s.CreateLoan(ctx, loan))

	open, err = s.FindOpenLoanByBook(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, loan.ID, open.ID)
	assert.Nil(t, open.ReturnDate)
	assert.True(t, loan.BorrowDate.Equal(open.BorrowDate))

	open, err = s.FindOpenLoanByBookAndPatron(ctx, book.ID, other.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	second := NewLoan(book.ID, other.ID)
	assert.ErrorIs(t, s.CreateLoan(ctx, second), apperr.ErrConflict)

	returnDate := loan.BorrowDate
	loan.ReturnDate = &returnDate
	require.NoError(t, s.SaveLoan(ctx, loan))
	assert.ErrorIs(t, s.SaveLoan(ctx, loan), apperr.ErrConflict, "a closed record cannot be saved again")

	open, err = s.FindOpenLoanByBookAndPatron(ctx, book.ID, patron.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	got, err := s.FindLoanByID(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReturnDate)
	assert.True(t, returnDate.Equal(*got.ReturnDate))

	require.NoError(t, s.CreateLoan(ctx, second), "the book is free again")

	loans, err := s.ListLoans(ctx)
	require.NoError(t, err)
	loanIDs := ids(loans, func(r *circulation.BorrowingRecord) uuid.UUID { return r.ID })
	assert.Contains(t, loanIDs, loan.ID)
	assert.Contains(t, loanIDs, second.ID)

	_, err = s.FindLoanByID(ctx, uuid.New())
	assert.True(t, apperr.IsNotFound(err, "borrowing record"))
}

func testReferences(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	book := NewBook("Snow Crash")
	patron := NewPatron("Hiro")
	require.NoError(t, s.CreateBook(ctx, book))
	require.NoError(t, s.CreatePatron(ctx, patron))
	require.NoError(t, s.CreateLoan(ctx, NewLoan(book.ID, patron.ID)))

	err := s.DeleteBook(ctx, book.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.EqualError(t, err, store.ReasonBookReferenced)

	err = s.DeletePatron(ctx, patron.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.EqualError(t, err, store.ReasonPatronReferenced)
}

func testLoanRace(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	book := NewBook("The Left Hand of Darkness")
	require.NoError(t, s.CreateBook(ctx, book))

	const racers = 8
	patrons := make([]*membership.Patron, racers)
	for i := range patrons {
		patrons[i] = NewPatron("Racer")
		require.NoError(t, s.CreatePatron(ctx, patrons[i]))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, p := range patrons {
		wg.Add(1)
		go func(patronID uuid.UUID) {
			defer wg.Done()
			err := s.CreateLoan(ctx, NewLoan(book.ID, patronID))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, apperr.ErrConflict):
				conflicts++
			}
		}(p.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, racers-1, conflicts)
}

// testCreationOrder creates records on the same day and in the same second,
// with ids that sort opposite to creation, and expects every list back in
// creation order.
func testCreationOrder(t *testing.T, s store.RecordStore) {
	ctx := context.Background()

	const n = 3
	idSeq := descendingIDs(3 * n)

	books := make([]uuid.UUID, 0, n)
	patrons := make([]uuid.UUID, 0, n)
	loans := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		book := NewBook("Foundation")
		book.ID = idSeq[i]
		patron := NewPatron("Hari Seldon")
		patron.ID = idSeq[n+i]
		require.NoError(t, s.CreateBook(ctx, book))
		require.NoError(t, s.CreatePatron(ctx, patron))

		loan := NewLoan(book.ID, patron.ID)
		loan.ID = idSeq[2*n+i]
		require.NoError(t, s.CreateLoan(ctx, loan))

		books = append(books, book.ID)
		patrons = append(patrons, patron.ID)
		loans = append(loans, loan.ID)
	}

	listedBooks, err := s.ListBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, books, only(ids(listedBooks, func(b *catalog.Book) uuid.UUID { return b.ID }), books))

	listedPatrons, err := s.ListPatrons(ctx)
	require.NoError(t, err)
	assert.Equal(t, patrons, only(ids(listedPatrons, func(p *membership.Patron) uuid.UUID { return p.ID }), patrons))

	listedLoans, err := s.ListLoans(ctx)
	require.NoError(t, err)
	assert.Equal(t, loans, only(ids(listedLoans, func(r *circulation.BorrowingRecord) uuid.UUID { return r.ID }), loans))
}

func descendingIDs(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) > 0 })
	return out
}

// only keeps the ids in want, in the order they appear in got. The store
// may be shared with other tests.
func only(got, want []uuid.UUID) []uuid.UUID {
	keep := make(map[uuid.UUID]bool, len(want))
	for _, id := range want {
		keep[id] = true
	}
	out := make([]uuid.UUID, 0, len(want))
	for _, id := range got {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func ids[T any](items []T, id func(T) uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	return out
}
