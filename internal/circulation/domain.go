// internal/circulation/domain.go
package circulation

import (
	"time"

	"libraryhub/internal/catalog"
	"libraryhub/internal/membership"

	"github.com/google/uuid"
)

// Outcome entities and reasons reported by the engine.
const (
	EntityBook            = "book"
	EntityPatron          = "patron"
	EntityActiveLoan      = "active loan"
	EntityBorrowingRecord = "borrowing record"

	ReasonBookUnavailable = "book unavailable"
)

// BorrowingRecord represents one loan of a book to a patron. A record with a
// nil ReturnDate is an open loan.
type BorrowingRecord struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	PatronID   uuid.UUID  `json:"patron_id" db:"patron_id"`
	BorrowDate time.Time  `json:"borrow_date" db:"borrow_date"`
	ReturnDate *time.Time `json:"return_date" db:"return_date"`

	Book   *catalog.Book      `json:"book,omitempty" db:"-"`
	Patron *membership.Patron `json:"patron,omitempty" db:"-"`
}

// Open reports whether the loan has not been returned yet.
func (r *BorrowingRecord) Open() bool {
	return r.ReturnDate == nil
}

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Journal aggregate and event types.
const (
	AggregateType = "borrowing_record"

	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
)

// BookBorrowedEvent is journaled when a loan is opened.
type BookBorrowedEvent struct {
	RecordID   uuid.UUID `json:"record_id"`
	BookID     uuid.UUID `json:"book_id"`
	PatronID   uuid.UUID `json:"patron_id"`
	BorrowDate time.Time `json:"borrow_date"`
}

// BookReturnedEvent is journaled when a loan is closed.
type BookReturnedEvent struct {
	RecordID   uuid.UUID `json:"record_id"`
	BookID     uuid.UUID `json:"book_id"`
	PatronID   uuid.UUID `json:"patron_id"`
	ReturnDate time.Time `json:"return_date"`
}
