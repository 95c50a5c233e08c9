// internal/circulation/service.go
package circulation

import (
	"context"
	"errors"

	"libraryhub/internal/catalog"
	"libraryhub/internal/membership"
	"libraryhub/pkg/eventstore"

	"github.com/google/uuid"
)

// ErrJournalDisabled is returned by RecordHistory when no loan journal is configured.
var ErrJournalDisabled = errors.New("loan journal is not configured")

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, bookID, patronID uuid.UUID) (*BorrowingRecord, error)
	Return(ctx context.Context, bookID, patronID uuid.UUID) (*BorrowingRecord, error)
	ListRecords(ctx context.Context) ([]*BorrowingRecord, error)
	RecordHistory(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error)
}

// RecordStore is the persistence the engine works against.
//
// FindBookByID and FindPatronByID fail with apperr.NotFound for unknown ids.
// The open-loan lookups return (nil, nil) when there is no such loan.
// CreateLoan fails with an apperr.ConflictError when the book already has an
// open loan. SaveLoan only closes a record that is still open and fails with
// an apperr.ConflictError otherwise.
type RecordStore interface {
	FindBookByID(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	FindPatronByID(ctx context.Context, id uuid.UUID) (*membership.Patron, error)
	FindOpenLoanByBook(ctx context.Context, bookID uuid.UUID) (*BorrowingRecord, error)
	FindOpenLoanByBookAndPatron(ctx context.Context, bookID, patronID uuid.UUID) (*BorrowingRecord, error)
	CreateLoan(ctx context.Context, record *BorrowingRecord) error
	SaveLoan(ctx context.Context, record *BorrowingRecord) error
	FindLoanByID(ctx context.Context, id uuid.UUID) (*BorrowingRecord, error)
	ListLoans(ctx context.Context) ([]*BorrowingRecord, error)
}

// Journal is the append-only event log of borrowing records.
// *eventstore.EventStore satisfies it.
type Journal interface {
	AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error
	LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]eventstore.Event, error)
}

// Locker serializes work on a single book. The returned function releases
// the lock.
type Locker interface {
	Lock(ctx context.Context, bookID uuid.UUID) (func(), error)
}
