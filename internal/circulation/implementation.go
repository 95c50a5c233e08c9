// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/membership"
	"libraryhub/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "libraryhub/circulation"

// service implements the Service interface.
type service struct {
	store    RecordStore
	locker   Locker
	journal  Journal
	logger   *slog.Logger
	clock    func() time.Time
	tracer   trace.Tracer
	outcomes metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithClock sets the source of "today". Defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *service) {
		s.clock = clock
	}
}

// WithLocker replaces the default in-process book lock. A nil locker
// disables locking and leaves the store's uniqueness guard as the only
// protection against racing borrows.
func WithLocker(locker Locker) Option {
	return func(s *service) {
		s.locker = locker
	}
}

// WithJournal records every borrow and return in journal.
func WithJournal(journal Journal) Option {
	return func(s *service) {
		s.journal = journal
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// NewService creates a new circulation service instance.
func NewService(store RecordStore, opts ...Option) Service {
	s := &service{
		store:  store,
		locker: NewKeyedLocker(),
		logger: slog.Default(),
		clock:  time.Now,
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "circulation")

	counter, err := otel.Meter(instrumentationName).Int64Counter("circulation.operations",
		metric.WithDescription("Borrow and return requests by outcome"),
	)
	if err != nil {
		s.logger.Warn("failed to create outcome counter", "error", err)
		counter = noop.Int64Counter{}
	}
	s.outcomes = counter
	return s
}

// Borrow opens a loan of the book to the patron. The book is checked
// before its availability, and availability before the patron.
func (s *service) Borrow(ctx context.Context, bookID, patronID uuid.UUID) (record *BorrowingRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("patron.id", patronID.String()),
	))
	defer func() { s.finish(ctx, span, "borrow", err) }()

	unlock, err := s.lock(ctx, bookID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	book, err := s.store.FindBookByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to find book: %w", err)
	}

	open, err := s.store.FindOpenLoanByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to find open loan: %w", err)
	}
	if open != nil {
		return nil, apperr.Conflict(ReasonBookUnavailable)
	}

	patron, err := s.store.FindPatronByID(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to find patron: %w", err)
	}

	record = &BorrowingRecord{
		ID:         uuid.New(),
		BookID:     bookID,
		PatronID:   patronID,
		BorrowDate: s.today(),
	}
	if err := s.store.CreateLoan(ctx, record); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict(ReasonBookUnavailable)
		}
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	record.Book = book
	record.Patron = patron

	s.journalEvent(ctx, record.ID, 0, EventBookBorrowed, BookBorrowedEvent{
		RecordID:   record.ID,
		BookID:     bookID,
		PatronID:   patronID,
		BorrowDate: record.BorrowDate,
	})

	s.logger.InfoContext(ctx, "book borrowed",
		"record_id", record.ID,
		"book_id", bookID,
		"patron_id", patronID,
	)
	return record, nil
}

// Return closes the patron's open loan of the book. A loan held by another
// patron is reported the same as no loan at all.
func (s *service) Return(ctx context.Context, bookID, patronID uuid.UUID) (record *BorrowingRecord, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return", trace.WithAttributes(
		attribute.String("book.id", bookID.String()),
		attribute.String("patron.id", patronID.String()),
	))
	defer func() { s.finish(ctx, span, "return", err) }()

	unlock, err := s.lock(ctx, bookID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	book, err := s.store.FindBookByID(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to find book: %w", err)
	}

	patron, err := s.store.FindPatronByID(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to find patron: %w", err)
	}

	record, err = s.store.FindOpenLoanByBookAndPatron(ctx, bookID, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active loan: %w", err)
	}
	if record == nil {
		return nil, apperr.NotFound(EntityActiveLoan)
	}

	// A clock that moved backwards must not produce a return before the borrow.
	returnDate := s.today()
	if returnDate.Before(record.BorrowDate) {
		returnDate = record.BorrowDate
	}
	record.ReturnDate = &returnDate

	if err := s.store.SaveLoan(ctx, record); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.NotFound(EntityActiveLoan)
		}
		return nil, fmt.Errorf("failed to save loan: %w", err)
	}
	record.Book = book
	record.Patron = patron

	s.journalEvent(ctx, record.ID, 1, EventBookReturned, BookReturnedEvent{
		RecordID:   record.ID,
		BookID:     bookID,
		PatronID:   patronID,
		ReturnDate: returnDate,
	})

	s.logger.InfoContext(ctx, "book returned",
		"record_id", record.ID,
		"book_id", bookID,
		"patron_id", patronID,
	)
	return record, nil
}

// ListRecords returns every borrowing record with its book and patron.
func (s *service) ListRecords(ctx context.Context) ([]*BorrowingRecord, error) {
	records, err := s.store.ListLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowing records: %w", err)
	}

	books := make(map[uuid.UUID]*catalog.Book)
	patrons := make(map[uuid.UUID]*membership.Patron)
	for _, record := range records {
		book, ok := books[record.BookID]
		if !ok {
			if book, err = s.store.FindBookByID(ctx, record.BookID); err != nil {
				return nil, fmt.Errorf("failed to load book of record %s: %w", record.ID, err)
			}
			books[record.BookID] = book
		}
		patron, ok := patrons[record.PatronID]
		if !ok {
			if patron, err = s.store.FindPatronByID(ctx, record.PatronID); err != nil {
				return nil, fmt.Errorf("failed to load patron of record %s: %w", record.ID, err)
			}
			patrons[record.PatronID] = patron
		}
		record.Book = book
		record.Patron = patron
	}
	return records, nil
}

// RecordHistory returns the journaled events of one borrowing record.
func (s *service) RecordHistory(ctx context.Context, recordID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.store.FindLoanByID(ctx, recordID); err != nil {
		return nil, fmt.Errorf("failed to find borrowing record: %w", err)
	}
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}

	events, err := s.journal.LoadEvents(ctx, recordID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load record history: %w", err)
	}
	return events, nil
}

func (s *service) today() time.Time {
	return Day(s.clock())
}

func (s *service) lock(ctx context.Context, bookID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock book %s: %w", bookID, err)
	}
	return unlock, nil
}

// journalEvent appends one event after the store mutation has committed.
// The store stays the source of truth, so failures are only logged.
func (s *service) journalEvent(ctx context.Context, recordID uuid.UUID, expectedVersion int, eventType string, payload interface{}) {
	if s.journal == nil {
		return
	}

	event, err := eventstore.NewEvent(eventType, payload)
	if err == nil {
		err = s.journal.AppendEvents(ctx, recordID, AggregateType, expectedVersion, []eventstore.Event{event})
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to journal loan event",
			"record_id", recordID,
			"event_type", eventType,
			"error", err,
		)
	}
}

func (s *service) finish(ctx context.Context, span trace.Span, operation string, err error) {
	result := outcome(err)
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", result),
	))

	span.SetAttributes(attribute.String("outcome", result))
	if err != nil {
		span.RecordError(err)
		if result == "error" {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
