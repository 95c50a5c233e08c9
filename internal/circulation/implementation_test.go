package circulation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/apperr"
	"libraryhub/internal/circulation"
	"libraryhub/internal/store/memstore"
	"libraryhub/internal/store/storetest"
	"libraryhub/pkg/eventstore"
)

type fixture struct {
	store   *memstore.Store
	book    uuid.UUID
	patron  uuid.UUID
	patron2 uuid.UUID
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: memstore.New(),
		now:   time.Date(2024, time.March, 14, 15, 30, 0, 0, time.UTC),
	}
	book := storetest.NewBook("Dune")
	p1 := storetest.NewPatron("Paul")
	p2 := storetest.NewPatron("Chani")
	require.NoError(t, f.store.CreateBook(ctx, book))
	require.NoError(t, f.store.CreatePatron(ctx, p1))
	require.NoError(t, f.store.CreatePatron(ctx, p2))
	f.book, f.patron, f.patron2 = book.ID, p1.ID, p2.ID
	return f
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) service(opts ...circulation.Option) circulation.Service {
	return circulation.NewService(f.store, append([]circulation.Option{circulation.WithClock(f.clock)}, opts...)...)
}

func TestBorrow(t *testing.T) {
	f := newFixture(t)
	svc := f.service()

	record, err := svc.Borrow(context.Background(), f.book, f.patron)
	require.NoError(t, err)

	assert.Equal(t, f.book, record.BookID)
	assert.Equal(t, f.patron, record.PatronID)
	assert.Equal(t, time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC), record.BorrowDate)
	assert.Nil(t, record.ReturnDate)
	require.NotNil(t, record.Book)
	require.NotNil(t, record.Patron)
	assert.Equal(t, "Dune", record.Book.Title)
	assert.Equal(t, "Paul", record.Patron.Name)
}

func TestBorrow_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	t.Run("unknown book wins over unknown patron", func(t *testing.T) {
		_, err := svc.Borrow(ctx, uuid.New(), uuid.New())
		assert.True(t, apperr.IsNotFound(err, circulation.EntityBook), "got %v", err)
	})

	t.Run("unknown patron", func(t *testing.T) {
		_, err := svc.Borrow(ctx, f.book, uuid.New())
		assert.True(t, apperr.IsNotFound(err, circulation.EntityPatron), "got %v", err)
	})

	t.Run("unavailable book wins over unknown patron", func(t *testing.T) {
		_, err := svc.Borrow(ctx, f.book, f.patron)
		require.NoError(t, err)

		_, err = svc.Borrow(ctx, f.book, uuid.New())
		assert.ErrorIs(t, err, apperr.ErrConflict)
		assert.EqualError(t, err, circulation.ReasonBookUnavailable)
	})
}

func TestReturn_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	_, err := svc.Return(ctx, uuid.New(), uuid.New())
	assert.True(t, apperr.IsNotFound(err, circulation.EntityBook), "got %v", err)

	_, err = svc.Return(ctx, f.book, uuid.New())
	assert.True(t, apperr.IsNotFound(err, circulation.EntityPatron), "got %v", err)

	_, err = svc.Return(ctx, f.book, f.patron)
	assert.True(t, apperr.IsNotFound(err, circulation.EntityActiveLoan), "got %v", err)
}

func TestReturn_OtherPatronsLoanIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	_, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)

	_, err = svc.Return(ctx, f.book, f.patron2)
	assert.True(t, apperr.IsNotFound(err, circulation.EntityActiveLoan), "got %v", err)
	assert.False(t, errors.Is(err, apperr.ErrConflict))
}

func TestReturn_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	_, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)
	_, err = svc.Return(ctx, f.book, f.patron)
	require.NoError(t, err)

	_, err = svc.Return(ctx, f.book, f.patron)
	assert.True(t, apperr.IsNotFound(err, circulation.EntityActiveLoan), "got %v", err)
}

func TestLendingScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()
	today := circulation.Day(f.now)

	// Arrange/Act: P1 borrows B1
	first, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)
	assert.Nil(t, first.ReturnDate)

	// P2 cannot borrow it meanwhile
	_, err = svc.Borrow(ctx, f.book, f.patron2)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// P1 returns it today
	returned, err := svc.Return(ctx, f.book, f.patron)
	require.NoError(t, err)
	assert.Equal(t, first.ID, returned.ID)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, today, *returned.ReturnDate)

	// now P2 can borrow it
	second, err := svc.Borrow(ctx, f.book, f.patron2)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	records, err := svc.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		require.NotNil(t, r.Book)
		require.NotNil(t, r.Patron)
		assert.Equal(t, f.book, r.Book.ID)
		assert.Equal(t, r.PatronID, r.Patron.ID)
	}
}

func TestReturn_ClockMovedBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	borrowed, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)

	f.now = f.now.AddDate(0, 0, -3)

	returned, err := svc.Return(ctx, f.book, f.patron)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, borrowed.BorrowDate, *returned.ReturnDate, "return date is clamped to the borrow date")
}

// blindStore never sees open loans, so only the store's uniqueness guard
// stands between two borrows.
type blindStore struct {
	*memstore.Store
}

func (blindStore) FindOpenLoanByBook(ctx context.Context, bookID uuid.UUID) (*circulation.BorrowingRecord, error) {
	return nil, nil
}

func TestBorrow_StoreGuardConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := circulation.NewService(blindStore{f.store}, circulation.WithClock(f.clock), circulation.WithLocker(nil))

	_, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)

	_, err = svc.Borrow(ctx, f.book, f.patron2)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.EqualError(t, err, circulation.ReasonBookUnavailable)
}

// staleStore hands out loans for (book, patron) even after they closed,
// as a reader racing another return would.
type staleStore struct {
	*memstore.Store
}

func (s staleStore) FindOpenLoanByBookAndPatron(ctx context.Context, bookID, patronID uuid.UUID) (*circulation.BorrowingRecord, error) {
	loans, err := s.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if loan.BookID == bookID && loan.PatronID == patronID {
			loan.ReturnDate = nil
			return loan, nil
		}
	}
	return nil, nil
}

func TestReturn_ClosedConcurrently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := circulation.NewService(staleStore{f.store}, circulation.WithClock(f.clock), circulation.WithLocker(nil))

	_, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)
	_, err = svc.Return(ctx, f.book, f.patron)
	require.NoError(t, err)

	_, err = svc.Return(ctx, f.book, f.patron)
	assert.True(t, apperr.IsNotFound(err, circulation.EntityActiveLoan), "got %v", err)
}

type failingStore struct {
	*memstore.Store
	err error
}

func (s failingStore) CreateLoan(ctx context.Context, record *circulation.BorrowingRecord) error {
	return s.err
}

func TestBorrow_InfrastructureError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	svc := circulation.NewService(failingStore{f.store, boom}, circulation.WithClock(f.clock))

	_, err := svc.Borrow(context.Background(), f.book, f.patron)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, apperr.ErrConflict))
	assert.False(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBorrow_ConcurrentRace(t *testing.T) {
	for name, locker := range map[string]circulation.Locker{
		"with book lock":   circulation.NewKeyedLocker(),
		"store guard only": nil,
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			svc := f.service(circulation.WithLocker(locker))

			const racers = 16
			patrons := make([]uuid.UUID, racers)
			for i := range patrons {
				p := storetest.NewPatron("Racer")
				require.NoError(t, f.store.CreatePatron(ctx, p))
				patrons[i] = p.ID
			}

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for _, patronID := range patrons {
				wg.Add(1)
				go func(patronID uuid.UUID) {
					defer wg.Done()
					_, err := svc.Borrow(ctx, f.book, patronID)

					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else if errors.Is(err, apperr.ErrConflict) {
						conflicts++
					}
				}(patronID)
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, racers-1, conflicts)

			loans, err := f.store.ListLoans(ctx)
			require.NoError(t, err)
			assert.Len(t, loans, 1)
		})
	}
}

type memJournal struct {
	mu      sync.Mutex
	streams map[uuid.UUID][]eventstore.Event
	fail    error
}

func newMemJournal() *memJournal {
	return &memJournal{streams: make(map[uuid.UUID][]eventstore.Event)}
}

func (j *memJournal) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []eventstore.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fail != nil {
		return j.fail
	}
	if len(j.streams[aggregateID]) != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}
	for i, e := range events {
		e.AggregateID = aggregateID
		e.AggregateType = aggregateType
		e.Version = expectedVersion + i + 1
		j.streams[aggregateID] = append(j.streams[aggregateID], e)
	}
	return nil
}

func (j *memJournal) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]eventstore.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]eventstore.Event(nil), j.streams[aggregateID]...), nil
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	journal := newMemJournal()
	svc := f.service(circulation.WithJournal(journal))

	record, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)
	_, err = svc.Return(ctx, f.book, f.patron)
	require.NoError(t, err)

	events, err := svc.RecordHistory(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, circulation.EventBookBorrowed, events[0].EventType)
	assert.Equal(t, 1, events[0].Version)
	assert.Equal(t, circulation.EventBookReturned, events[1].EventType)
	assert.Equal(t, 2, events[1].Version)

	var returned circulation.BookReturnedEvent
	require.NoError(t, events[1].Decode(&returned))
	assert.Equal(t, record.ID, returned.RecordID)
	assert.Equal(t, circulation.Day(f.now), returned.ReturnDate.UTC())

	_, err = svc.RecordHistory(ctx, uuid.New())
	assert.True(t, apperr.IsNotFound(err, circulation.EntityBorrowingRecord), "got %v", err)
}

func TestJournal_FailureKeepsOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	journal := newMemJournal()
	journal.fail = errors.New("journal down")
	svc := f.service(circulation.WithJournal(journal))

	_, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)

	open, err := f.store.FindOpenLoanByBook(ctx, f.book)
	require.NoError(t, err)
	assert.NotNil(t, open)
}

func TestRecordHistory_WithoutJournal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := f.service()

	record, err := svc.Borrow(ctx, f.book, f.patron)
	require.NoError(t, err)

	_, err = svc.RecordHistory(ctx, record.ID)
	assert.ErrorIs(t, err, circulation.ErrJournalDisabled)
}
