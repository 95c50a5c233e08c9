// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/clients"
	"libraryhub/internal/membership"
)

const defaultConcurrency = 50

// Auditor reports how many books currently have more than one open loan.
// *sqlstore.Store satisfies it.
type Auditor interface {
	CountOverbooked(ctx context.Context) (int, error)
}

// Library drives experiments against a running libraryhub server.
type Library struct {
	Client      *clients.Client
	Auditor     Auditor
	DB          *sqlx.DB // optional, enables connection pool experiments
	Concurrency int
}

func (l *Library) concurrency() int {
	if l.Concurrency <= 0 {
		return defaultConcurrency
	}
	return l.Concurrency
}

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (l *Library) RegisterExperiments(engine *Engine) {
	engine.RegisterExperiment(l.ConcurrentBorrowRace())
	engine.RegisterExperiment(l.ConcurrentReturnRace())
	if l.DB != nil {
		engine.RegisterExperiment(l.ConnectionPoolExhaustion())
	}
}

func (l *Library) overbooked() Metric {
	return Metric{
		Name: "overbooked_books",
		Query: func(ctx context.Context) (float64, error) {
			n, err := l.Auditor.CountOverbooked(ctx)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// seed creates one book and n patrons for a race.
func (l *Library) seed(ctx context.Context, n int) (*catalog.Book, []*membership.Patron, error) {
	book, err := l.Client.CreateBook(ctx, catalog.BookDetails{
		Title:           "The Left Hand of Darkness",
		Author:          "Ursula K. Le Guin",
		PublicationYear: 1969,
		ISBN:            randomISBN(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create book: %w", err)
	}

	patrons := make([]*membership.Patron, 0, n)
	for i := 0; i < n; i++ {
		p, err := l.Client.CreatePatron(ctx, membership.PatronDetails{
			Name:               fmt.Sprintf("Chaos Reader %d", i+1),
			ContactInformation: fmt.Sprintf("reader%d@chaos.example", i+1),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create patron: %w", err)
		}
		patrons = append(patrons, p)
	}
	return book, patrons, nil
}

// ConcurrentBorrowRace has every patron borrow the same book at once.
func (l *Library) ConcurrentBorrowRace() Experiment {
	var (
		mu        sync.Mutex
		successes int64
		winner    *circulation.BorrowingRecord
	)
	n := l.concurrency()

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Exactly one of many simultaneous borrows of the same book succeeds",
		SteadyState: []Metric{
			l.overbooked(),
			{
				Name: "borrow_successes",
				Query: func(ctx context.Context) (float64, error) {
					return float64(atomic.LoadInt64(&successes)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:       "concurrent-requests",
				Target:     "circulation",
				Parameters: map[string]interface{}{"concurrency": n},
				Execute: func(ctx context.Context) error {
					atomic.StoreInt64(&successes, 0)
					book, patrons, err := l.seed(ctx, n)
					if err != nil {
						return err
					}

					var (
						wg       sync.WaitGroup
						unwanted = make(chan error, n)
					)
					start := make(chan struct{})
					for _, p := range patrons {
						wg.Add(1)
						go func(patronID uuid.UUID) {
							defer wg.Done()
							<-start
							record, err := l.Client.Borrow(ctx, book.ID, patronID)
							switch {
							case err == nil:
								atomic.AddInt64(&successes, 1)
								mu.Lock()
								winner = record
								mu.Unlock()
							case !errors.Is(err, apperr.ErrConflict):
								unwanted <- err
							}
						}(p.ID)
					}
					close(start)
					wg.Wait()
					close(unwanted)

					var errs []error
					for err := range unwanted {
						errs = append(errs, err)
					}
					return errors.Join(errs...)
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return-loan",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					record := winner
					winner = nil
					mu.Unlock()
					if record == nil {
						return nil
					}
					_, err := l.Client.Return(ctx, record.BookID, record.PatronID)
					return err
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "borrow_successes",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one borrow should succeed",
			},
			{
				Metric:    "overbooked_books",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No book should have two open loans",
			},
		},
		Duration:    5 * time.Second,
		BlastRadius: 0.1,
	}
}

// ConcurrentReturnRace has the borrower return the same loan many times at once.
func (l *Library) ConcurrentReturnRace() Experiment {
	var successes int64
	n := l.concurrency()

	return Experiment{
		Name:       "concurrent-return-race",
		Hypothesis: "Exactly one of many simultaneous returns of the same loan succeeds",
		SteadyState: []Metric{
			l.overbooked(),
			{
				Name: "return_successes",
				Query: func(ctx context.Context) (float64, error) {
					return float64(atomic.LoadInt64(&successes)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:       "concurrent-requests",
				Target:     "circulation",
				Parameters: map[string]interface{}{"concurrency": n},
				Execute: func(ctx context.Context) error {
					atomic.StoreInt64(&successes, 0)
					book, patrons, err := l.seed(ctx, 1)
					if err != nil {
						return err
					}
					patron := patrons[0]
					if _, err := l.Client.Borrow(ctx, book.ID, patron.ID); err != nil {
						return fmt.Errorf("borrow: %w", err)
					}

					var (
						wg       sync.WaitGroup
						unwanted = make(chan error, n)
					)
					start := make(chan struct{})
					for i := 0; i < n; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							<-start
							_, err := l.Client.Return(ctx, book.ID, patron.ID)
							switch {
							case err == nil:
								atomic.AddInt64(&successes, 1)
							case !errors.Is(err, apperr.ErrNotFound):
								unwanted <- err
							}
						}()
					}
					close(start)
					wg.Wait()
					close(unwanted)

					var errs []error
					for err := range unwanted {
						errs = append(errs, err)
					}
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "return_successes",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one return should succeed",
			},
		},
		Duration:    5 * time.Second,
		BlastRadius: 0.1,
	}
}

// ConnectionPoolExhaustion holds every database connection it can get and
// watches the health endpoint until the connections are released.
func (l *Library) ConnectionPoolExhaustion() Experiment {
	var (
		mu     sync.Mutex
		held   []*sqlx.Conn
		probes int64
		failed int64
	)

	return Experiment{
		Name:       "database-connection-pool-exhaustion",
		Hypothesis: "The API keeps answering health checks while the connection pool is exhausted",
		SteadyState: []Metric{
			{
				Name: "health_error_rate",
				Query: func(ctx context.Context) (float64, error) {
					total := atomic.AddInt64(&probes, 1)
					probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					defer cancel()
					if err := l.Client.Health(probeCtx); err != nil {
						atomic.AddInt64(&failed, 1)
					}
					return float64(atomic.LoadInt64(&failed)) / float64(total) * 100, nil
				},
				Threshold: Threshold{Operator: "<", Value: 5},
			},
		},
		Method: []Action{
			{
				Type:       "exhaust-connections",
				Target:     "database-pool",
				Parameters: map[string]interface{}{"max": 100},
				Execute: func(ctx context.Context) error {
					atomic.StoreInt64(&probes, 0)
					atomic.StoreInt64(&failed, 0)

					mu.Lock()
					defer mu.Unlock()
					for i := 0; i < 100; i++ {
						connCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
						conn, err := l.DB.Connx(connCtx)
						cancel()
						if err != nil {
							break
						}
						held = append(held, conn)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "release-connections",
				Target: "database-pool",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					defer mu.Unlock()
					var errs []error
					for _, conn := range held {
						errs = append(errs, conn.Close())
					}
					held = nil
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "health_error_rate",
				Condition: func(v float64) bool { return v < 5.0 },
				Message:   "Health error rate should stay below 5%",
			},
		},
		Duration:    30 * time.Second,
		BlastRadius: 1.0,
	}
}

// randomISBN returns a 13 digit ISBN unlikely to collide with earlier runs.
func randomISBN() string {
	id := uuid.New()
	digits := make([]byte, 0, 13)
	digits = append(digits, '9', '7', '9')
	for _, b := range id[:10] {
		digits = append(digits, '0'+b%10)
	}
	return string(digits)
}
