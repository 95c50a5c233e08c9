// internal/store/sqlstore/sqlstore.go

// Package sqlstore is the record store on PostgreSQL (lib/pq) or MySQL
// (go-sql-driver/mysql). Queries are built with goqu for the configured
// dialect and run through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"libraryhub/internal/apperr"
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/store"
)

// Supported dialects. They double as database/sql driver names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
)

const (
	tableBooks   = "books"
	tablePatrons = "patrons"
	tableLoans   = "borrowing_records"

	defaultMaxOpenConnections = 25
	defaultMaxIdleConnections = 5
	defaultMaxConnLifetime    = time.Hour
	defaultMaxConnIdleTime    = 5 * time.Minute
)

var (
	bookColumns   = []interface{}{"id", "title", "author", "publication_year", "isbn", "created_at", "updated_at"}
	patronColumns = []interface{}{"id", "name", "contact_information", "created_at", "updated_at"}
	loanColumns   = []interface{}{"id", "book_id", "patron_id", "borrow_date", "return_date"}
)

var ErrUnknownDialect = errors.New("unknown sql dialect")

var _ store.RecordStore = (*Store)(nil)

type Store struct {
	db      *sqlx.DB
	dialect string
	builder goqu.DialectWrapper
	tracer  trace.Tracer
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dialect, dsn string) (*Store, error) {
	if dialect == MySQL {
		var err error
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxIdleConnections)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	s, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open connection pool.
func New(db *sqlx.DB, dialect string) (*Store, error) {
	if dialect != Postgres && dialect != MySQL {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		builder: goqu.Dialect(dialect),
		tracer:  otel.Tracer("libraryhub/sqlstore"),
	}, nil
}

// mysqlDSN forces the driver settings the store relies on: DATE and DATETIME
// scanned into time.Time in UTC, and RowsAffected counting matched rows.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Dialect() string {
	return s.dialect
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	statements := postgresSchema
	if s.dialect == MySQL {
		statements = mysqlSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate %s schema: %w", s.dialect, err)
		}
	}
	return nil
}

// Books

func (s *Store) CreateBook(ctx context.Context, book *catalog.Book) (err error) {
	ctx, span := s.start(ctx, "CreateBook")
	defer func() { end(span, err) }()

	_, err = s.exec(ctx, s.builder.Insert(tableBooks).Prepared(true).Rows(bookRecord(book)))
	if violates(err, pgerrcode.UniqueViolation, constraintISBN) {
		return apperr.Conflict(store.ReasonISBNTaken)
	}
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *Store) FindBookByID(ctx context.Context, id uuid.UUID) (book *catalog.Book, err error) {
	ctx, span := s.start(ctx, "FindBookByID")
	defer func() { end(span, err) }()

	return s.findBook(ctx, goqu.C("id").Eq(id))
}

func (s *Store) FindBookByISBN(ctx context.Context, isbn string) (book *catalog.Book, err error) {
	ctx, span := s.start(ctx, "FindBookByISBN")
	defer func() { end(span, err) }()

	return s.findBook(ctx, goqu.C("isbn").Eq(isbn))
}

func (s *Store) findBook(ctx context.Context, where goqu.Expression) (*catalog.Book, error) {
	var book catalog.Book
	found, err := s.get(ctx, &book, s.from(tableBooks, bookColumns).Where(where))
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}
	if !found {
		return nil, apperr.NotFound(circulation.EntityBook)
	}
	return &book, nil
}

func (s *Store) ListBooks(ctx context.Context) (books []*catalog.Book, err error) {
	ctx, span := s.start(ctx, "ListBooks")
	defer func() { end(span, err) }()

	books = make([]*catalog.Book, 0)
	ds := s.from(tableBooks, bookColumns).Order(goqu.C("seq").Asc())
	if err := s.all(ctx, &books, ds); err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	return books, nil
}

func (s *Store) UpdateBook(ctx context.Context, book *catalog.Book) (err error) {
	ctx, span := s.start(ctx, "UpdateBook")
	defer func() { end(span, err) }()

	ds := s.builder.Update(tableBooks).Prepared(true).
		Set(goqu.Record{
			"title":            book.Title,
			"author":           book.Author,
			"publication_year": book.PublicationYear,
			"isbn":             book.ISBN,
			"updated_at":       book.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(book.ID))

	res, err := s.exec(ctx, ds)
	if violates(err, pgerrcode.UniqueViolation, constraintISBN) {
		return apperr.Conflict(store.ReasonISBNTaken)
	}
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	return expectRow(res, apperr.NotFound(circulation.EntityBook))
}

func (s *Store) DeleteBook(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeleteBook")
	defer func() { end(span, err) }()

	res, err := s.exec(ctx, s.builder.Delete(tableBooks).Prepared(true).Where(goqu.C("id").Eq(id)))
	if violates(err, pgerrcode.ForeignKeyViolation, constraintLoanBook) {
		return apperr.Conflict(store.ReasonBookReferenced)
	}
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return expectRow(res, apperr.NotFound(circulation.EntityBook))
}

// Patrons

func (s *Store) CreatePatron(ctx context.Context, patron *membership.Patron) (err error) {
	ctx, span := s.start(ctx, "CreatePatron")
	defer func() { end(span, err) }()

	if _, err = s.exec(ctx, s.builder.Insert(tablePatrons).Prepared(true).Rows(patronRecord(patron))); err != nil {
		return fmt.Errorf("insert patron: %w", err)
	}
	return nil
}

func (s *Store) FindPatronByID(ctx context.Context, id uuid.UUID) (patron *membership.Patron, err error) {
	ctx, span := s.start(ctx, "FindPatronByID")
	defer func() { end(span, err) }()

	var p membership.Patron
	found, err := s.get(ctx, &p, s.from(tablePatrons, patronColumns).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("query patron: %w", err)
	}
	if !found {
		return nil, apperr.NotFound(circulation.EntityPatron)
	}
	return &p, nil
}

func (s *Store) ListPatrons(ctx context.Context) (patrons []*membership.Patron, err error) {
	ctx, span := s.start(ctx, "ListPatrons")
	defer func() { end(span, err) }()

	patrons = make([]*membership.Patron, 0)
	ds := s.from(tablePatrons, patronColumns).Order(goqu.C("seq").Asc())
	if err := s.all(ctx, &patrons, ds); err != nil {
		return nil, fmt.Errorf("query patrons: %w", err)
	}
	return patrons, nil
}

func (s *Store) UpdatePatron(ctx context.Context, patron *membership.Patron) (err error) {
	ctx, span := s.start(ctx, "UpdatePatron")
	defer func() { end(span, err) }()

	ds := s.builder.Update(tablePatrons).Prepared(true).
		Set(goqu.Record{
			"name":                patron.Name,
			"contact_information": patron.ContactInformation,
			"updated_at":          patron.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(patron.ID))

	res, err := s.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("update patron: %w", err)
	}
	return expectRow(res, apperr.NotFound(circulation.EntityPatron))
}

func (s *Store) DeletePatron(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.start(ctx, "DeletePatron")
	defer func() { end(span, err) }()

	res, err := s.exec(ctx, s.builder.Delete(tablePatrons).Prepared(true).Where(goqu.C("id").Eq(id)))
	if violates(err, pgerrcode.ForeignKeyViolation, constraintLoanPatron) {
		return apperr.Conflict(store.ReasonPatronReferenced)
	}
	if err != nil {
		return fmt.Errorf("delete patron: %w", err)
	}
	return expectRow(res, apperr.NotFound(circulation.EntityPatron))
}

// Borrowing records

func (s *Store) FindOpenLoanByBook(ctx context.Context, bookID uuid.UUID) (record *circulation.BorrowingRecord, err error) {
	ctx, span := s.start(ctx, "FindOpenLoanByBook")
	defer func() { end(span, err) }()

	return s.findOpenLoan(ctx, goqu.C("book_id").Eq(bookID))
}

func (s *Store) FindOpenLoanByBookAndPatron(ctx context.Context, bookID, patronID uuid.UUID) (record *circulation.BorrowingRecord, err error) {
	ctx, span := s.start(ctx, "FindOpenLoanByBookAndPatron")
	defer func() { end(span, err) }()

	return s.findOpenLoan(ctx, goqu.C("book_id").Eq(bookID), goqu.C("patron_id").Eq(patronID))
}

// findOpenLoan returns (nil, nil) when no open loan matches.
func (s *Store) findOpenLoan(ctx context.Context, where ...goqu.Expression) (*circulation.BorrowingRecord, error) {
	where = append(where, goqu.C("return_date").IsNull())

	var record circulation.BorrowingRecord
	found, err := s.get(ctx, &record, s.from(tableLoans, loanColumns).Where(where...))
	if err != nil {
		return nil, fmt.Errorf("query open loan: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

// CreateLoan inserts a new record. The one-open-loan-per-book index turns a
// lost race into a conflict.
func (s *Store) CreateLoan(ctx context.Context, record *circulation.BorrowingRecord) (err error) {
	ctx, span := s.start(ctx, "CreateLoan")
	defer func() { end(span, err) }()

	_, err = s.exec(ctx, s.builder.Insert(tableLoans).Prepared(true).Rows(goqu.Record{
		"id":          record.ID,
		"book_id":     record.BookID,
		"patron_id":   record.PatronID,
		"borrow_date": record.BorrowDate,
		"return_date": record.ReturnDate,
	}))
	switch {
	case err == nil:
		return nil
	case violates(err, pgerrcode.UniqueViolation, constraintOneOpenLoan):
		return apperr.Conflict(store.ReasonBookUnavailable)
	case violates(err, pgerrcode.ForeignKeyViolation, constraintLoanBook):
		return apperr.NotFound(circulation.EntityBook)
	case violates(err, pgerrcode.ForeignKeyViolation, constraintLoanPatron):
		return apperr.NotFound(circulation.EntityPatron)
	default:
		return fmt.Errorf("insert borrowing record: %w", err)
	}
}

// SaveLoan writes the return date, but only onto a record that is still open.
func (s *Store) SaveLoan(ctx context.Context, record *circulation.BorrowingRecord) (err error) {
	ctx, span := s.start(ctx, "SaveLoan")
	defer func() { end(span, err) }()

	ds := s.builder.Update(tableLoans).Prepared(true).
		Set(goqu.Record{"return_date": record.ReturnDate}).
		Where(goqu.C("id").Eq(record.ID), goqu.C("return_date").IsNull())

	res, err := s.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("update borrowing record: %w", err)
	}
	return expectRow(res, apperr.Conflict(store.ReasonLoanClosed))
}

func (s *Store) FindLoanByID(ctx context.Context, id uuid.UUID) (record *circulation.BorrowingRecord, err error) {
	ctx, span := s.start(ctx, "FindLoanByID")
	defer func() { end(span, err) }()

	var r circulation.BorrowingRecord
	found, err := s.get(ctx, &r, s.from(tableLoans, loanColumns).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return nil, fmt.Errorf("query borrowing record: %w", err)
	}
	if !found {
		return nil, apperr.NotFound(circulation.EntityBorrowingRecord)
	}
	return &r, nil
}

func (s *Store) ListLoans(ctx context.Context) (records []*circulation.BorrowingRecord, err error) {
	ctx, span := s.start(ctx, "ListLoans")
	defer func() { end(span, err) }()

	records = make([]*circulation.BorrowingRecord, 0)
	ds := s.from(tableLoans, loanColumns).Order(goqu.C("seq").Asc())
	if err := s.all(ctx, &records, ds); err != nil {
		return nil, fmt.Errorf("query borrowing records: %w", err)
	}
	return records, nil
}

// CountOverbooked returns how many books have more than one open loan.
// Anything but zero means the uniqueness guard failed.
func (s *Store) CountOverbooked(ctx context.Context) (n int, err error) {
	ctx, span := s.start(ctx, "CountOverbooked")
	defer func() { end(span, err) }()

	overbooked := s.builder.From(tableLoans).
		Select(goqu.C("book_id")).
		Where(goqu.C("return_date").IsNull()).
		GroupBy(goqu.C("book_id")).
		Having(goqu.COUNT(goqu.Star()).Gt(1))

	ds := s.builder.From(overbooked.As("overbooked")).Prepared(true).Select(goqu.COUNT(goqu.Star()))
	if _, err := s.get(ctx, &n, ds); err != nil {
		return 0, fmt.Errorf("count overbooked books: %w", err)
	}
	return n, nil
}

// query helpers

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

func (s *Store) from(table string, columns []interface{}) *goqu.SelectDataset {
	return s.builder.From(table).Prepared(true).Select(columns...)
}

func (s *Store) get(ctx context.Context, dest interface{}, ds sqlBuilder) (bool, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if err := s.db.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) all(ctx context.Context, dest interface{}, ds sqlBuilder) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return s.db.SelectContext(ctx, dest, query, args...)
}

func (s *Store) exec(ctx context.Context, ds sqlBuilder) (sql.Result, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

// expectRow returns missing when the statement touched no row.
func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func (s *Store) start(ctx context.Context, operation string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "sqlstore."+operation, trace.WithAttributes(
		attribute.String("db.system", s.dialect),
		attribute.String("db.operation", operation),
	))
}

// end closes span. Taxonomy outcomes are expected and not span errors.
func end(span trace.Span, err error) {
	if err != nil && !errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, apperr.ErrConflict) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func bookRecord(b *catalog.Book) goqu.Record {
	return goqu.Record{
		"id":               b.ID,
		"title":            b.Title,
		"author":           b.Author,
		"publication_year": b.PublicationYear,
		"isbn":             b.ISBN,
		"created_at":       b.CreatedAt,
		"updated_at":       b.UpdatedAt,
	}
}

func patronRecord(p *membership.Patron) goqu.Record {
	return goqu.Record{
		"id":                  p.ID,
		"name":                p.Name,
		"contact_information": p.ContactInformation,
		"created_at":          p.CreatedAt,
		"updated_at":          p.UpdatedAt,
	}
}
