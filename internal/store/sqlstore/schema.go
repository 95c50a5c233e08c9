// internal/store/sqlstore/schema.go
package sqlstore

// Constraint names shared by both dialects. Error classification matches on them.
const (
	constraintISBN          = "books_isbn_key"
	constraintLoanBook      = "borrowing_records_book_id_fkey"
	constraintLoanPatron    = "borrowing_records_patron_id_fkey"
	constraintOneOpenLoan   = "borrowing_records_one_open_per_book"
	constraintReturnOrdered = "borrowing_records_return_after_borrow"
)

// Every table carries seq, filled by the database on insert. Lists are
// ordered by it so they come back in creation order.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		title VARCHAR(255) NOT NULL,
		author VARCHAR(255) NOT NULL,
		publication_year INT NOT NULL,
		isbn VARCHAR(32) NOT NULL CONSTRAINT ` + constraintISBN + ` UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS patrons (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		name VARCHAR(255) NOT NULL,
		contact_information VARCHAR(320) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		book_id UUID NOT NULL CONSTRAINT ` + constraintLoanBook + ` REFERENCES books (id),
		patron_id UUID NOT NULL CONSTRAINT ` + constraintLoanPatron + ` REFERENCES patrons (id),
		borrow_date DATE NOT NULL,
		return_date DATE,
		CONSTRAINT ` + constraintReturnOrdered + ` CHECK (return_date IS NULL OR return_date >= borrow_date)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + constraintOneOpenLoan + `
		ON borrowing_records (book_id) WHERE return_date IS NULL`,
	`CREATE INDEX IF NOT EXISTS borrowing_records_patron_idx ON borrowing_records (patron_id)`,
	// tables created before seq existed
	`ALTER TABLE books ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`,
	`ALTER TABLE patrons ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`,
	`ALTER TABLE borrowing_records ADD COLUMN IF NOT EXISTS seq BIGSERIAL NOT NULL`,
}

// MySQL has no partial indexes. The generated open_book_id column is the book
// id while the loan is open and NULL afterwards, and NULLs never collide in a
// unique key.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id CHAR(36) NOT NULL PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
		title VARCHAR(255) NOT NULL,
		author VARCHAR(255) NOT NULL,
		publication_year INT NOT NULL,
		isbn VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY ` + constraintISBN + ` (isbn)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS patrons (
		id CHAR(36) NOT NULL PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
		name VARCHAR(255) NOT NULL,
		contact_information VARCHAR(320) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id CHAR(36) NOT NULL PRIMARY KEY,
		seq BIGINT NOT NULL AUTO_INCREMENT UNIQUE,
		book_id CHAR(36) NOT NULL,
		patron_id CHAR(36) NOT NULL,
		borrow_date DATE NOT NULL,
		return_date DATE NULL,
		open_book_id CHAR(36) AS (IF(return_date IS NULL, book_id, NULL)) STORED,
		UNIQUE KEY ` + constraintOneOpenLoan + ` (open_book_id),
		KEY borrowing_records_patron_idx (patron_id),
		CONSTRAINT ` + constraintLoanBook + ` FOREIGN KEY (book_id) REFERENCES books (id),
		CONSTRAINT ` + constraintLoanPatron + ` FOREIGN KEY (patron_id) REFERENCES patrons (id)
	) ENGINE=InnoDB`,
}
