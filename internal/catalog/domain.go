// internal/catalog/domain.go
package catalog

import (
	"strings"
	"time"
	"unicode/utf8"

	"libraryhub/internal/apperr"

	"github.com/google/uuid"
)

const (
	maxTextLength      = 255
	minPublicationYear = 1000
)

// Book is one physical book held by the library.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	PublicationYear int       `json:"publication_year" db:"publication_year"`
	ISBN            string    `json:"isbn" db:"isbn"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// BookDetails carries the editable fields of a book.
type BookDetails struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	ISBN            string `json:"isbn"`
}

// Validate checks the details against the catalog rules and returns the
// first violation as an apperr.InvalidError.
func (d BookDetails) Validate() error {
	if err := validateText("title", d.Title); err != nil {
		return err
	}
	if err := validateText("author", d.Author); err != nil {
		return err
	}
	if d.PublicationYear < minPublicationYear {
		return apperr.Invalid("publication_year", "must be 1000 or later")
	}
	if !ValidISBN(d.ISBN) {
		return apperr.Invalid("isbn", "must contain only digits and hyphens, with 10 or 13 digits")
	}
	return nil
}

// ValidISBN accepts digits and hyphens only, with exactly 10 or 13 digits.
func ValidISBN(isbn string) bool {
	if isbn == "" {
		return false
	}
	digits := 0
	for _, r := range isbn {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-':
		default:
			return false
		}
	}
	return digits == 10 || digits == 13
}

func validateText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperr.Invalid(field, "must not be blank")
	}
	if utf8.RuneCountInString(value) > maxTextLength {
		return apperr.Invalid(field, "must be at most 255 characters")
	}
	return nil
}
