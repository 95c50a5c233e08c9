// internal/membership/domain.go
package membership

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"libraryhub/internal/apperr"

	"github.com/google/uuid"
)

const maxNameLength = 255

// Patron represents a library patron.
type Patron struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	ContactInformation string    `json:"contact_information" db:"contact_information"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// PatronDetails carries the editable fields of a patron.
type PatronDetails struct {
	Name               string `json:"name"`
	ContactInformation string `json:"contact_information"`
}

func (d PatronDetails) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return apperr.Invalid("name", "must not be blank")
	}
	if utf8.RuneCountInString(d.Name) > maxNameLength {
		return apperr.Invalid("name", "must be less than 255 characters")
	}
	if !ValidEmail(d.ContactInformation) {
		return apperr.Invalid("contact_information", "must be a valid email address")
	}
	return nil
}

// ValidEmail accepts a bare address such as "jane@example.com"; display
// names and angle brackets are rejected.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1
}
