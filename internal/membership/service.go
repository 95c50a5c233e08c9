// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the membership service.
type Service interface {
	RegisterPatron(ctx context.Context, details PatronDetails) (*Patron, error)
	GetPatron(ctx context.Context, id uuid.UUID) (*Patron, error)
	ListPatrons(ctx context.Context) ([]*Patron, error)
	UpdatePatron(ctx context.Context, id uuid.UUID, details PatronDetails) (*Patron, error)
	RemovePatron(ctx context.Context, id uuid.UUID) error
}

// Repository is the patron half of the record store. A missing patron is
// reported as apperr.NotFound("patron").
type Repository interface {
	CreatePatron(ctx context.Context, patron *Patron) error
	FindPatronByID(ctx context.Context, id uuid.UUID) (*Patron, error)
	ListPatrons(ctx context.Context) ([]*Patron, error)
	UpdatePatron(ctx context.Context, patron *Patron) error
	DeletePatron(ctx context.Context, id uuid.UUID) error
}
