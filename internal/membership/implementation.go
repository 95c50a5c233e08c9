// internal/membership/implementation.go
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface.
type service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new membership service instance.
func NewService(repo Repository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		repo:   repo,
		logger: logger.With("component", "membership"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterPatron creates a new patron.
func (s *service) RegisterPatron(ctx context.Context, details PatronDetails) (*Patron, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	patron := &Patron{
		ID:                 uuid.New(),
		Name:               details.Name,
		ContactInformation: details.ContactInformation,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreatePatron(ctx, patron); err != nil {
		return nil, fmt.Errorf("failed to register patron: %w", err)
	}

	s.logger.InfoContext(ctx, "patron registered", "patron_id", patron.ID)
	return patron, nil
}

// GetPatron retrieves a patron by their ID.
func (s *service) GetPatron(ctx context.Context, id uuid.UUID) (*Patron, error) {
	patron, err := s.repo.FindPatronByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get patron: %w", err)
	}
	return patron, nil
}

func (s *service) ListPatrons(ctx context.Context) ([]*Patron, error) {
	patrons, err := s.repo.ListPatrons(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patrons: %w", err)
	}
	return patrons, nil
}

// UpdatePatron replaces a patron's name and contact information.
func (s *service) UpdatePatron(ctx context.Context, id uuid.UUID, details PatronDetails) (*Patron, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	patron, err := s.repo.FindPatronByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get patron: %w", err)
	}

	patron.Name = details.Name
	patron.ContactInformation = details.ContactInformation
	patron.UpdatedAt = s.now()

	if err := s.repo.UpdatePatron(ctx, patron); err != nil {
		return nil, fmt.Errorf("failed to update patron: %w", err)
	}
	return patron, nil
}

func (s *service) RemovePatron(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeletePatron(ctx, id); err != nil {
		return fmt.Errorf("failed to remove patron: %w", err)
	}

	s.logger.InfoContext(ctx, "patron removed", "patron_id", id)
	return nil
}
