// internal/clients/membership_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libraryhub/internal/membership"
)

func (c *Client) CreatePatron(ctx context.Context, details membership.PatronDetails) (*membership.Patron, error) {
	var patron membership.Patron
	if err := c.do(ctx, http.MethodPost, "/api/patrons", details, &patron); err != nil {
		return nil, err
	}
	return &patron, nil
}

func (c *Client) GetPatron(ctx context.Context, id uuid.UUID) (*membership.Patron, error) {
	var patron membership.Patron
	if err := c.do(ctx, http.MethodGet, "/api/patrons/"+id.String(), nil, &patron); err != nil {
		return nil, err
	}
	return &patron, nil
}
