// internal/clients/circulation_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libraryhub/internal/circulation"
)

func (c *Client) Borrow(ctx context.Context, bookID, patronID uuid.UUID) (*circulation.BorrowingRecord, error) {
	var record circulation.BorrowingRecord
	path := fmt.Sprintf("/api/borrow/%s/patron/%s", bookID, patronID)
	if err := c.do(ctx, http.MethodPost, path, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) Return(ctx context.Context, bookID, patronID uuid.UUID) (*circulation.BorrowingRecord, error) {
	var record circulation.BorrowingRecord
	path := fmt.Sprintf("/api/return/%s/patron/%s", bookID, patronID)
	if err := c.do(ctx, http.MethodPut, path, nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (c *Client) ListRecords(ctx context.Context) ([]*circulation.BorrowingRecord, error) {
	var records []*circulation.BorrowingRecord
	if err := c.do(ctx, http.MethodGet, "/api/borrowingRecords", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}
