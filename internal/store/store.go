// internal/store/store.go

// Package store defines the record store shared by the catalog, membership
// and circulation services, and the conflict reasons its adapters report.
package store

import (
	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
)

// RecordStore persists books, patrons and borrowing records.
type RecordStore interface {
	catalog.Repository
	membership.Repository
	circulation.RecordStore
}

// Conflict reasons reported by the adapters.
const (
	ReasonISBNTaken        = "isbn already registered"
	ReasonBookReferenced   = "book has borrowing records"
	ReasonPatronReferenced = "patron has borrowing records"
	ReasonBookUnavailable  = circulation.ReasonBookUnavailable
	ReasonLoanClosed       = "borrowing record already closed"
)
