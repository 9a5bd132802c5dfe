// Package storage persists the transaction a charge point had open, so that
// meter start and transaction id survive a restart of the central system.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRecord = errors.New("invalid transaction record")

// Store defines the persistence backend for open transactions.
type Store interface {
	// SaveTransaction stores rec for the given charge point, replacing any
	// record kept for the same connector.
	SaveTransaction(ctx context.Context, chargePointID string, rec TransactionRecord) error

	// LoadTransaction returns the record kept for connectorID.
	// Returns nil if there is none. Errors are storage system failures only.
	LoadTransaction(ctx context.Context, chargePointID string, connectorID int) (*TransactionRecord, error)

	// DeleteTransaction removes the record kept for connectorID. Deleting a
	// missing record is not an error.
	DeleteTransaction(ctx context.Context, chargePointID string, connectorID int) error

	Close() error
}

// TransactionRecord is the persisted part of an open transaction.
type TransactionRecord struct {
	TransactionID int       `json:"transactionId"`
	ConnectorID   int       `json:"connectorId"`
	IDTag         string    `json:"idTag"`
	MeterStart    int       `json:"meterStart"` // Wh, as reported by the charger
	StartedAt     time.Time `json:"startedAt"`
}

// Validate checks the invariants every backend relies on.
func (r TransactionRecord) Validate() error {
	if r.TransactionID == 0 {
		return errors.Join(ErrInvalidRecord, errors.New("transaction id is required"))
	}
	if r.ConnectorID < 0 {
		return errors.Join(ErrInvalidRecord, errors.New("connector id must not be negative"))
	}
	return nil
}
