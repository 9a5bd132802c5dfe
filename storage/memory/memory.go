// Package memory provides an in-memory implementation of storage.Store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"ha_ocpp/storage"
)

// Store keeps records in a map; contents are lost when the process exits.
type Store struct {
	mu      sync.RWMutex
	records map[string]storage.TransactionRecord
}

func New() *Store {
	return &Store{records: map[string]storage.TransactionRecord{}}
}

func (s *Store) SaveTransaction(ctx context.Context, chargePointID string, rec storage.TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[buildKey(chargePointID, rec.ConnectorID)] = rec
	return nil
}

func (s *Store) LoadTransaction(ctx context.Context, chargePointID string, connectorID int) (*storage.TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[buildKey(chargePointID, connectorID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, chargePointID string, connectorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, buildKey(chargePointID, connectorID))
	return nil
}

func (s *Store) Close() error {
	return nil
}

func buildKey(chargePointID string, connectorID int) string {
	return fmt.Sprintf("%s/%d", chargePointID, connectorID)
}
