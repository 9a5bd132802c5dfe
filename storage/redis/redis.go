// Package redis provides a Redis-based implementation of storage.Store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ha_ocpp/storage"
)

// Config contains configuration options for the Redis store
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: "ocpp:transaction:"
	KeyPrefix string

	// TTL bounds how long an open transaction is remembered. Zero keeps it until deleted.
	TTL time.Duration
}

type Store struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "ocpp:transaction:"
	}
	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
	}, nil
}

func (s *Store) SaveTransaction(ctx context.Context, chargePointID string, rec storage.TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction record: %w", err)
	}
	if err := s.client.Set(ctx, s.buildKey(chargePointID, rec.ConnectorID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (s *Store) LoadTransaction(ctx context.Context, chargePointID string, connectorID int) (*storage.TransactionRecord, error) {
	data, err := s.client.Get(ctx, s.buildKey(chargePointID, connectorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	var rec storage.TransactionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction record: %w", err)
	}
	return &rec, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, chargePointID string, connectorID int) error {
	if err := s.client.Del(ctx, s.buildKey(chargePointID, connectorID)).Err(); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) buildKey(chargePointID string, connectorID int) string {
	return fmt.Sprintf("%s%s:%d", s.keyPrefix, chargePointID, connectorID)
}
