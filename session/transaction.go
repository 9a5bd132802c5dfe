package session

import (
	"time"

	"ha_ocpp/storage"
)

// Transaction is the charging session currently open on the charge point.
type Transaction struct {
	ID          int
	ConnectorID int
	IDTag       string
	MeterStart  int // Wh
	StartedAt   time.Time
}

func (t Transaction) record() storage.TransactionRecord {
	return storage.TransactionRecord{
		TransactionID: t.ID,
		ConnectorID:   t.ConnectorID,
		IDTag:         t.IDTag,
		MeterStart:    t.MeterStart,
		StartedAt:     t.StartedAt,
	}
}

func transactionFromRecord(rec storage.TransactionRecord) *Transaction {
	return &Transaction{
		ID:          rec.TransactionID,
		ConnectorID: rec.ConnectorID,
		IDTag:       rec.IDTag,
		MeterStart:  rec.MeterStart,
		StartedAt:   rec.StartedAt,
	}
}

// UnixTransactionIDs allocates transaction ids from the wall clock in seconds.
func UnixTransactionIDs() int {
	return int(time.Now().Unix())
}
