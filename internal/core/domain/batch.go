package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for expiry dates on the wire and in storage.
const DateLayout = "2006-01-02"

type Batch struct {
	ID                string
	OrgID             string
	WarehouseID       string
	ItemID            string
	Quantity          decimal.Decimal // never negative
	ExpiryDate        *time.Time      // date only, UTC midnight
	StorageLocationID string
	TagID             string
	CreateKey         string // idempotency key of the call that created the batch
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExpiredAt reports whether the batch expiry date lies strictly before the calendar day of now.
func (b Batch) ExpiredAt(now time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return b.ExpiryDate.Before(today)
}

// MutationResult is the identity of one applied quantity change. A replayed idempotent
// request returns the same BatchID, TransactionID and QuantityAfter as the first call.
type MutationResult struct {
	BatchID       string          `json:"batch_id"`
	TransactionID string          `json:"transaction_id"`
	QuantityAfter decimal.Decimal `json:"quantity_after"`
	Replayed      bool            `json:"replayed"`
}
