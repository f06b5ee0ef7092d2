package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionInbound     TransactionType = "inbound"
	TransactionConsumption TransactionType = "consumption"
	TransactionAdjustment  TransactionType = "adjustment"
)

// Source values recorded on ledger rows.
const (
	SourceWeb  = "web"
	SourceAPI  = "api"
	SourceGRPC = "grpc"
	SourceCLI  = "cli"
)

// Transaction is an append-only ledger row. Rows are never updated or deleted.
type Transaction struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"org_id"`
	BatchID        string          `json:"batch_id"`
	ItemID         string          `json:"item_id"`
	Type           TransactionType `json:"type"`
	QuantityDelta  decimal.Decimal `json:"quantity_delta"`
	QuantityAfter  decimal.Decimal `json:"quantity_after"`
	Note           string          `json:"note,omitempty"`
	Source         string          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ActorID        string          `json:"actor_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Result returns the mutation identity recorded by this ledger row.
func (t Transaction) Result() MutationResult {
	return MutationResult{
		BatchID:       t.BatchID,
		TransactionID: t.ID,
		QuantityAfter: t.QuantityAfter,
	}
}

// StockEvent is published after a mutation commits.
type StockEvent struct {
	Type          string          `json:"type"`
	OrgID         string          `json:"org_id"`
	ItemID        string          `json:"item_id"`
	BatchID       string          `json:"batch_id"`
	TransactionID string          `json:"transaction_id"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	QuantityAfter decimal.Decimal `json:"quantity_after"`
	ActorID       string          `json:"actor_id"`
	Timestamp     time.Time       `json:"timestamp"`
}

// EventType maps a ledger type to the published event name.
func (t TransactionType) EventType() string {
	switch t {
	case TransactionInbound:
		return "stock.inbound"
	case TransactionConsumption:
		return "stock.consumed"
	case TransactionAdjustment:
		return "stock.adjusted"
	}
	return "stock.unknown"
}
