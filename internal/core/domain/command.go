package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Raw mutation inputs as received from a transport. Quantities arrive as float64 so the
// validation layer can reject NaN and infinities explicitly.

type CreateInboundBatchInput struct {
	ItemID            string  `json:"item_id"`
	Quantity          float64 `json:"quantity"`
	ExpiryDate        string  `json:"expiry_date,omitempty"`
	StorageLocationID string  `json:"storage_location_id,omitempty"`
	TagID             string  `json:"tag_id,omitempty"`
	Note              string  `json:"note,omitempty"`
	IdempotencyKey    string  `json:"idempotency_key,omitempty"`
	Source            string  `json:"source,omitempty"`
}

type AddInboundInput struct {
	BatchID        string  `json:"batch_id"`
	Quantity       float64 `json:"quantity"`
	Note           string  `json:"note,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	Source         string  `json:"source,omitempty"`
}

type ConsumeInput struct {
	BatchID        string  `json:"batch_id"`
	Quantity       float64 `json:"quantity"`
	Note           string  `json:"note,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	Source         string  `json:"source,omitempty"`
}

type AdjustInput struct {
	BatchID        string  `json:"batch_id"`
	ActualQuantity float64 `json:"actual_quantity"`
	Note           string  `json:"note,omitempty"`
	IdempotencyKey string  `json:"idempotency_key"`
	Source         string  `json:"source,omitempty"`
}

// Normalized commands produced by the validation layer.

type CreateInboundBatchCommand struct {
	ItemID            string
	Quantity          decimal.Decimal
	ExpiryDate        *time.Time
	StorageLocationID string
	TagID             string
	Note              string
	IdempotencyKey    string
	Source            string
}

// BatchCommand covers add-inbound, consume and adjust, which all target an existing batch.
// Quantity is the requested amount, or the actual counted amount for adjustments.
type BatchCommand struct {
	BatchID        string
	Quantity       decimal.Decimal
	Note           string
	IdempotencyKey string
	Source         string
}

type CreateItemInput struct {
	Name           string   `json:"name"`
	Unit           string   `json:"unit,omitempty"`
	MinStock       float64  `json:"min_stock,omitempty"`
	DefaultTagID   string   `json:"default_tag_id,omitempty"`
	TargetQuantity *float64 `json:"target_quantity,omitempty"`
}
