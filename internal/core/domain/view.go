package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockBatchView is a batch joined with the display names of its item, location and tag.
type StockBatchView struct {
	BatchID           string          `json:"batch_id"`
	ItemID            string          `json:"item_id"`
	ItemName          string          `json:"item_name"`
	Unit              string          `json:"unit"`
	Quantity          decimal.Decimal `json:"quantity"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	StorageLocationID string          `json:"storage_location_id,omitempty"`
	LocationName      string          `json:"location_name,omitempty"`
	TagID             string          `json:"tag_id,omitempty"`
	TagName           string          `json:"tag_name,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// StockQuery filters ListStockBatches. An empty NameContains matches every item.
type StockQuery struct {
	NameContains string
	Limit        int
}

type ItemWithBatches struct {
	Item          Item             `json:"item"`
	Batches       []StockBatchView `json:"batches"`
	TotalQuantity decimal.Decimal  `json:"total_quantity"`
	BelowMinimum  bool             `json:"below_minimum"`
}

type PlanModeItem struct {
	ItemID        string          `json:"item_id"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	Target        decimal.Decimal `json:"target"`
	CurrentStock  decimal.Decimal `json:"current_stock"`
	Deficit       decimal.Decimal `json:"deficit"`
	CompletionPct decimal.Decimal `json:"completion_pct"`
}

// Complete reports whether current stock meets the target.
func (p PlanModeItem) Complete() bool {
	return p.Deficit.IsZero()
}
