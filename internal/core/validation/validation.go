// Package validation normalizes raw mutation input before any storage access.
// Nothing here performs I/O.
package validation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
)

// QuantityScale is the number of fractional digits kept for stock quantities.
const QuantityScale = 4

// floatNoise bounds the binary representation error absorbed when a float quantity is
// brought to QuantityScale, e.g. 0.1+0.2.
var floatNoise = decimal.New(1, -9)

// InboundQuantity accepts whole, positive units only.
func InboundQuantity(q float64) (decimal.Decimal, error) {
	if !finite(q) {
		return decimal.Decimal{}, fmt.Errorf("%w: must be a finite number", domain.ErrQuantityInvalid)
	}
	if q <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: must be positive", domain.ErrQuantityInvalid)
	}
	if math.Trunc(q) != q {
		return decimal.Decimal{}, fmt.Errorf("%w: must be a whole number", domain.ErrQuantityInvalid)
	}
	return decimal.NewFromFloat(q), nil
}

// ConsumeQuantity accepts positive fractional amounts.
func ConsumeQuantity(q float64) (decimal.Decimal, error) {
	if !finite(q) {
		return decimal.Decimal{}, fmt.Errorf("%w: must be a finite number", domain.ErrQuantityInvalid)
	}
	if q <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: must be positive", domain.ErrQuantityInvalid)
	}
	d, ok := scaled(q)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d decimal places", domain.ErrQuantityInvalid, QuantityScale)
	}
	return d, nil
}

// ActualQuantity accepts any non-negative counted amount, zero included.
func ActualQuantity(q float64) (decimal.Decimal, error) {
	if !finite(q) {
		return decimal.Decimal{}, fmt.Errorf("%w: must be a finite number", domain.ErrQuantityInvalid)
	}
	if q < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: must not be negative", domain.ErrQuantityInvalid)
	}
	d, ok := scaled(q)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: at most %d decimal places", domain.ErrQuantityInvalid, QuantityScale)
	}
	return d, nil
}

// NonNegative validates catalog thresholds such as min stock and target quantity.
func NonNegative(field string, q float64) (decimal.Decimal, error) {
	if !finite(q) || q < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a non-negative number", domain.ErrInvalidInput, field)
	}
	d, ok := scaled(q)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s has more than %d decimal places", domain.ErrInvalidInput, field, QuantityScale)
	}
	return d, nil
}

// ExpiryDate parses an optional YYYY-MM-DD date. Blank input means no expiry.
func ExpiryDate(s string) (*time.Time, error) {
	s = Text(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", domain.ErrInvalidDate, s)
	}
	return &t, nil
}

// Text trims surrounding whitespace; the empty result stands for "absent".
func Text(s string) string {
	return strings.TrimSpace(s)
}

// scaled rounds q to QuantityScale and reports false when that would change the amount.
func scaled(q float64) (decimal.Decimal, bool) {
	d := decimal.NewFromFloat(q)
	r := d.Round(QuantityScale)
	return r, d.Sub(r).Abs().LessThanOrEqual(floatNoise)
}

func finite(q float64) bool {
	return !math.IsNaN(q) && !math.IsInf(q, 0)
}

func source(s, fallback string) string {
	if s = Text(s); s != "" {
		return s
	}
	return fallback
}

func CreateInboundBatch(in domain.CreateInboundBatchInput) (domain.CreateInboundBatchCommand, error) {
	qty, err := InboundQuantity(in.Quantity)
	if err != nil {
		return domain.CreateInboundBatchCommand{}, err
	}
	expiry, err := ExpiryDate(in.ExpiryDate)
	if err != nil {
		return domain.CreateInboundBatchCommand{}, err
	}
	return domain.CreateInboundBatchCommand{
		ItemID:            Text(in.ItemID),
		Quantity:          qty,
		ExpiryDate:        expiry,
		StorageLocationID: Text(in.StorageLocationID),
		TagID:             Text(in.TagID),
		Note:              Text(in.Note),
		IdempotencyKey:    Text(in.IdempotencyKey),
		Source:            source(in.Source, domain.SourceAPI),
	}, nil
}

func AddInbound(in domain.AddInboundInput) (domain.BatchCommand, error) {
	qty, err := InboundQuantity(in.Quantity)
	if err != nil {
		return domain.BatchCommand{}, err
	}
	return domain.BatchCommand{
		BatchID:        Text(in.BatchID),
		Quantity:       qty,
		Note:           Text(in.Note),
		IdempotencyKey: Text(in.IdempotencyKey),
		Source:         source(in.Source, domain.SourceAPI),
	}, nil
}

func Consume(in domain.ConsumeInput) (domain.BatchCommand, error) {
	qty, err := ConsumeQuantity(in.Quantity)
	if err != nil {
		return domain.BatchCommand{}, err
	}
	return domain.BatchCommand{
		BatchID:        Text(in.BatchID),
		Quantity:       qty,
		Note:           Text(in.Note),
		IdempotencyKey: Text(in.IdempotencyKey),
		Source:         source(in.Source, domain.SourceAPI),
	}, nil
}

// Adjust additionally requires an idempotency key.
func Adjust(in domain.AdjustInput) (domain.BatchCommand, error) {
	qty, err := ActualQuantity(in.ActualQuantity)
	if err != nil {
		return domain.BatchCommand{}, err
	}
	key := Text(in.IdempotencyKey)
	if key == "" {
		return domain.BatchCommand{}, domain.ErrIdempotencyKeyRequired
	}
	return domain.BatchCommand{
		BatchID:        Text(in.BatchID),
		Quantity:       qty,
		Note:           Text(in.Note),
		IdempotencyKey: key,
		Source:         source(in.Source, domain.SourceAPI),
	}, nil
}

// CreateItem validates a new catalog item.
func CreateItem(in domain.CreateItemInput) (domain.Item, error) {
	name := Text(in.Name)
	if name == "" {
		return domain.Item{}, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	unit := Text(in.Unit)
	if unit == "" {
		unit = "pcs"
	}
	minStock, err := NonNegative("min_stock", in.MinStock)
	if err != nil {
		return domain.Item{}, err
	}
	item := domain.Item{
		Name:         name,
		Unit:         unit,
		MinStock:     minStock,
		DefaultTagID: Text(in.DefaultTagID),
	}
	if in.TargetQuantity != nil {
		target, err := NonNegative("target_quantity", *in.TargetQuantity)
		if err != nil {
			return domain.Item{}, err
		}
		item.TargetQuantity = decimal.NewNullDecimal(target)
	}
	return item, nil
}

// Name validates the display name of a location or tag.
func Name(s string) (string, error) {
	s = Text(s)
	if s == "" {
		return "", fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	return s, nil
}
