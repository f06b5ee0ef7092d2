package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
)

// sqlTime scans timestamps returned as time.Time (mysql, pgx) or text (sqlite).
type sqlTime struct {
	t time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (s *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.t = time.Time{}
		return nil
	case time.Time:
		s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	}
	return fmt.Errorf("scan time: unsupported type %T", src)
}

func (s *sqlTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: cannot parse %q", v)
}

// sqlDate scans a nullable calendar date into UTC midnight.
type sqlDate struct {
	t *time.Time
}

func (s *sqlDate) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		s.t = nil
		return nil
	case time.Time:
		d := time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		s.t = &d
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	}
	return fmt.Errorf("scan date: unsupported type %T", src)
}

func (s *sqlDate) parse(v string) error {
	if len(v) > len(domain.DateLayout) {
		v = v[:len(domain.DateLayout)]
	}
	d, err := time.Parse(domain.DateLayout, v)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	s.t = &d
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type membershipRow struct {
	OrgID     string  `db:"org_id"`
	UserID    string  `db:"user_id"`
	Role      string  `db:"role"`
	CreatedAt sqlTime `db:"created_at"`
}

func (r membershipRow) toDomain() domain.Membership {
	return domain.Membership{OrgID: r.OrgID, UserID: r.UserID, Role: domain.Role(r.Role), CreatedAt: r.CreatedAt.t}
}

type warehouseRow struct {
	ID        string  `db:"id"`
	OrgID     string  `db:"org_id"`
	Name      string  `db:"name"`
	IsDefault bool    `db:"is_default"`
	CreatedAt sqlTime `db:"created_at"`
}

func (r warehouseRow) toDomain() domain.Warehouse {
	return domain.Warehouse{ID: r.ID, OrgID: r.OrgID, Name: r.Name, IsDefault: r.IsDefault, CreatedAt: r.CreatedAt.t}
}

const itemColumns = `id, org_id, name, unit, min_stock, default_tag_id, target_quantity, is_deleted, created_at, updated_at`

type itemRow struct {
	ID             string              `db:"id"`
	OrgID          string              `db:"org_id"`
	Name           string              `db:"name"`
	Unit           string              `db:"unit"`
	MinStock       decimal.Decimal     `db:"min_stock"`
	DefaultTagID   sql.NullString      `db:"default_tag_id"`
	TargetQuantity decimal.NullDecimal `db:"target_quantity"`
	IsDeleted      bool                `db:"is_deleted"`
	CreatedAt      sqlTime             `db:"created_at"`
	UpdatedAt      sqlTime             `db:"updated_at"`
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{
		ID:             r.ID,
		OrgID:          r.OrgID,
		Name:           r.Name,
		Unit:           r.Unit,
		MinStock:       r.MinStock,
		DefaultTagID:   r.DefaultTagID.String,
		TargetQuantity: r.TargetQuantity,
		IsDeleted:      r.IsDeleted,
		CreatedAt:      r.CreatedAt.t,
		UpdatedAt:      r.UpdatedAt.t,
	}
}

const batchColumns = `id, org_id, warehouse_id, item_id, quantity, expiry_date, storage_location_id, tag_id, create_key, created_at, updated_at`

type batchRow struct {
	ID                string          `db:"id"`
	OrgID             string          `db:"org_id"`
	WarehouseID       string          `db:"warehouse_id"`
	ItemID            string          `db:"item_id"`
	Quantity          decimal.Decimal `db:"quantity"`
	ExpiryDate        sqlDate         `db:"expiry_date"`
	StorageLocationID sql.NullString  `db:"storage_location_id"`
	TagID             sql.NullString  `db:"tag_id"`
	CreateKey         sql.NullString  `db:"create_key"`
	CreatedAt         sqlTime         `db:"created_at"`
	UpdatedAt         sqlTime         `db:"updated_at"`
}

func (r batchRow) toDomain() domain.Batch {
	return domain.Batch{
		ID:                r.ID,
		OrgID:             r.OrgID,
		WarehouseID:       r.WarehouseID,
		ItemID:            r.ItemID,
		Quantity:          r.Quantity,
		ExpiryDate:        r.ExpiryDate.t,
		StorageLocationID: r.StorageLocationID.String,
		TagID:             r.TagID.String,
		CreateKey:         r.CreateKey.String,
		CreatedAt:         r.CreatedAt.t,
		UpdatedAt:         r.UpdatedAt.t,
	}
}

const transactionColumns = `id, org_id, batch_id, item_id, type, quantity_delta, quantity_after, note, source, idempotency_key, actor_id, created_at`

type transactionRow struct {
	ID             string          `db:"id"`
	OrgID          string          `db:"org_id"`
	BatchID        string          `db:"batch_id"`
	ItemID         string          `db:"item_id"`
	Type           string          `db:"type"`
	QuantityDelta  decimal.Decimal `db:"quantity_delta"`
	QuantityAfter  decimal.Decimal `db:"quantity_after"`
	Note           string          `db:"note"`
	Source         string          `db:"source"`
	IdempotencyKey sql.NullString  `db:"idempotency_key"`
	ActorID        string          `db:"actor_id"`
	CreatedAt      sqlTime         `db:"created_at"`
}

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:             r.ID,
		OrgID:          r.OrgID,
		BatchID:        r.BatchID,
		ItemID:         r.ItemID,
		Type:           domain.TransactionType(r.Type),
		QuantityDelta:  r.QuantityDelta,
		QuantityAfter:  r.QuantityAfter,
		Note:           r.Note,
		Source:         r.Source,
		IdempotencyKey: r.IdempotencyKey.String,
		ActorID:        r.ActorID,
		CreatedAt:      r.CreatedAt.t,
	}
}

type stockViewRow struct {
	BatchID           string          `db:"batch_id"`
	ItemID            string          `db:"item_id"`
	ItemName          string          `db:"item_name"`
	Unit              string          `db:"unit"`
	Quantity          decimal.Decimal `db:"quantity"`
	ExpiryDate        sqlDate         `db:"expiry_date"`
	StorageLocationID sql.NullString  `db:"storage_location_id"`
	LocationName      sql.NullString  `db:"location_name"`
	TagID             sql.NullString  `db:"tag_id"`
	TagName           sql.NullString  `db:"tag_name"`
	CreatedAt         sqlTime         `db:"created_at"`
	UpdatedAt         sqlTime         `db:"updated_at"`
}

func (r stockViewRow) toDomain() domain.StockBatchView {
	return domain.StockBatchView{
		BatchID:           r.BatchID,
		ItemID:            r.ItemID,
		ItemName:          r.ItemName,
		Unit:              r.Unit,
		Quantity:          r.Quantity,
		ExpiryDate:        r.ExpiryDate.t,
		StorageLocationID: r.StorageLocationID.String,
		LocationName:      r.LocationName.String,
		TagID:             r.TagID.String,
		TagName:           r.TagName.String,
		CreatedAt:         r.CreatedAt.t,
		UpdatedAt:         r.UpdatedAt.t,
	}
}
