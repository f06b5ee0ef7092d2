package port

import (
	"context"

	"github.com/rl1809/stockroom/internal/core/domain"
)

type MembershipRepository interface {
	// FindMembership returns the caller's membership in orgID, or the earliest membership
	// when orgID is empty. Nil when there is none.
	FindMembership(ctx context.Context, userID, orgID string) (*domain.Membership, error)

	// FindDefaultWarehouse returns the org's default warehouse, or nil.
	FindDefaultWarehouse(ctx context.Context, orgID string) (*domain.Warehouse, error)
}

type CatalogRepository interface {
	// CreateOrganization stores the org, its owner membership and default warehouse atomically.
	CreateOrganization(ctx context.Context, org domain.Organization, owner domain.Membership, warehouse domain.Warehouse) error

	// UpsertMembership inserts or replaces the role of a member.
	UpsertMembership(ctx context.Context, m domain.Membership) error

	// CreateItem returns ErrDuplicateKey when the name is taken in the org (case-insensitive).
	CreateItem(ctx context.Context, item domain.Item) error

	// ArchiveItem soft-deletes the item; false when it does not exist in the org.
	ArchiveItem(ctx context.Context, orgID, itemID string) (bool, error)

	CreateLocation(ctx context.Context, loc domain.StorageLocation) error
	CreateTag(ctx context.Context, tag domain.Tag) error
	TagExists(ctx context.Context, orgID, tagID string) (bool, error)
}

// StockReader serves the read projections. Soft-deleted items and their batches are hidden.
type StockReader interface {
	// ListStockBatches orders by item name, expiry ascending with undated last, then creation.
	ListStockBatches(ctx context.Context, orgID string, q domain.StockQuery) ([]domain.StockBatchView, error)
	ListBatchesForItem(ctx context.Context, orgID, itemID string) ([]domain.StockBatchView, error)
	ListItems(ctx context.Context, orgID string) ([]domain.Item, error)
	GetItem(ctx context.Context, orgID, itemID string) (*domain.Item, error)

	// ListTransactions returns ledger rows newest first; batchID may be empty for the whole
	// org and limit <= 0 means no cap.
	ListTransactions(ctx context.Context, orgID, batchID string, limit int) ([]domain.Transaction, error)
}
