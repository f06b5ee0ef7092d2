package port

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
)

// ErrDuplicateKey is returned when an insert violates a uniqueness constraint, e.g. a
// second ledger row for the same (batch_id, idempotency_key).
var ErrDuplicateKey = errors.New("duplicate key")

type BatchRepository interface {
	// WithinTx runs fn in one atomic unit. Locks taken through tx are held until fn returns;
	// any error rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(tx BatchTx) error) error

	// FindTransactionByKey returns the ledger row recorded for (batch, key), or nil.
	FindTransactionByKey(ctx context.Context, orgID, batchID, key string) (*domain.Transaction, error)

	// FindCreateByItemKey returns the inbound row of the batch that was created for the item
	// under key, or nil. Inbound rows that topped up an existing batch never match.
	FindCreateByItemKey(ctx context.Context, orgID, itemID, key string) (*domain.Transaction, error)
}

// BatchTx is the view of the store inside WithinTx. Every lookup is scoped by org id;
// rows of another org are reported exactly like missing rows (nil, nil).
type BatchTx interface {
	// LockItem locks a live (not soft-deleted) item row for the rest of the transaction.
	LockItem(ctx context.Context, orgID, itemID string) (*domain.Item, error)

	// LockBatch locks a batch row for the rest of the transaction.
	LockBatch(ctx context.Context, orgID, batchID string) (*domain.Batch, error)

	FindTransactionByKey(ctx context.Context, orgID, batchID, key string) (*domain.Transaction, error)
	FindCreateByItemKey(ctx context.Context, orgID, itemID, key string) (*domain.Transaction, error)

	LocationExists(ctx context.Context, orgID, locationID string) (bool, error)
	TagExists(ctx context.Context, orgID, tagID string) (bool, error)

	InsertBatch(ctx context.Context, batch domain.Batch) error
	UpdateBatchQuantity(ctx context.Context, batchID string, quantity decimal.Decimal, updatedAt time.Time) error

	// InsertTransaction appends a ledger row; a (batch_id, idempotency_key) conflict yields ErrDuplicateKey.
	InsertTransaction(ctx context.Context, txn domain.Transaction) error
}
