package port

import (
	"context"

	"github.com/rl1809/stockroom/internal/core/domain"
)

// ReplayCache keeps recently applied idempotent results close to the API. It is an
// accelerator only; the ledger stays the system of record for replays.
type ReplayCache interface {
	// Lookup returns the cached result for scope, or nil when absent.
	Lookup(ctx context.Context, scope string) (*domain.MutationResult, error)

	// Remember stores result for scope unless a result is already cached.
	Remember(ctx context.Context, scope string, result domain.MutationResult) error
}
