package port

import (
	"context"
	"io"
	"time"

	"github.com/rl1809/stockroom/internal/core/domain"
)

type EventPublisher interface {
	// PublishStockEvent announces a committed mutation. Delivery is best effort.
	PublishStockEvent(ctx context.Context, event domain.StockEvent) error
}

type MutationRecorder interface {
	// ObserveMutation records one engine call; outcome is "applied", "replayed" or an error code.
	ObserveMutation(op, outcome string, elapsed time.Duration)
}

type LedgerArchive interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader) error
}
