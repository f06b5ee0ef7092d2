package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/port"
)

// LedgerExporter writes an organization's complete transaction log to an archive as JSON Lines.
type LedgerExporter struct {
	reader  port.StockReader
	archive port.LedgerArchive
	members *MembershipService
	opts    options
}

type ExportResult struct {
	Key          string `json:"key"`
	Transactions int    `json:"transactions"`
}

func NewLedgerExporter(reader port.StockReader, archive port.LedgerArchive, members *MembershipService, opts ...Option) *LedgerExporter {
	return &LedgerExporter{reader: reader, archive: archive, members: members, opts: buildOptions(opts)}
}

// Export uploads the ledger oldest first under ledger/{org}/{timestamp}.jsonl. Owner only.
func (e *LedgerExporter) Export(ctx context.Context, caller domain.Caller) (ExportResult, error) {
	auth, err := e.members.ResolveOwner(ctx, caller)
	if err != nil {
		return ExportResult{}, err
	}

	txns, err := e.reader.ListTransactions(ctx, auth.OrgID, "", 0)
	if err != nil {
		return ExportResult{}, fmt.Errorf("list transactions: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := len(txns) - 1; i >= 0; i-- {
		if err := enc.Encode(txns[i]); err != nil {
			return ExportResult{}, fmt.Errorf("encode transaction %s: %w", txns[i].ID, err)
		}
	}

	key := fmt.Sprintf("ledger/%s/%s.jsonl", auth.OrgID, e.opts.now().UTC().Format("20060102T150405Z"))
	if err := e.archive.PutObject(ctx, key, "application/x-ndjson", bytes.NewReader(buf.Bytes())); err != nil {
		return ExportResult{}, fmt.Errorf("put ledger object: %w", err)
	}

	e.opts.logger.Info("ledger exported",
		zap.String("org_id", auth.OrgID), zap.String("key", key), zap.Int("transactions", len(txns)))
	return ExportResult{Key: key, Transactions: len(txns)}, nil
}
