package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/validation"
	"github.com/rl1809/stockroom/internal/port"
)

// Operation names used in logs, metrics and replay scopes.
const (
	OpCreateInboundBatch  = "create_inbound_batch"
	OpAddInboundToBatch   = "add_inbound_to_batch"
	OpConsumeFromBatch    = "consume_from_batch"
	OpAdjustBatchQuantity = "adjust_batch_quantity"
)

const (
	outcomeApplied  = "applied"
	outcomeReplayed = "replayed"
)

// BatchService is the only writer of batch quantities and ledger rows. Every call validates
// input, resolves the caller, then mutates one batch and appends one ledger row atomically.
type BatchService struct {
	repo    port.BatchRepository
	members *MembershipService
	opts    options
}

func NewBatchService(repo port.BatchRepository, members *MembershipService, opts ...Option) *BatchService {
	return &BatchService{
		repo:    repo,
		members: members,
		opts:    buildOptions(opts),
	}
}

func (s *BatchService) CreateInboundBatch(ctx context.Context, caller domain.Caller, in domain.CreateInboundBatchInput) (res domain.MutationResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpCreateInboundBatch, start, res, err) }()

	cmd, err := validation.CreateInboundBatch(in)
	if err != nil {
		return domain.MutationResult{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.MutationResult{}, err
	}
	return s.createInboundBatch(ctx, auth, cmd)
}

func (s *BatchService) AddInboundToBatch(ctx context.Context, caller domain.Caller, in domain.AddInboundInput) (res domain.MutationResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpAddInboundToBatch, start, res, err) }()

	cmd, err := validation.AddInbound(in)
	if err != nil {
		return domain.MutationResult{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.MutationResult{}, err
	}
	return s.mutateBatch(ctx, OpAddInboundToBatch, auth, cmd, func(b domain.Batch) (domain.TransactionType, decimal.Decimal, error) {
		return domain.TransactionInbound, b.Quantity.Add(cmd.Quantity), nil
	})
}

func (s *BatchService) ConsumeFromBatch(ctx context.Context, caller domain.Caller, in domain.ConsumeInput) (res domain.MutationResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpConsumeFromBatch, start, res, err) }()

	cmd, err := validation.Consume(in)
	if err != nil {
		return domain.MutationResult{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.MutationResult{}, err
	}
	return s.mutateBatch(ctx, OpConsumeFromBatch, auth, cmd, func(b domain.Batch) (domain.TransactionType, decimal.Decimal, error) {
		if cmd.Quantity.GreaterThan(b.Quantity) {
			return "", decimal.Decimal{}, fmt.Errorf("%w: requested %s, available %s",
				domain.ErrInsufficientStock, cmd.Quantity, b.Quantity)
		}
		return domain.TransactionConsumption, b.Quantity.Sub(cmd.Quantity), nil
	})
}

func (s *BatchService) AdjustBatchQuantity(ctx context.Context, caller domain.Caller, in domain.AdjustInput) (res domain.MutationResult, err error) {
	start := time.Now()
	defer func() { s.observe(OpAdjustBatchQuantity, start, res, err) }()

	cmd, err := validation.Adjust(in)
	if err != nil {
		return domain.MutationResult{}, err
	}
	auth, err := s.members.ResolveWriter(ctx, caller)
	if err != nil {
		return domain.MutationResult{}, err
	}
	return s.mutateBatch(ctx, OpAdjustBatchQuantity, auth, cmd, func(domain.Batch) (domain.TransactionType, decimal.Decimal, error) {
		return domain.TransactionAdjustment, cmd.Quantity, nil
	})
}

func (s *BatchService) createInboundBatch(ctx context.Context, auth domain.AuthContext, cmd domain.CreateInboundBatchCommand) (domain.MutationResult, error) {
	key := cmd.IdempotencyKey
	scope := replayScope(auth.OrgID, "item", cmd.ItemID, key)
	lookup := func() (*domain.Transaction, error) {
		return s.repo.FindCreateByItemKey(ctx, auth.OrgID, cmd.ItemID, key)
	}
	if key != "" {
		res, err := s.replay(ctx, scope, lookup)
		if err != nil || res != nil {
			return derefResult(res), err
		}
	}
	if cmd.ItemID == "" {
		return domain.MutationResult{}, domain.ErrItemNotFound
	}

	var (
		txn      domain.Transaction
		existing *domain.Transaction
	)
	err := s.repo.WithinTx(ctx, func(tx port.BatchTx) error {
		item, err := tx.LockItem(ctx, auth.OrgID, cmd.ItemID)
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}
		if item == nil {
			return domain.ErrItemNotFound
		}

		// The item lock serializes creators, so a concurrent duplicate is visible here.
		if key != "" {
			existing, err = tx.FindCreateByItemKey(ctx, auth.OrgID, item.ID, key)
			if err != nil {
				return fmt.Errorf("find idempotent inbound: %w", err)
			}
			if existing != nil {
				return nil
			}
		}

		if cmd.StorageLocationID != "" {
			ok, err := tx.LocationExists(ctx, auth.OrgID, cmd.StorageLocationID)
			if err != nil {
				return fmt.Errorf("check location: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: storage location", domain.ErrReferenceNotFound)
			}
		}
		tagID := cmd.TagID
		if tagID != "" {
			ok, err := tx.TagExists(ctx, auth.OrgID, tagID)
			if err != nil {
				return fmt.Errorf("check tag: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: tag", domain.ErrReferenceNotFound)
			}
		} else {
			tagID = item.DefaultTagID
		}

		now := s.opts.now().UTC()
		batch := domain.Batch{
			ID:                s.opts.newID(),
			OrgID:             auth.OrgID,
			WarehouseID:       auth.WarehouseID,
			ItemID:            item.ID,
			Quantity:          cmd.Quantity,
			ExpiryDate:        cmd.ExpiryDate,
			StorageLocationID: cmd.StorageLocationID,
			TagID:             tagID,
			CreateKey:         key,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		txn = s.newTransaction(auth, batch, domain.TransactionInbound, cmd.Quantity, cmd.Quantity, cmd.Note, cmd.Source, key, now)
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if errors.Is(err, port.ErrDuplicateKey) && key != "" {
		if res, ok, lookupErr := s.replayLostRace(ctx, scope, lookup); lookupErr != nil || ok {
			return res, lookupErr
		}
	}
	if err != nil {
		return domain.MutationResult{}, err
	}
	if existing != nil {
		return s.replayed(ctx, scope, *existing), nil
	}

	s.afterCommit(ctx, OpCreateInboundBatch, scope, txn)
	return txn.Result(), nil
}

type applyFunc func(current domain.Batch) (domain.TransactionType, decimal.Decimal, error)

// mutateBatch is the shared state machine of the three batch-targeted operations.
func (s *BatchService) mutateBatch(ctx context.Context, op string, auth domain.AuthContext, cmd domain.BatchCommand, apply applyFunc) (domain.MutationResult, error) {
	key := cmd.IdempotencyKey
	scope := replayScope(auth.OrgID, "batch", cmd.BatchID, key)
	lookup := func() (*domain.Transaction, error) {
		return s.repo.FindTransactionByKey(ctx, auth.OrgID, cmd.BatchID, key)
	}
	if key != "" {
		res, err := s.replay(ctx, scope, lookup)
		if err != nil || res != nil {
			return derefResult(res), err
		}
	}
	if cmd.BatchID == "" {
		return domain.MutationResult{}, domain.ErrBatchNotFound
	}

	var (
		txn      domain.Transaction
		existing *domain.Transaction
	)
	err := s.repo.WithinTx(ctx, func(tx port.BatchTx) error {
		batch, err := tx.LockBatch(ctx, auth.OrgID, cmd.BatchID)
		if err != nil {
			return fmt.Errorf("lock batch: %w", err)
		}
		if batch == nil {
			return domain.ErrBatchNotFound
		}

		if key != "" {
			existing, err = tx.FindTransactionByKey(ctx, auth.OrgID, batch.ID, key)
			if err != nil {
				return fmt.Errorf("find idempotent transaction: %w", err)
			}
			if existing != nil {
				return nil
			}
		}

		typ, after, err := apply(*batch)
		if err != nil {
			return err
		}
		if after.IsNegative() {
			return domain.ErrInsufficientStock
		}

		now := s.opts.now().UTC()
		if err := tx.UpdateBatchQuantity(ctx, batch.ID, after, now); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		txn = s.newTransaction(auth, *batch, typ, after.Sub(batch.Quantity), after, cmd.Note, cmd.Source, key, now)
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if errors.Is(err, port.ErrDuplicateKey) && key != "" {
		if res, ok, lookupErr := s.replayLostRace(ctx, scope, lookup); lookupErr != nil || ok {
			return res, lookupErr
		}
	}
	if err != nil {
		return domain.MutationResult{}, err
	}
	if existing != nil {
		return s.replayed(ctx, scope, *existing), nil
	}

	s.afterCommit(ctx, op, scope, txn)
	return txn.Result(), nil
}

func (s *BatchService) newTransaction(auth domain.AuthContext, batch domain.Batch, typ domain.TransactionType, delta, after decimal.Decimal, note, source, key string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:             s.opts.newID(),
		OrgID:          auth.OrgID,
		BatchID:        batch.ID,
		ItemID:         batch.ItemID,
		Type:           typ,
		QuantityDelta:  delta,
		QuantityAfter:  after,
		Note:           note,
		Source:         source,
		IdempotencyKey: key,
		ActorID:        auth.UserID,
		CreatedAt:      at,
	}
}

// replayLostRace answers a request whose insert lost to a concurrent one carrying the same key.
func (s *BatchService) replayLostRace(ctx context.Context, scope string, lookup func() (*domain.Transaction, error)) (domain.MutationResult, bool, error) {
	prior, err := lookup()
	if err != nil {
		return domain.MutationResult{}, false, fmt.Errorf("find idempotent transaction: %w", err)
	}
	if prior == nil {
		return domain.MutationResult{}, false, nil
	}
	return s.replayed(ctx, scope, *prior), true, nil
}

// replay returns a previously applied result for scope, consulting the cache before the ledger.
func (s *BatchService) replay(ctx context.Context, scope string, lookup func() (*domain.Transaction, error)) (*domain.MutationResult, error) {
	if s.opts.cache != nil {
		cached, err := s.opts.cache.Lookup(ctx, scope)
		if err != nil {
			s.opts.logger.Warn("replay cache lookup failed", zap.String("scope", scope), zap.Error(err))
		} else if cached != nil {
			res := *cached
			res.Replayed = true
			return &res, nil
		}
	}

	prior, err := lookup()
	if err != nil {
		return nil, fmt.Errorf("find idempotent transaction: %w", err)
	}
	if prior == nil {
		return nil, nil
	}
	res := s.replayed(ctx, scope, *prior)
	return &res, nil
}

func (s *BatchService) replayed(ctx context.Context, scope string, prior domain.Transaction) domain.MutationResult {
	res := prior.Result()
	s.remember(ctx, scope, res)
	res.Replayed = true
	return res
}

func (s *BatchService) remember(ctx context.Context, scope string, res domain.MutationResult) {
	if s.opts.cache == nil || scope == "" {
		return
	}
	if err := s.opts.cache.Remember(ctx, scope, res); err != nil {
		s.opts.logger.Warn("replay cache store failed", zap.String("scope", scope), zap.Error(err))
	}
}

func (s *BatchService) afterCommit(ctx context.Context, op, scope string, txn domain.Transaction) {
	if txn.IdempotencyKey != "" {
		s.remember(ctx, scope, txn.Result())
	}

	s.opts.logger.Info("stock mutation applied",
		zap.String("op", op),
		zap.String("org_id", txn.OrgID),
		zap.String("batch_id", txn.BatchID),
		zap.String("transaction_id", txn.ID),
		zap.String("quantity_delta", txn.QuantityDelta.String()),
		zap.String("quantity_after", txn.QuantityAfter.String()),
	)

	if s.opts.publisher == nil {
		return
	}
	event := domain.StockEvent{
		Type:          txn.Type.EventType(),
		OrgID:         txn.OrgID,
		ItemID:        txn.ItemID,
		BatchID:       txn.BatchID,
		TransactionID: txn.ID,
		QuantityDelta: txn.QuantityDelta,
		QuantityAfter: txn.QuantityAfter,
		ActorID:       txn.ActorID,
		Timestamp:     txn.CreatedAt,
	}
	if err := s.opts.publisher.PublishStockEvent(ctx, event); err != nil {
		s.opts.logger.Warn("failed to publish stock event",
			zap.String("transaction_id", txn.ID), zap.Error(err))
	}
}

func (s *BatchService) observe(op string, start time.Time, res domain.MutationResult, err error) {
	outcome := outcomeApplied
	switch {
	case err != nil:
		outcome = domain.ErrorCode(err)
	case res.Replayed:
		outcome = outcomeReplayed
	}
	if s.opts.recorder != nil {
		s.opts.recorder.ObserveMutation(op, outcome, time.Since(start))
	}

	switch {
	case err == nil && res.Replayed:
		s.opts.logger.Debug("idempotent replay", zap.String("op", op), zap.String("batch_id", res.BatchID),
			zap.String("transaction_id", res.TransactionID))
	case err != nil && domain.IsExpected(err):
		s.opts.logger.Debug("stock mutation rejected", zap.String("op", op), zap.String("code", outcome), zap.Error(err))
	case err != nil:
		s.opts.logger.Error("stock mutation failed", zap.String("op", op), zap.Error(err))
	}
}

// replayScope namespaces idempotency keys per org and target so keys never collide across tenants.
func replayScope(orgID, kind, target, key string) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s", orgID, kind, target, key)
}

func derefResult(res *domain.MutationResult) domain.MutationResult {
	if res == nil {
		return domain.MutationResult{}
	}
	return *res
}
