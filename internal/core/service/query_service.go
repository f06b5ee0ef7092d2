package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/validation"
	"github.com/rl1809/stockroom/internal/port"
)

const (
	DefaultStockLimit       = 200
	MaxStockLimit           = 1000
	DefaultTransactionLimit = 50
)

var hundred = decimal.NewFromInt(100)

// QueryService serves read projections of whatever the engine last committed. Any member,
// viewers included, may read.
type QueryService struct {
	reader  port.StockReader
	members *MembershipService
	opts    options
}

func NewQueryService(reader port.StockReader, members *MembershipService, opts ...Option) *QueryService {
	return &QueryService{reader: reader, members: members, opts: buildOptions(opts)}
}

func (s *QueryService) ListStockBatches(ctx context.Context, caller domain.Caller, q domain.StockQuery) ([]domain.StockBatchView, error) {
	auth, err := s.members.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	q.NameContains = validation.Text(q.NameContains)
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultStockLimit
	case q.Limit > MaxStockLimit:
		q.Limit = MaxStockLimit
	}
	views, err := s.reader.ListStockBatches(ctx, auth.OrgID, q)
	if err != nil {
		return nil, fmt.Errorf("list stock batches: %w", err)
	}
	return views, nil
}

func (s *QueryService) ListBatchesForItem(ctx context.Context, caller domain.Caller, itemID string) ([]domain.StockBatchView, error) {
	auth, err := s.members.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	itemID = validation.Text(itemID)
	item, err := s.reader.GetItem(ctx, auth.OrgID, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil || item.IsDeleted {
		return nil, domain.ErrItemNotFound
	}
	views, err := s.reader.ListBatchesForItem(ctx, auth.OrgID, item.ID)
	if err != nil {
		return nil, fmt.Errorf("list batches for item: %w", err)
	}
	return views, nil
}

// ListItemsWithBatches groups every live item with its batches, items without batches included.
func (s *QueryService) ListItemsWithBatches(ctx context.Context, caller domain.Caller) ([]domain.ItemWithBatches, error) {
	auth, err := s.members.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	items, views, err := s.load(ctx, auth.OrgID)
	if err != nil {
		return nil, err
	}
	return GroupItems(items, views), nil
}

// ListItemsForPlanMode computes replenishment progress for items with a target quantity.
func (s *QueryService) ListItemsForPlanMode(ctx context.Context, caller domain.Caller, excludeExpired bool) ([]domain.PlanModeItem, error) {
	auth, err := s.members.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	items, views, err := s.load(ctx, auth.OrgID)
	if err != nil {
		return nil, err
	}
	return PlanMode(items, views, s.opts.now(), excludeExpired), nil
}

func (s *QueryService) ListTransactionsForBatch(ctx context.Context, caller domain.Caller, batchID string, limit int) ([]domain.Transaction, error) {
	auth, err := s.members.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	batchID = validation.Text(batchID)
	if batchID == "" {
		return nil, domain.ErrBatchNotFound
	}
	if limit <= 0 || limit > MaxStockLimit {
		limit = DefaultTransactionLimit
	}
	txns, err := s.reader.ListTransactions(ctx, auth.OrgID, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

func (s *QueryService) load(ctx context.Context, orgID string) ([]domain.Item, []domain.StockBatchView, error) {
	items, err := s.reader.ListItems(ctx, orgID)
	if err != nil {
		return nil, nil, fmt.Errorf("list items: %w", err)
	}
	views, err := s.reader.ListStockBatches(ctx, orgID, domain.StockQuery{})
	if err != nil {
		return nil, nil, fmt.Errorf("list stock batches: %w", err)
	}
	return items, views, nil
}

// GroupItems attaches batches to their items preserving the batch order of views.
func GroupItems(items []domain.Item, views []domain.StockBatchView) []domain.ItemWithBatches {
	byItem := make(map[string][]domain.StockBatchView, len(items))
	for _, v := range views {
		byItem[v.ItemID] = append(byItem[v.ItemID], v)
	}

	out := make([]domain.ItemWithBatches, 0, len(items))
	for _, item := range items {
		if item.IsDeleted {
			continue
		}
		batches := byItem[item.ID]
		if batches == nil {
			batches = []domain.StockBatchView{}
		}
		total := decimal.Zero
		for _, b := range batches {
			total = total.Add(b.Quantity)
		}
		out = append(out, domain.ItemWithBatches{
			Item:          item,
			Batches:       batches,
			TotalQuantity: total,
			BelowMinimum:  item.MinStock.IsPositive() && total.LessThan(item.MinStock),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Item.Name) < strings.ToLower(out[j].Item.Name)
	})
	return out
}

// PlanMode derives stock progress per item with a positive target. Incomplete items sort
// first, then by name.
func PlanMode(items []domain.Item, views []domain.StockBatchView, now time.Time, excludeExpired bool) []domain.PlanModeItem {
	stock := make(map[string]decimal.Decimal, len(items))
	for _, v := range views {
		if excludeExpired && (domain.Batch{ExpiryDate: v.ExpiryDate}).ExpiredAt(now) {
			continue
		}
		stock[v.ItemID] = stock[v.ItemID].Add(v.Quantity)
	}

	out := make([]domain.PlanModeItem, 0, len(items))
	for _, item := range items {
		if item.IsDeleted || !item.TargetQuantity.Valid || !item.TargetQuantity.Decimal.IsPositive() {
			continue
		}
		target := item.TargetQuantity.Decimal
		current := stock[item.ID]
		deficit := target.Sub(current)
		if deficit.IsNegative() {
			deficit = decimal.Zero
		}
		out = append(out, domain.PlanModeItem{
			ItemID:        item.ID,
			Name:          item.Name,
			Unit:          item.Unit,
			Target:        target,
			CurrentStock:  current,
			Deficit:       deficit,
			CompletionPct: current.Div(target).Mul(hundred).Round(2),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Complete(), out[j].Complete()
		if ci != cj {
			return !ci
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}
