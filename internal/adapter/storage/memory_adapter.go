package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/port"
)

var (
	_ port.BatchRepository      = (*MemoryAdapter)(nil)
	_ port.MembershipRepository = (*MemoryAdapter)(nil)
	_ port.CatalogRepository    = (*MemoryAdapter)(nil)
	_ port.StockReader          = (*MemoryAdapter)(nil)
)

// MemoryAdapter keeps all state in process. Writers lock the batch or item they touch,
// buffer their changes, and publish them in one step on commit.
type MemoryAdapter struct {
	mu          sync.RWMutex
	orgs        map[string]domain.Organization
	memberships []domain.Membership
	warehouses  map[string]domain.Warehouse
	items       map[string]domain.Item
	locations   map[string]domain.StorageLocation
	tags        map[string]domain.Tag
	batches     map[string]domain.Batch
	batchSeq    map[string]int64
	seq         int64
	txns        []domain.Transaction
	txnKeys     map[string]int

	locker *keyedLocker
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		orgs:       make(map[string]domain.Organization),
		warehouses: make(map[string]domain.Warehouse),
		items:      make(map[string]domain.Item),
		locations:  make(map[string]domain.StorageLocation),
		tags:       make(map[string]domain.Tag),
		batches:    make(map[string]domain.Batch),
		batchSeq:   make(map[string]int64),
		txnKeys:    make(map[string]int),
		locker:     newKeyedLocker(),
	}
}

func txnKey(batchID, key string) string {
	return batchID + "\x00" + key
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.BatchTx) error) error {
	tx := &memoryTx{m: m, pending: make(map[string]domain.Batch)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryAdapter) FindTransactionByKey(_ context.Context, orgID, batchID, key string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findTransactionByKey(orgID, batchID, key), nil
}

func (m *MemoryAdapter) FindCreateByItemKey(_ context.Context, orgID, itemID, key string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findCreateByItemKey(orgID, itemID, key), nil
}

func (m *MemoryAdapter) findTransactionByKey(orgID, batchID, key string) *domain.Transaction {
	idx, ok := m.txnKeys[txnKey(batchID, key)]
	if !ok || m.txns[idx].OrgID != orgID {
		return nil
	}
	t := m.txns[idx]
	return &t
}

func (m *MemoryAdapter) findCreateByItemKey(orgID, itemID, key string) *domain.Transaction {
	for _, b := range m.batches {
		if b.OrgID == orgID && b.ItemID == itemID && b.CreateKey == key {
			return m.findTransactionByKey(orgID, b.ID, key)
		}
	}
	return nil
}

type memoryTx struct {
	m       *MemoryAdapter
	held    []string
	pending map[string]domain.Batch
	order   []string
	txns    []domain.Transaction
}

func (tx *memoryTx) lock(ctx context.Context, key string) error {
	for _, h := range tx.held {
		if h == key {
			return nil
		}
	}
	if err := tx.m.locker.Lock(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memoryTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.m.locker.Unlock(tx.held[i])
	}
	tx.held = nil
}

func (tx *memoryTx) LockItem(ctx context.Context, orgID, itemID string) (*domain.Item, error) {
	if err := tx.lock(ctx, "item:"+itemID); err != nil {
		return nil, err
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	item, ok := tx.m.items[itemID]
	if !ok || item.OrgID != orgID || item.IsDeleted {
		return nil, nil
	}
	return &item, nil
}

func (tx *memoryTx) LockBatch(ctx context.Context, orgID, batchID string) (*domain.Batch, error) {
	if err := tx.lock(ctx, "batch:"+batchID); err != nil {
		return nil, err
	}
	b, ok := tx.pending[batchID]
	if !ok {
		tx.m.mu.RLock()
		b, ok = tx.m.batches[batchID]
		tx.m.mu.RUnlock()
	}
	if !ok || b.OrgID != orgID {
		return nil, nil
	}
	return &b, nil
}

func (tx *memoryTx) FindTransactionByKey(_ context.Context, orgID, batchID, key string) (*domain.Transaction, error) {
	for i := range tx.txns {
		t := tx.txns[i]
		if t.OrgID == orgID && t.BatchID == batchID && t.IdempotencyKey == key {
			return &t, nil
		}
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return tx.m.findTransactionByKey(orgID, batchID, key), nil
}

func (tx *memoryTx) FindCreateByItemKey(ctx context.Context, orgID, itemID, key string) (*domain.Transaction, error) {
	for _, b := range tx.pending {
		if b.OrgID == orgID && b.ItemID == itemID && b.CreateKey == key {
			return tx.FindTransactionByKey(ctx, orgID, b.ID, key)
		}
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return tx.m.findCreateByItemKey(orgID, itemID, key), nil
}

func (tx *memoryTx) LocationExists(_ context.Context, orgID, locationID string) (bool, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	loc, ok := tx.m.locations[locationID]
	return ok && loc.OrgID == orgID, nil
}

func (tx *memoryTx) TagExists(ctx context.Context, orgID, tagID string) (bool, error) {
	return tx.m.TagExists(ctx, orgID, tagID)
}

func (tx *memoryTx) InsertBatch(_ context.Context, batch domain.Batch) error {
	if _, ok := tx.pending[batch.ID]; ok {
		return port.ErrDuplicateKey
	}
	tx.m.mu.RLock()
	_, exists := tx.m.batches[batch.ID]
	if batch.CreateKey != "" {
		for _, b := range tx.m.batches {
			if b.ItemID == batch.ItemID && b.CreateKey == batch.CreateKey {
				exists = true
				break
			}
		}
	}
	tx.m.mu.RUnlock()
	if exists {
		return port.ErrDuplicateKey
	}
	tx.pending[batch.ID] = batch
	tx.order = append(tx.order, batch.ID)
	return nil
}

func (tx *memoryTx) UpdateBatchQuantity(ctx context.Context, batchID string, quantity decimal.Decimal, updatedAt time.Time) error {
	b, ok := tx.pending[batchID]
	if !ok {
		tx.m.mu.RLock()
		b, ok = tx.m.batches[batchID]
		tx.m.mu.RUnlock()
		if !ok {
			return domain.ErrBatchNotFound
		}
		tx.order = append(tx.order, batchID)
	}
	b.Quantity = quantity
	b.UpdatedAt = updatedAt
	tx.pending[batchID] = b
	return nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, txn domain.Transaction) error {
	tx.txns = append(tx.txns, txn)
	return nil
}

func (tx *memoryTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(tx.txns))
	for _, t := range tx.txns {
		if t.IdempotencyKey == "" {
			continue
		}
		k := txnKey(t.BatchID, t.IdempotencyKey)
		if _, dup := m.txnKeys[k]; dup {
			return port.ErrDuplicateKey
		}
		if _, dup := seen[k]; dup {
			return port.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, id := range tx.order {
		if _, ok := m.batchSeq[id]; !ok {
			m.seq++
			m.batchSeq[id] = m.seq
		}
		m.batches[id] = tx.pending[id]
	}
	for _, t := range tx.txns {
		m.txns = append(m.txns, t)
		if t.IdempotencyKey != "" {
			m.txnKeys[txnKey(t.BatchID, t.IdempotencyKey)] = len(m.txns) - 1
		}
	}
	return nil
}

func (m *MemoryAdapter) FindMembership(_ context.Context, userID, orgID string) (*domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *domain.Membership
	for i := range m.memberships {
		ms := m.memberships[i]
		if ms.UserID != userID || (orgID != "" && ms.OrgID != orgID) {
			continue
		}
		if found == nil || ms.CreatedAt.Before(found.CreatedAt) ||
			(ms.CreatedAt.Equal(found.CreatedAt) && ms.OrgID < found.OrgID) {
			found = &ms
		}
	}
	return found, nil
}

func (m *MemoryAdapter) FindDefaultWarehouse(_ context.Context, orgID string) (*domain.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wh := range m.warehouses {
		if wh.OrgID == orgID && wh.IsDefault {
			return &wh, nil
		}
	}
	return nil, nil
}

func (m *MemoryAdapter) CreateOrganization(_ context.Context, org domain.Organization, owner domain.Membership, warehouse domain.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[org.ID]; ok {
		return port.ErrDuplicateKey
	}
	m.orgs[org.ID] = org
	m.memberships = append(m.memberships, owner)
	m.warehouses[warehouse.ID] = warehouse
	return nil
}

func (m *MemoryAdapter) UpsertMembership(_ context.Context, ms domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.memberships {
		if m.memberships[i].OrgID == ms.OrgID && m.memberships[i].UserID == ms.UserID {
			m.memberships[i].Role = ms.Role
			return nil
		}
	}
	m.memberships = append(m.memberships, ms)
	return nil
}

func (m *MemoryAdapter) CreateItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nameKey := strings.ToLower(item.Name)
	for _, existing := range m.items {
		if existing.OrgID == item.OrgID && strings.ToLower(existing.Name) == nameKey {
			return port.ErrDuplicateKey
		}
	}
	m.items[item.ID] = item
	return nil
}

func (m *MemoryAdapter) ArchiveItem(_ context.Context, orgID, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok || item.OrgID != orgID {
		return false, nil
	}
	item.IsDeleted = true
	item.UpdatedAt = time.Now().UTC()
	m.items[itemID] = item
	return true, nil
}

func (m *MemoryAdapter) CreateLocation(_ context.Context, loc domain.StorageLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

func (m *MemoryAdapter) CreateTag(_ context.Context, tag domain.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[tag.ID] = tag
	return nil
}

func (m *MemoryAdapter) TagExists(_ context.Context, orgID, tagID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tag, ok := m.tags[tagID]
	return ok && tag.OrgID == orgID, nil
}

func (m *MemoryAdapter) ListStockBatches(_ context.Context, orgID string, q domain.StockQuery) ([]domain.StockBatchView, error) {
	needle := strings.ToLower(q.NameContains)
	views := m.views(orgID, func(item domain.Item) bool {
		return needle == "" || strings.Contains(strings.ToLower(item.Name), needle)
	})
	if q.Limit > 0 && len(views) > q.Limit {
		views = views[:q.Limit]
	}
	return views, nil
}

func (m *MemoryAdapter) ListBatchesForItem(_ context.Context, orgID, itemID string) ([]domain.StockBatchView, error) {
	return m.views(orgID, func(item domain.Item) bool { return item.ID == itemID }), nil
}

// views joins and orders the batches of live items accepted by match.
func (m *MemoryAdapter) views(orgID string, match func(domain.Item) bool) []domain.StockBatchView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type row struct {
		view    domain.StockBatchView
		nameKey string
		seq     int64
	}
	var rows []row
	for id, b := range m.batches {
		if b.OrgID != orgID {
			continue
		}
		item, ok := m.items[b.ItemID]
		if !ok || item.IsDeleted || !match(item) {
			continue
		}
		v := domain.StockBatchView{
			BatchID:           b.ID,
			ItemID:            item.ID,
			ItemName:          item.Name,
			Unit:              item.Unit,
			Quantity:          b.Quantity,
			ExpiryDate:        b.ExpiryDate,
			StorageLocationID: b.StorageLocationID,
			TagID:             b.TagID,
			CreatedAt:         b.CreatedAt,
			UpdatedAt:         b.UpdatedAt,
		}
		if loc, ok := m.locations[b.StorageLocationID]; ok {
			v.LocationName = loc.Name
		}
		if tag, ok := m.tags[b.TagID]; ok {
			v.TagName = tag.Name
		}
		rows = append(rows, row{view: v, nameKey: strings.ToLower(item.Name), seq: m.batchSeq[id]})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.nameKey != b.nameKey {
			return a.nameKey < b.nameKey
		}
		ea, eb := a.view.ExpiryDate, b.view.ExpiryDate
		switch {
		case ea == nil && eb != nil:
			return false
		case ea != nil && eb == nil:
			return true
		case ea != nil && eb != nil && !ea.Equal(*eb):
			return ea.Before(*eb)
		}
		return a.seq < b.seq
	})

	views := make([]domain.StockBatchView, len(rows))
	for i, r := range rows {
		views[i] = r.view
	}
	return views
}

func (m *MemoryAdapter) ListItems(_ context.Context, orgID string) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []domain.Item
	for _, item := range m.items {
		if item.OrgID == orgID && !item.IsDeleted {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (m *MemoryAdapter) GetItem(_ context.Context, orgID, itemID string) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok || item.OrgID != orgID {
		return nil, nil
	}
	return &item, nil
}

func (m *MemoryAdapter) ListTransactions(_ context.Context, orgID, batchID string, limit int) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		t := m.txns[i]
		if t.OrgID != orgID || (batchID != "" && t.BatchID != batchID) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
