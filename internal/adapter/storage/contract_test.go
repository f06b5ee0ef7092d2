package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/port"
)

var errRollback = errors.New("rollback")

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func date(s string) *time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

// fixture is an organization with a default warehouse owned by "owner".
type fixture struct {
	org   domain.Organization
	wh    domain.Warehouse
	owner string
}

func newFixture(t *testing.T, s Store) fixture {
	t.Helper()
	owner := "owner-" + uuid.NewString()
	org := domain.Organization{ID: uuid.NewString(), Name: "Home", OwnerID: owner, CreatedAt: base}
	wh := domain.Warehouse{ID: uuid.NewString(), OrgID: org.ID, Name: "Main", IsDefault: true, CreatedAt: base}
	m := domain.Membership{OrgID: org.ID, UserID: owner, Role: domain.RoleOwner, CreatedAt: base}
	if err := s.CreateOrganization(context.Background(), org, m, wh); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	return fixture{org: org, wh: wh, owner: owner}
}

func (f fixture) item(t *testing.T, s Store, name string) domain.Item {
	t.Helper()
	item := domain.Item{
		ID:        uuid.NewString(),
		OrgID:     f.org.ID,
		Name:      name,
		Unit:      "pcs",
		MinStock:  decimal.Zero,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := s.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem(%s) failed: %v", name, err)
	}
	return item
}

// batch inserts a batch with its inbound ledger row in one transaction.
func (f fixture) batch(t *testing.T, s Store, item domain.Item, qty int64, expiry *time.Time, at time.Time, key string) domain.Batch {
	t.Helper()
	b := domain.Batch{
		ID:          uuid.NewString(),
		OrgID:       f.org.ID,
		WarehouseID: f.wh.ID,
		ItemID:      item.ID,
		Quantity:    decimal.NewFromInt(qty),
		ExpiryDate:  expiry,
		CreateKey:   key,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	err := s.WithinTx(context.Background(), func(tx port.BatchTx) error {
		if _, err := tx.LockItem(context.Background(), f.org.ID, item.ID); err != nil {
			return err
		}
		if err := tx.InsertBatch(context.Background(), b); err != nil {
			return err
		}
		return tx.InsertTransaction(context.Background(), f.txn(b, domain.TransactionInbound, b.Quantity, b.Quantity, key, at))
	})
	if err != nil {
		t.Fatalf("insert batch failed: %v", err)
	}
	return b
}

func (f fixture) txn(b domain.Batch, typ domain.TransactionType, delta, after decimal.Decimal, key string, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:             uuid.NewString(),
		OrgID:          f.org.ID,
		BatchID:        b.ID,
		ItemID:         b.ItemID,
		Type:           typ,
		QuantityDelta:  delta,
		QuantityAfter:  after,
		Source:         domain.SourceAPI,
		IdempotencyKey: key,
		ActorID:        f.owner,
		CreatedAt:      at,
	}
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Membership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("MembershipTieBreak", func(t *testing.T) { testMembershipTieBreak(t, newStore(t)) })
	t.Run("BatchRoundTrip", func(t *testing.T) { testBatchRoundTrip(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("DuplicateIdempotencyKey", func(t *testing.T) { testDuplicateIdempotencyKey(t, newStore(t)) })
	t.Run("CreateKeyIgnoresTopUps", func(t *testing.T) { testCreateKeyIgnoresTopUps(t, newStore(t)) })
	t.Run("CrossOrgIsInvisible", func(t *testing.T) { testCrossOrgIsInvisible(t, newStore(t)) })
	t.Run("StockOrdering", func(t *testing.T) { testStockOrdering(t, newStore(t)) })
	t.Run("NameFilter", func(t *testing.T) { testNameFilter(t, newStore(t)) })
	t.Run("ArchivedItemsHidden", func(t *testing.T) { testArchivedItemsHidden(t, newStore(t)) })
	t.Run("ItemNameUnique", func(t *testing.T) { testItemNameUnique(t, newStore(t)) })
	t.Run("TransactionsNewestFirst", func(t *testing.T) { testTransactionsNewestFirst(t, newStore(t)) })
}

func testMembership(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)

	m, err := s.FindMembership(ctx, f.owner, "")
	if err != nil {
		t.Fatalf("FindMembership failed: %v", err)
	}
	if m == nil || m.OrgID != f.org.ID || m.Role != domain.RoleOwner {
		t.Fatalf("expected owner membership in %s, got %+v", f.org.ID, m)
	}

	m, err = s.FindMembership(ctx, f.owner, "other-org")
	if err != nil {
		t.Fatalf("FindMembership failed: %v", err)
	}
	if m != nil {
		t.Errorf("expected no membership in other org, got %+v", m)
	}

	wh, err := s.FindDefaultWarehouse(ctx, f.org.ID)
	if err != nil {
		t.Fatalf("FindDefaultWarehouse failed: %v", err)
	}
	if wh == nil || wh.ID != f.wh.ID {
		t.Errorf("expected warehouse %s, got %+v", f.wh.ID, wh)
	}

	viewer := "viewer-" + uuid.NewString()
	if err := s.UpsertMembership(ctx, domain.Membership{OrgID: f.org.ID, UserID: viewer, Role: domain.RoleViewer, CreatedAt: base}); err != nil {
		t.Fatalf("UpsertMembership failed: %v", err)
	}
	if err := s.UpsertMembership(ctx, domain.Membership{OrgID: f.org.ID, UserID: viewer, Role: domain.RoleEditor, CreatedAt: base}); err != nil {
		t.Fatalf("UpsertMembership failed: %v", err)
	}
	m, _ = s.FindMembership(ctx, viewer, f.org.ID)
	if m == nil || m.Role != domain.RoleEditor {
		t.Errorf("expected editor after upsert, got %+v", m)
	}
}

func testMembershipTieBreak(t *testing.T, s Store) {
	ctx := context.Background()
	prefix := strings.ReplaceAll(uuid.NewString(), "-", "")
	user := "member-" + prefix

	for _, org := range []string{prefix + "b", prefix + "a", prefix + "c"} {
		if err := s.UpsertMembership(ctx, domain.Membership{OrgID: org, UserID: user, Role: domain.RoleViewer, CreatedAt: base}); err != nil {
			t.Fatalf("UpsertMembership(%s) failed: %v", org, err)
		}
	}
	m, err := s.FindMembership(ctx, user, "")
	if err != nil {
		t.Fatalf("FindMembership failed: %v", err)
	}
	if m == nil || m.OrgID != prefix+"a" {
		t.Fatalf("expected the lowest org id on equal join time, got %+v", m)
	}

	if err := s.UpsertMembership(ctx, domain.Membership{OrgID: prefix + "d", UserID: user, Role: domain.RoleEditor, CreatedAt: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("UpsertMembership failed: %v", err)
	}
	m, _ = s.FindMembership(ctx, user, "")
	if m == nil || m.OrgID != prefix+"d" {
		t.Errorf("expected the earliest membership, got %+v", m)
	}
}

func testBatchRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Water")
	b := f.batch(t, s, item, 10, date("2026-01-31"), base, "k-create")

	err := s.WithinTx(ctx, func(tx port.BatchTx) error {
		locked, err := tx.LockBatch(ctx, f.org.ID, b.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			t.Fatal("expected batch")
		}
		if !locked.Quantity.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected quantity 10, got %s", locked.Quantity)
		}
		if locked.ExpiryDate == nil || locked.ExpiryDate.Format(domain.DateLayout) != "2026-01-31" {
			t.Errorf("expected expiry 2026-01-31, got %v", locked.ExpiryDate)
		}
		after := decimal.RequireFromString("7.25")
		if err := tx.UpdateBatchQuantity(ctx, b.ID, after, base.Add(time.Minute)); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, f.txn(*locked, domain.TransactionConsumption, after.Sub(locked.Quantity), after, "k-consume", base.Add(time.Minute)))
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	txn, err := s.FindTransactionByKey(ctx, f.org.ID, b.ID, "k-consume")
	if err != nil {
		t.Fatalf("FindTransactionByKey failed: %v", err)
	}
	if txn == nil {
		t.Fatal("expected transaction for k-consume")
	}
	if txn.Type != domain.TransactionConsumption || !txn.QuantityAfter.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("unexpected transaction %+v", txn)
	}
	if !txn.QuantityDelta.Equal(decimal.RequireFromString("-2.75")) {
		t.Errorf("expected delta -2.75, got %s", txn.QuantityDelta)
	}

	inbound, err := s.FindCreateByItemKey(ctx, f.org.ID, item.ID, "k-create")
	if err != nil {
		t.Fatalf("FindCreateByItemKey failed: %v", err)
	}
	if inbound == nil || inbound.BatchID != b.ID {
		t.Errorf("expected inbound row for batch %s, got %+v", b.ID, inbound)
	}

	views, err := s.ListBatchesForItem(ctx, f.org.ID, item.ID)
	if err != nil {
		t.Fatalf("ListBatchesForItem failed: %v", err)
	}
	if len(views) != 1 || !views[0].Quantity.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("expected one batch at 7.25, got %+v", views)
	}
}

func testCreateKeyIgnoresTopUps(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Water")
	b := f.batch(t, s, item, 5, nil, base, "")

	err := s.WithinTx(ctx, func(tx port.BatchTx) error {
		locked, err := tx.LockBatch(ctx, f.org.ID, b.ID)
		if err != nil {
			return err
		}
		after := locked.Quantity.Add(decimal.NewFromInt(2))
		if err := tx.UpdateBatchQuantity(ctx, b.ID, after, base.Add(time.Minute)); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, f.txn(*locked, domain.TransactionInbound, decimal.NewFromInt(2), after, "k-shared", base.Add(time.Minute)))
	})
	if err != nil {
		t.Fatalf("top-up failed: %v", err)
	}

	found, err := s.FindCreateByItemKey(ctx, f.org.ID, item.ID, "k-shared")
	if err != nil {
		t.Fatalf("FindCreateByItemKey failed: %v", err)
	}
	if found != nil {
		t.Fatalf("top-up row must not count as a create, got %+v", found)
	}

	created := f.batch(t, s, item, 10, nil, base.Add(2*time.Minute), "k-shared")
	found, err = s.FindCreateByItemKey(ctx, f.org.ID, item.ID, "k-shared")
	if err != nil {
		t.Fatalf("FindCreateByItemKey failed: %v", err)
	}
	if found == nil || found.BatchID != created.ID || !found.QuantityAfter.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected the create row of batch %s, got %+v", created.ID, found)
	}

	err = s.WithinTx(ctx, func(tx port.BatchTx) error {
		return tx.InsertBatch(ctx, domain.Batch{
			ID: uuid.NewString(), OrgID: f.org.ID, WarehouseID: f.wh.ID, ItemID: item.ID,
			Quantity: decimal.NewFromInt(1), CreateKey: "k-shared", CreatedAt: base, UpdatedAt: base,
		})
	})
	if !errors.Is(err, port.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey for a second batch under the same create key, got %v", err)
	}
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Rice")
	b := f.batch(t, s, item, 5, nil, base, "")

	err := s.WithinTx(ctx, func(tx port.BatchTx) error {
		locked, err := tx.LockBatch(ctx, f.org.ID, b.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateBatchQuantity(ctx, b.ID, decimal.Zero, base); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, f.txn(*locked, domain.TransactionAdjustment, locked.Quantity.Neg(), decimal.Zero, "k-lost", base)); err != nil {
			return err
		}
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	views, _ := s.ListBatchesForItem(ctx, f.org.ID, item.ID)
	if len(views) != 1 || !views[0].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected quantity 5 after rollback, got %+v", views)
	}
	txn, _ := s.FindTransactionByKey(ctx, f.org.ID, b.ID, "k-lost")
	if txn != nil {
		t.Errorf("expected no transaction after rollback, got %+v", txn)
	}
}

func testDuplicateIdempotencyKey(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Batteries")
	b := f.batch(t, s, item, 5, nil, base, "")

	insert := func() error {
		return s.WithinTx(ctx, func(tx port.BatchTx) error {
			locked, err := tx.LockBatch(ctx, f.org.ID, b.ID)
			if err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, f.txn(*locked, domain.TransactionConsumption, decimal.NewFromInt(-1), decimal.NewFromInt(4), "dup", base))
		})
	}
	if err := insert(); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := insert(); !errors.Is(err, port.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func testCrossOrgIsInvisible(t *testing.T, s Store) {
	ctx := context.Background()
	a := newFixture(t, s)
	other := newFixture(t, s)
	item := a.item(t, s, "Candles")
	b := a.batch(t, s, item, 3, nil, base, "k1")

	err := s.WithinTx(ctx, func(tx port.BatchTx) error {
		locked, err := tx.LockBatch(ctx, other.org.ID, b.ID)
		if err != nil {
			return err
		}
		if locked != nil {
			t.Errorf("expected nil batch across orgs, got %+v", locked)
		}
		lockedItem, err := tx.LockItem(ctx, other.org.ID, item.ID)
		if err != nil {
			return err
		}
		if lockedItem != nil {
			t.Errorf("expected nil item across orgs, got %+v", lockedItem)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}

	if txn, _ := s.FindTransactionByKey(ctx, other.org.ID, b.ID, "k1"); txn != nil {
		t.Errorf("expected no transaction across orgs, got %+v", txn)
	}
	views, _ := s.ListStockBatches(ctx, other.org.ID, domain.StockQuery{})
	if len(views) != 0 {
		t.Errorf("expected empty stock for other org, got %d rows", len(views))
	}
	if got, _ := s.GetItem(ctx, other.org.ID, item.ID); got != nil {
		t.Errorf("expected nil item across orgs, got %+v", got)
	}
}

func testStockOrdering(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	beans := f.item(t, s, "beans")
	apple := f.item(t, s, "Apple")

	undated := f.batch(t, s, beans, 1, nil, base, "")
	late := f.batch(t, s, beans, 2, date("2027-05-01"), base.Add(time.Second), "")
	early := f.batch(t, s, beans, 3, date("2026-05-01"), base.Add(2*time.Second), "")
	early2 := f.batch(t, s, beans, 4, date("2026-05-01"), base.Add(3*time.Second), "")
	appleBatch := f.batch(t, s, apple, 5, nil, base.Add(4*time.Second), "")

	views, err := s.ListStockBatches(ctx, f.org.ID, domain.StockQuery{})
	if err != nil {
		t.Fatalf("ListStockBatches failed: %v", err)
	}
	want := []string{appleBatch.ID, early.ID, early2.ID, late.ID, undated.ID}
	if len(views) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(views))
	}
	for i, id := range want {
		if views[i].BatchID != id {
			t.Errorf("row %d: expected batch %s, got %s (%s)", i, id, views[i].BatchID, views[i].ItemName)
		}
	}

	limited, _ := s.ListStockBatches(ctx, f.org.ID, domain.StockQuery{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("expected 2 rows with limit, got %d", len(limited))
	}
}

func testNameFilter(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	f.batch(t, s, f.item(t, s, "Water Bottles"), 1, nil, base, "")
	f.batch(t, s, f.item(t, s, "Sparkling water"), 1, nil, base, "")
	f.batch(t, s, f.item(t, s, "100% Juice"), 1, nil, base, "")
	f.batch(t, s, f.item(t, s, "Tuna"), 1, nil, base, "")

	views, err := s.ListStockBatches(ctx, f.org.ID, domain.StockQuery{NameContains: "WATER"})
	if err != nil {
		t.Fatalf("ListStockBatches failed: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("expected 2 water batches, got %d", len(views))
	}

	views, _ = s.ListStockBatches(ctx, f.org.ID, domain.StockQuery{NameContains: "0%"})
	if len(views) != 1 || views[0].ItemName != "100% Juice" {
		t.Errorf("expected literal %% match on juice, got %+v", views)
	}
}

func testArchivedItemsHidden(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Flour")
	f.batch(t, s, item, 2, nil, base, "")

	ok, err := s.ArchiveItem(ctx, f.org.ID, item.ID)
	if err != nil || !ok {
		t.Fatalf("ArchiveItem = %v, %v", ok, err)
	}
	if ok, _ := s.ArchiveItem(ctx, f.org.ID, "missing"); ok {
		t.Error("expected missing item to report not found")
	}

	views, _ := s.ListStockBatches(ctx, f.org.ID, domain.StockQuery{})
	if len(views) != 0 {
		t.Errorf("expected archived batches hidden, got %d", len(views))
	}
	items, _ := s.ListItems(ctx, f.org.ID)
	if len(items) != 0 {
		t.Errorf("expected archived item hidden, got %d", len(items))
	}
	got, _ := s.GetItem(ctx, f.org.ID, item.ID)
	if got == nil || !got.IsDeleted {
		t.Errorf("expected GetItem to return archived item, got %+v", got)
	}

	err = s.WithinTx(ctx, func(tx port.BatchTx) error {
		locked, err := tx.LockItem(ctx, f.org.ID, item.ID)
		if locked != nil {
			t.Errorf("expected archived item not lockable, got %+v", locked)
		}
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx failed: %v", err)
	}
}

func testItemNameUnique(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	f.item(t, s, "Water")

	dup := domain.Item{ID: uuid.NewString(), OrgID: f.org.ID, Name: "WATER", Unit: "l", CreatedAt: base, UpdatedAt: base}
	if err := s.CreateItem(ctx, dup); !errors.Is(err, port.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	other := newFixture(t, s)
	other.item(t, s, "Water")
}

func testTransactionsNewestFirst(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFixture(t, s)
	item := f.item(t, s, "Soap")
	b := f.batch(t, s, item, 10, nil, base, "")

	for i := 1; i <= 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		err := s.WithinTx(ctx, func(tx port.BatchTx) error {
			locked, err := tx.LockBatch(ctx, f.org.ID, b.ID)
			if err != nil {
				return err
			}
			after := locked.Quantity.Sub(decimal.NewFromInt(1))
			if err := tx.UpdateBatchQuantity(ctx, b.ID, after, at); err != nil {
				return err
			}
			return tx.InsertTransaction(ctx, f.txn(*locked, domain.TransactionConsumption, decimal.NewFromInt(-1), after, "", at))
		})
		if err != nil {
			t.Fatalf("consume %d failed: %v", i, err)
		}
	}

	txns, err := s.ListTransactions(ctx, f.org.ID, b.ID, 2)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if !txns[0].QuantityAfter.Equal(decimal.NewFromInt(7)) || !txns[1].QuantityAfter.Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected newest first (7, 8), got (%s, %s)", txns[0].QuantityAfter, txns[1].QuantityAfter)
	}

	all, _ := s.ListTransactions(ctx, f.org.ID, "", 0)
	if len(all) != 4 {
		t.Errorf("expected 4 ledger rows for org, got %d", len(all))
	}
	if all[len(all)-1].Type != domain.TransactionInbound {
		t.Errorf("expected oldest row to be inbound, got %s", all[len(all)-1].Type)
	}
}
