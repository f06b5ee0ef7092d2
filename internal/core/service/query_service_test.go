package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
)

func datePtr(s string) *time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

func TestGroupItems(t *testing.T) {
	items := []domain.Item{
		{ID: "i-salt", Name: "salt", MinStock: dec("1")},
		{ID: "i-water", Name: "Water", MinStock: dec("12")},
		{ID: "i-gone", Name: "Archived", IsDeleted: true},
		{ID: "i-beans", Name: "Beans"},
	}
	views := []domain.StockBatchView{
		{BatchID: "b1", ItemID: "i-water", Quantity: dec("6")},
		{BatchID: "b2", ItemID: "i-water", Quantity: dec("4.5")},
		{BatchID: "b3", ItemID: "i-salt", Quantity: dec("2")},
	}

	got := GroupItems(items, views)
	if len(got) != 3 {
		t.Fatalf("expected 3 live items, got %d", len(got))
	}
	names := []string{got[0].Item.Name, got[1].Item.Name, got[2].Item.Name}
	if fmt.Sprint(names) != "[Beans salt Water]" {
		t.Errorf("unexpected order %v", names)
	}

	beans, salt, water := got[0], got[1], got[2]
	if beans.Batches == nil || len(beans.Batches) != 0 || !beans.TotalQuantity.IsZero() || beans.BelowMinimum {
		t.Errorf("unexpected empty item %+v", beans)
	}
	if salt.BelowMinimum || !salt.TotalQuantity.Equal(dec("2")) {
		t.Errorf("unexpected salt %+v", salt)
	}
	if !water.TotalQuantity.Equal(dec("10.5")) || !water.BelowMinimum {
		t.Errorf("unexpected water %+v", water)
	}
	if water.Batches[0].BatchID != "b1" || water.Batches[1].BatchID != "b2" {
		t.Errorf("batch order not preserved: %+v", water.Batches)
	}
}

func TestPlanMode(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC)
	target := func(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }
	items := []domain.Item{
		{ID: "i-water", Name: "Water", TargetQuantity: target("12")},
		{ID: "i-rice", Name: "rice", TargetQuantity: target("4")},
		{ID: "i-beans", Name: "Beans", TargetQuantity: target("3")},
		{ID: "i-salt", Name: "Salt"},
		{ID: "i-zero", Name: "Zero", TargetQuantity: target("0")},
	}
	views := []domain.StockBatchView{
		{ItemID: "i-water", Quantity: dec("6"), ExpiryDate: datePtr("2025-03-09")},
		{ItemID: "i-water", Quantity: dec("3"), ExpiryDate: datePtr("2025-03-10")},
		{ItemID: "i-rice", Quantity: dec("5")},
		{ItemID: "i-salt", Quantity: dec("9")},
	}

	t.Run("all batches", func(t *testing.T) {
		got := PlanMode(items, views, now, false)
		if len(got) != 3 {
			t.Fatalf("expected 3 items with targets, got %d", len(got))
		}
		// Incomplete first (Beans, Water), then complete (rice).
		if got[0].Name != "Beans" || got[1].Name != "Water" || got[2].Name != "rice" {
			t.Fatalf("unexpected order %s, %s, %s", got[0].Name, got[1].Name, got[2].Name)
		}
		water := got[1]
		if !water.CurrentStock.Equal(dec("9")) || !water.Deficit.Equal(dec("3")) || !water.CompletionPct.Equal(dec("75")) {
			t.Errorf("unexpected water %+v", water)
		}
		rice := got[2]
		if !rice.Deficit.IsZero() || !rice.CompletionPct.Equal(dec("125")) || !rice.Complete() {
			t.Errorf("unexpected rice %+v", rice)
		}
		beans := got[0]
		if !beans.CurrentStock.IsZero() || !beans.Deficit.Equal(dec("3")) || !beans.CompletionPct.IsZero() {
			t.Errorf("unexpected beans %+v", beans)
		}
	})

	t.Run("exclude expired", func(t *testing.T) {
		got := PlanMode(items, views, now, true)
		water := got[1]
		// The batch expiring today still counts.
		if !water.CurrentStock.Equal(dec("3")) || !water.Deficit.Equal(dec("9")) || !water.CompletionPct.Equal(dec("25")) {
			t.Errorf("unexpected water %+v", water)
		}
	})
}

func TestPlanMode_CompletionRounding(t *testing.T) {
	items := []domain.Item{{ID: "i", Name: "Eggs", TargetQuantity: decimal.NewNullDecimal(dec("3"))}}
	views := []domain.StockBatchView{{ItemID: "i", Quantity: dec("1")}}
	got := PlanMode(items, views, testNow, false)
	if !got[0].CompletionPct.Equal(dec("33.33")) {
		t.Errorf("expected 33.33, got %s", got[0].CompletionPct)
	}
}

func TestListStockBatches_FilterAndLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	water := env.item(t, "Sparkling Water")
	rice := env.item(t, "Rice")
	for i := 0; i < 3; i++ {
		env.inbound(t, water.ID, 1)
	}
	env.inbound(t, rice.ID, 1)

	views, err := env.queries.ListStockBatches(ctx, env.owner, domain.StockQuery{NameContains: "  water "})
	if err != nil {
		t.Fatalf("ListStockBatches failed: %v", err)
	}
	if len(views) != 3 {
		t.Errorf("expected 3 water batches, got %d", len(views))
	}

	views, err = env.queries.ListStockBatches(ctx, env.owner, domain.StockQuery{Limit: 2})
	if err != nil {
		t.Fatalf("ListStockBatches failed: %v", err)
	}
	if len(views) != 2 || views[0].ItemName != "Rice" {
		t.Errorf("expected the first 2 batches starting with Rice, got %+v", views)
	}
}

func TestListStockBatches_Ordering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	milk := env.item(t, "milk")
	create := func(expiry string) string {
		res, err := env.batches.CreateInboundBatch(ctx, env.owner, domain.CreateInboundBatchInput{ItemID: milk.ID, Quantity: 1, ExpiryDate: expiry})
		if err != nil {
			t.Fatalf("CreateInboundBatch failed: %v", err)
		}
		return res.BatchID
	}
	undated := create("")
	late := create("2025-06-01")
	early := create("2025-04-01")
	undated2 := create("")

	views, err := env.queries.ListBatchesForItem(ctx, env.owner, milk.ID)
	if err != nil {
		t.Fatalf("ListBatchesForItem failed: %v", err)
	}
	want := []string{early, late, undated, undated2}
	for i, id := range want {
		if views[i].BatchID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, views[i].BatchID)
		}
	}
}

func TestListItemsWithBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	water := env.item(t, "Water")
	env.item(t, "Beans")
	env.inbound(t, water.ID, 5)

	items, err := env.queries.ListItemsWithBatches(ctx, env.owner)
	if err != nil {
		t.Fatalf("ListItemsWithBatches failed: %v", err)
	}
	if len(items) != 2 || items[0].Item.Name != "Beans" || len(items[0].Batches) != 0 {
		t.Fatalf("expected Beans without batches first, got %+v", items)
	}
	if !items[1].TotalQuantity.Equal(dec("5")) {
		t.Errorf("expected water total 5, got %s", items[1].TotalQuantity)
	}
}

func TestListItemsForPlanMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	target := 12.0
	water, err := env.catalog.CreateItem(ctx, env.owner, domain.CreateItemInput{Name: "Water", TargetQuantity: &target})
	if err != nil {
		t.Fatalf("CreateItem failed: %v", err)
	}
	if _, err := env.batches.CreateInboundBatch(ctx, env.owner, domain.CreateInboundBatchInput{ItemID: water.ID, Quantity: 6, ExpiryDate: "2025-03-01"}); err != nil {
		t.Fatalf("CreateInboundBatch failed: %v", err)
	}
	env.inbound(t, water.ID, 3)

	plan, err := env.queries.ListItemsForPlanMode(ctx, env.owner, true)
	if err != nil {
		t.Fatalf("ListItemsForPlanMode failed: %v", err)
	}
	if len(plan) != 1 || !plan[0].CurrentStock.Equal(dec("3")) || !plan[0].Deficit.Equal(dec("9")) {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestListBatchesForItem_Unknown(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.queries.ListBatchesForItem(context.Background(), env.owner, "missing")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}
}

func TestListTransactionsForBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := env.inbound(t, env.item(t, "Water").ID, 10)
	for i := 0; i < 3; i++ {
		if _, err := env.batches.ConsumeFromBatch(ctx, env.owner, domain.ConsumeInput{BatchID: batch.BatchID, Quantity: 1}); err != nil {
			t.Fatalf("consume failed: %v", err)
		}
	}

	txns, err := env.queries.ListTransactionsForBatch(ctx, env.owner, batch.BatchID, 2)
	if err != nil {
		t.Fatalf("ListTransactionsForBatch failed: %v", err)
	}
	if len(txns) != 2 || !txns[0].QuantityAfter.Equal(dec("7")) {
		t.Errorf("expected the two newest rows, got %+v", txns)
	}

	if _, err := env.queries.ListTransactionsForBatch(ctx, env.owner, " ", 0); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}
