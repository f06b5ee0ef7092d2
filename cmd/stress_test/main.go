package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/adapter/storage"
	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/core/service"
)

const (
	ownerID       = "stress-owner"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	driver := flag.String("driver", "memory", "store driver: memory, sqlite, mysql or postgres")
	dsn := flag.String("dsn", "", "data source name; defaults to a private in-memory SQLite database")
	flag.Parse()

	if *dsn == "" && (*driver == "sqlite" || *driver == "sqlite3") {
		*dsn = fmt.Sprintf("file:stress_%s?mode=memory&cache=shared", uuid.NewString())
	}

	ctx := context.Background()

	store, closeStore, err := storage.OpenStore(ctx, *driver, *dsn, true)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	// Initialize services
	members := service.NewMembershipService(store)
	batches := service.NewBatchService(store, members)
	catalog := service.NewCatalogService(store, members)
	owner := domain.Caller{UserID: fmt.Sprintf("%s-%d", ownerID, time.Now().UnixNano())}

	if _, _, err := catalog.Bootstrap(ctx, owner.UserID, "Stress"); err != nil {
		log.Fatalf("failed to bootstrap org: %v", err)
	}
	item, err := catalog.CreateItem(ctx, owner, domain.CreateItemInput{Name: "Water"})
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}
	batch, err := batches.CreateInboundBatch(ctx, owner, domain.CreateInboundBatchInput{ItemID: item.ID, Quantity: initialStock})
	if err != nil {
		log.Fatalf("failed to create batch: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var errorCount atomic.Int32

	// Spawn concurrent consumers, each retrying its own key twice
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			in := domain.ConsumeInput{BatchID: batch.BatchID, Quantity: 1, IdempotencyKey: fmt.Sprintf("req-%d", n)}
			for attempt := 0; attempt < 2; attempt++ {
				res, err := batches.ConsumeFromBatch(ctx, owner, in)
				switch {
				case err == nil && !res.Replayed:
					successCount.Add(1)
				case err == nil:
				case errors.Is(err, domain.ErrInsufficientStock):
					insufficientCount.Add(1)
				default:
					errorCount.Add(1)
					log.Printf("request %d: %v", n, err)
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	insufficient := insufficientCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", *driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d (x2 with retries)\n", totalRequests)
	fmt.Printf("Applied:          %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock {
		fmt.Printf("PASS: Exactly %d consumptions applied\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d applied, got %d\n", initialStock, success)
	}

	views, err := store.ListBatchesForItem(ctx, item.OrgID, item.ID)
	if err != nil {
		log.Fatalf("failed to read batch: %v", err)
	}
	final := decimal.Zero
	for _, v := range views {
		final = final.Add(v.Quantity)
	}
	fmt.Printf("Final Stock:      %s\n", final)

	if final.IsZero() {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %s\n", final)
	}
}
