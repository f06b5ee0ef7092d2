package storage

import (
	"context"
	"fmt"

	"github.com/rl1809/stockroom/internal/port"
)

// Store is the full persistence surface the services depend on.
type Store interface {
	port.BatchRepository
	port.MembershipRepository
	port.CatalogRepository
	port.StockReader
}

var (
	_ Store = (*MemoryAdapter)(nil)
	_ Store = (*SQLAdapter)(nil)
)

// OpenStore returns an in-process store for driver "memory" and a SQL store otherwise.
// The returned close func releases the connection pool.
func OpenStore(ctx context.Context, driver, dsn string, migrate bool) (Store, func() error, error) {
	if driver == "memory" {
		return NewMemoryAdapter(), func() error { return nil }, nil
	}

	d, err := ParseDialect(driver)
	if err != nil {
		return nil, nil, err
	}
	db, err := Open(ctx, d, dsn)
	if err != nil {
		return nil, nil, err
	}
	if migrate {
		if err := Migrate(ctx, db, d); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate %s: %w", d, err)
		}
	}
	return NewSQLAdapter(db, d), db.Close, nil
}
