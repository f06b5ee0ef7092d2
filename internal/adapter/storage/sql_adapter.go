package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stockroom/internal/core/domain"
	"github.com/rl1809/stockroom/internal/port"
)

var (
	_ port.BatchRepository      = (*SQLAdapter)(nil)
	_ port.MembershipRepository = (*SQLAdapter)(nil)
	_ port.CatalogRepository    = (*SQLAdapter)(nil)
	_ port.StockReader          = (*SQLAdapter)(nil)
)

// SQLAdapter stores batches and the ledger in MySQL, PostgreSQL or SQLite. Batch and item
// rows are locked with SELECT ... FOR UPDATE inside WithinTx.
type SQLAdapter struct {
	db *sqlx.DB
	sqlStore
}

func NewSQLAdapter(db *sqlx.DB, d Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, sqlStore: sqlStore{ext: db, d: d}}
}

// sqlStore holds the queries shared by the pool and an open transaction.
type sqlStore struct {
	ext sqlx.ExtContext
	d   Dialect
}

func (s sqlStore) q(query string) string {
	return sqlx.Rebind(s.d.bindType(), query)
}

func (s *SQLAdapter) WithinTx(ctx context.Context, fn func(tx port.BatchTx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.d.txOptions())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{sqlStore{ext: tx, d: s.d}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.d.translate(err, "commit")
	}
	return nil
}

type sqlTx struct {
	sqlStore
}

func (t *sqlTx) LockItem(ctx context.Context, orgID, itemID string) (*domain.Item, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, t.ext, &row, t.q(`SELECT `+itemColumns+` FROM items
		WHERE id = ? AND org_id = ? AND NOT is_deleted`+t.d.lockSuffix()), itemID, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select item: %w", err)
	}
	item := row.toDomain()
	return &item, nil
}

func (t *sqlTx) LockBatch(ctx context.Context, orgID, batchID string) (*domain.Batch, error) {
	var row batchRow
	err := sqlx.GetContext(ctx, t.ext, &row, t.q(`SELECT `+batchColumns+` FROM batches
		WHERE id = ? AND org_id = ?`+t.d.lockSuffix()), batchID, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select batch: %w", err)
	}
	b := row.toDomain()
	return &b, nil
}

func (t *sqlTx) LocationExists(ctx context.Context, orgID, locationID string) (bool, error) {
	return t.exists(ctx, `SELECT COUNT(*) FROM storage_locations WHERE id = ? AND org_id = ?`, locationID, orgID)
}

func (t *sqlTx) InsertBatch(ctx context.Context, b domain.Batch) error {
	_, err := t.ext.ExecContext(ctx, t.q(`
		INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID, b.OrgID, b.WarehouseID, b.ItemID, b.Quantity, dateArg(b.ExpiryDate),
		nullString(b.StorageLocationID), nullString(b.TagID), nullString(b.CreateKey),
		t.d.timeArg(b.CreatedAt), t.d.timeArg(b.UpdatedAt),
	)
	return t.d.translate(err, "insert batch")
}

func (t *sqlTx) UpdateBatchQuantity(ctx context.Context, batchID string, quantity decimal.Decimal, updatedAt time.Time) error {
	// Affected rows are not checked: MySQL reports zero when the values are unchanged.
	_, err := t.ext.ExecContext(ctx, t.q(`
		UPDATE batches SET quantity = ?, updated_at = ? WHERE id = ?`),
		quantity, t.d.timeArg(updatedAt), batchID,
	)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.ext.ExecContext(ctx, t.q(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		txn.ID, txn.OrgID, txn.BatchID, txn.ItemID, string(txn.Type),
		txn.QuantityDelta, txn.QuantityAfter, txn.Note, txn.Source,
		nullString(txn.IdempotencyKey), txn.ActorID, t.d.timeArg(txn.CreatedAt),
	)
	return t.d.translate(err, "insert transaction")
}

func (s sqlStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, s.ext, &n, s.q(query), args...); err != nil {
		return false, fmt.Errorf("count: %w", err)
	}
	return n > 0, nil
}

func (s sqlStore) TagExists(ctx context.Context, orgID, tagID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM tags WHERE id = ? AND org_id = ?`, tagID, orgID)
}

func (s sqlStore) FindTransactionByKey(ctx context.Context, orgID, batchID, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE org_id = ? AND batch_id = ? AND idempotency_key = ?`, orgID, batchID, key)
}

func (s sqlStore) FindCreateByItemKey(ctx context.Context, orgID, itemID, key string) (*domain.Transaction, error) {
	return s.findTransaction(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE org_id = ? AND idempotency_key = ? AND type = ? AND batch_id IN (
			SELECT id FROM batches WHERE org_id = ? AND item_id = ? AND create_key = ?)`,
		orgID, key, string(domain.TransactionInbound), orgID, itemID, key)
}

func (s sqlStore) findTransaction(ctx context.Context, query string, args ...any) (*domain.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, s.ext, &row, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	txn := row.toDomain()
	return &txn, nil
}

func (s *SQLAdapter) FindMembership(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	query := `SELECT org_id, user_id, role, created_at FROM memberships WHERE user_id = ?`
	args := []any{userID}
	if orgID != "" {
		query += ` AND org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at, org_id LIMIT 1`

	var row membershipRow
	err := s.db.GetContext(ctx, &row, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select membership: %w", err)
	}
	m := row.toDomain()
	return &m, nil
}

func (s *SQLAdapter) FindDefaultWarehouse(ctx context.Context, orgID string) (*domain.Warehouse, error) {
	var row warehouseRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT id, org_id, name, is_default, created_at FROM warehouses
		WHERE org_id = ? AND is_default ORDER BY created_at LIMIT 1`), orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select warehouse: %w", err)
	}
	wh := row.toDomain()
	return &wh, nil
}

func (s *SQLAdapter) CreateOrganization(ctx context.Context, org domain.Organization, owner domain.Membership, wh domain.Warehouse) error {
	tx, err := s.db.BeginTxx(ctx, s.d.txOptions())
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO organizations (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)`),
		org.ID, org.Name, org.OwnerID, s.d.timeArg(org.CreatedAt)); err != nil {
		return s.d.translate(err, "insert organization")
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO memberships (org_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`),
		owner.OrgID, owner.UserID, string(owner.Role), s.d.timeArg(owner.CreatedAt)); err != nil {
		return s.d.translate(err, "insert membership")
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO warehouses (id, org_id, name, is_default, created_at) VALUES (?, ?, ?, ?, ?)`),
		wh.ID, wh.OrgID, wh.Name, wh.IsDefault, s.d.timeArg(wh.CreatedAt)); err != nil {
		return s.d.translate(err, "insert warehouse")
	}
	return tx.Commit()
}

func (s *SQLAdapter) UpsertMembership(ctx context.Context, m domain.Membership) error {
	query := `INSERT INTO memberships (org_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`
	if s.d == DialectMySQL {
		query += ` ON DUPLICATE KEY UPDATE role = VALUES(role)`
	} else {
		query += ` ON CONFLICT (org_id, user_id) DO UPDATE SET role = excluded.role`
	}
	_, err := s.db.ExecContext(ctx, s.q(query), m.OrgID, m.UserID, string(m.Role), s.d.timeArg(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *SQLAdapter) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO items (id, org_id, name, name_key, unit, min_stock, default_tag_id, target_quantity, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		item.ID, item.OrgID, item.Name, strings.ToLower(item.Name), item.Unit, item.MinStock,
		nullString(item.DefaultTagID), item.TargetQuantity, item.IsDeleted,
		s.d.timeArg(item.CreatedAt), s.d.timeArg(item.UpdatedAt),
	)
	return s.d.translate(err, "insert item")
}

func (s *SQLAdapter) ArchiveItem(ctx context.Context, orgID, itemID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE items SET is_deleted = ?, updated_at = ? WHERE id = ? AND org_id = ? AND NOT is_deleted`),
		true, s.d.timeArg(time.Now()), itemID, orgID)
	if err != nil {
		return false, fmt.Errorf("archive item: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return true, nil
	}
	// Already archived items still count as found.
	return s.exists(ctx, `SELECT COUNT(*) FROM items WHERE id = ? AND org_id = ?`, itemID, orgID)
}

func (s *SQLAdapter) CreateLocation(ctx context.Context, loc domain.StorageLocation) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO storage_locations (id, org_id, name, created_at) VALUES (?, ?, ?, ?)`),
		loc.ID, loc.OrgID, loc.Name, s.d.timeArg(loc.CreatedAt))
	return s.d.translate(err, "insert location")
}

func (s *SQLAdapter) CreateTag(ctx context.Context, tag domain.Tag) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO tags (id, org_id, name, created_at) VALUES (?, ?, ?, ?)`),
		tag.ID, tag.OrgID, tag.Name, s.d.timeArg(tag.CreatedAt))
	return s.d.translate(err, "insert tag")
}

const stockViewQuery = `
	SELECT b.id AS batch_id, b.item_id, i.name AS item_name, i.unit, b.quantity, b.expiry_date,
		b.storage_location_id, l.name AS location_name, b.tag_id, t.name AS tag_name,
		b.created_at, b.updated_at
	FROM batches b
	JOIN items i ON i.id = b.item_id AND i.org_id = b.org_id
	LEFT JOIN storage_locations l ON l.id = b.storage_location_id
	LEFT JOIN tags t ON t.id = b.tag_id
	WHERE b.org_id = ? AND NOT i.is_deleted`

const stockViewOrder = ` ORDER BY i.name_key, b.expiry_date IS NULL, b.expiry_date, b.created_at, b.id`

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (s *SQLAdapter) ListStockBatches(ctx context.Context, orgID string, q domain.StockQuery) ([]domain.StockBatchView, error) {
	query := stockViewQuery
	args := []any{orgID}
	if q.NameContains != "" {
		query += ` AND LOWER(i.name) LIKE ? ESCAPE '!'`
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(q.NameContains))+"%")
	}
	query += stockViewOrder
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return s.selectViews(ctx, query, args...)
}

func (s *SQLAdapter) ListBatchesForItem(ctx context.Context, orgID, itemID string) ([]domain.StockBatchView, error) {
	return s.selectViews(ctx, stockViewQuery+` AND b.item_id = ?`+stockViewOrder, orgID, itemID)
}

func (s *SQLAdapter) selectViews(ctx context.Context, query string, args ...any) ([]domain.StockBatchView, error) {
	var rows []stockViewRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select stock view: %w", err)
	}
	views := make([]domain.StockBatchView, len(rows))
	for i, r := range rows {
		views[i] = r.toDomain()
	}
	return views, nil
}

func (s *SQLAdapter) ListItems(ctx context.Context, orgID string) ([]domain.Item, error) {
	var rows []itemRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+itemColumns+` FROM items
		WHERE org_id = ? AND NOT is_deleted ORDER BY name_key, id`), orgID)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	items := make([]domain.Item, len(rows))
	for i, r := range rows {
		items[i] = r.toDomain()
	}
	return items, nil
}

func (s *SQLAdapter) GetItem(ctx context.Context, orgID, itemID string) (*domain.Item, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+itemColumns+` FROM items WHERE id = ? AND org_id = ?`), itemID, orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select item: %w", err)
	}
	item := row.toDomain()
	return &item, nil
}

func (s *SQLAdapter) ListTransactions(ctx context.Context, orgID, batchID string, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE org_id = ?`
	args := []any{orgID}
	if batchID != "" {
		query += ` AND batch_id = ?`
		args = append(args, batchID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	txns := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		txns[i] = r.toDomain()
	}
	return txns, nil
}
