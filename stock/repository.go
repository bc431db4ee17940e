// Package stock is the read path into the stock ledger: how much of a
// product sits in each slot. The ledger is mutated by inventory
// operations elsewhere; the allocation engine only reads it.
package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goventry.io/ordering/apperr"
	"goventry.io/ordering/driver"
	"goventry.io/ordering/models"
)

const cacheTTL = 5 * time.Minute

var _ Repository = (*repository)(nil)

type Repository interface {
	// ListStock returns the stock records for a product across all slots,
	// in slot listing order. Unknown products fail with a not_found error.
	ListStock(ctx context.Context, tx pgx.Tx, productID string) ([]*models.StockRecord, error)

	// GetStockForUpdate reads one stock record under a row lock. Used by
	// the store's conservation check; never served from cache.
	GetStockForUpdate(ctx context.Context, tx pgx.Tx, productID string, slotID uint64) (*models.StockRecord, error)

	// InvalidateProduct drops the cached stock listing for a product.
	InvalidateProduct(ctx context.Context, productID string)
}

type repository struct {
	conn   driver.PostgresPool
	cache  *redis.Client
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *redis.Client, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

// querier lets repository methods run against either the pool or an open
// transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *repository) q(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

func stockCacheKey(productID string) string {
	return fmt.Sprintf("stock:product:%s", productID)
}

func (r *repository) ListStock(ctx context.Context, tx pgx.Tx, productID string) ([]*models.StockRecord, error) {
	cacheKey := stockCacheKey(productID)

	// Cache only outside transactions; a locked read must see the database.
	if tx == nil {
		if records, ok := r.fromCache(ctx, cacheKey); ok {
			return records, nil
		}
	}

	var exists bool
	err := r.q(tx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		r.logger.Error("failed to check product", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}
	if !exists {
		return nil, apperr.New(apperr.CodeNotFound, "product %s not found", productID)
	}

	rows, err := r.q(tx).Query(ctx, `
		SELECT sr.product_id, sr.slot_id, s.label, s.store, sr.available_qty, sr.updated_at
		FROM stock_records sr
		JOIN slots s ON s.id = sr.slot_id
		WHERE sr.product_id = $1
		ORDER BY s.created_at, s.id
	`, productID)
	if err != nil {
		r.logger.Error("failed to list stock", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.StockRecord, 0)
	for rows.Next() {
		var rec models.StockRecord
		if err = rows.Scan(&rec.ProductID, &rec.SlotID, &rec.SlotLabel, &rec.Store, &rec.AvailableQty, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if tx == nil {
		r.toCache(ctx, cacheKey, records)
	}

	return records, nil
}

func (r *repository) GetStockForUpdate(ctx context.Context, tx pgx.Tx, productID string, slotID uint64) (*models.StockRecord, error) {
	var rec models.StockRecord
	err := tx.QueryRow(ctx, `
		SELECT sr.product_id, sr.slot_id, s.label, s.store, sr.available_qty, sr.updated_at
		FROM stock_records sr
		JOIN slots s ON s.id = sr.slot_id
		WHERE sr.product_id = $1 AND sr.slot_id = $2
		FOR UPDATE OF sr
	`, productID, slotID).Scan(&rec.ProductID, &rec.SlotID, &rec.SlotLabel, &rec.Store, &rec.AvailableQty, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "no stock for product %s at slot %d", productID, slotID)
	}
	if err != nil {
		r.logger.Error("failed to get stock for update",
			zap.String("product_id", productID),
			zap.Uint64("slot_id", slotID),
			zap.Error(err))
		return nil, err
	}
	return &rec, nil
}

func (r *repository) InvalidateProduct(ctx context.Context, productID string) {
	if err := r.cache.Del(ctx, stockCacheKey(productID)).Err(); err != nil {
		r.logger.Warn("failed to invalidate stock cache", zap.String("product_id", productID), zap.Error(err))
	}
}

func (r *repository) fromCache(ctx context.Context, key string) ([]*models.StockRecord, bool) {
	raw, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to get stock from cache", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var records []*models.StockRecord
	if err = json.Unmarshal(raw, &records); err != nil {
		r.logger.Warn("failed to decode cached stock", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return records, true
}

func (r *repository) toCache(ctx context.Context, key string, records []*models.StockRecord) {
	raw, err := json.Marshal(records)
	if err != nil {
		r.logger.Warn("failed to encode stock for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err = r.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		r.logger.Warn("failed to cache stock", zap.String("key", key), zap.Error(err))
	}
}
