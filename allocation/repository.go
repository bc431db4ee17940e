// Package allocation owns the engine's only entity, the AllocationRecord:
// the decision that qty units of an order line's demand are backed by a
// specific slot's stock. The repository is the durable store; Planner and
// the read-model glue are pure.
package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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
	// ListAllocations returns the full allocation snapshot for an order.
	// Empty slice when none exist; listing a valid order never fails.
	ListAllocations(ctx context.Context, tx pgx.Tx, orderID uint64) ([]*models.AllocationRecord, error)

	// GetAllocation fails with not_found when the record does not exist.
	GetAllocation(ctx context.Context, tx pgx.Tx, orderID uint64, allocationID string) (*models.AllocationRecord, error)

	// GetAllocationBySlot returns the record for one (order, product, slot)
	// triple, or not_found.
	GetAllocationBySlot(ctx context.Context, tx pgx.Tx, orderID uint64, productID string, slotID uint64) (*models.AllocationRecord, error)

	// AllocatedTotal is the derived Σ qty for an order line. Recomputed,
	// never stored.
	AllocatedTotal(ctx context.Context, tx pgx.Tx, orderID uint64, productID string) (int64, error)

	// UpsertAllocation replaces any prior record for the same triple and
	// returns the updated record. Validation happens in the service; this
	// is the raw write.
	UpsertAllocation(ctx context.Context, tx pgx.Tx, record *models.AllocationRecord) (*models.AllocationRecord, error)

	// DeleteAllocation fails with not_found when the record is already gone.
	DeleteAllocation(ctx context.Context, tx pgx.Tx, orderID uint64, allocationID string) error

	// InvalidateOrder drops the cached snapshot and totals for an order so
	// reads after a mutation are consistent.
	InvalidateOrder(ctx context.Context, orderID uint64)
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

func orderCacheKey(orderID uint64) string {
	return fmt.Sprintf("alloc:order:%d", orderID)
}

const allocationColumns = `id, order_id, product_id, slot_id, qty, note, created_at, updated_at`

func scanAllocation(row pgx.Row) (*models.AllocationRecord, error) {
	var rec models.AllocationRecord
	err := row.Scan(&rec.ID, &rec.OrderID, &rec.ProductID, &rec.SlotID, &rec.Qty, &rec.Note, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) ListAllocations(ctx context.Context, tx pgx.Tx, orderID uint64) ([]*models.AllocationRecord, error) {
	cacheKey := orderCacheKey(orderID)

	if tx == nil {
		if records, ok := r.fromCache(ctx, cacheKey); ok {
			return records, nil
		}
	}

	var (
		rows pgx.Rows
		err  error
	)
	query := `
		SELECT ` + allocationColumns + `
		FROM allocations
		WHERE order_id = $1
		ORDER BY product_id, slot_id
	`
	if tx != nil {
		rows, err = tx.Query(ctx, query, orderID)
	} else {
		rows, err = r.conn.Query(ctx, query, orderID)
	}
	if err != nil {
		r.logger.Error("failed to list allocations", zap.Uint64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	records := make([]*models.AllocationRecord, 0)
	for rows.Next() {
		rec, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if tx == nil {
		r.toCache(ctx, cacheKey, records)
	}

	return records, nil
}

func (r *repository) GetAllocation(ctx context.Context, tx pgx.Tx, orderID uint64, allocationID string) (*models.AllocationRecord, error) {
	rec, err := scanAllocation(r.queryRow(ctx, tx, `
		SELECT `+allocationColumns+`
		FROM allocations
		WHERE order_id = $1 AND id = $2
	`, orderID, allocationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "allocation %s not found on order %d", allocationID, orderID)
	}
	if err != nil {
		r.logger.Error("failed to get allocation", zap.String("allocation_id", allocationID), zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (r *repository) GetAllocationBySlot(ctx context.Context, tx pgx.Tx, orderID uint64, productID string, slotID uint64) (*models.AllocationRecord, error) {
	rec, err := scanAllocation(r.queryRow(ctx, tx, `
		SELECT `+allocationColumns+`
		FROM allocations
		WHERE order_id = $1 AND product_id = $2 AND slot_id = $3
	`, orderID, productID, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "no allocation for order %d product %s slot %d", orderID, productID, slotID)
	}
	if err != nil {
		r.logger.Error("failed to get allocation by slot",
			zap.Uint64("order_id", orderID),
			zap.String("product_id", productID),
			zap.Uint64("slot_id", slotID),
			zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (r *repository) AllocatedTotal(ctx context.Context, tx pgx.Tx, orderID uint64, productID string) (int64, error) {
	var total int64
	err := r.queryRow(ctx, tx, `
		SELECT COALESCE(SUM(qty), 0)
		FROM allocations
		WHERE order_id = $1 AND product_id = $2
	`, orderID, productID).Scan(&total)
	if err != nil {
		r.logger.Error("failed to compute allocated total",
			zap.Uint64("order_id", orderID),
			zap.String("product_id", productID),
			zap.Error(err))
		return 0, err
	}
	return total, nil
}

func (r *repository) UpsertAllocation(ctx context.Context, tx pgx.Tx, record *models.AllocationRecord) (*models.AllocationRecord, error) {
	rec, err := scanAllocation(tx.QueryRow(ctx, `
		INSERT INTO allocations (id, order_id, product_id, slot_id, qty, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, product_id, slot_id)
		DO UPDATE SET qty = EXCLUDED.qty, note = EXCLUDED.note, updated_at = NOW()
		RETURNING `+allocationColumns+`
	`, uuid.New().String(), record.OrderID, record.ProductID, record.SlotID, record.Qty, record.Note))
	if err != nil {
		r.logger.Error("failed to upsert allocation",
			zap.Uint64("order_id", record.OrderID),
			zap.String("product_id", record.ProductID),
			zap.Uint64("slot_id", record.SlotID),
			zap.Error(err))
		return nil, err
	}
	return rec, nil
}

func (r *repository) DeleteAllocation(ctx context.Context, tx pgx.Tx, orderID uint64, allocationID string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM allocations
		WHERE order_id = $1 AND id = $2
	`, orderID, allocationID)
	if err != nil {
		r.logger.Error("failed to delete allocation", zap.String("allocation_id", allocationID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "allocation %s not found on order %d", allocationID, orderID)
	}
	return nil
}

func (r *repository) InvalidateOrder(ctx context.Context, orderID uint64) {
	if err := r.cache.Del(ctx, orderCacheKey(orderID)).Err(); err != nil {
		r.logger.Warn("failed to invalidate allocation cache", zap.Uint64("order_id", orderID), zap.Error(err))
	}
}

func (r *repository) queryRow(ctx context.Context, tx pgx.Tx, sql string, args ...any) pgx.Row {
	if tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.conn.QueryRow(ctx, sql, args...)
}

func (r *repository) fromCache(ctx context.Context, key string) ([]*models.AllocationRecord, bool) {
	raw, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to get allocations from cache", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var records []*models.AllocationRecord
	if err = json.Unmarshal(raw, &records); err != nil {
		r.logger.Warn("failed to decode cached allocations", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return records, true
}

func (r *repository) toCache(ctx context.Context, key string, records []*models.AllocationRecord) {
	raw, err := json.Marshal(records)
	if err != nil {
		r.logger.Warn("failed to encode allocations for cache", zap.String("key", key), zap.Error(err))
		return
	}
	if err = r.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		r.logger.Warn("failed to cache allocations", zap.String("key", key), zap.Error(err))
	}
}
