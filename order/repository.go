// Package order is the engine's read-only view of the order aggregate:
// which products an order demands and in what quantity. Order CRUD lives
// elsewhere in the platform; allocation never mutates these rows.
package order

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goventry.io/ordering/apperr"
	"goventry.io/ordering/driver"
	"goventry.io/ordering/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	GetOrderLine(ctx context.Context, tx pgx.Tx, orderID uint64, productID string) (*models.OrderLine, error)
	ListOrderLines(ctx context.Context, tx pgx.Tx, orderID uint64) ([]*models.OrderLine, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) GetOrderLine(ctx context.Context, tx pgx.Tx, orderID uint64, productID string) (*models.OrderLine, error) {
	row := r.queryRow(ctx, tx, `
		SELECT order_id, product_id, ordered_qty, created_at
		FROM order_lines
		WHERE order_id = $1 AND product_id = $2
	`, orderID, productID)

	var line models.OrderLine
	err := row.Scan(&line.OrderID, &line.ProductID, &line.OrderedQty, &line.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "order %d has no line for product %s", orderID, productID)
	}
	if err != nil {
		r.logger.Error("failed to get order line",
			zap.Uint64("order_id", orderID),
			zap.String("product_id", productID),
			zap.Error(err))
		return nil, err
	}
	return &line, nil
}

func (r *repository) ListOrderLines(ctx context.Context, tx pgx.Tx, orderID uint64) ([]*models.OrderLine, error) {
	var (
		rows pgx.Rows
		err  error
	)
	query := `
		SELECT order_id, product_id, ordered_qty, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY created_at, product_id
	`
	if tx != nil {
		rows, err = tx.Query(ctx, query, orderID)
	} else {
		rows, err = r.conn.Query(ctx, query, orderID)
	}
	if err != nil {
		r.logger.Error("failed to list order lines", zap.Uint64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	lines := make([]*models.OrderLine, 0)
	for rows.Next() {
		var line models.OrderLine
		if err = rows.Scan(&line.OrderID, &line.ProductID, &line.OrderedQty, &line.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, &line)
	}
	return lines, rows.Err()
}

func (r *repository) queryRow(ctx context.Context, tx pgx.Tx, sql string, args ...any) pgx.Row {
	if tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.conn.QueryRow(ctx, sql, args...)
}
