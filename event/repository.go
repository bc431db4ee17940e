// Package event keeps the processed-event inbox: one row per allocation
// event the worker pool has seen, so redelivered NATS messages are
// handled at most once.
package event

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goventry.io/ordering/apperr"
	"goventry.io/ordering/driver"
	"goventry.io/ordering/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	Create(ctx context.Context, event *models.AllocationEvent) error
	GetByID(ctx context.Context, id string) (*models.AllocationEvent, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) (Repository, error) {
	return &repository{
		conn:   conn,
		logger: logger,
	}, nil
}

func (r *repository) Create(ctx context.Context, event *models.AllocationEvent) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO allocation_events (id, type, order_id, product_id, slot_id, qty, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, event.Type, event.OrderID, event.ProductID, event.SlotID, event.Qty, event.Processed, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.AllocationEvent, error) {
	var evt models.AllocationEvent
	err := r.conn.QueryRow(ctx, `
		SELECT id, type, order_id, product_id, slot_id, qty, processed, created_at, updated_at
		FROM allocation_events
		WHERE id = $1
	`, id).Scan(&evt.ID, &evt.Type, &evt.OrderID, &evt.ProductID, &evt.SlotID, &evt.Qty, &evt.Processed, &evt.CreatedAt, &evt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "event %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `
		UPDATE allocation_events
		SET processed = TRUE, updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
