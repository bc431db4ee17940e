package ordering

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goventry.io/ordering/allocation"
	"goventry.io/ordering/apperr"
	"goventry.io/ordering/driver"
	"goventry.io/ordering/event"
	"goventry.io/ordering/models"
	"goventry.io/ordering/models/enum"
	"goventry.io/ordering/order"
	"goventry.io/ordering/stock"
)

// Service is the allocation store's authoritative surface. Every write
// re-validates the per-slot bound and the conservation invariant inside a
// transaction; client-side pre-checks are an optimization, not a
// substitute for the checks here.
type Service interface {
	ListStock(ctx context.Context, productID string) ([]*models.StockRecord, error)
	ListAllocations(ctx context.Context, orderID uint64) ([]*models.AllocationRecord, error)
	GetOrderLine(ctx context.Context, orderID uint64, productID string) (*models.OrderLine, error)
	ListOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error)

	UpsertAllocation(ctx context.Context, orderID uint64, productID string, slotID uint64, qty int64, note string) (*models.AllocationRecord, error)
	DeleteAllocation(ctx context.Context, orderID uint64, allocationID string) error

	Shutdown()
}

type service struct {
	stock      stock.Repository
	order      order.Repository
	allocation allocation.Repository
	event      event.Repository

	transactionManager *driver.TransactionManager
	eventManager       *EventManager
	workerPool         *WorkerPool

	natsConn *nats.Conn
	logger   *zap.Logger
}

func NewService(
	stock stock.Repository, order order.Repository, alloc allocation.Repository, eventRepo event.Repository,
	tm *driver.TransactionManager,
	natsConn *nats.Conn,
	logger *zap.Logger) Service {
	s := &service{
		stock:              stock,
		order:              order,
		allocation:         alloc,
		event:              eventRepo,
		transactionManager: tm,
		natsConn:           natsConn,
		logger:             logger,
	}
	s.eventManager = NewEventManager(natsConn, logger)
	s.workerPool = NewWorkerPool(10, s, logger)
	s.registerEventHandlers()

	if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
		logger.Error("Failed to subscribe to events", zap.Error(err))
	}

	return s
}

func (s *service) ListStock(ctx context.Context, productID string) ([]*models.StockRecord, error) {
	return s.stock.ListStock(ctx, nil, productID)
}

func (s *service) ListAllocations(ctx context.Context, orderID uint64) ([]*models.AllocationRecord, error) {
	return s.allocation.ListAllocations(ctx, nil, orderID)
}

func (s *service) GetOrderLine(ctx context.Context, orderID uint64, productID string) (*models.OrderLine, error) {
	return s.order.GetOrderLine(ctx, nil, orderID, productID)
}

func (s *service) ListOrderLines(ctx context.Context, orderID uint64) ([]*models.OrderLine, error) {
	return s.order.ListOrderLines(ctx, nil, orderID)
}

// UpsertAllocation creates or replaces the record for one
// (order, product, slot) triple. The stock row is read under a row lock
// so two operators racing on the same line cannot both pass the
// conservation check.
func (s *service) UpsertAllocation(ctx context.Context, orderID uint64, productID string, slotID uint64, qty int64, note string) (*models.AllocationRecord, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidQuantity, "qty must be a positive integer, got %d", qty)
	}

	var saved *models.AllocationRecord
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 1. the order line is the demand side of the invariant
		line, err := s.order.GetOrderLine(ctx, tx, orderID, productID)
		if err != nil {
			return err
		}

		// 2. lock the stock row for the per-slot bound
		stockRec, err := s.stock.GetStockForUpdate(ctx, tx, productID, slotID)
		if err != nil {
			return err
		}
		if qty > stockRec.AvailableQty {
			return apperr.New(apperr.CodeInvalidQuantity,
				"qty %d exceeds available %d at slot %d", qty, stockRec.AvailableQty, slotID)
		}

		// 3. conservation: total over all slots minus this slot's prior
		// qty plus the new qty must not exceed the ordered qty
		existingQty := int64(0)
		if existing, err := s.allocation.GetAllocationBySlot(ctx, tx, orderID, productID, slotID); err == nil {
			existingQty = existing.Qty
		} else if !apperr.IsNotFound(err) {
			return err
		}

		total, err := s.allocation.AllocatedTotal(ctx, tx, orderID, productID)
		if err != nil {
			return err
		}
		if total-existingQty+qty > line.OrderedQty {
			return apperr.New(apperr.CodeCapacityExceeded,
				"allocating %d would exceed ordered qty %d (already allocated %d)", qty, line.OrderedQty, total-existingQty)
		}

		// 4. idempotent upsert
		saved, err = s.allocation.UpsertAllocation(ctx, tx, &models.AllocationRecord{
			OrderID:   orderID,
			ProductID: productID,
			SlotID:    slotID,
			Qty:       qty,
			Note:      note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// derived totals for the line must be recomputed on the next read
	s.allocation.InvalidateOrder(ctx, orderID)
	s.publishEvent(ctx, enum.AllocationEventTypeApplied, saved)

	return saved, nil
}

// DeleteAllocation removes a record entirely. A missing record fails with
// not_found; the coordinator treats that as already satisfied.
func (s *service) DeleteAllocation(ctx context.Context, orderID uint64, allocationID string) error {
	var removed *models.AllocationRecord
	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		removed, err = s.allocation.GetAllocation(ctx, tx, orderID, allocationID)
		if err != nil {
			return err
		}
		return s.allocation.DeleteAllocation(ctx, tx, orderID, allocationID)
	})
	if err != nil {
		return err
	}

	s.allocation.InvalidateOrder(ctx, orderID)
	s.publishEvent(ctx, enum.AllocationEventTypeReleased, removed)

	return nil
}

func (s *service) publishEvent(ctx context.Context, eventType enum.AllocationEventType, rec *models.AllocationRecord) {
	evt := &models.AllocationEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		OrderID:   rec.OrderID,
		ProductID: rec.ProductID,
		SlotID:    rec.SlotID,
		Qty:       rec.Qty,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("Failed to marshal allocation event", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("allocation.service.event.%s", eventType)
	if err = s.natsConn.Publish(subject, payload); err != nil {
		s.logger.Error("Failed to publish allocation event",
			zap.String("subject", subject),
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
}

// Shutdown drains the event subscription before stopping the worker
// pool; a message delivered after the pool's task channel is closed
// would panic the subscription callback.
func (s *service) Shutdown() {
	s.eventManager.Close()
	s.workerPool.Shutdown()
}
