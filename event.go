package ordering

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goventry.io/ordering/models"
	"goventry.io/ordering/models/enum"
)

type EventHandler func(context.Context, *models.AllocationEvent) error

type EventManager struct {
	natsConn *nats.Conn
	sub      *nats.Subscription
	handlers map[enum.AllocationEventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[enum.AllocationEventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType enum.AllocationEventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType enum.AllocationEventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	sub, err := em.natsConn.Subscribe("allocation.service.event.>", func(msg *nats.Msg) {
		var evt models.AllocationEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		wp.Submit(context.Background(), &evt)
	})
	if err != nil {
		return err
	}

	em.sub = sub
	return nil
}

// Close drains the subscription so no message is dispatched into the
// worker pool after its task channel has been closed. Must run before
// WorkerPool.Shutdown.
func (em *EventManager) Close() {
	if em.sub == nil {
		return
	}
	if err := em.sub.Drain(); err != nil {
		em.logger.Error("Failed to drain event subscription", zap.Error(err))
	}
	em.sub = nil
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[enum.AllocationEventType]EventHandler{
		enum.AllocationEventTypeApplied:  s.handleAllocationApplied,
		enum.AllocationEventTypeReleased: s.handleAllocationReleased,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

// handleAllocationApplied refreshes caches that depend on the changed
// line. Other subscribers (fulfillment, reporting) consume the same
// subject independently.
func (s *service) handleAllocationApplied(ctx context.Context, evt *models.AllocationEvent) error {
	s.logger.Info("Handling allocation applied event",
		zap.String("event_id", evt.ID),
		zap.Uint64("order_id", evt.OrderID),
		zap.Uint64("slot_id", evt.SlotID),
		zap.Int64("qty", evt.Qty))

	s.allocation.InvalidateOrder(ctx, evt.OrderID)
	s.stock.InvalidateProduct(ctx, evt.ProductID)

	return nil
}

func (s *service) handleAllocationReleased(ctx context.Context, evt *models.AllocationEvent) error {
	s.logger.Info("Handling allocation released event",
		zap.String("event_id", evt.ID),
		zap.Uint64("order_id", evt.OrderID),
		zap.Uint64("slot_id", evt.SlotID))

	s.allocation.InvalidateOrder(ctx, evt.OrderID)
	s.stock.InvalidateProduct(ctx, evt.ProductID)

	return nil
}

// ProcessEvent runs an event exactly once: the inbox record keyed by the
// event id makes redelivery a no-op.
func (s *service) ProcessEvent(ctx context.Context, evt *models.AllocationEvent) error {
	if _, err := s.event.GetByID(ctx, evt.ID); err == nil {
		s.logger.Info("Event already processed", zap.String("event_id", evt.ID))
		return nil
	}

	handler, exists := s.eventManager.GetHandler(evt.Type)
	if !exists {
		s.logger.Warn("No handler registered for event type", zap.String("event_type", string(evt.Type)))
		return nil
	}

	if err := s.event.Create(ctx, evt); err != nil {
		s.logger.Error("Failed to record event", zap.Error(err))
		return err
	}

	if err := handler(ctx, evt); err != nil {
		s.logger.Error("Failed to handle event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
		return err
	}

	if err := s.event.MarkAsProcessed(ctx, evt.ID); err != nil {
		s.logger.Error("Failed to mark event as processed", zap.String("event_id", evt.ID), zap.Error(err))
		return err
	}

	return nil
}
