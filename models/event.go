package models

import (
	"time"

	"goventry.io/ordering/models/enum"
)

// AllocationEvent is published on NATS after a successful allocation
// mutation has been committed.
type AllocationEvent struct {
	ID        string                   `json:"id"`
	Type      enum.AllocationEventType `json:"type"`
	OrderID   uint64                   `json:"order_id"`
	ProductID string                   `json:"product_id"`
	SlotID    uint64                   `json:"slot_id"`
	Qty       int64                    `json:"qty"`
	Processed bool                     `json:"processed"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}
