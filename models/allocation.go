package models

import "time"

// AllocationRecord states that Qty units of a product's order demand are
// backed by a specific slot's stock. At most one record exists per
// (order, product, slot) triple and Qty is always positive; a record
// reduced to zero is deleted, never stored as zero.
type AllocationRecord struct {
	ID        string    `json:"allocation_id"`
	OrderID   uint64    `json:"order_id"`
	ProductID string    `json:"product_id"`
	SlotID    uint64    `json:"slot_id"`
	Qty       int64     `json:"qty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
