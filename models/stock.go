package models

import "time"

// StockRecord is the available quantity of one product at one slot.
// It is mutated by inventory operations outside this engine; allocation
// treats it as a point-in-time read.
type StockRecord struct {
	ProductID    string    `json:"product_id"`
	SlotID       uint64    `json:"slot_id"`
	SlotLabel    string    `json:"slot_label"`
	Store        string    `json:"store"`
	AvailableQty int64     `json:"available_qty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
