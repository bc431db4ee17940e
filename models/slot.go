package models

import "time"

// Slot is a physical stock location. Slots are owned by inventory
// management; the allocation engine only ever reads them.
type Slot struct {
	ID        uint64    `json:"id"`
	Label     string    `json:"label"`
	Store     string    `json:"store"`
	CreatedAt time.Time `json:"created_at"`
}
