package models

import "time"

// OrderLine is one product line of an order: the demand side of
// allocation. Owned by the order aggregate, read-only here.
type OrderLine struct {
	OrderID    uint64    `json:"order_id"`
	ProductID  string    `json:"product_id"`
	OrderedQty int64     `json:"ordered_qty"`
	CreatedAt  time.Time `json:"created_at"`
}
