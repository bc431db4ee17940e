package allocation

import "goventry.io/ordering/models"

// LineAllocations is the derived read model for one (order, product)
// pair: the flat snapshot regrouped the way panels consume it.
type LineAllocations struct {
	AllocatedTotal int64
	BySlot         map[uint64]*models.AllocationRecord
	List           []*models.AllocationRecord
}

// Remaining is the unsatisfied demand for the line, never negative.
func (l *LineAllocations) Remaining(orderedQty int64) int64 {
	remaining := orderedQty - l.AllocatedTotal
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AllocatedSlots returns slot ids with a non-zero allocation, keyed to
// their quantities; the planner uses it to skip touched slots.
func (l *LineAllocations) AllocatedSlots() map[uint64]int64 {
	slots := make(map[uint64]int64, len(l.List))
	for _, rec := range l.List {
		slots[rec.SlotID] = rec.Qty
	}
	return slots
}

// GroupByProduct regroups a full order snapshot by product and then by
// slot. Pure transformation, no I/O; totals are recomputed here rather
// than stored anywhere.
func GroupByProduct(records []*models.AllocationRecord) map[string]*LineAllocations {
	grouped := make(map[string]*LineAllocations)
	for _, rec := range records {
		line, ok := grouped[rec.ProductID]
		if !ok {
			line = &LineAllocations{BySlot: make(map[uint64]*models.AllocationRecord)}
			grouped[rec.ProductID] = line
		}
		line.AllocatedTotal += rec.Qty
		line.BySlot[rec.SlotID] = rec
		line.List = append(line.List, rec)
	}
	return grouped
}

// ForProduct extracts one line's view from a full snapshot. Returns an
// empty (zero-total) view when the product has no allocations yet.
func ForProduct(records []*models.AllocationRecord, productID string) *LineAllocations {
	if line, ok := GroupByProduct(records)[productID]; ok {
		return line
	}
	return &LineAllocations{BySlot: make(map[uint64]*models.AllocationRecord)}
}
