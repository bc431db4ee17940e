package allocation

import "goventry.io/ordering/models"

// Proposal is one step of a fill plan: pick Qty units at SlotID.
type Proposal struct {
	SlotID uint64
	Qty    int64
}

// Suggest computes a fill plan for the unallocated remainder of an order
// line. It walks the stock records in their listing order and proposes
// min(available, remaining) at each slot, skipping slots that already
// carry a non-zero allocation so manual picks are never overwritten.
//
// First-fit, not best-fit: the plan does not try to minimize the number
// of slots touched or prefer larger slots. Same inputs always produce the
// same plan. When the untouched slots cannot cover the remainder the plan
// is partial; the caller reports the shortfall.
func Suggest(stock []*models.StockRecord, allocated map[uint64]int64, remaining int64) []Proposal {
	plan := make([]Proposal, 0)
	if remaining <= 0 {
		return plan
	}

	for _, rec := range stock {
		if remaining == 0 {
			break
		}
		if allocated[rec.SlotID] > 0 {
			continue
		}

		pick := rec.AvailableQty
		if pick > remaining {
			pick = remaining
		}
		if pick <= 0 {
			continue
		}

		plan = append(plan, Proposal{SlotID: rec.SlotID, Qty: pick})
		remaining -= pick
	}

	return plan
}

// PlannedQty is the total quantity a plan would fill.
func PlannedQty(plan []Proposal) int64 {
	var total int64
	for _, p := range plan {
		total += p.Qty
	}
	return total
}
