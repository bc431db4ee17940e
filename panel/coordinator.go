package panel

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"goventry.io/ordering/allocation"
	"goventry.io/ordering/apperr"
	"goventry.io/ordering/models"
)

// State is the panel's lifecycle. Collapsed is the rest state: no stock
// query has been issued, and none will be until the panel opens.
type State string

const (
	StateCollapsed State = "collapsed"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateMutating  State = "mutating"
	StateFailed    State = "failed"
)

var (
	// ErrNothingToPick means the line is already fully allocated.
	ErrNothingToPick = errors.New("nothing to pick: line is fully allocated")

	// ErrConfirmationRequired gates UnpickAll; removing every allocation
	// is destructive and not undoable through this engine.
	ErrConfirmationRequired = errors.New("unpick all requires explicit confirmation")

	// ErrNotReady is returned when an operation is invoked outside Ready.
	ErrNotReady = errors.New("panel is not ready")
)

// Coordinator orchestrates one order line's allocation panel. It is the
// only panel component with I/O; all mutations go through the Store and
// every bulk sequence runs its calls one at a time, because each call's
// validity depends on the just-updated allocated total.
//
// Coordinators are independent units: nothing is shared across panels
// beyond what the store returns on each read, and uncommitted draft
// input lives in the presentation layer, not here.
type Coordinator struct {
	line   models.OrderLine
	store  Store
	logger *zap.Logger

	state   State
	loadErr error
	stock   []*models.StockRecord
	allocs  *allocation.LineAllocations
}

func NewCoordinator(line models.OrderLine, store Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		line:   line,
		store:  store,
		logger: logger,
		state:  StateCollapsed,
		allocs: &allocation.LineAllocations{BySlot: make(map[uint64]*models.AllocationRecord)},
	}
}

func (c *Coordinator) State() State { return c.state }

// LoadErr is the error that moved the panel to Failed, for display.
func (c *Coordinator) LoadErr() error { return c.loadErr }

func (c *Coordinator) Stock() []*models.StockRecord { return c.stock }

func (c *Coordinator) Allocations() *allocation.LineAllocations { return c.allocs }

// Remaining is the line's unsatisfied demand as of the last load.
func (c *Coordinator) Remaining() int64 { return c.allocs.Remaining(c.line.OrderedQty) }

// Open loads the panel. A no-op unless the panel is Collapsed or Failed;
// opening is the only thing that triggers a stock query.
func (c *Coordinator) Open(ctx context.Context) error {
	if c.state != StateCollapsed && c.state != StateFailed {
		return nil
	}
	return c.load(ctx)
}

// Retry re-enters Loading after a failed load.
func (c *Coordinator) Retry(ctx context.Context) error {
	if c.state != StateFailed {
		return ErrNotReady
	}
	return c.load(ctx)
}

// Close collapses the panel. In-flight calls are not cancelled; their
// results are simply not rendered once the panel has closed.
func (c *Coordinator) Close() {
	c.state = StateCollapsed
	c.loadErr = nil
	c.stock = nil
	c.allocs = &allocation.LineAllocations{BySlot: make(map[uint64]*models.AllocationRecord)}
}

func (c *Coordinator) load(ctx context.Context) error {
	c.state = StateLoading

	stock, err := c.store.ListStock(ctx, c.line.ProductID)
	if err != nil {
		c.fail(err)
		return err
	}

	records, err := c.store.ListAllocations(ctx, c.line.OrderID)
	if err != nil {
		c.fail(err)
		return err
	}

	c.stock = stock
	c.allocs = allocation.ForProduct(records, c.line.ProductID)
	c.state = StateReady
	c.loadErr = nil
	return nil
}

func (c *Coordinator) fail(err error) {
	c.state = StateFailed
	c.loadErr = err
	c.logger.Error("panel load failed",
		zap.Uint64("order_id", c.line.OrderID),
		zap.String("product_id", c.line.ProductID),
		zap.Error(err))
}

// Pick creates or updates the allocation at slotID. Zero routes to
// Unpick. The local maxAllowed check keeps obviously-invalid requests off
// the network; the store re-validates as the authoritative guard against
// concurrent editors. On a capacity_exceeded rejection the coordinator
// re-fetches and retries once, since the usual cause is availability
// having moved since the panel loaded.
func (c *Coordinator) Pick(ctx context.Context, slotID uint64, qty int64) (*models.AllocationRecord, error) {
	if c.state != StateReady {
		return nil, ErrNotReady
	}
	if qty < 0 {
		return nil, apperr.New(apperr.CodeInvalidQuantity, "qty must be a non-negative integer, got %d", qty)
	}
	if qty == 0 {
		return nil, c.Unpick(ctx, slotID)
	}

	if err := c.checkBounds(slotID, qty); err != nil {
		return nil, err
	}

	c.state = StateMutating
	defer func() { c.state = StateReady }()

	rec, err := c.store.UpsertAllocation(ctx, c.line.OrderID, c.line.ProductID, slotID, qty, "")
	if apperr.IsCapacityExceeded(err) {
		// availability may have moved underneath the panel; reload and
		// re-validate before giving up
		if reloadErr := c.reload(ctx); reloadErr != nil {
			return nil, err
		}
		if boundsErr := c.checkBounds(slotID, qty); boundsErr != nil {
			return nil, boundsErr
		}
		rec, err = c.store.UpsertAllocation(ctx, c.line.OrderID, c.line.ProductID, slotID, qty, "")
	}
	if err != nil {
		return nil, err
	}

	c.apply(rec)
	return rec, nil
}

// Unpick deletes the allocation at slotID. A slot with no allocation, or
// a record the store reports as already gone, is a no-op success.
func (c *Coordinator) Unpick(ctx context.Context, slotID uint64) error {
	if c.state != StateReady {
		return ErrNotReady
	}

	rec, ok := c.allocs.BySlot[slotID]
	if !ok {
		return nil
	}

	c.state = StateMutating
	defer func() { c.state = StateReady }()

	err := c.store.DeleteAllocation(ctx, c.line.OrderID, rec.ID)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}

	c.remove(rec.ID)
	return nil
}

// BulkPickResult reports how far a PickAll walk got. Bulk picks are
// non-atomic: applied steps stay applied when a later step fails, and
// the result says exactly where the walk stopped.
type BulkPickResult struct {
	// Planned is the number of slots the planner proposed.
	Planned int

	// Applied is how many proposals were successfully written.
	Applied int

	// AppliedQty is the quantity those writes covered.
	AppliedQty int64

	// Unmet is the demand still unsatisfied after the walk.
	Unmet int64

	// Shortfall is set when the walk completed cleanly but the untouched
	// slots could not cover the demand. Not an error: it is the expected
	// terminal state when stock is insufficient.
	Shortfall int64

	// FailedSlotID and Err identify the step the walk stopped on, when
	// it stopped on a hard error.
	FailedSlotID uint64
	Err          error
}

// PickAll asks the planner for a fill plan over untouched slots and
// executes it sequentially in plan order.
func (c *Coordinator) PickAll(ctx context.Context) (*BulkPickResult, error) {
	if c.state != StateReady {
		return nil, ErrNotReady
	}

	remaining := c.Remaining()
	if remaining <= 0 {
		return nil, ErrNothingToPick
	}

	plan := allocation.Suggest(c.stock, c.allocs.AllocatedSlots(), remaining)
	result := &BulkPickResult{Planned: len(plan), Unmet: remaining}

	c.state = StateMutating
	defer func() { c.state = StateReady }()

	for _, proposal := range plan {
		rec, err := c.store.UpsertAllocation(ctx, c.line.OrderID, c.line.ProductID, proposal.SlotID, proposal.Qty, "")
		if err != nil {
			// applied picks stay applied; report the boundary
			result.FailedSlotID = proposal.SlotID
			result.Err = err
			c.logger.Warn("bulk pick stopped",
				zap.Uint64("order_id", c.line.OrderID),
				zap.String("product_id", c.line.ProductID),
				zap.Uint64("slot_id", proposal.SlotID),
				zap.Int("applied", result.Applied),
				zap.Error(err))
			return result, nil
		}

		c.apply(rec)
		result.Applied++
		result.AppliedQty += proposal.Qty
		result.Unmet -= proposal.Qty
	}

	if result.Unmet > 0 {
		result.Shortfall = result.Unmet
	}

	return result, nil
}

// BulkUnpickResult reports which allocations an UnpickAll removed before
// stopping, and which remain.
type BulkUnpickResult struct {
	Removed   []string
	Remaining []string
	Err       error
}

// UnpickAll removes every allocation on the line, sequentially. The
// caller must pass confirm=true; on the first hard failure the walk
// stops and the result lists what was and wasn't removed. Records the
// store reports as already gone count as removed.
func (c *Coordinator) UnpickAll(ctx context.Context, confirm bool) (*BulkUnpickResult, error) {
	if c.state != StateReady {
		return nil, ErrNotReady
	}
	if !confirm {
		return nil, ErrConfirmationRequired
	}

	records := make([]*models.AllocationRecord, len(c.allocs.List))
	copy(records, c.allocs.List)

	result := &BulkUnpickResult{}

	c.state = StateMutating
	defer func() { c.state = StateReady }()

	for i, rec := range records {
		err := c.store.DeleteAllocation(ctx, c.line.OrderID, rec.ID)
		if err != nil && !apperr.IsNotFound(err) {
			result.Err = err
			for _, left := range records[i:] {
				result.Remaining = append(result.Remaining, left.ID)
			}
			c.logger.Warn("bulk unpick stopped",
				zap.Uint64("order_id", c.line.OrderID),
				zap.String("product_id", c.line.ProductID),
				zap.String("allocation_id", rec.ID),
				zap.Int("removed", len(result.Removed)),
				zap.Error(err))
			return result, nil
		}

		c.remove(rec.ID)
		result.Removed = append(result.Removed, rec.ID)
	}

	return result, nil
}

// checkBounds enforces maxAllowed locally before any network call:
// the per-slot bound maps to invalid_quantity, the conservation bound to
// capacity_exceeded.
func (c *Coordinator) checkBounds(slotID uint64, qty int64) error {
	var stockRec *models.StockRecord
	for _, rec := range c.stock {
		if rec.SlotID == slotID {
			stockRec = rec
			break
		}
	}
	if stockRec == nil {
		return apperr.New(apperr.CodeNotFound, "slot %d not present in panel stock", slotID)
	}

	if qty > stockRec.AvailableQty {
		return apperr.New(apperr.CodeInvalidQuantity,
			"qty %d exceeds available %d at slot %d", qty, stockRec.AvailableQty, slotID)
	}

	existingQty := int64(0)
	if existing, ok := c.allocs.BySlot[slotID]; ok {
		existingQty = existing.Qty
	}
	room := c.line.OrderedQty - (c.allocs.AllocatedTotal - existingQty)
	if qty > room {
		return apperr.New(apperr.CodeCapacityExceeded,
			"qty %d exceeds remaining demand %d", qty, room)
	}
	return nil
}

func (c *Coordinator) reload(ctx context.Context) error {
	stock, err := c.store.ListStock(ctx, c.line.ProductID)
	if err != nil {
		return err
	}
	records, err := c.store.ListAllocations(ctx, c.line.OrderID)
	if err != nil {
		return err
	}
	c.stock = stock
	c.allocs = allocation.ForProduct(records, c.line.ProductID)
	return nil
}

// apply folds a returned record into the local snapshot so the next
// operation's pre-check sees the updated total.
func (c *Coordinator) apply(rec *models.AllocationRecord) {
	if prev, ok := c.allocs.BySlot[rec.SlotID]; ok {
		c.allocs.AllocatedTotal -= prev.Qty
		for i, r := range c.allocs.List {
			if r.ID == prev.ID {
				c.allocs.List[i] = rec
				break
			}
		}
	} else {
		c.allocs.List = append(c.allocs.List, rec)
	}
	c.allocs.BySlot[rec.SlotID] = rec
	c.allocs.AllocatedTotal += rec.Qty
}

func (c *Coordinator) remove(allocationID string) {
	for i, rec := range c.allocs.List {
		if rec.ID == allocationID {
			c.allocs.AllocatedTotal -= rec.Qty
			delete(c.allocs.BySlot, rec.SlotID)
			c.allocs.List = append(c.allocs.List[:i], c.allocs.List[i+1:]...)
			return
		}
	}
}
