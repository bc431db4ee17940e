package panel

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goventry.io/ordering/apperr"
	"goventry.io/ordering/models"
)

// fakeStore enforces the same invariants the allocation store does
// server-side, so the coordinator is tested against a store that pushes
// back the way the real one would.
type fakeStore struct {
	orderedQty int64
	stock      []*models.StockRecord
	byID       map[string]*models.AllocationRecord

	nextID int

	// failUpsertAtSlot injects an outage on the upsert for one slot.
	failUpsertAtSlot uint64
	// failDeleteID injects an outage on the delete of one record.
	failDeleteID string

	listStockCalls int
	upsertCalls    int
}

func newFakeStore(orderedQty int64, qtys ...int64) *fakeStore {
	s := &fakeStore{
		orderedQty: orderedQty,
		byID:       make(map[string]*models.AllocationRecord),
	}
	for i, qty := range qtys {
		s.stock = append(s.stock, &models.StockRecord{
			ProductID:    "prod-1",
			SlotID:       uint64(i + 1),
			AvailableQty: qty,
		})
	}
	return s
}

func (s *fakeStore) ListStock(_ context.Context, _ string) ([]*models.StockRecord, error) {
	s.listStockCalls++
	return s.stock, nil
}

func (s *fakeStore) ListAllocations(_ context.Context, _ uint64) ([]*models.AllocationRecord, error) {
	records := make([]*models.AllocationRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		records = append(records, rec)
	}
	return records, nil
}

func (s *fakeStore) UpsertAllocation(_ context.Context, orderID uint64, productID string, slotID uint64, qty int64, note string) (*models.AllocationRecord, error) {
	s.upsertCalls++
	if s.failUpsertAtSlot == slotID {
		return nil, apperr.New(apperr.CodeUnavailable, "injected outage at slot %d", slotID)
	}
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidQuantity, "qty must be positive")
	}

	var avail int64 = -1
	for _, rec := range s.stock {
		if rec.SlotID == slotID {
			avail = rec.AvailableQty
		}
	}
	if avail < 0 {
		return nil, apperr.New(apperr.CodeNotFound, "no stock at slot %d", slotID)
	}
	if qty > avail {
		return nil, apperr.New(apperr.CodeInvalidQuantity, "qty exceeds available")
	}

	var total, existingQty int64
	var existing *models.AllocationRecord
	for _, rec := range s.byID {
		if rec.ProductID != productID {
			continue
		}
		total += rec.Qty
		if rec.SlotID == slotID {
			existing = rec
			existingQty = rec.Qty
		}
	}
	if total-existingQty+qty > s.orderedQty {
		return nil, apperr.New(apperr.CodeCapacityExceeded, "would exceed ordered qty")
	}

	if existing != nil {
		updated := *existing
		updated.Qty = qty
		updated.Note = note
		s.byID[existing.ID] = &updated
		return &updated, nil
	}

	s.nextID++
	rec := &models.AllocationRecord{
		ID:        fmt.Sprintf("alloc-%d", s.nextID),
		OrderID:   orderID,
		ProductID: productID,
		SlotID:    slotID,
		Qty:       qty,
		Note:      note,
	}
	s.byID[rec.ID] = rec
	return rec, nil
}

func (s *fakeStore) DeleteAllocation(_ context.Context, _ uint64, allocationID string) error {
	if s.failDeleteID == allocationID {
		return apperr.New(apperr.CodeUnavailable, "injected outage for %s", allocationID)
	}
	if _, ok := s.byID[allocationID]; !ok {
		return apperr.New(apperr.CodeNotFound, "allocation %s not found", allocationID)
	}
	delete(s.byID, allocationID)
	return nil
}

func (s *fakeStore) allocatedTotal() int64 {
	var total int64
	for _, rec := range s.byID {
		total += rec.Qty
	}
	return total
}

func openPanel(t *testing.T, store Store) *Coordinator {
	t.Helper()
	c := NewCoordinator(models.OrderLine{OrderID: 7, ProductID: "prod-1", OrderedQty: 10}, store, zap.NewNop())
	require.NoError(t, c.Open(context.Background()))
	require.Equal(t, StateReady, c.State())
	return c
}

func TestCollapsedPanelIssuesNoStockQuery(t *testing.T) {
	store := newFakeStore(10, 5)
	c := NewCoordinator(models.OrderLine{OrderID: 7, ProductID: "prod-1", OrderedQty: 10}, store, zap.NewNop())

	assert.Equal(t, StateCollapsed, c.State())
	assert.Equal(t, 0, store.listStockCalls, "collapsed panel must not query the stock ledger")

	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, 1, store.listStockCalls)

	// reopening a ready panel is a no-op
	require.NoError(t, c.Open(context.Background()))
	assert.Equal(t, 1, store.listStockCalls)
}

func TestFailedLoadSurfacesErrorAndRetries(t *testing.T) {
	store := &failingListStore{}
	c := NewCoordinator(models.OrderLine{OrderID: 7, ProductID: "prod-1", OrderedQty: 10}, store, zap.NewNop())

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, err, c.LoadErr())

	store.healed = true
	require.NoError(t, c.Retry(context.Background()))
	assert.Equal(t, StateReady, c.State())
	assert.Nil(t, c.LoadErr())
}

type failingListStore struct {
	fakeStore
	healed bool
}

func (s *failingListStore) ListStock(ctx context.Context, productID string) ([]*models.StockRecord, error) {
	if !s.healed {
		return nil, apperr.New(apperr.CodeUnavailable, "ledger down")
	}
	return s.fakeStore.ListStock(ctx, productID)
}

func TestPickConservation(t *testing.T) {
	store := newFakeStore(10, 6, 6)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, 6)
	require.NoError(t, err)
	_, err = c.Pick(context.Background(), 2, 4)
	require.NoError(t, err)

	assert.Equal(t, int64(10), store.allocatedTotal())
	assert.Equal(t, int64(0), c.Remaining())

	// any further pick would break conservation and is rejected locally
	calls := store.upsertCalls
	_, err = c.Pick(context.Background(), 2, 5)
	assert.True(t, apperr.IsCapacityExceeded(err))
	assert.Equal(t, calls, store.upsertCalls, "local pre-check must not reach the store")
}

func TestPickPerSlotBound(t *testing.T) {
	store := newFakeStore(10, 3)
	c := openPanel(t, store)

	calls := store.upsertCalls
	_, err := c.Pick(context.Background(), 1, 4)
	assert.True(t, apperr.IsInvalidQuantity(err))
	assert.Equal(t, calls, store.upsertCalls)
}

func TestPickNegativeQtyRejected(t *testing.T) {
	store := newFakeStore(10, 5)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, -1)
	assert.True(t, apperr.IsInvalidQuantity(err))
}

func TestPickUnknownSlotRejected(t *testing.T) {
	store := newFakeStore(10, 5)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 99, 1)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPickIdempotentUpsert(t *testing.T) {
	store := newFakeStore(10, 8)
	c := openPanel(t, store)

	first, err := c.Pick(context.Background(), 1, 5)
	require.NoError(t, err)
	second, err := c.Pick(context.Background(), 1, 5)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "re-picking the same slot must update, not append")
	assert.Len(t, store.byID, 1)
	assert.Equal(t, int64(5), store.allocatedTotal())
}

func TestPickZeroRoutesToUnpick(t *testing.T) {
	store := newFakeStore(10, 8)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, 5)
	require.NoError(t, err)

	_, err = c.Pick(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Empty(t, store.byID)
	assert.Equal(t, int64(10), c.Remaining())
}

func TestUnpickThenRepickRoundTrip(t *testing.T) {
	store := newFakeStore(10, 8)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, 5)
	require.NoError(t, err)

	require.NoError(t, c.Unpick(context.Background(), 1))
	assert.Empty(t, store.byID, "no residual zero-qty record may exist")

	rec, err := c.Pick(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Qty)
	assert.Equal(t, int64(3), store.allocatedTotal())
}

func TestUnpickMissingSlotIsNoop(t *testing.T) {
	store := newFakeStore(10, 8)
	c := openPanel(t, store)

	require.NoError(t, c.Unpick(context.Background(), 1))
}

func TestPickRetriesOnceOnStaleCapacity(t *testing.T) {
	store := newFakeStore(10, 8, 8)
	c := openPanel(t, store)

	// another operator fills part of the line after the panel loaded
	_, err := store.UpsertAllocation(context.Background(), 7, "prod-1", 2, 4, "")
	require.NoError(t, err)

	// locally this looks fine (panel still thinks remaining is 10); the
	// store rejects, the coordinator re-fetches and re-validates
	_, err = c.Pick(context.Background(), 1, 8)
	assert.True(t, apperr.IsCapacityExceeded(err))

	// the refreshed snapshot makes a corrected pick succeed
	rec, err := c.Pick(context.Background(), 1, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Qty)
	assert.Equal(t, int64(10), store.allocatedTotal())
}

func TestPickAllExactFit(t *testing.T) {
	store := newFakeStore(10, 10)
	c := openPanel(t, store)

	result, err := c.PickAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, int64(10), result.AppliedQty)
	assert.Equal(t, int64(0), result.Shortfall)
	assert.NoError(t, result.Err)
	assert.Equal(t, int64(0), c.Remaining())
}

func TestPickAllShortfall(t *testing.T) {
	store := newFakeStore(10, 3, 2)
	c := openPanel(t, store)

	result, err := c.PickAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(5), result.AppliedQty)
	assert.Equal(t, int64(5), result.Shortfall, "shortfall is an outcome, not an error")
	assert.NoError(t, result.Err)
	assert.Equal(t, int64(5), c.Remaining())
	assert.Equal(t, int64(5), store.allocatedTotal())
}

func TestPickAllPartialFailureKeepsAppliedPicks(t *testing.T) {
	store := newFakeStore(10, 5, 5)
	store.failUpsertAtSlot = 2
	c := openPanel(t, store)

	result, err := c.PickAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, int64(5), result.AppliedQty)
	assert.Equal(t, uint64(2), result.FailedSlotID)
	require.Error(t, result.Err)
	assert.Equal(t, int64(5), result.Unmet)
	assert.Equal(t, int64(0), result.Shortfall, "a stopped walk reports the error, not a shortfall")

	// the applied pick is not rolled back
	assert.Equal(t, int64(5), store.allocatedTotal())
	assert.Equal(t, int64(5), c.Remaining())
}

func TestPickAllNothingToPick(t *testing.T) {
	store := newFakeStore(10, 10)
	c := openPanel(t, store)

	_, err := c.PickAll(context.Background())
	require.NoError(t, err)

	_, err = c.PickAll(context.Background())
	assert.ErrorIs(t, err, ErrNothingToPick)
}

func TestPickAllSkipsManualAllocations(t *testing.T) {
	store := newFakeStore(10, 4, 9)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, 2)
	require.NoError(t, err)

	result, err := c.PickAll(context.Background())
	require.NoError(t, err)

	// slot 1 keeps its manual qty of 2; slot 2 covers the remaining 8
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, int64(2), store.byID["alloc-1"].Qty)
	assert.Equal(t, int64(10), store.allocatedTotal())
}

func TestUnpickAllRequiresConfirmation(t *testing.T) {
	store := newFakeStore(10, 5)
	c := openPanel(t, store)

	_, err := c.Pick(context.Background(), 1, 5)
	require.NoError(t, err)

	_, err = c.UnpickAll(context.Background(), false)
	assert.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Len(t, store.byID, 1)
}

func TestUnpickAllRemovesEverything(t *testing.T) {
	store := newFakeStore(10, 5, 5)
	c := openPanel(t, store)

	_, err := c.PickAll(context.Background())
	require.NoError(t, err)

	result, err := c.UnpickAll(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, result.Removed, 2)
	assert.Empty(t, result.Remaining)
	assert.NoError(t, result.Err)
	assert.Empty(t, store.byID)
	assert.Equal(t, int64(10), c.Remaining())
}

func TestUnpickAllPartialFailureReportsBoundary(t *testing.T) {
	store := newFakeStore(10, 5, 5)
	c := openPanel(t, store)

	_, err := c.PickAll(context.Background())
	require.NoError(t, err)

	// fail on whichever record the walk reaches second
	second := c.Allocations().List[1].ID
	store.failDeleteID = second

	result, err := c.UnpickAll(context.Background(), true)
	require.NoError(t, err)

	assert.Len(t, result.Removed, 1)
	assert.Equal(t, []string{second}, result.Remaining)
	require.Error(t, result.Err)
	assert.Len(t, store.byID, 1)
}

func TestOperationsRejectedOutsideReady(t *testing.T) {
	store := newFakeStore(10, 5)
	c := NewCoordinator(models.OrderLine{OrderID: 7, ProductID: "prod-1", OrderedQty: 10}, store, zap.NewNop())

	_, err := c.Pick(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = c.PickAll(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = c.UnpickAll(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotReady)

	assert.ErrorIs(t, c.Unpick(context.Background(), 1), ErrNotReady)
}

func TestCloseCollapsesPanel(t *testing.T) {
	store := newFakeStore(10, 5)
	c := openPanel(t, store)

	c.Close()
	assert.Equal(t, StateCollapsed, c.State())

	_, err := c.Pick(context.Background(), 1, 1)
	assert.ErrorIs(t, err, ErrNotReady)
}
