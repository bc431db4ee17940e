package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"goventry.io/ordering/models"
)

func stockRecords(qtys ...int64) []*models.StockRecord {
	records := make([]*models.StockRecord, len(qtys))
	for i, qty := range qtys {
		records[i] = &models.StockRecord{
			ProductID:    "prod-1",
			SlotID:       uint64(i + 1),
			AvailableQty: qty,
		}
	}
	return records
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name      string
		stock     []*models.StockRecord
		allocated map[uint64]int64
		remaining int64
		want      []Proposal
	}{
		{
			name:      "exact fit in one slot",
			stock:     stockRecords(10),
			remaining: 10,
			want:      []Proposal{{SlotID: 1, Qty: 10}},
		},
		{
			name:      "spills across slots in listing order",
			stock:     stockRecords(4, 4, 4),
			remaining: 10,
			want:      []Proposal{{SlotID: 1, Qty: 4}, {SlotID: 2, Qty: 4}, {SlotID: 3, Qty: 2}},
		},
		{
			name:      "partial plan when stock is short",
			stock:     stockRecords(3, 2),
			remaining: 10,
			want:      []Proposal{{SlotID: 1, Qty: 3}, {SlotID: 2, Qty: 2}},
		},
		{
			name:      "skips slots with existing allocations",
			stock:     stockRecords(5, 5, 5),
			allocated: map[uint64]int64{1: 5, 2: 3},
			remaining: 4,
			want:      []Proposal{{SlotID: 3, Qty: 4}},
		},
		{
			name:      "skips empty slots",
			stock:     stockRecords(0, 6),
			remaining: 4,
			want:      []Proposal{{SlotID: 2, Qty: 4}},
		},
		{
			name:      "nothing remaining yields empty plan",
			stock:     stockRecords(5, 5),
			remaining: 0,
			want:      []Proposal{},
		},
		{
			name:      "negative remaining yields empty plan",
			stock:     stockRecords(5),
			remaining: -3,
			want:      []Proposal{},
		},
		{
			name:      "stops once remainder is exhausted",
			stock:     stockRecords(7, 9),
			remaining: 7,
			want:      []Proposal{{SlotID: 1, Qty: 7}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.stock, tt.allocated, tt.remaining)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSuggestDeterminism(t *testing.T) {
	stock := stockRecords(3, 0, 5, 2, 8)
	allocated := map[uint64]int64{3: 1}

	first := Suggest(stock, allocated, 9)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Suggest(stock, allocated, 9), "same inputs must produce the same plan")
	}
}

func TestSuggestDoesNotMutateInputs(t *testing.T) {
	stock := stockRecords(3, 5)
	allocated := map[uint64]int64{1: 2}

	Suggest(stock, allocated, 6)

	assert.Equal(t, int64(3), stock[0].AvailableQty)
	assert.Equal(t, int64(5), stock[1].AvailableQty)
	assert.Equal(t, map[uint64]int64{1: 2}, allocated)
}

func TestPlannedQty(t *testing.T) {
	plan := []Proposal{{SlotID: 1, Qty: 4}, {SlotID: 2, Qty: 3}}
	assert.Equal(t, int64(7), PlannedQty(plan))
	assert.Equal(t, int64(0), PlannedQty(nil))
}
