package panel

// Drafts holds uncommitted quantity input per slot. It belongs to the
// presentation layer: the coordinator never reads it, and a failed Pick
// must leave the draft in place so the operator can correct and retry
// without re-entering data. Clear only after a confirmed success.
type Drafts struct {
	bySlot map[uint64]string
}

func NewDrafts() *Drafts {
	return &Drafts{bySlot: make(map[uint64]string)}
}

func (d *Drafts) Set(slotID uint64, text string) {
	d.bySlot[slotID] = text
}

func (d *Drafts) Get(slotID uint64) (string, bool) {
	text, ok := d.bySlot[slotID]
	return text, ok
}

func (d *Drafts) Clear(slotID uint64) {
	delete(d.bySlot, slotID)
}

func (d *Drafts) ClearAll() {
	d.bySlot = make(map[uint64]string)
}
