package enum

type AllocationEventType string

const (
	AllocationEventTypeApplied  AllocationEventType = "applied"
	AllocationEventTypeReleased AllocationEventType = "released"
)
