package handle

// Handle is an opaque reference to a host object held by a Table.
// Handle 0 is reserved and never resolves.
type Handle int32

// EventType identifies a handle lifecycle notification.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventReleased
	EventFinalized
)

func (e EventType) String() string {
	switch e {
	case EventRegistered:
		return "registered"
	case EventReleased:
		return "released"
	case EventFinalized:
		return "finalized"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers run with no table lock held and may call back into the table.
type Observer interface {
	OnHandleEvent(Event)
}

// Dropper is optionally implemented by host objects that need cleanup when
// their last handle is released.
type Dropper interface {
	Drop()
}

// Stats reports table population.
type Stats struct {
	Live   int
	Peak   int
	Issued int32
}
