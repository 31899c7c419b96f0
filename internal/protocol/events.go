package protocol

// Event types emitted by the fetch controller.
const (
	EventCommandAccepted = "COMMAND_ACCEPTED"
	EventCommandRejected = "COMMAND_REJECTED"
	EventTargetSelected  = "TARGET_SELECTED"
	EventAttached        = "ATTACHED"
	EventArrivedHandoff  = "ARRIVED_HANDOFF"
	EventReleased        = "RELEASED"
	EventSettled         = "SETTLED"
	EventAllDelivered    = "ALL_DELIVERED"
)

// Event is one controller milestone. Tick is the controller's evaluation
// count when the event happened.
type Event struct {
	Session   string      `json:"session,omitempty"`
	Tick      uint64      `json:"tick"`
	Type      string      `json:"type"`
	TargetID  string      `json:"target_id,omitempty"`
	Pos       *[3]float64 `json:"pos,omitempty"`
	Remaining int         `json:"remaining"`
	Forced    bool        `json:"forced,omitempty"`
	Code      string      `json:"code,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// EventSink receives controller events. Implementations must not block the
// simulation loop.
type EventSink interface {
	WriteEvent(e Event)
}

// EventSinks fans an event out to several sinks; nil entries are skipped.
type EventSinks []EventSink

func (s EventSinks) WriteEvent(e Event) {
	for _, sink := range s {
		if sink != nil {
			sink.WriteEvent(e)
		}
	}
}
