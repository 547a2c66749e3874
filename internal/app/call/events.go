package call

import "github.com/ovident/telecall/internal/domain"

type EventKind string

const (
	// EventState reports a session state change, including the terminal one.
	EventState EventKind = "state"
	// EventMissedCall reports an invite that never became a session here:
	// rejected busy, or rung out. The notifications collaborator persists it.
	EventMissedCall EventKind = "missed-call"
)

// Event is what the Coordinator hands to its single subscriber. Events are
// emitted outside the coordinator lock, in transition order.
type Event struct {
	Kind    EventKind
	Session Snapshot
	// Reason is set on transitions into ended and on missed calls.
	Reason domain.EndReason
	// Caller is set on missed-call events.
	Caller domain.Participant
}
