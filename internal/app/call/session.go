// Package call holds the client-side call session state machine.
//
// One Coordinator owns at most one live Session. Every input — local
// operations, relay messages, channel status flips, transport state changes,
// timer fires — funnels through the Coordinator's mutex, so each transition
// has exactly one code path.
package call

import (
	"time"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

// Session is the single source of truth for one call attempt on this client.
// Never reused across calls.
type Session struct {
	ID        string
	Direction domain.Direction
	Kind      domain.MediaKind
	Local     domain.Participant
	Remote    domain.Participant
	State     domain.CallState

	StartedAt   time.Time
	ConnectedAt time.Time // zero until the transport reports connected

	link  core.PeerLink
	media *core.LocalMedia

	// ring timer while calling/ringing, connect timer while connecting
	timer *time.Timer
	// armed when a connected transport reports disconnected
	grace *time.Timer
}

func (s *Session) stopTimers() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.stopGrace()
}

func (s *Session) stopGrace() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

// Snapshot is the read-only view handed to the UI layer.
type Snapshot struct {
	SessionID   string             `json:"session_id,omitempty"`
	State       domain.CallState   `json:"state"`
	Direction   domain.Direction   `json:"direction,omitempty"`
	Kind        domain.MediaKind   `json:"kind,omitempty"`
	Remote      domain.Participant `json:"remote,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	ConnectedAt time.Time          `json:"connected_at,omitzero"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:   s.ID,
		State:       s.State,
		Direction:   s.Direction,
		Kind:        s.Kind,
		Remote:      s.Remote,
		StartedAt:   s.StartedAt,
		ConnectedAt: s.ConnectedAt,
	}
}
