package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// LinkState is the condensed connectivity state of the peer transport.
type LinkState string

const (
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
	LinkClosed       LinkState = "closed"
)

// PeerLink wraps exactly one underlying peer-to-peer transport for one
// session. It is never reused across sessions, even on immediate redial.
type PeerLink interface {
	// AttachMedia adds the session's local tracks to the transport and binds
	// the media's enable toggles to the corresponding senders.
	AttachMedia(*LocalMedia) error
	// CreateOffer generates and installs the local offer. Local candidates
	// surface through OnCandidate as they are discovered.
	CreateOffer() (webrtc.SessionDescription, error)
	// ApplyOfferCreateAnswer installs the remote offer, drains any buffered
	// candidates, then generates and installs the local answer.
	ApplyOfferCreateAnswer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer installs the remote answer and drains buffered candidates.
	ApplyAnswer(webrtc.SessionDescription) error
	// AddRemoteCandidate applies a remote candidate, or buffers it when no
	// remote description has been installed yet.
	AddRemoteCandidate(json.RawMessage) error
	// OnCandidate sets the callback for locally discovered candidates,
	// already encoded for the wire.
	OnCandidate(func(json.RawMessage))
	// OnStateChange sets the callback for transport connectivity changes.
	OnStateChange(func(LinkState))
	// Close releases the transport and discards the candidate buffer.
	// Safe to call more than once.
	Close()
}
