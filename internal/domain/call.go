package domain

// CallState is the lifecycle state of one call attempt on a client.
// Keep values stable, they are reported to the UI layer as-is.
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateCalling    CallState = "calling"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
)

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool { return s == CallStateEnded }

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// EndReason classifies why a call reached the ended state. The UI layer only
// ever sees one of these, never a raw transport error.
type EndReason string

const (
	ReasonBusy              EndReason = "busy"
	ReasonRejected          EndReason = "rejected"
	ReasonNoAnswer          EndReason = "no answer"
	ReasonUserOffline       EndReason = "user offline"
	ReasonMediaUnavailable  EndReason = "media unavailable"
	ReasonNegotiationFailed EndReason = "negotiation failed"
	ReasonConnectTimeout    EndReason = "connect timeout"
	ReasonConnectionLost    EndReason = "connection lost"
	ReasonSignalingLost     EndReason = "signaling lost"
	ReasonHangup            EndReason = "hangup"
	ReasonCancelled         EndReason = "cancelled"
)
