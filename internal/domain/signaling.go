package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageKind tags the signaling message union. The relay routes on the
// envelope only; payloads stay opaque to it.
type MessageKind string

const (
	KindCallInvite  MessageKind = "call-invite"
	KindCallAccept  MessageKind = "call-accept"
	KindCallReject  MessageKind = "call-reject"
	KindCallEnd     MessageKind = "call-end"
	KindDescription MessageKind = "session-description"
	KindCandidate   MessageKind = "network-candidate"
)

var ErrUnknownMessageKind = errors.New("unknown signaling message kind")

// Envelope is the wire shape of every signaling message.
type Envelope struct {
	Kind      MessageKind     `json:"kind"`
	SessionID string          `json:"sessionId"`
	From      UserID          `json:"fromUserId"`
	To        UserID          `json:"toUserId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type InvitePayload struct {
	MediaKind  MediaKind `json:"mediaKind"`
	CallerName string    `json:"callerName"`
	CallerRole Role      `json:"callerRole"`
}

type RejectPayload struct {
	Reason string `json:"reason"`
}

type EndPayload struct {
	Reason string `json:"reason,omitempty"`
}

// DescriptionPayload carries one side's session description. The SDP body is
// opaque to everything but the peer link on either end.
type DescriptionPayload struct {
	Type        string `json:"type"` // "offer" | "answer"
	Description string `json:"description"`
}

// CandidatePayload carries one network candidate as an opaque blob.
type CandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

// NewEnvelope builds an envelope with a marshaled kind-specific payload.
func NewEnvelope(kind MessageKind, sessionID string, from, to UserID, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, SessionID: sessionID, From: from, To: to}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// DecodeEnvelope parses raw wire bytes and validates the kind tag.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	switch env.Kind {
	case KindCallInvite, KindCallAccept, KindCallReject, KindCallEnd, KindDescription, KindCandidate:
		return env, nil
	}
	return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownMessageKind, env.Kind)
}

func (e Envelope) Invite() (InvitePayload, error) {
	var p InvitePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e Envelope) Reject() (RejectPayload, error) {
	var p RejectPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e Envelope) End() (EndPayload, error) {
	if len(e.Payload) == 0 {
		return EndPayload{}, nil
	}
	var p EndPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e Envelope) Description() (DescriptionPayload, error) {
	var p DescriptionPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

func (e Envelope) Candidate() (CandidatePayload, error) {
	var p CandidatePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
