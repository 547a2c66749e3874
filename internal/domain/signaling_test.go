package domain

import (
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	raw := []byte(`{
		"kind": "call-invite",
		"sessionId": "s1",
		"fromUserId": "alice",
		"toUserId": "bob",
		"payload": {"mediaKind":"video","callerName":"Dr. Alice","callerRole":"doctor"}
	}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != KindCallInvite || env.SessionID != "s1" || env.From != "alice" || env.To != "bob" {
		t.Fatalf("envelope = %+v", env)
	}
	p, err := env.Invite()
	if err != nil {
		t.Fatal(err)
	}
	if p.MediaKind != MediaVideo || p.CallerName != "Dr. Alice" || p.CallerRole != RoleDoctor {
		t.Fatalf("invite payload = %+v", p)
	}
}

func TestDecodeEnvelopeUnknownKind(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"kind":"room-join","sessionId":"s1"}`))
	if !errors.Is(err, ErrUnknownMessageKind) {
		t.Fatalf("err = %v, want ErrUnknownMessageKind", err)
	}

	if _, err := DecodeEnvelope([]byte(`{not json`)); err == nil {
		t.Fatal("malformed frame must not decode")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindCallReject, "s2", "bob", "alice", RejectPayload{Reason: "busy"})
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := env.Reject(); p.Reason != "busy" {
		t.Fatalf("reason = %q", p.Reason)
	}
}

func TestEndPayloadOptional(t *testing.T) {
	// call-end without a payload is a plain hangup
	env, err := NewEnvelope(KindCallEnd, "s1", "alice", "bob", nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.End()
	if err != nil {
		t.Fatal(err)
	}
	if p.Reason != "" {
		t.Fatalf("reason = %q, want empty", p.Reason)
	}

	env, _ = NewEnvelope(KindCallEnd, "s1", "alice", "bob", EndPayload{Reason: "connection lost"})
	if p, _ := env.End(); p.Reason != "connection lost" {
		t.Fatalf("reason = %q", p.Reason)
	}
}
