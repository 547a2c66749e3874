package rtc

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

func newTestLink(t *testing.T) *Link {
	t.Helper()
	l, err := NewLink(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l.Close)
	return l
}

func audioMedia(t *testing.T) *core.LocalMedia {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "call")
	if err != nil {
		t.Fatal(err)
	}
	return core.NewLocalMedia(domain.MediaAudio, []webrtc.TrackLocal{track}, nil)
}

const hostCandidate = `{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`

func TestOfferAnswerHandshake(t *testing.T) {
	callee := newTestLink(t)
	caller := newTestLink(t)

	if err := callee.AttachMedia(audioMedia(t)); err != nil {
		t.Fatal(err)
	}
	if err := caller.AttachMedia(audioMedia(t)); err != nil {
		t.Fatal(err)
	}

	offer, err := callee.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		t.Fatalf("offer = %+v", offer)
	}

	answer, err := caller.ApplyOfferCreateAnswer(offer)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP == "" {
		t.Fatalf("answer = %+v", answer)
	}

	if err := callee.ApplyAnswer(answer); err != nil {
		t.Fatal(err)
	}
	if callee.pc.RemoteDescription() == nil || caller.pc.RemoteDescription() == nil {
		t.Fatal("remote descriptions not installed on both sides")
	}
}

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	callee := newTestLink(t)
	caller := newTestLink(t)
	if err := callee.AttachMedia(audioMedia(t)); err != nil {
		t.Fatal(err)
	}
	offer, err := callee.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}

	// candidate beats the offer
	if err := caller.AddRemoteCandidate(json.RawMessage(hostCandidate)); err != nil {
		t.Fatal(err)
	}
	caller.mu.Lock()
	buffered := caller.buf.len()
	caller.mu.Unlock()
	if buffered != 1 {
		t.Fatalf("buffered = %d, want 1", buffered)
	}

	// installing the description drains the buffer into the transport
	if _, err := caller.ApplyOfferCreateAnswer(offer); err != nil {
		t.Fatal(err)
	}
	caller.mu.Lock()
	buffered = caller.buf.len()
	caller.mu.Unlock()
	if buffered != 0 {
		t.Fatalf("buffered = %d after remote description, want 0", buffered)
	}

	// a later candidate goes straight in
	if err := caller.AddRemoteCandidate(json.RawMessage(hostCandidate)); err != nil {
		t.Fatal(err)
	}
}

func TestAddRemoteCandidateRejectsGarbage(t *testing.T) {
	l := newTestLink(t)
	if err := l.AddRemoteCandidate(json.RawMessage(`{not json`)); err == nil {
		t.Fatal("malformed candidate blob must not be accepted")
	}
}

func TestCloseDiscardsBufferAndIsIdempotent(t *testing.T) {
	l := newTestLink(t)
	if err := l.AddRemoteCandidate(json.RawMessage(hostCandidate)); err != nil {
		t.Fatal(err)
	}
	l.Close()
	l.Close()

	l.mu.Lock()
	buffered := l.buf.len()
	l.mu.Unlock()
	if buffered != 0 {
		t.Fatal("close left buffered candidates behind")
	}
	// candidates after close are silently dropped
	if err := l.AddRemoteCandidate(json.RawMessage(hostCandidate)); err != nil {
		t.Fatal(err)
	}
}

func TestEnableSinkPausesSender(t *testing.T) {
	l := newTestLink(t)
	media := audioMedia(t)
	if err := l.AttachMedia(media); err != nil {
		t.Fatal(err)
	}

	if err := media.SetEnabled(webrtc.RTPCodecTypeAudio, false); err != nil {
		t.Fatal(err)
	}
	if media.Enabled(webrtc.RTPCodecTypeAudio) {
		t.Fatal("track still reported enabled")
	}
	if tr := l.senders[webrtc.RTPCodecTypeAudio].Track(); tr != nil {
		t.Fatal("sender still carries a track while muted")
	}

	if err := media.SetEnabled(webrtc.RTPCodecTypeAudio, true); err != nil {
		t.Fatal(err)
	}
	if tr := l.senders[webrtc.RTPCodecTypeAudio].Track(); tr == nil {
		t.Fatal("sender track not restored on unmute")
	}
}
