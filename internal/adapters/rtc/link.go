// Package rtc wraps the pion transport as the session's peer link.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/core"
)

// EngineConfigurer registers the codecs the local media source produces.
// The media capability supplies it so the transport and the capture path
// agree on encoders.
type EngineConfigurer func(*webrtc.MediaEngine) error

// Link owns exactly one webrtc.PeerConnection for one call session.
type Link struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	buf       candidateBuffer
	remoteSet bool
	closed    bool
	senders   map[webrtc.RTPCodecType]*webrtc.RTPSender
	tracks    map[webrtc.RTPCodecType]webrtc.TrackLocal

	onCandidate func(json.RawMessage)
	onState     func(core.LinkState)
}

// Factory returns a LinkFactory-compatible constructor bound to the given
// ICE servers and codec configuration.
func Factory(iceServers []string, configure EngineConfigurer) func() (core.PeerLink, error) {
	return func() (core.PeerLink, error) { return NewLink(iceServers, configure) }
}

func NewLink(iceServers []string, configure EngineConfigurer) (*Link, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if configure == nil {
		configure = func(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }
	}
	if err := configure(mediaEngine); err != nil {
		return nil, fmt.Errorf("configure media engine: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		pc:      pc,
		senders: make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		tracks:  make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		raw, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("marshal candidate")
			return
		}
		l.mu.Lock()
		cb := l.onCandidate
		closed := l.closed
		l.mu.Unlock()
		if cb != nil && !closed {
			cb(raw)
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		state, ok := mapState(s)
		if !ok {
			return
		}
		l.mu.Lock()
		cb := l.onState
		closed := l.closed
		l.mu.Unlock()
		if cb != nil && !closed {
			cb(state)
		}
	})

	return l, nil
}

func mapState(s webrtc.PeerConnectionState) (core.LinkState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.LinkConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.LinkConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return core.LinkDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.LinkFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.LinkClosed, true
	}
	return "", false
}

func (l *Link) OnCandidate(fn func(json.RawMessage)) {
	l.mu.Lock()
	l.onCandidate = fn
	l.mu.Unlock()
}

func (l *Link) OnStateChange(fn func(core.LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

// AttachMedia adds the session's tracks and binds the enable sink: a
// disabled kind pauses its sender by replacing the track with nil, an
// enabled one restores it.
func (l *Link) AttachMedia(media *core.LocalMedia) error {
	if media == nil {
		return nil
	}
	for _, track := range media.Tracks() {
		sender, err := l.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track: %w", err)
		}
		l.mu.Lock()
		l.senders[track.Kind()] = sender
		l.tracks[track.Kind()] = track
		l.mu.Unlock()
	}
	return media.BindSink(l.setTrackEnabled)
}

func (l *Link) setTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	l.mu.Lock()
	sender := l.senders[kind]
	track := l.tracks[kind]
	closed := l.closed
	l.mu.Unlock()
	if sender == nil || closed {
		return nil
	}
	if !enabled {
		track = nil
	}
	return sender.ReplaceTrack(track)
}

// CreateOffer generates and installs the local offer. Candidates trickle
// through OnCandidate afterwards; gathering is not awaited.
func (l *Link) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (l *Link) ApplyOfferCreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := l.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (l *Link) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.setRemote(answer)
}

// setRemote installs the remote description, then applies every candidate
// that arrived early, in receipt order, exactly once.
func (l *Link) setRemote(sd webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", sd.Type, err)
	}
	l.mu.Lock()
	l.remoteSet = true
	buffered := l.buf.len()
	err := l.buf.drain(l.pc.AddICECandidate)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("apply buffered candidate: %w", err)
	}
	if buffered > 0 {
		log.Info().Str("module", "rtc").Int("count", buffered).Msg("applied buffered candidates")
	}
	return nil
}

// AddRemoteCandidate applies the candidate, or buffers it when the remote
// description is not installed yet.
func (l *Link) AddRemoteCandidate(raw json.RawMessage) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if !l.remoteSet {
		l.buf.push(ci)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	if err := l.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// Close releases the transport and discards any buffered candidates. Safe to
// call more than once.
func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.buf.clear()
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close peer connection")
	}
}
