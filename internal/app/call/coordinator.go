package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

var (
	ErrCallActive = errors.New("another call is active")
	ErrNoSuchCall = errors.New("no call in the required state")
)

// LinkFactory creates one fresh peer link per session. The transport object
// is never reused, even on immediate redial.
type LinkFactory func() (core.PeerLink, error)

// Timeouts bounds every wait in the state machine. Unbounded waits on a
// client are an availability bug, so all three must be positive.
type Timeouts struct {
	Ring    time.Duration // calling/ringing without an accept or reject
	Connect time.Duration // connecting without a connected transport
	Grace   time.Duration // connected transport gone without recovery
}

func DefaultTimeouts() Timeouts {
	return Timeouts{Ring: 45 * time.Second, Connect: 30 * time.Second, Grace: 15 * time.Second}
}

// Coordinator drives the call session state machine for one client. It is
// the single dispatch point for signaling messages, and owns the only
// CallSession reference; nothing reads call state except through it.
type Coordinator struct {
	self     domain.Participant
	ch       core.Channel
	media    core.MediaSource
	newLink  LinkFactory
	timeouts Timeouts
	notify   func(Event)

	mu   sync.Mutex
	sess *Session
}

// New wires the coordinator to its collaborators and installs it as the
// channel's message and status handler. notify may be nil.
func New(self domain.Participant, ch core.Channel, media core.MediaSource, links LinkFactory, t Timeouts, notify func(Event)) *Coordinator {
	c := &Coordinator{
		self:     self,
		ch:       ch,
		media:    media,
		newLink:  links,
		timeouts: t,
		notify:   notify,
	}
	ch.OnMessage(c.HandleMessage)
	ch.OnStatus(c.HandleChannelStatus)
	return c
}

// Current returns the UI-facing view of the active session, or an idle
// snapshot when there is none.
func (c *Coordinator) Current() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Snapshot{State: domain.CallStateIdle}
	}
	return c.sess.snapshot()
}

// PlaceCall starts an outgoing call. Local media is acquired before any
// signaling commitment, so a device failure never leaves the callee ringing.
func (c *Coordinator) PlaceCall(ctx context.Context, to domain.Participant, kind domain.MediaKind) (string, error) {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return "", ErrCallActive
	}
	c.mu.Unlock()

	media, err := c.media.Acquire(ctx, kind)
	if err != nil {
		return "", fmt.Errorf("acquire media: %w", err)
	}

	c.mu.Lock()
	if c.sess != nil {
		// An invite arrived while we were acquiring devices.
		c.mu.Unlock()
		media.Close()
		return "", ErrCallActive
	}

	sess := &Session{
		ID:        uuid.NewString(),
		Direction: domain.DirectionOutgoing,
		Kind:      kind,
		Local:     c.self,
		Remote:    to,
		State:     domain.CallStateCalling,
		StartedAt: time.Now(),
		media:     media,
	}
	c.sess = sess

	env, err := domain.NewEnvelope(domain.KindCallInvite, sess.ID, c.self.ID, to.ID, domain.InvitePayload{
		MediaKind:  kind,
		CallerName: c.self.Name,
		CallerRole: c.self.Role,
	})
	if err == nil {
		err = c.ch.Send(env)
	}
	if err != nil {
		evs := c.teardownLocked(sess, domain.ReasonSignalingLost)
		c.mu.Unlock()
		c.flush(evs)
		return "", fmt.Errorf("send invite: %w", err)
	}

	sess.timer = time.AfterFunc(c.timeouts.Ring, func() { c.onRingTimeout(sess) })
	log.Info().Str("module", "app.call").Str("session", sess.ID).Str("to", string(to.ID)).Msg("calling")
	ev := Event{Kind: EventState, Session: sess.snapshot()}
	c.mu.Unlock()
	c.flush([]Event{ev})
	return sess.ID, nil
}

// Accept answers the ringing call. The accepting side generates the offer
// once local media is attached; the inviting side answers it. This role
// asymmetry is a protocol choice existing peers depend on — changing it to
// caller-generates-offer breaks interop.
func (c *Coordinator) Accept(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || sess.State != domain.CallStateRinging {
		c.mu.Unlock()
		return ErrNoSuchCall
	}
	kind := sess.Kind
	c.mu.Unlock()

	media, err := c.media.Acquire(ctx, kind)
	if err != nil {
		// The caller must not be left ringing on our device failure.
		c.failRinging(sess, domain.ReasonMediaUnavailable)
		return fmt.Errorf("acquire media: %w", err)
	}

	c.mu.Lock()
	if c.sess != sess || sess.State != domain.CallStateRinging {
		// Torn down while we were acquiring devices.
		c.mu.Unlock()
		media.Close()
		return ErrNoSuchCall
	}
	sess.media = media

	evs, err := c.acceptLocked(sess)
	c.mu.Unlock()
	c.flush(evs)
	return err
}

func (c *Coordinator) acceptLocked(sess *Session) ([]Event, error) {
	link, err := c.newLink()
	if err == nil {
		sess.link = link
		c.bindLink(sess, link)
		err = link.AttachMedia(sess.media)
	}
	if err != nil {
		c.sendReject(sess, domain.ReasonNegotiationFailed)
		return c.teardownLocked(sess, domain.ReasonNegotiationFailed), fmt.Errorf("peer link: %w", err)
	}

	accept, err := domain.NewEnvelope(domain.KindCallAccept, sess.ID, c.self.ID, sess.Remote.ID, struct{}{})
	if err == nil {
		err = c.ch.Send(accept)
	}
	if err != nil {
		return c.teardownLocked(sess, domain.ReasonSignalingLost), fmt.Errorf("send accept: %w", err)
	}

	offer, err := sess.link.CreateOffer()
	if err != nil {
		evs := c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
		return evs, fmt.Errorf("create offer: %w", err)
	}
	if err := c.sendDescription(sess, offer); err != nil {
		return c.teardownLocked(sess, domain.ReasonSignalingLost), err
	}

	sess.stopTimers()
	sess.State = domain.CallStateConnecting
	sess.timer = time.AfterFunc(c.timeouts.Connect, func() { c.onConnectTimeout(sess) })
	log.Info().Str("module", "app.call").Str("session", sess.ID).Msg("accepted, offer sent")
	return []Event{{Kind: EventState, Session: sess.snapshot()}}, nil
}

// failRinging rejects the peer and tears down, used when accepting fails
// before any negotiation started.
func (c *Coordinator) failRinging(sess *Session, reason domain.EndReason) {
	c.mu.Lock()
	if c.sess != sess || sess.State.Terminal() {
		c.mu.Unlock()
		return
	}
	c.sendReject(sess, reason)
	evs := c.teardownLocked(sess, reason)
	c.mu.Unlock()
	c.flush(evs)
}

// Reject declines the ringing call with an optional reason shown to the
// caller. Empty reason defaults to "rejected".
func (c *Coordinator) Reject(reason string) error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || sess.State != domain.CallStateRinging {
		c.mu.Unlock()
		return ErrNoSuchCall
	}
	if reason == "" {
		reason = string(domain.ReasonRejected)
	}
	c.sendReject(sess, domain.EndReason(reason))
	evs := c.teardownLocked(sess, domain.EndReason(reason))
	c.mu.Unlock()
	c.flush(evs)
	return nil
}

// End hangs up from any non-terminal state. Unconditionally honored, and
// calling it twice is a no-op, not an error.
func (c *Coordinator) End() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	reason := domain.ReasonHangup
	if sess.State == domain.CallStateCalling || sess.State == domain.CallStateRinging {
		reason = domain.ReasonCancelled
	}
	evs := c.endWithPeerLocked(sess, reason)
	c.mu.Unlock()
	c.flush(evs)
	return nil
}

// SetMuted toggles the microphone of the active session.
func (c *Coordinator) SetMuted(muted bool) error {
	return c.setTrack(webrtc.RTPCodecTypeAudio, !muted)
}

// SetVideoEnabled toggles the camera of the active session.
func (c *Coordinator) SetVideoEnabled(on bool) error {
	return c.setTrack(webrtc.RTPCodecTypeVideo, on)
}

func (c *Coordinator) setTrack(kind webrtc.RTPCodecType, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.media == nil {
		return ErrNoSuchCall
	}
	return c.sess.media.SetEnabled(kind, on)
}

// HandleMessage is the single dispatch point for inbound signaling. Any
// message whose sessionId does not match the active session is discarded,
// which is what keeps a stale message from a prior call out of a new one.
func (c *Coordinator) HandleMessage(env domain.Envelope) {
	c.mu.Lock()
	var evs []Event
	if env.Kind == domain.KindCallInvite {
		evs = c.onInviteLocked(env)
	} else {
		sess := c.sess
		if sess == nil || env.SessionID != sess.ID {
			log.Debug().Str("module", "app.call").
				Str("kind", string(env.Kind)).
				Str("session", env.SessionID).
				Msg("discarding message for inactive session")
			c.mu.Unlock()
			return
		}
		switch env.Kind {
		case domain.KindCallAccept:
			evs = c.onAcceptLocked(sess)
		case domain.KindCallReject:
			evs = c.onRejectLocked(sess, env)
		case domain.KindCallEnd:
			evs = c.onEndLocked(sess, env)
		case domain.KindDescription:
			evs = c.onDescriptionLocked(sess, env)
		case domain.KindCandidate:
			evs = c.onCandidateLocked(sess, env)
		}
	}
	c.mu.Unlock()
	c.flush(evs)
}

func (c *Coordinator) onInviteLocked(env domain.Envelope) []Event {
	invite, err := env.Invite()
	if err != nil {
		log.Warn().Err(err).Str("module", "app.call").Msg("bad invite payload")
		return nil
	}
	caller := domain.Participant{ID: env.From, Name: invite.CallerName, Role: invite.CallerRole}

	if c.sess != nil {
		if env.SessionID == c.sess.ID {
			return nil // duplicate invite for the session we already track
		}
		// Busy: answer without creating a session, so the active call is
		// never overwritten. The platform records the missed call.
		reject, err := domain.NewEnvelope(domain.KindCallReject, env.SessionID, c.self.ID, env.From,
			domain.RejectPayload{Reason: string(domain.ReasonBusy)})
		if err == nil {
			_ = c.ch.Send(reject)
		}
		log.Info().Str("module", "app.call").Str("from", string(env.From)).Msg("invite while busy")
		return []Event{{Kind: EventMissedCall, Caller: caller, Reason: domain.ReasonBusy}}
	}

	sess := &Session{
		ID:        env.SessionID,
		Direction: domain.DirectionIncoming,
		Kind:      invite.MediaKind,
		Local:     c.self,
		Remote:    caller,
		State:     domain.CallStateRinging,
		StartedAt: time.Now(),
	}
	c.sess = sess
	sess.timer = time.AfterFunc(c.timeouts.Ring, func() { c.onRingTimeout(sess) })
	log.Info().Str("module", "app.call").Str("session", sess.ID).Str("from", string(env.From)).Msg("ringing")
	return []Event{{Kind: EventState, Session: sess.snapshot()}}
}

func (c *Coordinator) onAcceptLocked(sess *Session) []Event {
	if sess.State != domain.CallStateCalling {
		return nil
	}
	// The callee generates the offer; prepare a link now so candidates that
	// beat the offer here have a buffer to land in.
	link, err := c.newLink()
	if err != nil {
		return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
	}
	sess.link = link
	c.bindLink(sess, link)

	sess.stopTimers()
	sess.State = domain.CallStateConnecting
	sess.timer = time.AfterFunc(c.timeouts.Connect, func() { c.onConnectTimeout(sess) })
	log.Info().Str("module", "app.call").Str("session", sess.ID).Msg("accepted by peer")
	return []Event{{Kind: EventState, Session: sess.snapshot()}}
}

func (c *Coordinator) onRejectLocked(sess *Session, env domain.Envelope) []Event {
	if sess.State != domain.CallStateCalling && sess.State != domain.CallStateConnecting {
		return nil
	}
	reason := domain.ReasonRejected
	if p, err := env.Reject(); err == nil && p.Reason != "" {
		reason = domain.EndReason(p.Reason)
	}
	return c.teardownLocked(sess, reason)
}

func (c *Coordinator) onEndLocked(sess *Session, env domain.Envelope) []Event {
	reason := domain.ReasonHangup
	if p, err := env.End(); err == nil && p.Reason != "" {
		reason = domain.EndReason(p.Reason)
	}
	return c.teardownLocked(sess, reason)
}

func (c *Coordinator) onDescriptionLocked(sess *Session, env domain.Envelope) []Event {
	p, err := env.Description()
	if err != nil {
		return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
	}

	switch p.Type {
	case "offer":
		// Inviting side: attach local media, answer the callee's offer.
		if sess.Direction != domain.DirectionOutgoing || sess.State != domain.CallStateConnecting || sess.link == nil {
			return nil
		}
		if err := sess.link.AttachMedia(sess.media); err != nil {
			return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
		}
		answer, err := sess.link.ApplyOfferCreateAnswer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  p.Description,
		})
		if err != nil {
			// A corrupted offer/answer pair cannot be resumed; never retry.
			return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
		}
		if err := c.sendDescription(sess, answer); err != nil {
			return c.teardownLocked(sess, domain.ReasonSignalingLost)
		}
		return nil

	case "answer":
		if sess.Direction != domain.DirectionIncoming || sess.State != domain.CallStateConnecting || sess.link == nil {
			return nil
		}
		if err := sess.link.ApplyAnswer(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  p.Description,
		}); err != nil {
			return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
		}
		return nil
	}

	return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
}

func (c *Coordinator) onCandidateLocked(sess *Session, env domain.Envelope) []Event {
	if sess.link == nil {
		log.Warn().Str("module", "app.call").Str("session", sess.ID).Msg("candidate before link, dropped")
		return nil
	}
	p, err := env.Candidate()
	if err != nil {
		return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
	}
	if err := sess.link.AddRemoteCandidate(p.Candidate); err != nil {
		return c.endWithPeerLocked(sess, domain.ReasonNegotiationFailed)
	}
	return nil
}

// HandleChannelStatus reacts to signaling channel state flips. A reconnect
// mid-negotiation is a potential desync with no replay, so those sessions
// terminate gracefully; a connected call keeps running on the direct media
// path and is only torn down if the transport itself stays gone.
func (c *Coordinator) HandleChannelStatus(st core.ChannelStatus) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || st == core.ChannelConnected {
		c.mu.Unlock()
		return
	}
	var evs []Event
	switch sess.State {
	case domain.CallStateCalling, domain.CallStateRinging, domain.CallStateConnecting:
		evs = c.teardownLocked(sess, domain.ReasonSignalingLost)
	case domain.CallStateConnected:
		// keep the call; the peer link watches the media path
	}
	c.mu.Unlock()
	c.flush(evs)
}

func (c *Coordinator) bindLink(sess *Session, link core.PeerLink) {
	link.OnCandidate(func(raw json.RawMessage) { c.onLocalCandidate(sess, raw) })
	link.OnStateChange(func(st core.LinkState) { c.onLinkState(sess, st) })
}

// onLocalCandidate sends locally discovered candidates immediately,
// regardless of how far negotiation has progressed.
func (c *Coordinator) onLocalCandidate(sess *Session, raw []byte) {
	c.mu.Lock()
	if c.sess != sess || sess.State.Terminal() {
		c.mu.Unlock()
		return
	}
	env, err := domain.NewEnvelope(domain.KindCandidate, sess.ID, c.self.ID, sess.Remote.ID,
		domain.CandidatePayload{Candidate: raw})
	if err == nil {
		if err := c.ch.Send(env); err != nil {
			log.Warn().Err(err).Str("module", "app.call").Str("session", sess.ID).Msg("candidate not sent")
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) onLinkState(sess *Session, st core.LinkState) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	var evs []Event
	switch st {
	case core.LinkConnected:
		switch sess.State {
		case domain.CallStateConnecting:
			sess.stopTimers()
			sess.State = domain.CallStateConnected
			sess.ConnectedAt = time.Now()
			log.Info().Str("module", "app.call").Str("session", sess.ID).Msg("connected")
			evs = []Event{{Kind: EventState, Session: sess.snapshot()}}
		case domain.CallStateConnected:
			sess.stopGrace() // transport recovered within the grace period
		}
	case core.LinkDisconnected:
		if sess.State == domain.CallStateConnected && sess.grace == nil {
			sess.grace = time.AfterFunc(c.timeouts.Grace, func() { c.onGraceTimeout(sess) })
		}
	case core.LinkFailed, core.LinkClosed:
		// A lost call, never a silent hang.
		evs = c.endWithPeerLocked(sess, domain.ReasonConnectionLost)
	}
	c.mu.Unlock()
	c.flush(evs)
}

func (c *Coordinator) onRingTimeout(sess *Session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	var evs []Event
	switch sess.State {
	case domain.CallStateCalling:
		evs = c.endWithPeerLocked(sess, domain.ReasonNoAnswer)
	case domain.CallStateRinging:
		c.sendReject(sess, domain.ReasonNoAnswer)
		evs = c.teardownLocked(sess, domain.ReasonNoAnswer)
		evs = append(evs, Event{Kind: EventMissedCall, Caller: sess.Remote, Reason: domain.ReasonNoAnswer})
	}
	c.mu.Unlock()
	c.flush(evs)
}

func (c *Coordinator) onConnectTimeout(sess *Session) {
	c.mu.Lock()
	if c.sess != sess || sess.State != domain.CallStateConnecting {
		c.mu.Unlock()
		return
	}
	evs := c.endWithPeerLocked(sess, domain.ReasonConnectTimeout)
	c.mu.Unlock()
	c.flush(evs)
}

func (c *Coordinator) onGraceTimeout(sess *Session) {
	c.mu.Lock()
	if c.sess != sess || sess.State != domain.CallStateConnected {
		c.mu.Unlock()
		return
	}
	evs := c.endWithPeerLocked(sess, domain.ReasonConnectionLost)
	c.mu.Unlock()
	c.flush(evs)
}

// endWithPeerLocked sends call-end best effort, then tears down.
func (c *Coordinator) endWithPeerLocked(sess *Session, reason domain.EndReason) []Event {
	env, err := domain.NewEnvelope(domain.KindCallEnd, sess.ID, c.self.ID, sess.Remote.ID,
		domain.EndPayload{Reason: string(reason)})
	if err == nil {
		_ = c.ch.Send(env)
	}
	return c.teardownLocked(sess, reason)
}

func (c *Coordinator) sendReject(sess *Session, reason domain.EndReason) {
	env, err := domain.NewEnvelope(domain.KindCallReject, sess.ID, c.self.ID, sess.Remote.ID,
		domain.RejectPayload{Reason: string(reason)})
	if err == nil {
		_ = c.ch.Send(env)
	}
}

func (c *Coordinator) sendDescription(sess *Session, sd webrtc.SessionDescription) error {
	env, err := domain.NewEnvelope(domain.KindDescription, sess.ID, c.self.ID, sess.Remote.ID,
		domain.DescriptionPayload{Type: sd.Type.String(), Description: sd.SDP})
	if err != nil {
		return err
	}
	return c.ch.Send(env)
}

// teardownLocked is the single way out of a session, whatever broke it:
// stop timers, release media, close the peer link (which clears the
// candidate buffer), mark ended, drop the reference. The caller flushes the
// returned events after unlocking.
func (c *Coordinator) teardownLocked(sess *Session, reason domain.EndReason) []Event {
	sess.stopTimers()
	if sess.media != nil {
		sess.media.Close()
		sess.media = nil
	}
	if sess.link != nil {
		sess.link.Close()
		sess.link = nil
	}
	sess.State = domain.CallStateEnded
	if c.sess == sess {
		c.sess = nil
	}
	log.Info().Str("module", "app.call").Str("session", sess.ID).Str("reason", string(reason)).Msg("ended")
	return []Event{{Kind: EventState, Session: sess.snapshot(), Reason: reason}}
}

func (c *Coordinator) flush(evs []Event) {
	if c.notify == nil {
		return
	}
	for _, ev := range evs {
		c.notify(ev)
	}
}
