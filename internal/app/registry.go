// Package app wires the relay's routing logic together.
package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

type connEntry struct {
	Conn   core.SignalConn
	Cancel context.CancelFunc
}

// Registry maps each connected user identity to its live signaling channel.
// It is a pure router: payloads are forwarded verbatim and never inspected.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.UserID]*connEntry)}
}

// Bind registers a user's channel. A later connection from the same identity
// replaces the earlier one, which is considered stale and closed.
func (r *Registry) Bind(uid domain.UserID, conn core.SignalConn, cancel context.CancelFunc) {
	r.mu.Lock()
	stale := r.conns[uid]
	r.conns[uid] = &connEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if stale != nil {
		if stale.Cancel != nil {
			stale.Cancel()
		}
		stale.Conn.Close()
		log.Info().Str("module", "app.registry").Str("uid", string(uid)).Msg("replaced stale channel")
	}
	log.Info().Str("module", "app.registry").Str("uid", string(uid)).Msg("bound channel")
}

// Unbind removes the user's entry, but only if it still refers to conn. A
// stale connection closing must not evict its replacement.
func (r *Registry) Unbind(uid domain.UserID, conn core.SignalConn) {
	r.mu.Lock()
	if e, ok := r.conns[uid]; ok && e.Conn == conn {
		delete(r.conns, uid)
		log.Info().Str("module", "app.registry").Str("uid", string(uid)).Msg("unbound channel")
	}
	r.mu.Unlock()
}

func (r *Registry) Lookup(uid domain.UserID) (core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[uid]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Route forwards env to its target's channel. When the target is offline, a
// call-reject with reason "user offline" is synthesized back to the sender
// immediately instead of letting the caller time out.
func (r *Registry) Route(env domain.Envelope) {
	target, ok := r.Lookup(env.To)
	if !ok {
		log.Info().Str("module", "app.registry").
			Str("kind", string(env.Kind)).
			Str("to", string(env.To)).
			Msg("target offline")
		r.rejectOffline(env)
		return
	}

	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("marshal envelope")
		return
	}
	if err := target.TrySend(raw); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("to", string(env.To)).Msg("drop frame")
	}
}

func (r *Registry) rejectOffline(env domain.Envelope) {
	// Only an invite warrants a synthetic answer; later messages of a dead
	// session are just dropped.
	if env.Kind != domain.KindCallInvite {
		return
	}
	sender, ok := r.Lookup(env.From)
	if !ok {
		return
	}
	reject, err := domain.NewEnvelope(
		domain.KindCallReject, env.SessionID, env.To, env.From,
		domain.RejectPayload{Reason: string(domain.ReasonUserOffline)},
	)
	if err != nil {
		return
	}
	raw, err := json.Marshal(reject)
	if err != nil {
		return
	}
	_ = sender.TrySend(raw)
}
