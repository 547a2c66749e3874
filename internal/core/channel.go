package core

import (
	"errors"

	"github.com/ovident/telecall/internal/domain"
)

// ChannelStatus is the client-visible state of the signaling channel.
type ChannelStatus string

const (
	ChannelConnected    ChannelStatus = "connected"
	ChannelDisconnected ChannelStatus = "disconnected"
	ChannelReconnecting ChannelStatus = "reconnecting"
)

var ErrChannelDown = errors.New("signaling channel not connected")

// Channel is a persistent, authenticated message channel to the relay,
// scoped to one user identity. Delivery is at-most-once per attempt: any
// message in flight when the status flips to disconnected may be lost, and
// nothing is replayed after a reconnect.
type Channel interface {
	// Send queues a message for delivery. Returns ErrChannelDown when the
	// channel is not currently connected.
	Send(domain.Envelope) error
	// OnMessage installs the single inbound handler. Must be set before the
	// channel starts reading.
	OnMessage(func(domain.Envelope))
	// OnStatus installs the status-change handler.
	OnStatus(func(ChannelStatus))
	Status() ChannelStatus
	Close() error
}
