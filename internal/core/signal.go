// Package core holds the small interfaces the call logic is written against.
package core

import "errors"

// Frame is a raw wire payload (one JSON-encoded signaling message).
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConn abstracts one connected client's channel as seen by the relay.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}
