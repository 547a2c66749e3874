//go:build !linux

// Package media acquires local capture devices for a call session.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

// DeviceSource has no capture path off Linux; camera/mic drivers are only
// wired for V4L2 + malgo. Acquire reports the capability as unsupported so
// the call logic aborts before any signaling commitment.
type DeviceSource struct{}

func NewDeviceSource() (*DeviceSource, error) {
	return &DeviceSource{}, nil
}

func (s *DeviceSource) ConfigureEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (s *DeviceSource) Acquire(_ context.Context, _ domain.MediaKind) (*core.LocalMedia, error) {
	return nil, core.ErrUnsupported
}
