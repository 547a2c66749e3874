package core

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/ovident/telecall/internal/domain"
)

var (
	ErrDeviceAbsent     = errors.New("capture device absent")
	ErrPermissionDenied = errors.New("capture permission denied")
	ErrUnsupported      = errors.New("media capture unsupported on this platform")
)

// MediaSource acquires local capture devices. All three acquisition failures
// are distinct errors, but the call logic treats them identically.
type MediaSource interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (*LocalMedia, error)
}

// EnableSink receives per-track-kind enable toggles. The peer link installs
// one when media is attached so mute/camera-off reach the transport.
type EnableSink func(kind webrtc.RTPCodecType, enabled bool) error

// LocalMedia owns one session's capture tracks. Exclusively owned by the
// active call session; released exactly once on session end.
type LocalMedia struct {
	Kind domain.MediaKind

	mu       sync.Mutex
	tracks   []webrtc.TrackLocal
	enabled  map[webrtc.RTPCodecType]bool
	sink     EnableSink
	release  func()
	released bool
}

func NewLocalMedia(kind domain.MediaKind, tracks []webrtc.TrackLocal, release func()) *LocalMedia {
	enabled := map[webrtc.RTPCodecType]bool{webrtc.RTPCodecTypeAudio: true}
	if kind == domain.MediaVideo {
		enabled[webrtc.RTPCodecTypeVideo] = true
	}
	return &LocalMedia{Kind: kind, tracks: tracks, enabled: enabled, release: release}
}

func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// BindSink attaches the enable sink and replays current flags so the link
// starts from the user's last mute/camera choice.
func (m *LocalMedia) BindSink(sink EnableSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
	for kind, on := range m.enabled {
		if on {
			continue
		}
		if err := sink(kind, false); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled toggles one track kind. No other component may mutate the
// session's tracks except through this.
func (m *LocalMedia) SetEnabled(kind webrtc.RTPCodecType, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil
	}
	m.enabled[kind] = on
	if m.sink == nil {
		return nil
	}
	return m.sink(kind, on)
}

func (m *LocalMedia) Enabled(kind webrtc.RTPCodecType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[kind]
}

// Close stops and releases the capture tracks. Idempotent.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return
	}
	m.released = true
	m.sink = nil
	if m.release != nil {
		m.release()
	}
}
