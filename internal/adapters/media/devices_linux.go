//go:build linux

// Package media acquires local capture devices for a call session.
package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ovident/telecall/internal/core"
	"github.com/ovident/telecall/internal/domain"
)

// DeviceSource captures camera/microphone via pion/mediadevices (V4L2 and
// malgo on Linux), encoding VP8 + Opus.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceSource{selector: selector}, nil
}

// ConfigureEngine registers the capture codecs on a peer link's media
// engine so the attached tracks negotiate.
func (s *DeviceSource) ConfigureEngine(me *webrtc.MediaEngine) error {
	s.selector.Populate(me)
	return nil
}

func (s *DeviceSource) Acquire(_ context.Context, kind domain.MediaKind) (*core.LocalMedia, error) {
	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		return nil, core.ErrDeviceAbsent
	}
	for _, d := range devices {
		log.Debug().Str("module", "media").Str("label", d.Label).Msg("media device")
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: s.selector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if kind == domain.MediaVideo {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			// Exclude MJPEG: some cameras expose MJPEG nodes whose malformed
			// frames poison the VP8 encoder. Raw formats only.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, classify(err)
	}

	tracks := stream.GetTracks()
	locals := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Msg("local track ended")
			}
		})
		locals = append(locals, track)
	}

	release := func() {
		for _, t := range tracks {
			t.Close()
		}
	}
	log.Info().Str("module", "media").Int("tracks", len(tracks)).Str("kind", string(kind)).Msg("captured local media")
	return core.NewLocalMedia(kind, locals, release), nil
}

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such"), strings.Contains(msg, "failed to find"):
		return fmt.Errorf("%w: %v", core.ErrDeviceAbsent, err)
	}
	return fmt.Errorf("%w: %v", core.ErrDeviceAbsent, err)
}
