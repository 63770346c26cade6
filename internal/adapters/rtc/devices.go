package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

var (
	ErrDeviceFailed = errors.New("capture device failed")
	ErrNoCaptures   = errors.New("no captures requested")
)

// Devices is a synthetic core.MediaDevices: every request yields a sample
// track that the caller may write media into. Captures of a failing device
// id are rejected.
type Devices struct {
	mu      sync.Mutex
	failing map[string]struct{}
	live    int
}

var _ core.MediaDevices = (*Devices)(nil)

func NewDevices(failing ...string) *Devices {
	d := &Devices{failing: make(map[string]struct{}, len(failing))}
	for _, id := range failing {
		d.failing[id] = struct{}{}
	}
	return d
}

// SetFailing replaces the set of device ids capture fails for.
func (d *Devices) SetFailing(ids ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		d.failing[id] = struct{}{}
	}
}

// Live is the number of captures not stopped yet.
func (d *Devices) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Devices) GetUserMedia(ctx context.Context, reqs []core.CaptureRequest) ([]core.CapturedTrack, error) {
	return d.capture(ctx, reqs)
}

func (d *Devices) GetDisplayMedia(ctx context.Context, reqs []core.CaptureRequest) ([]core.CapturedTrack, error) {
	return d.capture(ctx, reqs)
}

// capture is all or nothing: one failing request fails the call.
func (d *Devices) capture(ctx context.Context, reqs []core.CaptureRequest) ([]core.CapturedTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, errors.WithStack(ErrNoCaptures)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range reqs {
		if _, ok := d.failing[r.DeviceID]; ok {
			return nil, errors.Wrapf(ErrDeviceFailed, "device %q", r.DeviceID)
		}
	}

	stream := uuid.NewString()
	out := make([]core.CapturedTrack, 0, len(reqs))
	for _, r := range reqs {
		track, err := webrtc.NewTrackLocalStaticSample(codecOf(r.Kind), uuid.NewString(), stream)
		if err != nil {
			return nil, errors.Wrap(err, "create local track")
		}
		d.live++
		log.Debug().Str("module", "media").Str("kind", r.Kind.String()).Str("source", r.Source.String()).
			Str("device_id", r.DeviceID).Str("track_id", track.ID()).Msg("capture started")

		var once sync.Once
		out = append(out, core.CapturedTrack{
			Track:    track,
			Kind:     r.Kind,
			Source:   r.Source,
			DeviceID: r.DeviceID,
			Stop: func() {
				once.Do(func() {
					d.mu.Lock()
					d.live--
					d.mu.Unlock()
					log.Debug().Str("module", "media").Str("track_id", track.ID()).Msg("capture stopped")
				})
			},
		})
	}
	return out, nil
}

func codecOf(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.MediaKindVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}
