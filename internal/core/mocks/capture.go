package mocks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

// Captures produces a live track for every request. It is meant to be used
// from gomock DoAndReturn.
type Captures struct {
	mu      sync.Mutex
	calls   []core.CaptureRequest
	stopped atomic.Int32
}

// Capture matches the MediaDevices methods signature.
func (c *Captures) Capture(_ context.Context, reqs []core.CaptureRequest) ([]core.CapturedTrack, error) {
	out := make([]core.CapturedTrack, 0, len(reqs))
	for _, r := range reqs {
		c.mu.Lock()
		c.calls = append(c.calls, r)
		c.mu.Unlock()

		codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		if r.Kind == domain.MediaKindVideo {
			codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		}
		track, err := webrtc.NewTrackLocalStaticSample(codec, r.Kind.String(), "fake")
		if err != nil {
			return nil, err
		}
		out = append(out, core.CapturedTrack{
			Track:    track,
			Kind:     r.Kind,
			Source:   r.Source,
			DeviceID: r.DeviceID,
			Stop:     func() { c.stopped.Add(1) },
		})
	}
	return out, nil
}

// Requests returns every capture request seen so far.
func (c *Captures) Requests() []core.CaptureRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.CaptureRequest(nil), c.calls...)
}

// Stopped returns how many captured tracks were stopped.
func (c *Captures) Stopped() int { return int(c.stopped.Load()) }
