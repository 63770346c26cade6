package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

// LocalTrack is a captured track shared between the senders that publish
// it. The capture is stopped when the last owner releases it.
type LocalTrack struct {
	id      string
	track   webrtc.TrackLocal
	request core.CaptureRequest
	stop    func()

	mu   sync.Mutex
	refs int
}

func newLocalTrack(c core.CapturedTrack, req core.CaptureRequest) *LocalTrack {
	req.Kind, req.Source = c.Kind, c.Source
	if c.DeviceID != "" {
		req.DeviceID = c.DeviceID
	}
	return &LocalTrack{
		id:      uuid.NewString(),
		track:   c.Track,
		request: req,
		stop:    c.Stop,
		refs:    1,
	}
}

func (t *LocalTrack) ID() string                         { return t.id }
func (t *LocalTrack) Track() webrtc.TrackLocal           { return t.track }
func (t *LocalTrack) Kind() domain.MediaKind             { return t.request.Kind }
func (t *LocalTrack) SourceKind() domain.MediaSourceKind { return t.request.Source }
func (t *LocalTrack) DeviceID() string                   { return t.request.DeviceID }

// Acquire takes one more reference. It fails once the track was stopped.
func (t *LocalTrack) Acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refs == 0 {
		return false
	}
	t.refs++
	return true
}

// Release drops one reference and stops the capture on the last one.
func (t *LocalTrack) Release() {
	t.mu.Lock()
	if t.refs == 0 {
		t.mu.Unlock()
		return
	}
	t.refs--
	last := t.refs == 0
	t.mu.Unlock()

	if last {
		log.Debug().Str("module", "media").Str("track", t.id).Str("kind", t.Kind().String()).Msg("local track stopped")
		if t.stop != nil {
			t.stop()
		}
	}
}

func (t *LocalTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs > 0
}

func (t *LocalTrack) satisfies(req core.CaptureRequest) bool {
	have := t.request
	if have.Kind != req.Kind || have.Source != req.Source {
		return false
	}
	if req.DeviceID != "" && req.DeviceID != have.DeviceID {
		return false
	}
	if req.Width != 0 && req.Width != have.Width {
		return false
	}
	if req.Height != 0 && req.Height != have.Height {
		return false
	}
	if req.FrameRate != 0 && req.FrameRate != have.FrameRate {
		return false
	}
	return t.Live()
}
