package media

import (
	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

var classOrder = [...]Criteria{DeviceAudio, DisplayAudio, DeviceVideo, DisplayVideo}

type trackSlot struct {
	id       domain.TrackID
	required bool
	capture  core.CaptureRequest
}

// TracksRequest collects what one peer needs to fill its senders: at most
// one track per class.
type TracksRequest struct {
	slots map[Criteria]*trackSlot
}

func NewTracksRequest() *TracksRequest {
	return &TracksRequest{slots: make(map[Criteria]*trackSlot)}
}

// Add registers sender id of media type mt.
func (r *TracksRequest) Add(id domain.TrackID, mt domain.MediaType) error {
	class := criteriaOf(mt.Kind, mt.SourceKind)
	if _, ok := r.slots[class]; ok {
		return errors.WithStack(tooManyTracks(class))
	}
	r.slots[class] = &trackSlot{
		id:       id,
		required: mt.Required,
		capture:  core.CaptureRequest{Kind: mt.Kind, Source: mt.SourceKind},
	}
	return nil
}

func (r *TracksRequest) IsEmpty() bool { return len(r.slots) == 0 }

// Validate fails on a request without tracks.
func (r *TracksRequest) Validate() error {
	if r.IsEmpty() {
		return errors.WithStack(ErrNoTracks)
	}
	return nil
}

// Merge applies settings to the request. A class disabled in settings is
// dropped from the request unless one of its tracks is required.
func (r *TracksRequest) Merge(settings MediaStreamSettings) error {
	for _, class := range classOrder {
		slot, ok := r.slots[class]
		if !ok {
			continue
		}
		if !settings.classEnabled(class) {
			if slot.required {
				return errors.WithStack(expectedTracks(class))
			}
			delete(r.slots, class)
			continue
		}
		switch class {
		case DeviceAudio, DisplayAudio:
			slot.capture.DeviceID = settings.AudioConstraints().DeviceID
		case DeviceVideo:
			c, _ := settings.DeviceVideoConstraints()
			slot.capture.DeviceID, slot.capture.Width, slot.capture.Height = c.DeviceID, c.Width, c.Height
		case DisplayVideo:
			c, _ := settings.DisplayVideoConstraints()
			slot.capture.DeviceID, slot.capture.Width, slot.capture.Height = c.DeviceID, c.Width, c.Height
			slot.capture.FrameRate = c.FrameRate
		}
	}
	return nil
}

// Captures lists the capture requests left after Merge, in class order.
func (r *TracksRequest) Captures() []core.CaptureRequest {
	out := make([]core.CaptureRequest, 0, len(r.slots))
	for _, class := range classOrder {
		if slot, ok := r.slots[class]; ok {
			out = append(out, slot.capture)
		}
	}
	return out
}

// ParseTracks maps the tracks returned by the manager back to sender ids.
func (r *TracksRequest) ParseTracks(tracks []*LocalTrack) (map[domain.TrackID]*LocalTrack, error) {
	parsed := make(map[domain.TrackID]*LocalTrack, len(tracks))
	for _, t := range tracks {
		class := criteriaOf(t.Kind(), t.SourceKind())
		slot, ok := r.slots[class]
		if !ok {
			continue
		}
		if _, dup := parsed[slot.id]; dup {
			continue
		}
		if !t.satisfies(slot.capture) {
			if t.Kind() == domain.MediaKindAudio {
				return nil, errors.WithStack(ErrInvalidAudioTrack)
			}
			return nil, errors.WithStack(ErrInvalidVideoTrack)
		}
		parsed[slot.id] = t
	}
	return parsed, nil
}

func tooManyTracks(c Criteria) error {
	switch c {
	case DeviceAudio:
		return ErrTooManyDeviceAudioTracks
	case DisplayAudio:
		return ErrTooManyDisplayAudioTracks
	case DeviceVideo:
		return ErrTooManyDeviceVideoTracks
	default:
		return ErrTooManyDisplayVideoTracks
	}
}

func expectedTracks(c Criteria) error {
	switch c {
	case DeviceAudio:
		return ErrExpectedDeviceAudioTracks
	case DisplayAudio:
		return ErrExpectedDisplayAudioTracks
	case DeviceVideo:
		return ErrExpectedDeviceVideoTracks
	default:
		return ErrExpectedDisplayVideoTracks
	}
}
