package media

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoTracks                  = errors.New("tracks request should have at least one track")
	ErrTooManyDeviceAudioTracks  = errors.New("only one device audio track is allowed in tracks request")
	ErrTooManyDisplayAudioTracks = errors.New("only one display audio track is allowed in tracks request")
	ErrTooManyDeviceVideoTracks  = errors.New("only one device video track is allowed in tracks request")
	ErrTooManyDisplayVideoTracks = errors.New("only one display video track is allowed in tracks request")

	ErrExpectedDeviceAudioTracks  = errors.New("device audio track is required but disabled")
	ErrExpectedDisplayAudioTracks = errors.New("display audio track is required but disabled")
	ErrExpectedDeviceVideoTracks  = errors.New("device video track is required but disabled")
	ErrExpectedDisplayVideoTracks = errors.New("display video track is required but disabled")

	ErrInvalidAudioTrack = errors.New("provided audio track does not satisfy specified constraints")
	ErrInvalidVideoTrack = errors.New("provided video track does not satisfy specified constraints")
)

type LocalMediaErrorKind uint8

const (
	GetUserMediaFailed LocalMediaErrorKind = iota
	GetDisplayMediaFailed
	LocalTrackIsEnded
)

func (k LocalMediaErrorKind) String() string {
	switch k {
	case GetUserMediaFailed:
		return "GetUserMediaFailed"
	case GetDisplayMediaFailed:
		return "GetDisplayMediaFailed"
	default:
		return "LocalTrackIsEnded"
	}
}

// LocalMediaError is returned when the platform fails to produce local
// tracks.
type LocalMediaError struct {
	Kind LocalMediaErrorKind
	Err  error
}

func (e *LocalMediaError) Error() string {
	return fmt.Sprintf("local media: %s: %v", e.Kind, e.Err)
}

func (e *LocalMediaError) Unwrap() error { return e.Err }
