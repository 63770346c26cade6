package peer

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

var (
	// ErrCannotDisableRequiredSender is returned when a required sender is
	// asked to stop sending or to mute.
	ErrCannotDisableRequiredSender = errors.New("required sender cannot be disabled")
	ErrReceiverCannotBeMuted       = errors.New("receivers cannot be muted")

	ErrNotEnoughTracks   = errors.New("provided tracks are not enough for the required senders")
	ErrInvalidMediaTrack = errors.New("provided track does not satisfy the sender media type")

	ErrTransceiverMissing = errors.New("transceiver is not negotiated")
	ErrClosed             = errors.New("peer is closed")
)

// ProhibitedStateError wraps ErrCannotDisableRequiredSender with the track
// it was raised for.
type ProhibitedStateError struct {
	TrackID domain.TrackID
}

func (e *ProhibitedStateError) Error() string {
	return fmt.Sprintf("track %s: %v", e.TrackID, ErrCannotDisableRequiredSender)
}

func (e *ProhibitedStateError) Unwrap() error { return ErrCannotDisableRequiredSender }

type UpdateLocalStreamErrorKind uint8

const (
	// InvalidLocalTracks means the senders produced a malformed request.
	InvalidLocalTracks UpdateLocalStreamErrorKind = iota
	// CouldNotGetLocalMedia means the platform failed to capture.
	CouldNotGetLocalMedia
	// InsertLocalTracksFailed means captured tracks could not be attached.
	InsertLocalTracksFailed
)

func (k UpdateLocalStreamErrorKind) String() string {
	switch k {
	case InvalidLocalTracks:
		return "InvalidLocalTracks"
	case CouldNotGetLocalMedia:
		return "CouldNotGetLocalMedia"
	default:
		return "InsertLocalTracksError"
	}
}

// UpdateLocalStreamError is returned by Peer.UpdateLocalStream.
type UpdateLocalStreamError struct {
	Kind UpdateLocalStreamErrorKind
	Err  error
}

func (e *UpdateLocalStreamError) Error() string {
	return fmt.Sprintf("update local stream: %s: %v", e.Kind, e.Err)
}

func (e *UpdateLocalStreamError) Unwrap() error { return e.Err }

func updateStreamErr(kind UpdateLocalStreamErrorKind, err error) error {
	return errors.WithStack(&UpdateLocalStreamError{Kind: kind, Err: err})
}
