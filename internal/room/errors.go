package room

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// ErrDetached is returned by a Handle whose Room is disposed.
var ErrDetached = errors.New("room handle is in detached state")

type JoinErrorKind uint8

const (
	JoinDetached JoinErrorKind = iota
	// CallbackNotSet means a mandatory callback was not set before Join.
	CallbackNotSet
	ConnectionInfoParse
	SessionError
)

func (k JoinErrorKind) String() string {
	switch k {
	case JoinDetached:
		return "Detached"
	case CallbackNotSet:
		return "CallbackNotSet"
	case ConnectionInfoParse:
		return "ConnectionInfoParse"
	default:
		return "SessionError"
	}
}

// JoinError is returned by Handle.Join.
type JoinError struct {
	Kind JoinErrorKind
	// Callback names the missing callback of a CallbackNotSet error.
	Callback string
	Err      error
}

func (e *JoinError) Error() string {
	if e.Kind == CallbackNotSet {
		return fmt.Sprintf("join: %s callback must be set", e.Callback)
	}
	return fmt.Sprintf("join: %s: %v", e.Kind, e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

func joinErr(kind JoinErrorKind, err error) error {
	return errors.WithStack(&JoinError{Kind: kind, Err: err})
}

type ChangeMediaStateErrorKind uint8

const (
	ChangeDetached ChangeMediaStateErrorKind = iota
	InvalidLocalTracks
	CouldNotGetLocalMedia
	InsertLocalTracksError
	// ProhibitedState means a required sender was asked to stop.
	ProhibitedState
	// TransitionIntoOppositeState means a concurrent call won and the track
	// settled in State.
	TransitionIntoOppositeState
)

func (k ChangeMediaStateErrorKind) String() string {
	switch k {
	case ChangeDetached:
		return "Detached"
	case InvalidLocalTracks:
		return "InvalidLocalTracks"
	case CouldNotGetLocalMedia:
		return "CouldNotGetLocalMedia"
	case InsertLocalTracksError:
		return "InsertLocalTracksError"
	case ProhibitedState:
		return "ProhibitedState"
	default:
		return "TransitionIntoOppositeState"
	}
}

// ChangeMediaStateError is returned by the media state toggles of a Handle.
type ChangeMediaStateError struct {
	Kind ChangeMediaStateErrorKind
	// State is where the track settled, for TransitionIntoOppositeState.
	State mediastate.MediaState
	Err   error
}

func (e *ChangeMediaStateError) Error() string {
	if e.Kind == TransitionIntoOppositeState {
		return fmt.Sprintf("change media state: transits into opposite state %s", e.State)
	}
	if e.Err == nil {
		return "change media state: " + e.Kind.String()
	}
	return fmt.Sprintf("change media state: %s: %v", e.Kind, e.Err)
}

func (e *ChangeMediaStateError) Unwrap() error { return e.Err }

func changeErr(kind ChangeMediaStateErrorKind, err error) error {
	return errors.WithStack(&ChangeMediaStateError{Kind: kind, Err: err})
}

func oppositeErr(state mediastate.MediaState) error {
	return errors.WithStack(&ChangeMediaStateError{Kind: TransitionIntoOppositeState, State: state})
}

// asChangeErr classifies an error of the peer layer. Context errors and
// errors it does not know are returned as is.
func asChangeErr(err error) error {
	if err == nil {
		return nil
	}
	var (
		cms      *ChangeMediaStateError
		update   *peer.UpdateLocalStreamError
		local    *media.LocalMediaError
		opposite *mediastate.TransitsIntoOppositeError
	)
	switch {
	case errors.As(err, &cms):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrDetached):
		return changeErr(ChangeDetached, err)
	case errors.As(err, &update):
		switch update.Kind {
		case peer.InvalidLocalTracks:
			return changeErr(InvalidLocalTracks, err)
		case peer.CouldNotGetLocalMedia:
			return changeErr(CouldNotGetLocalMedia, err)
		default:
			return changeErr(InsertLocalTracksError, err)
		}
	case errors.As(err, &local):
		return changeErr(CouldNotGetLocalMedia, err)
	case errors.Is(err, peer.ErrCannotDisableRequiredSender):
		return changeErr(ProhibitedState, err)
	case errors.As(err, &opposite):
		return errors.WithStack(&ChangeMediaStateError{Kind: TransitionIntoOppositeState, State: opposite.State, Err: err})
	default:
		return err
	}
}

type ConstraintsUpdateErrorKind uint8

const (
	// Recovered means the new settings failed and the old ones were
	// restored.
	Recovered ConstraintsUpdateErrorKind = iota
	// RecoverFailed means restoring the old settings failed too.
	RecoverFailed
	// Errored means no recovery was attempted.
	Errored
)

func (k ConstraintsUpdateErrorKind) String() string {
	switch k {
	case Recovered:
		return "Recovered"
	case RecoverFailed:
		return "RecoverFailed"
	default:
		return "Errored"
	}
}

// ConstraintsUpdateError is returned by Handle.SetLocalMediaSettings.
type ConstraintsUpdateError struct {
	Kind ConstraintsUpdateErrorKind
	// Reason is the error that triggered the recovery, or the error itself
	// for Errored.
	Reason error
	// RecoverFailReasons are the errors recovery failed with.
	RecoverFailReasons []error
}

func (e *ConstraintsUpdateError) Error() string {
	if len(e.RecoverFailReasons) == 0 {
		return fmt.Sprintf("update constraints: %s: %v", e.Kind, e.Reason)
	}
	fails := make([]string, 0, len(e.RecoverFailReasons))
	for _, f := range e.RecoverFailReasons {
		fails = append(fails, f.Error())
	}
	return fmt.Sprintf("update constraints: %s: %v (recovery: %s)", e.Kind, e.Reason, strings.Join(fails, "; "))
}

func (e *ConstraintsUpdateError) Unwrap() error { return e.Reason }

func recovered(err error) *ConstraintsUpdateError {
	return &ConstraintsUpdateError{Kind: Recovered, Reason: err}
}

func errored(err error) *ConstraintsUpdateError {
	return &ConstraintsUpdateError{Kind: Errored, Reason: err}
}

// recoveryFailed folds the outcome of a failed recovery attempt with the
// error that started it.
func (e *ConstraintsUpdateError) recoveryFailed(reason error) *ConstraintsUpdateError {
	switch e.Kind {
	case Recovered:
		return &ConstraintsUpdateError{Kind: RecoverFailed, Reason: reason, RecoverFailReasons: []error{e.Reason}}
	case RecoverFailed:
		fails := append(append([]error(nil), e.RecoverFailReasons...), e.Reason)
		return &ConstraintsUpdateError{Kind: RecoverFailed, Reason: reason, RecoverFailReasons: fails}
	default:
		return &ConstraintsUpdateError{Kind: RecoverFailed, Reason: e.Reason, RecoverFailReasons: []error{reason}}
	}
}
