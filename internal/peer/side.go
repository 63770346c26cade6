package peer

import (
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// SyncPhase tells whether the peer state is known to match the server.
type SyncPhase uint8

const (
	Synced SyncPhase = iota
	// Desynced means signaling is lost and intentions are held back.
	Desynced
	// Syncing means signaling is back and the server snapshot is awaited.
	Syncing
)

func (p SyncPhase) String() string {
	switch p {
	case Synced:
		return "Synced"
	case Desynced:
		return "Desynced"
	default:
		return "Syncing"
	}
}

// TransceiverSide is a sender or a receiver whose media state the room can
// drive.
type TransceiverSide interface {
	TrackID() domain.TrackID
	Kind() domain.MediaKind
	SourceKind() domain.MediaSourceKind
	// IsTransitable reports whether the room may change this side's state
	// at all.
	IsTransitable() bool
	MediaState(kind mediastate.Kind) mediastate.State
	// MediaStateTransitionTo starts a transition and sends the intention
	// to the server.
	MediaStateTransitionTo(desired mediastate.MediaState) error
	// IsSubscriptionNeeded reports whether the room has to wait for this
	// side to become stable in desired.
	IsSubscriptionNeeded(desired mediastate.MediaState) bool
	// IsTrackPatchNeeded reports whether a patch must be sent to the
	// server to reach desired.
	IsTrackPatchNeeded(desired mediastate.MediaState) bool
	WhenMediaStateStable(desired mediastate.MediaState) <-chan error
}

func isSubscriptionNeeded(st mediastate.State, desired mediastate.MediaState) bool {
	return st.InTransition || st.Current != desired
}

func isTrackPatchNeeded(st mediastate.State, desired mediastate.MediaState) bool {
	if st.InTransition {
		return st.Intended != desired
	}
	return st.Current != desired
}

// controllers of one side, shared by the intention and sync phase logic.
type sideControllers struct {
	exchange *mediastate.Controller
	mute     *mediastate.Controller
}

func (c sideControllers) of(kind mediastate.Kind) *mediastate.Controller {
	if kind == mediastate.Mute {
		return c.mute
	}
	return c.exchange
}

func (c sideControllers) each(fn func(*mediastate.Controller)) {
	fn(c.exchange)
	if c.mute != nil {
		fn(c.mute)
	}
}

func (c sideControllers) stopTimeouts()  { c.each((*mediastate.Controller).StopTimeout) }
func (c sideControllers) resetTimeouts() { c.each((*mediastate.Controller).ResetTimeout) }
func (c sideControllers) close()         { c.each((*mediastate.Controller).Close) }

// pendingPatches returns a patch for every controller that still waits for
// the server.
func (c sideControllers) pendingPatches(id domain.TrackID) []domain.TrackPatchCommand {
	var out []domain.TrackPatchCommand
	if st := c.exchange.State(); st.InTransition {
		out = append(out, exchangePatch(id, st.Intended))
	}
	if c.mute != nil {
		if st := c.mute.State(); st.InTransition {
			out = append(out, mutePatch(id, st.Intended))
		}
	}
	return out
}

func exchangePatch(id domain.TrackID, s mediastate.MediaState) domain.TrackPatchCommand {
	enabled := s.On()
	return domain.TrackPatchCommand{ID: id, Enabled: &enabled}
}

func mutePatch(id domain.TrackID, s mediastate.MediaState) domain.TrackPatchCommand {
	muted := s.On()
	return domain.TrackPatchCommand{ID: id, Muted: &muted}
}
