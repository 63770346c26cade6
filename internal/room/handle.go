package room

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/connection"
	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
	"github.com/dkeye/VoiceRoom/internal/rpc"
)

// Handle is the application's view of a Room. Every method fails with
// ErrDetached once the room is disposed. Handles are cheap and may be used
// from any goroutine.
type Handle struct {
	r *Room
}

func (h *Handle) upgrade() (*Room, error) {
	if h.r == nil || h.r.disposed.Load() {
		return nil, errors.WithStack(ErrDetached)
	}
	return h.r, nil
}

// Join connects to the room at url. OnFailedLocalMedia and OnConnectionLoss
// must be set before.
func (h *Handle) Join(ctx context.Context, url string) error {
	r, err := h.upgrade()
	if err != nil {
		return joinErr(JoinDetached, err)
	}
	info, err := rpc.ParseConnectionInfo(url)
	if err != nil {
		return joinErr(ConnectionInfoParse, err)
	}

	r.cb.mu.Lock()
	hasFailed, hasLoss := r.cb.onFailedLocalMedia != nil, r.cb.onConnectionLoss != nil
	r.cb.mu.Unlock()
	if !hasFailed {
		return errors.WithStack(&JoinError{Kind: CallbackNotSet, Callback: "Room.OnFailedLocalMedia"})
	}
	if !hasLoss {
		return errors.WithStack(&JoinError{Kind: CallbackNotSet, Callback: "Room.OnConnectionLoss"})
	}

	if err := r.rpc.Connect(ctx, info); err != nil {
		return joinErr(SessionError, err)
	}
	return nil
}

// OnNewConnection is called once per remote member media is exchanged with.
func (h *Handle) OnNewConnection(fn func(*connection.Handle)) error {
	r, err := h.upgrade()
	if err != nil {
		return err
	}
	r.conns.OnNewConnection(fn)
	return nil
}

func (h *Handle) OnClose(fn func(RoomCloseReason)) error {
	return h.setCallback(func(cb *callbacks) { cb.onClose = fn })
}

// OnLocalTrack is called for every newly captured local track.
func (h *Handle) OnLocalTrack(fn func(*media.LocalTrack)) error {
	return h.setCallback(func(cb *callbacks) { cb.onLocalTrack = fn })
}

// OnFailedLocalMedia is called whenever local media could not be acquired,
// including updates the server started.
func (h *Handle) OnFailedLocalMedia(fn func(error)) error {
	return h.setCallback(func(cb *callbacks) { cb.onFailedLocalMedia = fn })
}

// OnConnectionLoss is called with a handle to reconnect the session.
func (h *Handle) OnConnectionLoss(fn func(core.ReconnectHandle)) error {
	return h.setCallback(func(cb *callbacks) { cb.onConnectionLoss = fn })
}

func (h *Handle) setCallback(set func(*callbacks)) error {
	r, err := h.upgrade()
	if err != nil {
		return err
	}
	r.cb.mu.Lock()
	set(&r.cb)
	r.cb.mu.Unlock()
	return nil
}

// SetLocalMediaSettings updates the send constraints and the local tracks
// of every peer. stopFirst releases the changed tracks before capturing new
// ones. rollbackOnFail restores the previous settings when capture fails.
// The returned error is a *ConstraintsUpdateError.
func (h *Handle) SetLocalMediaSettings(ctx context.Context, settings media.MediaStreamSettings, stopFirst, rollbackOnFail bool) error {
	r, err := h.upgrade()
	if err != nil {
		return errored(changeErr(ChangeDetached, err))
	}
	return r.setLocalMediaSettings(ctx, settings, stopFirst, rollbackOnFail)
}

func (h *Handle) MuteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Muted, domain.MediaKindAudio, domain.DirectionSend, domain.AnySource())
}

func (h *Handle) UnmuteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Unmuted, domain.MediaKindAudio, domain.DirectionSend, domain.AnySource())
}

func (h *Handle) MuteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Muted, domain.MediaKindVideo, domain.DirectionSend, filter)
}

func (h *Handle) UnmuteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Unmuted, domain.MediaKindVideo, domain.DirectionSend, filter)
}

func (h *Handle) DisableAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindAudio, domain.DirectionSend, domain.AnySource())
}

// EnableAudio acquires the local audio before any peer is touched.
func (h *Handle) EnableAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindAudio, domain.DirectionSend, domain.AnySource())
}

func (h *Handle) DisableVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindVideo, domain.DirectionSend, filter)
}

func (h *Handle) EnableVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindVideo, domain.DirectionSend, filter)
}

func (h *Handle) DisableRemoteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindAudio, domain.DirectionRecv, domain.AnySource())
}

func (h *Handle) EnableRemoteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindAudio, domain.DirectionRecv, domain.AnySource())
}

func (h *Handle) DisableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindVideo, domain.DirectionRecv, filter)
}

func (h *Handle) EnableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindVideo, domain.DirectionRecv, filter)
}

// changeMediaState returns a *ChangeMediaStateError, or a context error.
func (h *Handle) changeMediaState(ctx context.Context, state mediastate.MediaState, kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) error {
	r, err := h.upgrade()
	if err != nil {
		return changeErr(ChangeDetached, err)
	}
	return asChangeErr(r.changeMediaState(ctx, state, kind, dir, filter))
}
