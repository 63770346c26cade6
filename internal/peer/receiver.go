package peer

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// Receiver accepts one remote track sent by another member.
type Receiver struct {
	peer *Peer

	id             domain.TrackID
	mid            *string
	mediaType      domain.MediaType
	senderID       domain.MemberID
	mediaDirection domain.MediaDirection
	muted          bool
	enabledGeneral bool

	ctrl sideControllers

	transceiver core.Transceiver
	remote      core.RemoteTrack
}

var _ TransceiverSide = (*Receiver)(nil)

func newReceiver(p *Peer, t domain.Track) (*Receiver, error) {
	recvEnabled := t.MediaDirection.IsRecvEnabled()
	r := &Receiver{
		peer:           p,
		id:             t.ID,
		mid:            t.Direction.Mid,
		mediaType:      t.MediaType,
		senderID:       t.Direction.Sender,
		mediaDirection: t.MediaDirection,
		muted:          t.Muted,
		enabledGeneral: t.MediaDirection == domain.MediaSendRecv,
		ctrl: sideControllers{
			exchange: mediastate.NewController(mediastate.Of(mediastate.MediaExchange, recvEnabled), p.timeout, p.exec.Post),
		},
	}
	if p.syncPhase != Synced {
		r.ctrl.stopTimeouts()
	}
	r.ctrl.exchange.OnTransition(func(intended mediastate.MediaState) {
		r.sendIntention(exchangePatch(r.id, intended))
	})
	r.ctrl.exchange.OnStable(func(mediastate.MediaState) { r.syncDirection() })

	if r.mid == nil {
		tr, err := p.pc.AddTransceiver(r.mediaType.Kind, domain.DirectionRecv, r.recvFlag())
		if err != nil {
			return nil, errors.Wrapf(err, "add transceiver for track %s", t.ID)
		}
		r.transceiver = tr
	}
	if !p.recvConstraints.Enabled(r.mediaType.Kind, r.mediaType.SourceKind) {
		r.ctrl.exchange.TransitionTo(mediastate.Disabled)
	}
	return r, nil
}

func (r *Receiver) PeerID() domain.PeerID              { return r.peer.id }
func (r *Receiver) TrackID() domain.TrackID            { return r.id }
func (r *Receiver) Kind() domain.MediaKind             { return r.mediaType.Kind }
func (r *Receiver) SourceKind() domain.MediaSourceKind { return r.mediaType.SourceKind }
func (r *Receiver) MediaType() domain.MediaType        { return r.mediaType }
func (r *Receiver) Mid() *string                       { return r.mid }
func (r *Receiver) SenderID() domain.MemberID          { return r.senderID }
func (r *Receiver) Muted() bool                        { return r.muted }

// RemoteTrack is nil until the track is negotiated.
func (r *Receiver) RemoteTrack() core.RemoteTrack { return r.remote }

func (r *Receiver) IsTransitable() bool { return true }

// Enabled reports whether the receiver is stable in the Enabled state.
func (r *Receiver) Enabled() bool { return r.ctrl.exchange.IsStable(mediastate.Enabled) }

func (r *Receiver) MediaState(kind mediastate.Kind) mediastate.State {
	if kind == mediastate.Mute {
		return mediastate.State{Current: mediastate.Of(mediastate.Mute, r.muted), Intended: mediastate.Of(mediastate.Mute, r.muted)}
	}
	return r.ctrl.exchange.State()
}

func (r *Receiver) MediaStateTransitionTo(desired mediastate.MediaState) error {
	if desired.Kind() == mediastate.Mute {
		return errors.WithStack(ErrReceiverCannotBeMuted)
	}
	r.ctrl.exchange.TransitionTo(desired)
	return nil
}

func (r *Receiver) IsSubscriptionNeeded(desired mediastate.MediaState) bool {
	return isSubscriptionNeeded(r.MediaState(desired.Kind()), desired)
}

func (r *Receiver) IsTrackPatchNeeded(desired mediastate.MediaState) bool {
	return isTrackPatchNeeded(r.MediaState(desired.Kind()), desired)
}

func (r *Receiver) WhenMediaStateStable(desired mediastate.MediaState) <-chan error {
	if desired.Kind() == mediastate.Mute {
		ch := make(chan error, 1)
		if r.muted != desired.On() {
			ch <- &mediastate.TransitsIntoOppositeError{State: desired.Opposite()}
		} else {
			ch <- nil
		}
		return ch
	}
	return r.ctrl.exchange.WhenStable(desired)
}

func (r *Receiver) sendIntention(patch domain.TrackPatchCommand) {
	if r.peer.syncPhase != Synced {
		return
	}
	r.peer.emit(MediaUpdateCommand{Command: domain.UpdateTracks{
		PeerID:        r.peer.id,
		TracksPatches: []domain.TrackPatchCommand{patch},
	}})
}

func (r *Receiver) recvFlag() bool {
	if r.peer.connectionMode == domain.ConnectionModeSfu {
		return true
	}
	return r.enabledGeneral && r.ctrl.exchange.State().Current.On()
}

func (r *Receiver) syncDirection() {
	if r.transceiver == nil {
		return
	}
	if err := r.transceiver.SetDirection(false, r.recvFlag()); err != nil {
		log.Error().Err(err).Str("module", "peer").Uint32("track_id", uint32(r.id)).Msg("set receiver direction")
	}
}

func (r *Receiver) isReceiving() bool {
	return r.transceiver != nil && r.recvFlag()
}

func (r *Receiver) bindTransceiver() {
	if r.transceiver != nil || r.mid == nil {
		return
	}
	if tr := r.peer.pc.TransceiverByMid(*r.mid); tr != nil {
		r.transceiver = tr
		r.syncDirection()
	}
}

func (r *Receiver) updateMid() {
	if r.transceiver == nil {
		return
	}
	if mid := r.transceiver.Mid(); mid != "" {
		r.mid = &mid
	}
}

// setRemoteTrack stores a negotiated remote track and reports it once.
func (r *Receiver) setRemoteTrack(track core.RemoteTrack, tr core.Transceiver) {
	if r.transceiver == nil {
		r.transceiver = tr
	}
	if r.remote != nil && r.remote.ID() == track.ID() {
		return
	}
	r.remote = track
	r.peer.emit(NewRemoteTrack{
		PeerID:    r.peer.id,
		TrackID:   r.id,
		SenderID:  r.senderID,
		MediaType: r.mediaType,
		Track:     track,
	})
}

func (r *Receiver) patch(ev domain.TrackPatchEvent) {
	if ev.MediaDirection != nil {
		dir := *ev.MediaDirection
		r.mediaDirection = dir
		r.enabledGeneral = dir == domain.MediaSendRecv
		r.ctrl.exchange.Update(mediastate.Of(mediastate.MediaExchange, dir.IsRecvEnabled()))
		r.syncDirection()
	}
	if ev.Muted != nil {
		r.muted = *ev.Muted
	}
}

func (r *Receiver) snapshot() domain.ReceiverState {
	return domain.ReceiverState{
		ID:             r.id,
		ConnectionMode: r.peer.connectionMode,
		Mid:            r.mid,
		MediaType:      r.mediaType,
		SenderID:       r.senderID,
		Muted:          r.muted,
		MediaDirection: r.mediaDirection,
	}
}

func (r *Receiver) apply(st domain.ReceiverState) {
	exchange := mediastate.Of(mediastate.MediaExchange, st.MediaDirection.IsRecvEnabled())
	if r.ctrl.exchange.State().Current != exchange {
		r.ctrl.exchange.Update(exchange)
	}
	r.mediaDirection = st.MediaDirection
	r.enabledGeneral = st.MediaDirection == domain.MediaSendRecv
	r.muted = st.Muted
	if st.Mid != nil {
		r.mid = st.Mid
	}
	r.syncDirection()
}

func (r *Receiver) setSyncPhase(phase SyncPhase) {
	switch phase {
	case Synced:
		for _, patch := range r.ctrl.pendingPatches(r.id) {
			r.sendIntention(patch)
		}
		r.ctrl.resetTimeouts()
	case Desynced:
		r.ctrl.stopTimeouts()
	}
}

func (r *Receiver) close() { r.ctrl.close() }
