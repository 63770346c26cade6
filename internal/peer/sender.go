package peer

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

type localTrackState uint8

const (
	// localTrackStable means the sender is new or its track is attached.
	localTrackStable localTrackState = iota
	localTrackNeedUpdate
	localTrackFailed
)

// Sender publishes one local track to the receivers of a peer.
type Sender struct {
	peer *Peer

	id             domain.TrackID
	mid            *string
	mediaType      domain.MediaType
	receivers      []domain.MemberID
	mediaDirection domain.MediaDirection
	// enabledGeneral is true while every party has the track enabled.
	enabledGeneral bool

	ctrl sideControllers

	transceiver core.Transceiver
	track       *media.LocalTrack

	localState   localTrackState
	localErr     error
	localWaiters []chan error
}

var _ TransceiverSide = (*Sender)(nil)

func newSender(p *Peer, t domain.Track) (*Sender, error) {
	mt := t.MediaType
	enabledInCons := p.sendConstraints.Enabled(mt)
	mutedInCons := p.sendConstraints.Muted(mt)
	sendEnabled := t.MediaDirection.IsSendEnabled()
	if mt.Required && (t.Muted || !sendEnabled || !enabledInCons || mutedInCons) {
		return nil, errors.WithStack(&ProhibitedStateError{TrackID: t.ID})
	}

	s := &Sender{
		peer:           p,
		id:             t.ID,
		mid:            t.Direction.Mid,
		mediaType:      mt,
		receivers:      append([]domain.MemberID(nil), t.Direction.Receivers...),
		mediaDirection: t.MediaDirection,
		enabledGeneral: t.MediaDirection == domain.MediaSendRecv,
		ctrl: sideControllers{
			exchange: mediastate.NewController(mediastate.Of(mediastate.MediaExchange, sendEnabled), p.timeout, p.exec.Post),
			mute:     mediastate.NewController(mediastate.Of(mediastate.Mute, t.Muted), p.timeout, p.exec.Post),
		},
	}
	if p.syncPhase != Synced {
		s.ctrl.stopTimeouts()
	}
	s.ctrl.exchange.OnTransition(func(intended mediastate.MediaState) {
		s.sendIntention(exchangePatch(s.id, intended))
	})
	s.ctrl.mute.OnTransition(func(intended mediastate.MediaState) {
		s.sendIntention(mutePatch(s.id, intended))
	})
	s.ctrl.exchange.OnStable(s.exchangeStable)
	s.ctrl.mute.OnStable(func(st mediastate.MediaState) {
		log.Debug().Str("module", "peer").Uint32("peer_id", uint32(p.id)).
			Uint32("track_id", uint32(s.id)).Bool("muted", st.On()).Msg("sender mute settled")
	})

	if s.mid == nil {
		tr, err := p.pc.AddTransceiver(mt.Kind, domain.DirectionSend, s.sendFlag())
		if err != nil {
			return nil, errors.Wrapf(err, "add transceiver for track %s", t.ID)
		}
		s.transceiver = tr
	}

	s.ctrl.exchange.TransitionTo(mediastate.Of(mediastate.MediaExchange, enabledInCons))
	if mutedInCons {
		s.ctrl.mute.TransitionTo(mediastate.Muted)
	}
	if s.ctrl.exchange.IsStable(mediastate.Enabled) {
		s.localState = localTrackNeedUpdate
	}
	return s, nil
}

func (s *Sender) TrackID() domain.TrackID            { return s.id }
func (s *Sender) Kind() domain.MediaKind             { return s.mediaType.Kind }
func (s *Sender) SourceKind() domain.MediaSourceKind { return s.mediaType.SourceKind }
func (s *Sender) MediaType() domain.MediaType        { return s.mediaType }
func (s *Sender) Mid() *string                       { return s.mid }

// Receivers returns the members the track is sent to.
func (s *Sender) Receivers() []domain.MemberID {
	return append([]domain.MemberID(nil), s.receivers...)
}

// IsTransitable is false for a video sender whose source is not
// constrained: nothing would be published for it anyway.
func (s *Sender) IsTransitable() bool {
	if s.mediaType.Kind == domain.MediaKindAudio {
		return true
	}
	return s.peer.sendConstraints.IsConstrained(s.mediaType.Kind, s.mediaType.SourceKind)
}

func (s *Sender) MediaState(kind mediastate.Kind) mediastate.State {
	return s.ctrl.of(kind).State()
}

// Enabled reports whether the sender is stable in the Enabled state.
func (s *Sender) Enabled() bool { return s.ctrl.exchange.IsStable(mediastate.Enabled) }

func (s *Sender) HasTrack() bool { return s.track != nil }

// Track returns the attached local track, if any.
func (s *Sender) Track() *media.LocalTrack { return s.track }

func (s *Sender) MediaStateTransitionTo(desired mediastate.MediaState) error {
	switch desired.Kind() {
	case mediastate.MediaExchange:
		if s.mediaType.Required && !desired.On() {
			return errors.WithStack(&ProhibitedStateError{TrackID: s.id})
		}
	case mediastate.Mute:
		if s.mediaType.Required && desired.On() {
			return errors.WithStack(&ProhibitedStateError{TrackID: s.id})
		}
	}
	s.ctrl.of(desired.Kind()).TransitionTo(desired)
	return nil
}

func (s *Sender) IsSubscriptionNeeded(desired mediastate.MediaState) bool {
	return isSubscriptionNeeded(s.MediaState(desired.Kind()), desired)
}

func (s *Sender) IsTrackPatchNeeded(desired mediastate.MediaState) bool {
	return isTrackPatchNeeded(s.MediaState(desired.Kind()), desired)
}

func (s *Sender) WhenMediaStateStable(desired mediastate.MediaState) <-chan error {
	return s.ctrl.of(desired.Kind()).WhenStable(desired)
}

func (s *Sender) sendIntention(patch domain.TrackPatchCommand) {
	if s.peer.syncPhase != Synced {
		return
	}
	s.peer.emit(MediaUpdateCommand{Command: domain.UpdateTracks{
		PeerID:        s.peer.id,
		TracksPatches: []domain.TrackPatchCommand{patch},
	}})
}

func (s *Sender) exchangeStable(st mediastate.MediaState) {
	if st.On() {
		s.setLocalState(localTrackNeedUpdate, nil)
		s.peer.scheduleLocalStreamUpdate()
	} else {
		s.removeTrack()
		s.setLocalState(localTrackStable, nil)
	}
	s.syncDirection()
}

// sendFlag is the send half of the transceiver direction. An SFU always
// expects media on a sender's transceiver.
func (s *Sender) sendFlag() bool {
	if s.peer.connectionMode == domain.ConnectionModeSfu {
		return true
	}
	return s.enabledGeneral && s.ctrl.exchange.State().Current.On()
}

func (s *Sender) syncDirection() {
	if s.transceiver == nil {
		return
	}
	if err := s.transceiver.SetDirection(s.sendFlag(), false); err != nil {
		log.Error().Err(err).Str("module", "peer").Uint32("track_id", uint32(s.id)).Msg("set sender direction")
	}
}

// isPublishing is what the server gets as the transceiver status.
func (s *Sender) isPublishing() bool {
	return s.transceiver != nil && s.sendFlag()
}

// bindTransceiver attaches the transceiver negotiated for the sender's mid.
func (s *Sender) bindTransceiver() {
	if s.transceiver != nil || s.mid == nil {
		return
	}
	tr := s.peer.pc.TransceiverByMid(*s.mid)
	if tr == nil {
		return
	}
	s.transceiver = tr
	if s.track != nil {
		if err := tr.SetSendTrack(s.track.Track()); err != nil {
			log.Error().Err(err).Str("module", "peer").Uint32("track_id", uint32(s.id)).Msg("set send track")
		}
	}
	s.syncDirection()
}

func (s *Sender) updateMid() {
	if s.transceiver == nil {
		return
	}
	if mid := s.transceiver.Mid(); mid != "" {
		s.mid = &mid
	}
}

func (s *Sender) satisfies(t *media.LocalTrack) bool {
	return t.Kind() == s.mediaType.Kind && t.SourceKind() == s.mediaType.SourceKind
}

// insertTrack attaches t, taking a reference of it. The previous track is
// released.
func (s *Sender) insertTrack(t *media.LocalTrack) error {
	if s.track == t {
		return nil
	}
	if !t.Acquire() {
		return errors.WithStack(&media.LocalMediaError{Kind: media.LocalTrackIsEnded, Err: errors.Errorf("track %s", t.ID())})
	}
	if s.transceiver != nil {
		if err := s.transceiver.SetSendTrack(t.Track()); err != nil {
			t.Release()
			return errors.Wrapf(err, "insert track into sender %s", s.id)
		}
	}
	if s.track != nil {
		s.track.Release()
	}
	s.track = t
	s.syncDirection()
	return nil
}

func (s *Sender) removeTrack() {
	if s.track == nil {
		return
	}
	if s.transceiver != nil {
		if err := s.transceiver.SetSendTrack(nil); err != nil {
			log.Error().Err(err).Str("module", "peer").Uint32("track_id", uint32(s.id)).Msg("remove send track")
		}
	}
	s.track.Release()
	s.track = nil
}

func (s *Sender) isLocalUpdateNeeded() bool { return s.localState == localTrackNeedUpdate }

func (s *Sender) setLocalState(st localTrackState, err error) {
	s.localState, s.localErr = st, err
	if st == localTrackNeedUpdate {
		return
	}
	waiters := s.localWaiters
	s.localWaiters = nil
	for _, ch := range waiters {
		ch <- err
	}
}

// whenLocalTrackSettled resolves once no local track update is pending.
func (s *Sender) whenLocalTrackSettled() <-chan error {
	ch := make(chan error, 1)
	switch s.localState {
	case localTrackNeedUpdate:
		s.localWaiters = append(s.localWaiters, ch)
	default:
		ch <- s.localErr
	}
	return ch
}

// patch applies a server side update.
func (s *Sender) patch(ev domain.TrackPatchEvent) {
	if ev.MediaDirection != nil {
		dir := *ev.MediaDirection
		s.mediaDirection = dir
		s.enabledGeneral = dir == domain.MediaSendRecv
		s.ctrl.exchange.Update(mediastate.Of(mediastate.MediaExchange, dir.IsSendEnabled()))
		s.syncDirection()
	}
	if ev.Muted != nil {
		s.ctrl.mute.Update(mediastate.Of(mediastate.Mute, *ev.Muted))
	}
	if ev.Receivers != nil {
		s.receivers = append([]domain.MemberID{}, (*ev.Receivers)...)
	}
	if ev.EncodingParameters != nil {
		s.mediaType.EncodingParameters = append([]domain.EncodingParameters(nil), (*ev.EncodingParameters)...)
	}
}

func (s *Sender) snapshot() domain.SenderState {
	return domain.SenderState{
		ID:             s.id,
		ConnectionMode: s.peer.connectionMode,
		Mid:            s.mid,
		MediaType:      s.mediaType,
		Receivers:      s.Receivers(),
		Muted:          s.ctrl.mute.State().Current.On(),
		MediaDirection: s.mediaDirection,
	}
}

// apply brings the sender to a server snapshot. Values are only confirmed
// when they differ, so pending intentions survive the resync.
func (s *Sender) apply(st domain.SenderState) {
	exchange := mediastate.Of(mediastate.MediaExchange, st.MediaDirection.IsSendEnabled())
	if s.ctrl.exchange.State().Current != exchange {
		s.ctrl.exchange.Update(exchange)
	}
	mute := mediastate.Of(mediastate.Mute, st.Muted)
	if s.ctrl.mute.State().Current != mute {
		s.ctrl.mute.Update(mute)
	}
	s.mediaDirection = st.MediaDirection
	s.enabledGeneral = st.MediaDirection == domain.MediaSendRecv
	s.receivers = append([]domain.MemberID{}, st.Receivers...)
	if st.Mid != nil {
		s.mid = st.Mid
	}
	s.syncDirection()
}

func (s *Sender) setSyncPhase(phase SyncPhase) {
	switch phase {
	case Synced:
		for _, patch := range s.ctrl.pendingPatches(s.id) {
			s.sendIntention(patch)
		}
		s.ctrl.resetTimeouts()
	case Desynced:
		s.ctrl.stopTimeouts()
	}
}

func (s *Sender) close() {
	s.removeTrack()
	s.ctrl.close()
	s.setLocalState(localTrackStable, nil)
}
