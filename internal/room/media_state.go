package room

import (
	"context"
	"maps"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// peerStates is the desired state of tracks grouped by peer.
type peerStates map[domain.PeerID]map[domain.TrackID]mediastate.MediaState

func (s peerStates) set(peerID domain.PeerID, trackID domain.TrackID, st mediastate.MediaState) {
	if s[peerID] == nil {
		s[peerID] = make(map[domain.TrackID]mediastate.MediaState)
	}
	s[peerID][trackID] = st
}

// changeMediaState brings every matching track of every peer to state.
// Sending is enabled only after the local media was acquired, and a failed
// enable reverts the constraints it changed.
func (r *Room) changeMediaState(ctx context.Context, state mediastate.MediaState, kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) error {
	r.setConstraintsMediaState(state, kind, dir, filter)

	sendEnabling := dir == domain.DirectionSend && state == mediastate.Enabled
	if sendEnabling {
		tracks, err := r.getLocalTracks(ctx, kind, filter)
		if err != nil {
			r.setConstraintsMediaState(state.Opposite(), kind, dir, filter)
			return err
		}
		// Held until the senders own them, so they are not captured twice.
		defer func() {
			for _, t := range tracks {
				t.Release()
			}
		}()
		if !r.send.IsTrackEnabled(kind, filter) {
			return oppositeErr(mediastate.Disabled)
		}
	}

	for {
		done, err := r.isAllPeersInMediaState(ctx, state, kind, dir, filter)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := r.toggleMediaState(ctx, state, kind, dir, filter); err != nil {
			if sendEnabling {
				r.setConstraintsMediaState(state.Opposite(), kind, dir, filter)
				if err := r.toggleMediaState(ctx, state.Opposite(), kind, dir, filter); err != nil {
					return err
				}
			}
			return err
		}
	}
}

// setConstraintsMediaState records state in the constraints new peers and
// negotiations are built from.
func (r *Room) setConstraintsMediaState(state mediastate.MediaState, kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) {
	if dir == domain.DirectionSend {
		if state.Kind() == mediastate.MediaExchange {
			r.send.SetPublish(state.On(), kind, filter)
		} else {
			r.send.SetMuted(state.On(), kind, filter)
		}
		return
	}
	if state.Kind() == mediastate.MediaExchange {
		r.recv.SetEnabled(state.On(), kind, filter)
		r.Post(func() { r.conns.SetRecvEnabled(state.On(), kind, filter) })
	}
}

// getLocalTracks acquires the tracks every peer would publish for kind and
// source. The caller owns one reference of each returned track.
func (r *Room) getLocalTracks(ctx context.Context, kind domain.MediaKind, filter domain.SourceFilter) ([]*media.LocalTrack, error) {
	var (
		reqs   []*media.TracksRequest
		reqErr error
	)
	if err := r.Do(ctx, func() {
		for _, p := range r.peers.All() {
			req, err := p.GetMediaSettings(kind, filter)
			if err != nil {
				reqErr = err
				return
			}
			if req != nil {
				reqs = append(reqs, req)
			}
		}
	}); err != nil {
		return nil, err
	}
	if reqErr != nil {
		return nil, changeErr(InvalidLocalTracks, reqErr)
	}

	var tracks []*media.LocalTrack
	for _, req := range reqs {
		results, err := r.manager.GetTracks(ctx, req)
		if err != nil {
			for _, t := range tracks {
				t.Release()
			}
			r.failedLocalMedia(err)
			return nil, changeErr(CouldNotGetLocalMedia, err)
		}
		for _, res := range results {
			if res.IsNew {
				r.localTrack(peer.NewLocalTrack{Track: res.Track})
			}
			tracks = append(tracks, res.Track)
		}
	}
	return tracks, nil
}

func (r *Room) isAllPeersInMediaState(ctx context.Context, state mediastate.MediaState, kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) (bool, error) {
	all := true
	err := r.Do(ctx, func() {
		for _, p := range r.peers.All() {
			if !p.IsAllTransceiverSidesInMediaState(kind, dir, filter, state) {
				all = false
				return
			}
		}
	})
	return all, err
}

// toggleMediaState moves every transitable side of kind, direction and
// source to state.
func (r *Room) toggleMediaState(ctx context.Context, state mediastate.MediaState, kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) error {
	states := make(peerStates)
	if err := r.Do(ctx, func() {
		for _, p := range r.peers.All() {
			for _, side := range p.GetTransceiverSides(kind, dir, filter) {
				if side.IsTransitable() {
					states.set(p.ID(), side.TrackID(), state)
				}
			}
		}
	}); err != nil {
		return err
	}
	return r.updateMediaStates(ctx, states)
}

// updateMediaStates starts the transitions, waits for all of them to become
// stable and then for the newly enabled senders to get their tracks.
func (r *Room) updateMediaStates(ctx context.Context, states peerStates) error {
	var (
		waits   []<-chan error
		enabled = make(map[domain.PeerID][]domain.TrackID)
		outErr  error
	)
	if err := r.Do(ctx, func() {
		for peerID, tracks := range states {
			for id, st := range tracks {
				if st == mediastate.Enabled {
					enabled[peerID] = append(enabled[peerID], id)
				}
			}
		}
		for peerID, tracks := range states {
			p, ok := r.peers.Get(peerID)
			if !ok {
				continue
			}
			for id, st := range tracks {
				side, ok := p.TransceiverSide(id)
				if !ok || !side.IsSubscriptionNeeded(st) {
					continue
				}
				if err := side.MediaStateTransitionTo(st); err != nil {
					outErr = err
					return
				}
				waits = append(waits, side.WhenMediaStateStable(st))
			}
		}
	}); err != nil {
		return err
	}
	if outErr != nil {
		return outErr
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range waits {
		ch := ch
		g.Go(func() error {
			select {
			case err := <-ch:
				return err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var results []<-chan error
	if err := r.Do(ctx, func() {
		for peerID, ids := range enabled {
			if p, ok := r.peers.Get(peerID); ok {
				results = append(results, p.LocalStreamUpdateResult(ids)...)
			}
		}
	}); err != nil {
		return err
	}
	return peer.Await(ctx, results...)
}

// disableSendersWithoutTracks stops publishing kinds and disables the
// senders of p left without a track.
func (r *Room) disableSendersWithoutTracks(ctx context.Context, p *peer.Peer, kinds media.Criteria, states peerStates) error {
	r.send.SetPublishByKinds(false, kinds)
	if err := r.Do(ctx, func() {
		for _, id := range p.GetSendersWithoutTracks(kinds) {
			states.set(p.ID(), id, mediastate.Disabled)
		}
	}); err != nil {
		return err
	}
	return r.updateMediaStates(ctx, states)
}

// mediaFailure is a settings update that stopped because a peer could not
// get local media.
type mediaFailure struct {
	err    error
	peer   *peer.Peer
	kinds  media.Criteria
	states peerStates
}

// setLocalMediaSettings applies settings to every peer. A failure to get
// local media is retried once with the previous settings when
// rollbackOnFail is set.
func (r *Room) setLocalMediaSettings(ctx context.Context, settings media.MediaStreamSettings, stopFirst, rollbackOnFail bool) error {
	current := r.send.Inner()
	failure, cerr := r.applySettings(ctx, settings, stopFirst)
	switch {
	case cerr != nil:
		return cerr
	case failure == nil:
		return nil
	case !rollbackOnFail:
		return r.settingsFailed(ctx, failure, stopFirst)
	}

	log.Warn().Err(failure.err).Str("module", "room").Msg("rolling back local media settings")
	var outcome *ConstraintsUpdateError
	rollback, cerr := r.applySettings(ctx, current, stopFirst)
	switch {
	case cerr != nil:
		outcome = cerr
	case rollback != nil:
		outcome = r.settingsFailed(ctx, rollback, stopFirst)
	}
	if outcome != nil {
		return outcome.recoveryFailed(failure.err)
	}
	return recovered(failure.err)
}

// settingsFailed handles a failure no rollback is attempted for.
func (r *Room) settingsFailed(ctx context.Context, f *mediaFailure, stopFirst bool) *ConstraintsUpdateError {
	if stopFirst {
		if err := r.disableSendersWithoutTracks(ctx, f.peer, f.kinds, f.states); err != nil {
			return &ConstraintsUpdateError{Kind: RecoverFailed, Reason: f.err, RecoverFailReasons: []error{asChangeErr(err)}}
		}
	}
	return errored(f.err)
}

// applySettings is a single attempt of setLocalMediaSettings. It returns a
// mediaFailure when a peer could not get local media and an error for any
// other failure.
func (r *Room) applySettings(ctx context.Context, settings media.MediaStreamSettings, stopFirst bool) (*mediaFailure, *ConstraintsUpdateError) {
	current := r.send.Inner()
	r.send.Constrain(settings)
	kinds := r.send.KindsDiff(current)

	var peers []*peer.Peer
	if err := r.Do(ctx, func() {
		peers = r.peers.All()
		if stopFirst {
			for _, p := range peers {
				p.DropSendTracks(kinds)
			}
		}
	}); err != nil {
		return nil, errored(asChangeErr(err))
	}

	states := make(peerStates)
	for _, p := range peers {
		st, err := p.UpdateLocalStream(ctx, media.AllCriteria)
		if err != nil {
			var update *peer.UpdateLocalStreamError
			if !errors.As(err, &update) || update.Kind != peer.CouldNotGetLocalMedia {
				return nil, errored(asChangeErr(err))
			}
			return &mediaFailure{err: asChangeErr(err), peer: p, kinds: kinds, states: states}, nil
		}
		if states[p.ID()] == nil {
			states[p.ID()] = make(map[domain.TrackID]mediastate.MediaState)
		}
		maps.Copy(states[p.ID()], st)
	}

	if err := r.updateMediaStates(ctx, states); err != nil {
		return nil, errored(asChangeErr(err))
	}
	return nil, nil
}
