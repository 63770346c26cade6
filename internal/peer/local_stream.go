package peer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// TracksRequest builds the request for every sender matching criteria,
// merged with the send constraints. It returns nil when no sender matches.
func (p *Peer) TracksRequest(criteria media.Criteria) (*media.TracksRequest, error) {
	req := media.NewTracksRequest()
	for _, s := range p.Senders() {
		if !criteria.Has(s.Kind(), s.SourceKind()) {
			continue
		}
		if err := req.Add(s.id, s.mediaType); err != nil {
			return nil, err
		}
	}
	if req.IsEmpty() {
		return nil, nil
	}
	if err := req.Merge(p.sendConstraints.Inner()); err != nil {
		return nil, err
	}
	return req, nil
}

// GetMediaSettings is the request for the senders of kind and source that
// are enabled in the send constraints.
func (p *Peer) GetMediaSettings(kind domain.MediaKind, filter domain.SourceFilter) (*media.TracksRequest, error) {
	return p.TracksRequest(media.CriteriaFromKinds(kind, filter))
}

// UpdateLocalStream acquires tracks for the senders matching criteria and
// attaches them. It must not be called from the Executor goroutine. The
// returned states disable the matching senders left without a track.
func (p *Peer) UpdateLocalStream(ctx context.Context, criteria media.Criteria) (map[domain.TrackID]mediastate.MediaState, error) {
	var (
		req    *media.TracksRequest
		reqErr error
	)
	if err := p.exec.Do(ctx, func() { req, reqErr = p.TracksRequest(criteria) }); err != nil {
		return nil, err
	}
	if reqErr != nil {
		err := updateStreamErr(InvalidLocalTracks, reqErr)
		_ = p.exec.Do(ctx, func() { p.localStreamUpdated(criteria, err) })
		return nil, err
	}
	if req == nil {
		_ = p.exec.Do(ctx, func() { p.localStreamUpdated(criteria, nil) })
		return map[domain.TrackID]mediastate.MediaState{}, nil
	}

	results, err := p.manager.GetTracks(ctx, req)
	if err != nil {
		err = updateStreamErr(CouldNotGetLocalMedia, err)
		p.emit(FailedLocalMedia{Err: err})
		_ = p.exec.Do(ctx, func() { p.localStreamUpdated(criteria, err) })
		return nil, err
	}
	defer func() {
		for _, r := range results {
			r.Track.Release()
		}
	}()
	tracks := make([]*media.LocalTrack, 0, len(results))
	for _, r := range results {
		if r.IsNew {
			p.emit(NewLocalTrack{Track: r.Track})
		}
		tracks = append(tracks, r.Track)
	}

	var (
		states    map[domain.TrackID]mediastate.MediaState
		insertErr error
	)
	if err := p.exec.Do(ctx, func() {
		parsed, err := req.ParseTracks(tracks)
		if err != nil {
			insertErr = updateStreamErr(InvalidLocalTracks, err)
		} else {
			states, insertErr = p.insertLocalTracks(criteria, parsed)
		}
		p.localStreamUpdated(criteria, insertErr)
	}); err != nil {
		return nil, err
	}
	if insertErr != nil {
		return nil, insertErr
	}
	return states, nil
}

// insertLocalTracks attaches tracks to the senders matching criteria. Every
// sender is checked before any track is attached.
func (p *Peer) insertLocalTracks(criteria media.Criteria, tracks map[domain.TrackID]*media.LocalTrack) (map[domain.TrackID]mediastate.MediaState, error) {
	type pair struct {
		s *Sender
		t *media.LocalTrack
	}
	var pairs []pair
	states := make(map[domain.TrackID]mediastate.MediaState)
	for _, s := range p.Senders() {
		if !criteria.Has(s.Kind(), s.SourceKind()) {
			continue
		}
		t, ok := tracks[s.id]
		switch {
		case ok && !s.satisfies(t):
			return nil, updateStreamErr(InsertLocalTracksFailed, errors.WithStack(ErrInvalidMediaTrack))
		case ok:
			pairs = append(pairs, pair{s: s, t: t})
		case s.mediaType.Required:
			return nil, updateStreamErr(InsertLocalTracksFailed, errors.WithStack(ErrNotEnoughTracks))
		default:
			states[s.id] = mediastate.Disabled
		}
	}
	for _, pr := range pairs {
		if err := pr.s.insertTrack(pr.t); err != nil {
			return nil, updateStreamErr(InsertLocalTracksFailed, err)
		}
	}
	return states, nil
}

// localStreamUpdated settles the local track state of the senders that
// waited for this update.
func (p *Peer) localStreamUpdated(criteria media.Criteria, err error) {
	for _, s := range p.senders {
		if !s.isLocalUpdateNeeded() || !criteria.Has(s.Kind(), s.SourceKind()) {
			continue
		}
		if err != nil {
			s.setLocalState(localTrackFailed, err)
		} else {
			s.setLocalState(localTrackStable, nil)
		}
	}
}

// outdatedCriteria returns the classes of the senders waiting for a track.
func (p *Peer) outdatedCriteria() media.Criteria {
	var c media.Criteria
	for _, s := range p.senders {
		if s.isLocalUpdateNeeded() {
			c.Add(s.Kind(), s.SourceKind())
		}
	}
	return c
}

// scheduleLocalStreamUpdate starts a background update of the outdated
// senders. Requests made while one is running are coalesced into the next
// round.
func (p *Peer) scheduleLocalStreamUpdate() {
	if p.closed {
		return
	}
	if p.streamUpdating {
		p.streamDirty = true
		return
	}
	p.streamUpdating = true
	go p.runLocalStreamUpdates()
}

func (p *Peer) runLocalStreamUpdates() {
	for {
		var criteria media.Criteria
		if err := p.exec.Do(p.ctx, func() {
			p.streamDirty = false
			criteria = p.outdatedCriteria()
			if criteria.IsEmpty() {
				p.streamUpdating = false
				p.notifyStreamIdle()
			}
		}); err != nil {
			return
		}
		if criteria.IsEmpty() {
			return
		}
		if _, err := p.UpdateLocalStream(p.ctx, criteria); err != nil {
			log.Warn().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).
				Str("criteria", criteria.String()).Msg("local stream update failed")
		}
	}
}

// whenStreamIdle resolves once no background stream update is running.
func (p *Peer) whenStreamIdle() <-chan struct{} {
	ch := make(chan struct{})
	if !p.streamUpdating || p.closed {
		close(ch)
		return ch
	}
	p.streamIdle = append(p.streamIdle, ch)
	return ch
}

func (p *Peer) notifyStreamIdle() {
	for _, ch := range p.streamIdle {
		close(ch)
	}
	p.streamIdle = nil
}

// LocalStreamUpdateResult returns a channel per sender in ids that resolves
// once the sender got its track or failed to.
func (p *Peer) LocalStreamUpdateResult(ids []domain.TrackID) []<-chan error {
	var out []<-chan error
	for _, id := range ids {
		if s, ok := p.senders[id]; ok {
			out = append(out, s.whenLocalTrackSettled())
		}
	}
	return out
}

// GetSendersWithoutTracks lists the enabled senders matching criteria that
// have no track attached.
func (p *Peer) GetSendersWithoutTracks(criteria media.Criteria) []domain.TrackID {
	var ids []domain.TrackID
	for _, s := range p.Senders() {
		if criteria.Has(s.Kind(), s.SourceKind()) && s.Enabled() && !s.HasTrack() {
			ids = append(ids, s.id)
		}
	}
	return ids
}

// DropSendTracks detaches the tracks of the senders matching criteria.
func (p *Peer) DropSendTracks(criteria media.Criteria) {
	for _, s := range p.senders {
		if criteria.Has(s.Kind(), s.SourceKind()) {
			s.removeTrack()
		}
	}
}
