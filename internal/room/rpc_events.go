package room

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/peer"
)

func (r *Room) onRpcEvent(ev domain.Event) {
	log.Debug().Str("module", "room").Str("event", domain.EventName(ev)).Msg("rpc event")

	switch e := ev.(type) {
	case domain.PeerCreated:
		r.onPeerCreated(e)
	case domain.SdpAnswerMade:
		if p, ok := r.peer(e.PeerID, ev); ok {
			p.SetRemoteSdp(e.SdpAnswer)
		}
	case domain.LocalDescriptionApplied:
		if p, ok := r.peer(e.PeerID, ev); ok {
			p.ApplyLocalSdp(e.SdpOffer)
		}
	case domain.IceCandidateDiscovered:
		if p, ok := r.peer(e.PeerID, ev); ok {
			p.AddIceCandidate(e.Candidate)
		}
	case domain.PeersRemoved:
		for _, id := range e.PeerIDs {
			r.conns.RemovePeer(id)
			r.peers.Remove(id)
		}
	case domain.PeerUpdated:
		r.onPeerUpdated(e)
	case domain.ConnectionQualityUpdated:
		if c, ok := r.conns.Get(e.PartnerMemberID); ok {
			c.UpdateQualityScore(e.QualityScore)
		}
	case domain.StateSynchronized:
		r.peers.Apply(e.State)
		r.conns.Apply(r.peers.All())
	case domain.RoomJoined, domain.RoomLeft:
		log.Warn().Str("module", "room").Str("event", domain.EventName(ev)).Msg("session event reached the room")
	default:
		log.Warn().Str("module", "room").Str("event", domain.EventName(ev)).Msg("unhandled rpc event")
	}
}

// peer looks up the peer an event is addressed to.
func (r *Room) peer(id domain.PeerID, ev domain.Event) (*peer.Peer, bool) {
	p, ok := r.peers.Get(id)
	if !ok {
		log.Warn().Str("module", "room").Uint32("peer_id", uint32(id)).
			Str("event", domain.EventName(ev)).Msg("event for unknown peer")
	}
	return p, ok
}

func (r *Room) onPeerCreated(e domain.PeerCreated) {
	p, trackErrs, err := r.peers.Create(e)
	if err != nil {
		log.Error().Err(err).Str("module", "room").Uint32("peer_id", uint32(e.PeerID)).Msg("create peer")
		return
	}
	for _, err := range trackErrs {
		log.Error().Err(err).Str("module", "room").Uint32("peer_id", uint32(e.PeerID)).Msg("insert track")
	}
	r.conns.SyncPeer(p)
}

func (r *Room) onPeerUpdated(e domain.PeerUpdated) {
	p, ok := r.peer(e.PeerID, e)
	if !ok {
		return
	}
	for _, u := range e.Updates {
		switch u.Kind {
		case domain.PeerUpdateAdded:
			if err := p.InsertTrack(u.Track); err != nil {
				log.Error().Err(err).Str("module", "room").Uint32("peer_id", uint32(e.PeerID)).
					Uint32("track_id", uint32(u.Track.ID)).Msg("insert track")
			}
		case domain.PeerUpdateUpdated:
			p.PatchTrack(u.Patch)
		case domain.PeerUpdateIceRestart:
			p.RestartICE()
		case domain.PeerUpdateRemoved:
			p.RemoveTrack(u.TrackID)
		}
	}
	r.conns.SyncPeer(p)
	if e.NegotiationRole != nil {
		p.SetNegotiationRole(*e.NegotiationRole)
	}
}
