package room

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/connection"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/peer"
)

func (r *Room) onPeerEvent(ev peer.Event) {
	switch e := ev.(type) {
	case peer.IceCandidateDiscovered:
		r.rpc.SendCommand(domain.SetIceCandidate{PeerID: e.PeerID, Candidate: e.Candidate})
	case peer.IceCandidateError:
		r.rpc.SendCommand(domain.AddPeerConnectionMetrics{PeerID: e.PeerID, Metrics: domain.IceCandidateErrorMetrics(e.Error)})
	case peer.NewRemoteTrack:
		c, ok := r.conns.Get(e.SenderID)
		if !ok {
			log.Error().Str("module", "room").Uint32("peer_id", uint32(e.PeerID)).
				Str("member_id", string(e.SenderID)).Msg("remote track from unknown member")
			return
		}
		c.AddRemoteTrack(connection.RemoteMediaTrack{
			PeerID:    e.PeerID,
			TrackID:   e.TrackID,
			MediaType: e.MediaType,
			Track:     e.Track,
		})
	case peer.NewLocalTrack:
		r.localTrack(e)
	case peer.IceConnectionStateChanged:
		r.rpc.SendCommand(domain.AddPeerConnectionMetrics{PeerID: e.PeerID, Metrics: domain.IceConnectionMetrics(e.State)})
	case peer.PeerConnectionStateChanged:
		r.onPeerConnectionState(e)
	case peer.StatsUpdate:
		r.rpc.SendCommand(domain.AddPeerConnectionMetrics{PeerID: e.PeerID, Metrics: domain.StatsMetrics(e.Stats)})
	case peer.FailedLocalMedia:
		r.failedLocalMedia(e.Err)
	case peer.NewSdpOffer:
		r.rpc.SendCommand(domain.MakeSdpOffer{
			PeerID:               e.PeerID,
			SdpOffer:             e.SdpOffer,
			Mids:                 e.Mids,
			TransceiversStatuses: e.TransceiversStatuses,
		})
	case peer.NewSdpAnswer:
		r.rpc.SendCommand(domain.MakeSdpAnswer{
			PeerID:               e.PeerID,
			SdpAnswer:            e.SdpAnswer,
			TransceiversStatuses: e.TransceiversStatuses,
		})
	case peer.MediaUpdateCommand:
		r.rpc.SendCommand(e.Command)
	}
}

func (r *Room) onPeerConnectionState(e peer.PeerConnectionStateChanged) {
	r.rpc.SendCommand(domain.AddPeerConnectionMetrics{PeerID: e.PeerID, Metrics: domain.PeerConnectionMetrics(e.State)})

	p, ok := r.peers.Get(e.PeerID)
	if !ok {
		return
	}
	if e.State == domain.PeerConnectionConnected {
		p.ScrapeStats()
	}
	for _, id := range p.TrackIDs() {
		for _, c := range r.conns.IterByTrack(e.PeerID, id) {
			c.UpdatePeerState(e.State)
		}
	}
}

func (r *Room) localTrack(e peer.NewLocalTrack) {
	r.notify(func() {
		r.cb.mu.Lock()
		fn := r.cb.onLocalTrack
		r.cb.mu.Unlock()
		if fn != nil {
			fn(e.Track)
		}
	})
}

// failedLocalMedia reports err to the application. It is safe from any
// goroutine.
func (r *Room) failedLocalMedia(err error) {
	log.Warn().Err(err).Str("module", "room").Msg("failed to get local media")
	r.notify(func() {
		r.cb.mu.Lock()
		fn := r.cb.onFailedLocalMedia
		r.cb.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}
