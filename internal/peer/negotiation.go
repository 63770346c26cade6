package peer

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

type NegotiationPhase uint8

const (
	NegotiationStable NegotiationPhase = iota
	WaitLocalSdp
	WaitLocalSdpApprove
	WaitRemoteSdp
)

func (p NegotiationPhase) String() string {
	switch p {
	case NegotiationStable:
		return "Stable"
	case WaitLocalSdp:
		return "WaitLocalSdp"
	case WaitLocalSdpApprove:
		return "WaitLocalSdpApprove"
	default:
		return "WaitRemoteSdp"
	}
}

type negotiation struct {
	role         *domain.NegotiationRole
	pendingRoles []domain.NegotiationRole
	phase        NegotiationPhase
	gen          uint64

	localSdp         *string
	localSdpApproved bool
	remoteSdp        *string
	remoteApplied    bool
	heldLocalSdp     Event

	restartIce        bool
	iceCandidates     []domain.IceCandidate
	appliedCandidates int
}

func (p *Peer) NegotiationRole() (domain.NegotiationRole, bool) {
	if p.role == nil {
		return domain.NegotiationRole{}, false
	}
	return *p.role, true
}

func (p *Peer) NegotiationPhase() NegotiationPhase { return p.phase }

// SetNegotiationRole starts a negotiation in role. A role received while
// another negotiation runs waits for it to finish.
func (p *Peer) SetNegotiationRole(role domain.NegotiationRole) {
	if p.role != nil {
		p.pendingRoles = append(p.pendingRoles, role)
		return
	}
	p.startNegotiation(role)
}

func (p *Peer) startNegotiation(role domain.NegotiationRole) {
	if p.closed {
		return
	}
	p.role = &role
	p.phase = WaitLocalSdp
	p.gen++
	log.Debug().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Str("role", role.String()).Msg("negotiation started")
	go p.negotiate(p.gen, role)
}

// negotiate runs off the loop: it applies the remote offer, waits for the
// outdated senders to get their tracks and creates the local description.
func (p *Peer) negotiate(gen uint64, role domain.NegotiationRole) {
	ctx := p.ctx
	if role.Answerer {
		if err := p.pc.SetRemoteOffer(ctx, role.SdpOffer); err != nil {
			p.negotiationFailed(gen, errors.Wrap(err, "set remote offer"))
			return
		}
		if err := p.exec.Do(ctx, func() {
			sdp := role.SdpOffer
			p.remoteSdp = &sdp
			p.remoteApplied = true
			p.bindTransceivers()
			p.flushIceCandidates()
		}); err != nil {
			return
		}
	}

	var idle <-chan struct{}
	if err := p.exec.Do(ctx, func() { idle = p.whenStreamIdle() }); err != nil {
		return
	}
	select {
	case <-idle:
	case <-ctx.Done():
		return
	}

	var sdp string
	var err error
	if role.Answerer {
		sdp, err = p.pc.CreateAnswer(ctx)
	} else {
		var restart bool
		if err := p.exec.Do(ctx, func() { restart, p.restartIce = p.restartIce, false }); err != nil {
			return
		}
		if restart {
			p.pc.RestartICE()
		}
		sdp, err = p.pc.CreateOffer(ctx)
	}
	if err != nil {
		p.negotiationFailed(gen, errors.Wrapf(err, "create local description as %s", role))
		return
	}

	_ = p.exec.Do(ctx, func() {
		if gen != p.gen || p.closed {
			return
		}
		p.localSdp = &sdp
		p.localSdpApproved = false
		p.phase = WaitLocalSdpApprove
		for _, s := range p.senders {
			s.updateMid()
		}
		for _, r := range p.receivers {
			r.updateMid()
		}
		p.emitLocalSdp(p.localSdpEvent(role, sdp))
	})
}

func (p *Peer) localSdpEvent(role domain.NegotiationRole, sdp string) Event {
	if role.Answerer {
		return NewSdpAnswer{PeerID: p.id, SdpAnswer: sdp, TransceiversStatuses: p.transceiversStatuses()}
	}
	mids, err := p.mids()
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("offer without all mids")
	}
	return NewSdpOffer{PeerID: p.id, SdpOffer: sdp, Mids: mids, TransceiversStatuses: p.transceiversStatuses()}
}

// emitLocalSdp holds the description back until the peer is Synced.
func (p *Peer) emitLocalSdp(ev Event) {
	if p.syncPhase != Synced {
		p.heldLocalSdp = ev
		return
	}
	p.emit(ev)
}

func (p *Peer) negotiationFailed(gen uint64, err error) {
	log.Error().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("negotiation failed")
	_ = p.exec.Do(p.ctx, func() {
		if gen == p.gen {
			p.finishNegotiation()
		}
	})
}

func (p *Peer) finishNegotiation() {
	p.role = nil
	p.phase = NegotiationStable
	if len(p.pendingRoles) == 0 {
		return
	}
	next := p.pendingRoles[0]
	p.pendingRoles = p.pendingRoles[1:]
	p.startNegotiation(next)
}

// ApplyLocalSdp is the server approving the local description.
func (p *Peer) ApplyLocalSdp(sdp string) {
	p.localSdp = &sdp
	p.localSdpApproved = true
	if p.phase != WaitLocalSdpApprove || p.role == nil {
		return
	}
	if p.role.Answerer {
		p.finishNegotiation()
		return
	}
	p.phase = WaitRemoteSdp
}

// SetRemoteSdp applies the answer to the local offer.
func (p *Peer) SetRemoteSdp(sdp string) {
	p.remoteSdp = &sdp
	if p.role == nil || p.role.Answerer {
		log.Warn().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("sdp answer without local offer")
		return
	}
	gen := p.gen
	go func() {
		if err := p.pc.SetRemoteAnswer(p.ctx, sdp); err != nil {
			p.negotiationFailed(gen, errors.Wrap(err, "set remote answer"))
			return
		}
		_ = p.exec.Do(p.ctx, func() {
			if gen != p.gen {
				return
			}
			p.remoteApplied = true
			p.bindTransceivers()
			p.flushIceCandidates()
			p.finishNegotiation()
		})
	}()
}

// AddIceCandidate stores a remote candidate. It reaches the platform once a
// remote description is applied.
func (p *Peer) AddIceCandidate(c domain.IceCandidate) {
	for _, have := range p.iceCandidates {
		if have.Candidate == c.Candidate {
			return
		}
	}
	p.iceCandidates = append(p.iceCandidates, c)
	if p.remoteApplied {
		p.flushIceCandidates()
	}
}

func (p *Peer) flushIceCandidates() {
	pending := p.iceCandidates[p.appliedCandidates:]
	p.appliedCandidates = len(p.iceCandidates)
	if len(pending) == 0 {
		return
	}
	pending = append([]domain.IceCandidate(nil), pending...)
	go func() {
		for _, c := range pending {
			if err := p.pc.AddICECandidate(c); err != nil {
				log.Warn().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("add ice candidate")
			}
		}
	}()
}

func (p *Peer) bindTransceivers() {
	for _, s := range p.senders {
		s.bindTransceiver()
	}
	for _, r := range p.receivers {
		r.bindTransceiver()
	}
}

func (p *Peer) mids() (map[domain.TrackID]string, error) {
	mids := make(map[domain.TrackID]string, len(p.senders)+len(p.receivers))
	var missing error
	for id, s := range p.senders {
		if s.mid == nil {
			missing = errors.Wrapf(ErrTransceiverMissing, "sender %s", id)
			continue
		}
		mids[id] = *s.mid
	}
	for id, r := range p.receivers {
		if r.mid == nil {
			missing = errors.Wrapf(ErrTransceiverMissing, "receiver %s", id)
			continue
		}
		mids[id] = *r.mid
	}
	return mids, missing
}

func (p *Peer) transceiversStatuses() map[domain.TrackID]bool {
	out := make(map[domain.TrackID]bool, len(p.senders)+len(p.receivers))
	for id, s := range p.senders {
		out[id] = s.isPublishing()
	}
	for id, r := range p.receivers {
		out[id] = r.isReceiving()
	}
	return out
}

// applyNegotiation restores the negotiation part of a server snapshot.
func (p *Peer) applyNegotiation(st domain.PeerState) {
	if st.NegotiationRole != nil && p.role == nil {
		p.SetNegotiationRole(*st.NegotiationRole)
	}
	if st.LocalSdp != nil && p.localSdp != nil && !p.localSdpApproved && *st.LocalSdp == *p.localSdp {
		p.ApplyLocalSdp(*st.LocalSdp)
	}
	if st.RemoteSdp != nil && p.phase == WaitRemoteSdp && (p.remoteSdp == nil || *p.remoteSdp != *st.RemoteSdp) {
		p.SetRemoteSdp(*st.RemoteSdp)
	}
}
