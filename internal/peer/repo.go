package peer

import (
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

// Repository holds the peers of a room. Like Peer it is owned by the
// Executor goroutine.
type Repository struct {
	cfg   Config
	peers map[domain.PeerID]*Peer
}

func NewRepository(cfg Config) *Repository {
	return &Repository{cfg: cfg, peers: make(map[domain.PeerID]*Peer)}
}

// Create builds a peer out of a PeerCreated event and starts negotiating in
// the given role. Tracks that could not be created are returned as errors
// after the peer was stored.
func (r *Repository) Create(ev domain.PeerCreated) (*Peer, []error, error) {
	p, err := New(r.cfg, ev.PeerID, ev.ConnectionMode, ev.IceServers, ev.ForceRelay)
	if err != nil {
		return nil, nil, err
	}
	var trackErrs []error
	for _, t := range ev.Tracks {
		if err := p.InsertTrack(t); err != nil {
			trackErrs = append(trackErrs, err)
		}
	}
	r.store(p)
	p.SetNegotiationRole(ev.NegotiationRole)
	return p, trackErrs, nil
}

func (r *Repository) store(p *Peer) {
	if old, ok := r.peers[p.id]; ok {
		log.Warn().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("peer replaced")
		old.Close()
	}
	r.peers[p.id] = p
}

func (r *Repository) Get(id domain.PeerID) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// All returns the peers ordered by id.
func (r *Repository) All() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Peer) int { return int(a.id) - int(b.id) })
	return out
}

func (r *Repository) Len() int { return len(r.peers) }

// Remove closes and forgets the peer. It returns the removed peer's track
// ids.
func (r *Repository) Remove(id domain.PeerID) []domain.TrackID {
	p, ok := r.peers[id]
	if !ok {
		return nil
	}
	delete(r.peers, id)
	ids := p.TrackIDs()
	p.Close()
	return ids
}

func (r *Repository) Snapshot() domain.RoomState {
	st := domain.RoomState{Peers: make(map[domain.PeerID]domain.PeerState, len(r.peers))}
	for id, p := range r.peers {
		st.Peers[id] = p.Snapshot()
	}
	return st
}

// Apply brings the repository to a server snapshot: unknown peers are
// created, peers missing from it are closed and the rest are patched.
func (r *Repository) Apply(st domain.RoomState) {
	for id := range r.peers {
		if _, ok := st.Peers[id]; !ok {
			r.Remove(id)
		}
	}
	for id, ps := range st.Peers {
		if p, ok := r.peers[id]; ok {
			p.Apply(ps)
			continue
		}
		p, ps, err := r.createFromState(ps)
		if err != nil {
			log.Error().Err(err).Str("module", "peer").Uint32("peer_id", uint32(id)).Msg("create synchronized peer")
			continue
		}
		r.store(p)
		p.Apply(ps)
	}
}

// createFromState skips senders nobody receives.
func (r *Repository) createFromState(ps domain.PeerState) (*Peer, domain.PeerState, error) {
	p, err := New(r.cfg, ps.ID, ps.ConnectionMode, ps.IceServers, ps.ForceRelay)
	if err != nil {
		return nil, ps, err
	}
	p.syncPhase = Syncing
	senders := make(map[domain.TrackID]domain.SenderState, len(ps.Senders))
	for id, s := range ps.Senders {
		if len(s.Receivers) > 0 {
			senders[id] = s
		}
	}
	ps.Senders = senders
	return p, ps, nil
}

func (r *Repository) ConnectionLost() {
	for _, p := range r.peers {
		p.ConnectionLost()
	}
}

func (r *Repository) ConnectionRecovered() {
	for _, p := range r.peers {
		p.ConnectionRecovered()
	}
}

// Close closes every peer.
func (r *Repository) Close() {
	for id, p := range r.peers {
		p.Close()
		delete(r.peers, id)
	}
}
