// Package peer keeps the client side state of one media server peer: its
// senders and receivers, SDP negotiation and ICE, and the snapshot used to
// resynchronize with the server after a signaling loss.
package peer

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// Executor runs functions on the goroutine that owns the peers. Every Peer
// method must be called there; long running work is done on other
// goroutines that come back through the Executor.
type Executor interface {
	// Post schedules fn without waiting for it.
	Post(fn func())
	// Do runs fn and waits for it to finish. It fails once the owner is
	// gone or ctx is done.
	Do(ctx context.Context, fn func()) error
}

// ConnectionFactory creates the platform connection of a new peer.
type ConnectionFactory func(id domain.PeerID, iceServers []domain.IceServer, forceRelay bool) (core.PeerConnection, error)

// Config is what every peer of a room shares.
type Config struct {
	Exec            Executor
	Events          *Queue
	Manager         *media.Manager
	SendConstraints *media.LocalTracksConstraints
	RecvConstraints *media.RecvConstraints
	NewConnection   ConnectionFactory
	// TransitionTimeout defaults to mediastate.DefaultTransitionTimeout.
	TransitionTimeout time.Duration
}

type Peer struct {
	id             domain.PeerID
	connectionMode domain.ConnectionMode
	iceServers     []domain.IceServer
	forceRelay     bool

	pc              core.PeerConnection
	exec            Executor
	events          *Queue
	manager         *media.Manager
	sendConstraints *media.LocalTracksConstraints
	recvConstraints *media.RecvConstraints
	timeout         time.Duration

	senders   map[domain.TrackID]*Sender
	receivers map[domain.TrackID]*Receiver

	negotiation
	syncPhase SyncPhase

	streamUpdating bool
	streamDirty    bool
	streamIdle     []chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// New creates a peer without tracks. The platform connection callbacks are
// wired to cfg.Events.
func New(cfg Config, id domain.PeerID, mode domain.ConnectionMode, iceServers []domain.IceServer, forceRelay bool) (*Peer, error) {
	pc, err := cfg.NewConnection(id, iceServers, forceRelay)
	if err != nil {
		return nil, errors.Wrapf(err, "create connection of peer %s", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		id:              id,
		connectionMode:  mode,
		iceServers:      iceServers,
		forceRelay:      forceRelay,
		pc:              pc,
		exec:            cfg.Exec,
		events:          cfg.Events,
		manager:         cfg.Manager,
		sendConstraints: cfg.SendConstraints,
		recvConstraints: cfg.RecvConstraints,
		timeout:         cfg.TransitionTimeout,
		senders:         make(map[domain.TrackID]*Sender),
		receivers:       make(map[domain.TrackID]*Receiver),
		ctx:             ctx,
		cancel:          cancel,
	}
	if p.timeout <= 0 {
		p.timeout = mediastate.DefaultTransitionTimeout
	}

	pc.OnICECandidate(func(c domain.IceCandidate) {
		p.emit(IceCandidateDiscovered{PeerID: id, Candidate: c})
	})
	pc.OnICECandidateError(func(e domain.IceCandidateError) {
		p.emit(IceCandidateError{PeerID: id, Error: e})
	})
	pc.OnICEConnectionStateChange(func(s domain.IceConnectionState) {
		p.emit(IceConnectionStateChanged{PeerID: id, State: s})
	})
	pc.OnConnectionStateChange(func(s domain.PeerConnectionState) {
		p.emit(PeerConnectionStateChanged{PeerID: id, State: s})
	})
	pc.OnTrack(func(track core.RemoteTrack, tr core.Transceiver) {
		p.exec.Post(func() { p.addRemoteTrack(track, tr) })
	})

	log.Info().Str("module", "peer").Uint32("peer_id", uint32(id)).Str("mode", string(mode)).Msg("peer created")
	return p, nil
}

func (p *Peer) ID() domain.PeerID                     { return p.id }
func (p *Peer) ConnectionMode() domain.ConnectionMode { return p.connectionMode }
func (p *Peer) Connection() core.PeerConnection       { return p.pc }
func (p *Peer) SyncPhase() SyncPhase                  { return p.syncPhase }

func (p *Peer) emit(e Event) { p.events.Push(e) }

// InsertTrack creates a sender or a receiver for t.
func (p *Peer) InsertTrack(t domain.Track) error {
	if t.Direction.Kind == domain.DirectionRecv {
		r, err := newReceiver(p, t)
		if err != nil {
			return err
		}
		p.receivers[t.ID] = r
		return nil
	}
	s, err := newSender(p, t)
	if err != nil {
		return err
	}
	p.senders[t.ID] = s
	if s.isLocalUpdateNeeded() {
		p.scheduleLocalStreamUpdate()
	}
	return nil
}

// PatchTrack applies a server update. It reports false for an unknown
// track.
func (p *Peer) PatchTrack(ev domain.TrackPatchEvent) bool {
	if r, ok := p.receivers[ev.ID]; ok {
		r.patch(ev)
		return true
	}
	if s, ok := p.senders[ev.ID]; ok {
		s.patch(ev)
		if s.isLocalUpdateNeeded() {
			p.scheduleLocalStreamUpdate()
		}
		return true
	}
	log.Warn().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Uint32("track_id", uint32(ev.ID)).Msg("patch for unknown track")
	return false
}

func (p *Peer) RemoveTrack(id domain.TrackID) {
	if r, ok := p.receivers[id]; ok {
		delete(p.receivers, id)
		r.close()
		return
	}
	if s, ok := p.senders[id]; ok {
		delete(p.senders, id)
		s.close()
	}
}

// TrackIDs returns every sender and receiver id in ascending order.
func (p *Peer) TrackIDs() []domain.TrackID {
	ids := make([]domain.TrackID, 0, len(p.senders)+len(p.receivers))
	for id := range p.senders {
		ids = append(ids, id)
	}
	for id := range p.receivers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *Peer) Sender(id domain.TrackID) (*Sender, bool) {
	s, ok := p.senders[id]
	return s, ok
}

func (p *Peer) Receiver(id domain.TrackID) (*Receiver, bool) {
	r, ok := p.receivers[id]
	return r, ok
}

// Senders returns the senders ordered by track id.
func (p *Peer) Senders() []*Sender {
	out := make([]*Sender, 0, len(p.senders))
	for _, s := range p.senders {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Sender) int { return int(a.id) - int(b.id) })
	return out
}

// Receivers returns the receivers ordered by track id.
func (p *Peer) Receivers() []*Receiver {
	out := make([]*Receiver, 0, len(p.receivers))
	for _, r := range p.receivers {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b *Receiver) int { return int(a.id) - int(b.id) })
	return out
}

func (p *Peer) TransceiverSide(id domain.TrackID) (TransceiverSide, bool) {
	if s, ok := p.senders[id]; ok {
		return s, true
	}
	if r, ok := p.receivers[id]; ok {
		return r, true
	}
	return nil, false
}

// GetTransceiverSides returns the sides of the given kind, direction and
// source.
func (p *Peer) GetTransceiverSides(kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter) []TransceiverSide {
	var out []TransceiverSide
	if dir == domain.DirectionSend {
		for _, s := range p.Senders() {
			if s.Kind() == kind && filter.Matches(s.SourceKind()) {
				out = append(out, s)
			}
		}
		return out
	}
	for _, r := range p.Receivers() {
		if r.Kind() == kind && filter.Matches(r.SourceKind()) {
			out = append(out, r)
		}
	}
	return out
}

// IsAllTransceiverSidesInMediaState reports whether every transitable side
// of the given kind, direction and source is stable in state.
func (p *Peer) IsAllTransceiverSidesInMediaState(kind domain.MediaKind, dir domain.TrackDirection, filter domain.SourceFilter, state mediastate.MediaState) bool {
	for _, side := range p.GetTransceiverSides(kind, dir, filter) {
		if !side.IsTransitable() {
			continue
		}
		if !side.MediaState(state.Kind()).IsStable(state) {
			return false
		}
	}
	return true
}

// RestartICE makes the next offer restart ICE.
func (p *Peer) RestartICE() { p.restartIce = true }

// ScrapeStats reports the platform stats as a StatsUpdate event.
func (p *Peer) ScrapeStats() {
	go func() {
		stats, err := p.pc.GetStats(p.ctx)
		if err != nil {
			log.Warn().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("get stats")
			return
		}
		p.emit(StatsUpdate{PeerID: p.id, Stats: stats})
	}()
}

func (p *Peer) addRemoteTrack(track core.RemoteTrack, tr core.Transceiver) {
	if p.closed {
		return
	}
	mid := tr.Mid()
	for _, r := range p.receivers {
		if r.transceiver == tr || (r.mid != nil && *r.mid == mid) {
			r.setRemoteTrack(track, tr)
			return
		}
	}
	log.Warn().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Str("mid", mid).Msg("remote track without receiver")
}

// Snapshot serializes the peer for SynchronizeMe.
func (p *Peer) Snapshot() domain.PeerState {
	st := domain.PeerState{
		ID:             p.id,
		ConnectionMode: p.connectionMode,
		Senders:        make(map[domain.TrackID]domain.SenderState, len(p.senders)),
		Receivers:      make(map[domain.TrackID]domain.ReceiverState, len(p.receivers)),
		ForceRelay:     p.forceRelay,
		IceServers:     p.iceServers,
		LocalSdp:       p.localSdp,
		RemoteSdp:      p.remoteSdp,
		RestartIce:     p.restartIce,
		IceCandidates:  append([]domain.IceCandidate{}, p.iceCandidates...),
	}
	if p.role != nil {
		role := *p.role
		st.NegotiationRole = &role
	}
	for id, s := range p.senders {
		st.Senders[id] = s.snapshot()
	}
	for id, r := range p.receivers {
		st.Receivers[id] = r.snapshot()
	}
	return st
}

// Apply brings the peer to a server snapshot and marks it Synced.
func (p *Peer) Apply(st domain.PeerState) {
	for id := range p.senders {
		if _, ok := st.Senders[id]; !ok {
			p.RemoveTrack(id)
		}
	}
	for id := range p.receivers {
		if _, ok := st.Receivers[id]; !ok {
			p.RemoveTrack(id)
		}
	}
	for id, ss := range st.Senders {
		if s, ok := p.senders[id]; ok {
			s.apply(ss)
			continue
		}
		if err := p.InsertTrack(SenderTrack(ss)); err != nil {
			log.Error().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Uint32("track_id", uint32(id)).Msg("insert synchronized sender")
		}
	}
	for id, rs := range st.Receivers {
		if r, ok := p.receivers[id]; ok {
			r.apply(rs)
			continue
		}
		if err := p.InsertTrack(ReceiverTrack(rs)); err != nil {
			log.Error().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Uint32("track_id", uint32(id)).Msg("insert synchronized receiver")
		}
	}

	p.restartIce = st.RestartIce
	for _, c := range st.IceCandidates {
		p.AddIceCandidate(c)
	}
	p.applyNegotiation(st)
	p.setSyncPhase(Synced)
}

// SenderTrack converts a snapshot sender back into a track.
func SenderTrack(s domain.SenderState) domain.Track {
	return domain.Track{
		ID:             s.ID,
		Direction:      domain.SendDirection(s.Mid, s.Receivers...),
		MediaDirection: s.MediaDirection,
		Muted:          s.Muted,
		MediaType:      s.MediaType,
	}
}

// ReceiverTrack converts a snapshot receiver back into a track.
func ReceiverTrack(r domain.ReceiverState) domain.Track {
	return domain.Track{
		ID:             r.ID,
		Direction:      domain.RecvDirection(r.Mid, r.SenderID),
		MediaDirection: r.MediaDirection,
		Muted:          r.Muted,
		MediaType:      r.MediaType,
	}
}

// ConnectionLost holds intentions back and pauses transition timeouts.
func (p *Peer) ConnectionLost() { p.setSyncPhase(Desynced) }

// ConnectionRecovered resumes the transition timeouts. Intentions are sent
// again once the server snapshot is applied.
func (p *Peer) ConnectionRecovered() {
	p.setSyncPhase(Syncing)
	for _, s := range p.senders {
		s.ctrl.resetTimeouts()
	}
	for _, r := range p.receivers {
		r.ctrl.resetTimeouts()
	}
}

func (p *Peer) setSyncPhase(phase SyncPhase) {
	if p.syncPhase == phase {
		return
	}
	p.syncPhase = phase
	log.Debug().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Str("phase", phase.String()).Msg("sync phase changed")
	for _, s := range p.Senders() {
		s.setSyncPhase(phase)
	}
	for _, r := range p.Receivers() {
		r.setSyncPhase(phase)
	}
	if phase == Synced && p.heldLocalSdp != nil {
		ev := p.heldLocalSdp
		p.heldLocalSdp = nil
		p.emit(ev)
	}
}

// Close releases local tracks, resolves every waiter and closes the
// platform connection.
func (p *Peer) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	for _, s := range p.senders {
		s.close()
	}
	for _, r := range p.receivers {
		r.close()
	}
	p.notifyStreamIdle()
	if err := p.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("close connection")
	}
	log.Info().Str("module", "peer").Uint32("peer_id", uint32(p.id)).Msg("peer closed")
}

// Await waits for every channel. The first error wins.
func Await(ctx context.Context, chans ...<-chan error) error {
	for _, ch := range chans {
		select {
		case err := <-ch:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
