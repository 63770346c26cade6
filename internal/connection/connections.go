package connection

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
)

// trackKey identifies a track: track ids are only unique within a peer.
type trackKey struct {
	peer  domain.PeerID
	track domain.TrackID
}

// Connections indexes the Connection of every remote member by the tracks
// that reference it. It is owned by the Executor goroutine, except for
// OnNewConnection.
type Connections struct {
	exec   peer.Executor
	notify Notify
	recv   *media.RecvConstraints

	byTrack  map[trackKey]map[domain.MemberID]struct{}
	byMember map[domain.MemberID]map[trackKey]struct{}
	conns    map[domain.MemberID]*Connection

	mu    sync.Mutex
	onNew func(*Handle)
}

func New(exec peer.Executor, notify Notify, recv *media.RecvConstraints) *Connections {
	return &Connections{
		exec:     exec,
		notify:   notify,
		recv:     recv,
		byTrack:  make(map[trackKey]map[domain.MemberID]struct{}),
		byMember: make(map[domain.MemberID]map[trackKey]struct{}),
		conns:    make(map[domain.MemberID]*Connection),
	}
}

// OnNewConnection is called once per remote member, when the first track
// referencing it appears.
func (cs *Connections) OnNewConnection(fn func(*Handle)) {
	cs.mu.Lock()
	cs.onNew = fn
	cs.mu.Unlock()
}

func (cs *Connections) Get(member domain.MemberID) (*Connection, bool) {
	c, ok := cs.conns[member]
	return c, ok
}

func (cs *Connections) Len() int { return len(cs.conns) }

// Members returns the members with a connection in ascending order.
func (cs *Connections) Members() []domain.MemberID {
	out := make([]domain.MemberID, 0, len(cs.conns))
	for m := range cs.conns {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Update sets the members referenced by a track, creating and closing
// connections as needed. It returns the connections of members.
func (cs *Connections) Update(peerID domain.PeerID, trackID domain.TrackID, members []domain.MemberID) []*Connection {
	key := trackKey{peer: peerID, track: trackID}
	want := make(map[domain.MemberID]struct{}, len(members))
	for _, m := range members {
		want[m] = struct{}{}
	}
	for m := range cs.byTrack[key] {
		if _, ok := want[m]; !ok {
			cs.unlink(key, m)
		}
	}
	out := make([]*Connection, 0, len(members))
	for _, m := range members {
		out = append(out, cs.link(key, m))
	}
	if len(want) == 0 {
		delete(cs.byTrack, key)
	}
	return out
}

func (cs *Connections) link(key trackKey, m domain.MemberID) *Connection {
	if cs.byTrack[key] == nil {
		cs.byTrack[key] = make(map[domain.MemberID]struct{})
	}
	cs.byTrack[key][m] = struct{}{}
	if cs.byMember[m] == nil {
		cs.byMember[m] = make(map[trackKey]struct{})
	}
	cs.byMember[m][key] = struct{}{}

	if c, ok := cs.conns[m]; ok {
		return c
	}
	c := newConnection(m, cs.exec, cs.notify, cs.recv)
	cs.conns[m] = c
	log.Info().Str("module", "connection").Str("member_id", string(m)).Msg("connection created")

	h := c.Handle()
	cs.notify(func() {
		cs.mu.Lock()
		fn := cs.onNew
		cs.mu.Unlock()
		if fn != nil {
			fn(h)
		}
	})
	return c
}

func (cs *Connections) unlink(key trackKey, m domain.MemberID) {
	delete(cs.byTrack[key], m)
	tracks := cs.byMember[m]
	delete(tracks, key)
	c, ok := cs.conns[m]
	if !ok {
		return
	}
	c.removeReceiver(key.peer, key.track)
	if len(tracks) == 0 {
		delete(cs.byMember, m)
		delete(cs.conns, m)
		c.close()
	}
}

// AddReceiver links the receiver's sender and attaches the receiver to its
// connection.
func (cs *Connections) AddReceiver(r *peer.Receiver) {
	for _, c := range cs.Update(r.PeerID(), r.TrackID(), []domain.MemberID{r.SenderID()}) {
		c.addReceiver(r)
	}
}

// Remove forgets the given tracks of a peer.
func (cs *Connections) Remove(peerID domain.PeerID, trackIDs ...domain.TrackID) {
	for _, id := range trackIDs {
		key := trackKey{peer: peerID, track: id}
		for m := range cs.byTrack[key] {
			cs.unlink(key, m)
		}
		delete(cs.byTrack, key)
	}
}

// RemovePeer forgets every track of a peer.
func (cs *Connections) RemovePeer(peerID domain.PeerID) {
	for key := range cs.byTrack {
		if key.peer == peerID {
			cs.Remove(peerID, key.track)
		}
	}
}

// SyncPeer brings the index in line with the current tracks of p.
func (cs *Connections) SyncPeer(p *peer.Peer) {
	seen := make(map[domain.TrackID]struct{})
	for _, s := range p.Senders() {
		seen[s.TrackID()] = struct{}{}
		cs.Update(p.ID(), s.TrackID(), s.Receivers())
	}
	for _, r := range p.Receivers() {
		seen[r.TrackID()] = struct{}{}
		cs.AddReceiver(r)
	}
	for key := range cs.byTrack {
		if _, ok := seen[key.track]; key.peer == p.ID() && !ok {
			cs.Remove(key.peer, key.track)
		}
	}
}

// Apply rebuilds the index from a synchronized set of peers. Connections
// nothing references any more are closed.
func (cs *Connections) Apply(peers []*peer.Peer) {
	alive := make(map[domain.PeerID]struct{}, len(peers))
	for _, p := range peers {
		alive[p.ID()] = struct{}{}
		cs.SyncPeer(p)
	}
	for key := range cs.byTrack {
		if _, ok := alive[key.peer]; !ok {
			cs.Remove(key.peer, key.track)
		}
	}
}

// IterByTrack returns the connections referenced by a track.
func (cs *Connections) IterByTrack(peerID domain.PeerID, trackID domain.TrackID) []*Connection {
	var out []*Connection
	for m := range cs.byTrack[trackKey{peer: peerID, track: trackID}] {
		if c, ok := cs.conns[m]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SetRecvEnabled propagates a room receive constraint to every connection.
func (cs *Connections) SetRecvEnabled(enabled bool, kind domain.MediaKind, filter domain.SourceFilter) {
	for _, c := range cs.conns {
		c.setRecvEnabled(enabled, kind, filter)
	}
}

// Close closes every connection.
func (cs *Connections) Close() {
	for m, c := range cs.conns {
		c.close()
		delete(cs.conns, m)
	}
	clear(cs.byTrack)
	clear(cs.byMember)
}
