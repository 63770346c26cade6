package peer

import (
	"sync"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
)

// Event is something a peer reports to the room that owns it.
type Event interface {
	peerEvent()
}

type IceCandidateDiscovered struct {
	PeerID    domain.PeerID
	Candidate domain.IceCandidate
}

type IceCandidateError struct {
	PeerID domain.PeerID
	Error  domain.IceCandidateError
}

// NewRemoteTrack is a remote track delivered on a receiver's transceiver.
type NewRemoteTrack struct {
	PeerID    domain.PeerID
	TrackID   domain.TrackID
	SenderID  domain.MemberID
	MediaType domain.MediaType
	Track     core.RemoteTrack
}

// NewLocalTrack is a local track captured while updating a peer's stream.
type NewLocalTrack struct {
	Track *media.LocalTrack
}

type IceConnectionStateChanged struct {
	PeerID domain.PeerID
	State  domain.IceConnectionState
}

type PeerConnectionStateChanged struct {
	PeerID domain.PeerID
	State  domain.PeerConnectionState
}

type StatsUpdate struct {
	PeerID domain.PeerID
	Stats  domain.RtcStats
}

// FailedLocalMedia is reported whenever local media could not be acquired,
// including updates the server initiated.
type FailedLocalMedia struct {
	Err error
}

type NewSdpOffer struct {
	PeerID               domain.PeerID
	SdpOffer             string
	Mids                 map[domain.TrackID]string
	TransceiversStatuses map[domain.TrackID]bool
}

type NewSdpAnswer struct {
	PeerID               domain.PeerID
	SdpAnswer            string
	TransceiversStatuses map[domain.TrackID]bool
}

// MediaUpdateCommand carries a command the room must send as is.
type MediaUpdateCommand struct {
	Command domain.Command
}

func (IceCandidateDiscovered) peerEvent()     {}
func (IceCandidateError) peerEvent()          {}
func (NewRemoteTrack) peerEvent()             {}
func (NewLocalTrack) peerEvent()              {}
func (IceConnectionStateChanged) peerEvent()  {}
func (PeerConnectionStateChanged) peerEvent() {}
func (StatsUpdate) peerEvent()                {}
func (FailedLocalMedia) peerEvent()           {}
func (NewSdpOffer) peerEvent()                {}
func (NewSdpAnswer) peerEvent()               {}
func (MediaUpdateCommand) peerEvent()         {}

// Queue is an unbounded FIFO of peer events. Push never blocks, so platform
// callbacks can publish from any goroutine.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled after a Push. A single signal may stand for several
// events, consumers must Drain.
func (q *Queue) Ready() <-chan struct{} { return q.notify }

// Drain returns every queued event in push order.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
