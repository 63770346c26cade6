// Package connection tracks the remote members a client exchanges media
// with. A Connection exists while at least one track of any peer references
// its member.
package connection

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// ErrDetached is returned by a Handle whose Connection is closed.
var ErrDetached = errors.New("connection handle is in detached state")

// RemoteMediaTrack is a track received from the remote member.
type RemoteMediaTrack struct {
	PeerID    domain.PeerID
	TrackID   domain.TrackID
	MediaType domain.MediaType
	Track     core.RemoteTrack
}

// Notify runs an application callback. Callbacks must not run on the
// Executor goroutine, they may call back into the room.
type Notify func(fn func())

type callbacks struct {
	mu                   sync.Mutex
	onClose              func()
	onRemoteTrackAdded   func(RemoteMediaTrack)
	onQualityScoreUpdate func(uint8)
	onStateChange        func(domain.PeerConnectionState)
}

// Connection is the media relation with one remote member. Apart from the
// callback setters it is owned by the Executor goroutine.
type Connection struct {
	remoteID domain.MemberID
	exec     peer.Executor
	notify   Notify

	// recv starts as a copy of the room constraints and follows them, but
	// may be narrowed for this member only.
	recv      *media.RecvConstraints
	receivers []*peer.Receiver

	quality domain.ConnectionQualityScore
	state   domain.PeerConnectionState

	cb     callbacks
	closed atomic.Bool
}

func newConnection(remoteID domain.MemberID, exec peer.Executor, notify Notify, roomRecv *media.RecvConstraints) *Connection {
	recv := media.NewRecvConstraints()
	for _, kind := range []domain.MediaKind{domain.MediaKindAudio, domain.MediaKindVideo} {
		for _, source := range []domain.MediaSourceKind{domain.SourceDevice, domain.SourceDisplay} {
			recv.SetEnabled(roomRecv.Enabled(kind, source), kind, domain.OnlySource(source))
		}
	}
	return &Connection{
		remoteID: remoteID,
		exec:     exec,
		notify:   notify,
		recv:     recv,
	}
}

func (c *Connection) RemoteMemberID() domain.MemberID { return c.remoteID }

func (c *Connection) QualityScore() (domain.ConnectionQualityScore, bool) {
	return c.quality, c.quality != 0
}

func (c *Connection) State() domain.PeerConnectionState { return c.state }

func (c *Connection) Handle() *Handle { return &Handle{c: c} }

// addReceiver attaches r and brings it to the state this connection
// accepts.
func (c *Connection) addReceiver(r *peer.Receiver) {
	for _, have := range c.receivers {
		if have == r {
			return
		}
	}
	c.receivers = append(c.receivers, r)
	desired := mediastate.Of(mediastate.MediaExchange, c.recv.Enabled(r.Kind(), r.SourceKind()))
	if err := r.MediaStateTransitionTo(desired); err != nil {
		log.Warn().Err(err).Str("module", "connection").Str("member_id", string(c.remoteID)).
			Uint32("track_id", uint32(r.TrackID())).Msg("receiver transition")
	}
}

func (c *Connection) removeReceiver(peerID domain.PeerID, id domain.TrackID) {
	c.receivers = slices.DeleteFunc(c.receivers, func(r *peer.Receiver) bool {
		return r.PeerID() == peerID && r.TrackID() == id
	})
}

// AddRemoteTrack hands a negotiated remote track to the application.
func (c *Connection) AddRemoteTrack(t RemoteMediaTrack) {
	c.notify(func() {
		c.cb.mu.Lock()
		fn := c.cb.onRemoteTrackAdded
		c.cb.mu.Unlock()
		if fn != nil {
			fn(t)
		}
	})
}

// UpdateQualityScore reports the score when it changed.
func (c *Connection) UpdateQualityScore(score domain.ConnectionQualityScore) {
	if c.quality == score {
		return
	}
	c.quality = score
	c.notify(func() {
		c.cb.mu.Lock()
		fn := c.cb.onQualityScoreUpdate
		c.cb.mu.Unlock()
		if fn != nil {
			fn(uint8(score))
		}
	})
}

// UpdatePeerState reports the state of a peer carrying this member's media
// when it changed.
func (c *Connection) UpdatePeerState(s domain.PeerConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.notify(func() {
		c.cb.mu.Lock()
		fn := c.cb.onStateChange
		c.cb.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})
}

// setRecvEnabled follows a change of the room constraints.
func (c *Connection) setRecvEnabled(enabled bool, kind domain.MediaKind, filter domain.SourceFilter) {
	c.recv.SetEnabled(enabled, kind, filter)
}

func (c *Connection) close() {
	if c.closed.Swap(true) {
		return
	}
	c.receivers = nil
	log.Info().Str("module", "connection").Str("member_id", string(c.remoteID)).Msg("connection closed")
	c.notify(func() {
		c.cb.mu.Lock()
		fn := c.cb.onClose
		c.cb.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// changeMediaState drives the receivers of kind and source to desired and
// narrows this connection's constraints once they are stable.
func (c *Connection) changeMediaState(ctx context.Context, desired mediastate.MediaState, kind domain.MediaKind, filter domain.SourceFilter) error {
	var (
		waits  []<-chan error
		outErr error
	)
	if err := c.exec.Do(ctx, func() {
		if c.closed.Load() {
			outErr = errors.WithStack(ErrDetached)
			return
		}
		for _, r := range c.receivers {
			if r.Kind() != kind || !filter.Matches(r.SourceKind()) || !r.IsSubscriptionNeeded(desired) {
				continue
			}
			if err := r.MediaStateTransitionTo(desired); err != nil {
				outErr = err
				return
			}
			waits = append(waits, r.WhenMediaStateStable(desired))
		}
	}); err != nil {
		return errors.WithStack(ErrDetached)
	}
	if outErr != nil {
		return outErr
	}
	if err := peer.Await(ctx, waits...); err != nil {
		return err
	}
	c.recv.SetEnabled(desired.On(), kind, filter)
	return nil
}
