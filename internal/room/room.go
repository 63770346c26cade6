// Package room is the client side of a media server room: it keeps the
// peers in sync with the server over the RPC session and drives their media
// state on behalf of the application.
package room

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/connection"
	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
	"github.com/dkeye/VoiceRoom/internal/rpc"
)

type Config struct {
	Session       core.RpcSession
	Devices       core.MediaDevices
	NewConnection peer.ConnectionFactory
	// Settings are the initial send constraints, see media.DefaultSettings.
	Settings media.MediaStreamSettings
	// TransitionTimeout bounds how long a track waits for the server to
	// confirm a media state change.
	TransitionTimeout time.Duration
}

type callbacks struct {
	mu                 sync.Mutex
	onClose            func(RoomCloseReason)
	onLocalTrack       func(*media.LocalTrack)
	onFailedLocalMedia func(error)
	onConnectionLoss   func(core.ReconnectHandle)
}

// Room owns the peers and connections of one joined room. Everything it
// owns is touched only on its loop goroutine; handles and background work
// get there through Post and Do.
type Room struct {
	rpc     core.RpcSession
	manager *media.Manager
	send    *media.LocalTracksConstraints
	recv    *media.RecvConstraints
	events  *peer.Queue
	peers   *peer.Repository
	conns   *connection.Connections

	cb   callbacks
	disp *dispatcher

	ops      chan func()
	done     chan struct{}
	loopDone chan struct{}

	mu          sync.Mutex
	closeReason CloseReason

	disposed    atomic.Bool
	disposeOnce sync.Once
}

var _ peer.Executor = (*Room)(nil)

// New creates a room over cfg.Session and starts its loop. The room is
// released by Dispose.
func New(cfg Config) *Room {
	r := &Room{
		rpc:         cfg.Session,
		manager:     media.NewManager(cfg.Devices),
		send:        media.NewLocalTracksConstraints(cfg.Settings),
		recv:        media.NewRecvConstraints(),
		events:      peer.NewQueue(),
		disp:        newDispatcher(),
		ops:         make(chan func(), 64),
		done:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		closeReason: defaultCloseReason(),
	}
	r.peers = peer.NewRepository(peer.Config{
		Exec:              r,
		Events:            r.events,
		Manager:           r.manager,
		SendConstraints:   r.send,
		RecvConstraints:   r.recv,
		NewConnection:     cfg.NewConnection,
		TransitionTimeout: cfg.TransitionTimeout,
	})
	r.conns = connection.New(r, r.disp.notify, r.recv)

	go r.run(r.rpc.Subscribe(), r.rpc.OnConnectionLoss(), r.rpc.OnReconnected(), r.rpc.OnNormalClose())
	return r
}

// Handle returns a new handle to the room.
func (r *Room) Handle() *Handle { return &Handle{r: r} }

func (r *Room) run(events <-chan domain.Event, lost, reconnected <-chan struct{}, normalClose <-chan domain.CloseReason) {
	defer close(r.loopDone)
	for {
		select {
		case <-r.done:
			return
		case fn := <-r.ops:
			fn()
		case <-r.events.Ready():
			for _, ev := range r.events.Drain() {
				r.onPeerEvent(ev)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.onRpcEvent(ev)
		case _, ok := <-lost:
			if !ok {
				lost = nil
				continue
			}
			r.onConnectionLost()
		case _, ok := <-reconnected:
			if !ok {
				reconnected = nil
				continue
			}
			r.onConnectionRecovered()
		case reason, ok := <-normalClose:
			if !ok {
				normalClose = nil
				continue
			}
			log.Info().Str("module", "room").Str("reason", string(reason)).Msg("room closed by server")
			r.SetCloseReason(ByServer(reason))
			go r.Dispose()
		}
	}
}

// Post runs fn on the loop. It is dropped once the room is disposed.
func (r *Room) Post(fn func()) {
	select {
	case r.ops <- fn:
	case <-r.done:
	}
}

// Do runs fn on the loop and waits for it.
func (r *Room) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(finished) }:
	case <-r.done:
		return errors.WithStack(ErrDetached)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-r.done:
		return errors.WithStack(ErrDetached)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify queues an application callback.
func (r *Room) notify(fn func()) { r.disp.notify(fn) }

func (r *Room) onConnectionLost() {
	log.Warn().Str("module", "room").Msg("connection lost")
	r.peers.ConnectionLost()

	handle := rpc.NewReconnectHandle(r.rpc, func() bool { return !r.disposed.Load() })
	r.notify(func() {
		r.cb.mu.Lock()
		fn := r.cb.onConnectionLoss
		r.cb.mu.Unlock()
		if fn != nil {
			fn(handle)
		}
	})
}

func (r *Room) onConnectionRecovered() {
	log.Info().Str("module", "room").Msg("connection recovered")
	r.peers.ConnectionRecovered()
	r.rpc.SendCommand(domain.SynchronizeMe{State: r.peers.Snapshot()})
}

// SetCloseReason sets the reason OnClose is called with on Dispose.
func (r *Room) SetCloseReason(reason CloseReason) {
	r.mu.Lock()
	r.closeReason = reason
	r.mu.Unlock()
}

// Close disposes the room with reason.
func (r *Room) Close(reason CloseReason) {
	r.SetCloseReason(reason)
	r.Dispose()
}

// Dispose stops the room and invokes OnClose exactly once. A session the
// client closes is closed with the client reason in the background. It
// must not be called from the loop.
func (r *Room) Dispose() {
	r.disposeOnce.Do(func() {
		r.disposed.Store(true)
		close(r.done)
		<-r.loopDone

		r.conns.Close()
		r.peers.Close()

		r.mu.Lock()
		reason := r.closeReason
		r.mu.Unlock()
		if !reason.byServer {
			go r.rpc.CloseWithReason(reason.client)
		}

		info := reason.info()
		log.Info().Str("module", "room").Str("reason", info.Reason).Bool("by_server", info.IsClosedByServer).
			Bool("is_err", info.IsErr).Msg("room closed")
		r.notify(func() {
			r.cb.mu.Lock()
			fn := r.cb.onClose
			r.cb.mu.Unlock()
			if fn != nil {
				fn(info)
			}
		})
		r.disp.stop()
	})
}

// Done is closed once the room is disposed.
func (r *Room) Done() <-chan struct{} { return r.done }
