package rpc

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

var (
	ErrNoCredentials         = errors.New("rpc session has no credentials to authorize with")
	ErrSessionFinished       = errors.New("rpc session is finished")
	ErrAuthorizationFailed   = errors.New("failed to authorize rpc session")
	ErrConnectionLost        = errors.New("connection with the server was lost")
	ErrConnectionInfoChanged = errors.New("changing connection info of an active session is not supported")
)

// ConnectionLostError is ErrConnectionLost with the transport failure that
// caused it.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	if e.Err == nil {
		return ErrConnectionLost.Error()
	}
	return ErrConnectionLost.Error() + ": " + e.Err.Error()
}

func (e *ConnectionLostError) Is(target error) bool { return target == ErrConnectionLost }

func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Options tune a WebSocketSession. Zero values fall back to defaults.
type Options struct {
	// IdleTimeout and PingInterval are used until the server sends its
	// RpcSettings.
	IdleTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 3 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	return o
}

type sessionState int

const (
	stateUninitialized sessionState = iota
	stateConnecting
	stateAuthorizing
	stateOpened
	stateLost
	stateFinished
)

var stateNames = [...]string{"Uninitialized", "Connecting", "Authorizing", "Opened", "Lost", "Finished"}

func (s sessionState) String() string { return stateNames[s] }

// WebSocketSession is a core.RpcSession over a WebSocket. A session joins
// one room and can be reconnected after a loss until it is finished.
type WebSocketSession struct {
	opts Options

	// connectMu serializes handshakes.
	connectMu sync.Mutex

	mu           sync.Mutex
	state        sessionState
	info         *core.ConnectionInfo
	tr           *transport
	canReconnect bool
	joined       chan error

	subsMu      sync.Mutex
	events      []chan domain.Event
	losses      []chan struct{}
	reconnects  []chan struct{}
	normalClose []chan domain.CloseReason

	finished chan struct{}
	finish   sync.Once
}

var _ core.RpcSession = (*WebSocketSession)(nil)

func NewWebSocketSession(opts Options) *WebSocketSession {
	return &WebSocketSession{
		opts:     opts.withDefaults(),
		finished: make(chan struct{}),
	}
}

// Connect joins the room described by info. Calling it again with the same
// info while connected is a no-op.
func (s *WebSocketSession) Connect(ctx context.Context, info core.ConnectionInfo) error {
	s.mu.Lock()
	switch s.state {
	case stateFinished:
		s.mu.Unlock()
		return errors.WithStack(ErrSessionFinished)
	case stateAuthorizing, stateOpened:
		if *s.info != info {
			s.mu.Unlock()
			return errors.WithStack(ErrConnectionInfoChanged)
		}
	default:
		s.info = &info
	}
	s.mu.Unlock()
	return s.connect(ctx)
}

// Reconnect re-establishes a lost session with the last connection info.
func (s *WebSocketSession) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == stateFinished:
		s.mu.Unlock()
		return errors.WithStack(ErrSessionFinished)
	case s.info == nil:
		s.mu.Unlock()
		return errors.WithStack(ErrNoCredentials)
	}
	s.mu.Unlock()
	return s.connect(ctx)
}

func (s *WebSocketSession) connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.state == stateOpened {
		s.mu.Unlock()
		return nil
	}
	if s.state == stateFinished {
		s.mu.Unlock()
		return errors.WithStack(ErrSessionFinished)
	}
	info := *s.info
	s.state = stateConnecting
	s.mu.Unlock()

	log.Info().Str("module", "rpc").Str("url", info.URL).Str("room_id", string(info.RoomID)).Msg("connecting")
	tr, err := dial(ctx, s.opts.Dialer, info.URL, s.opts)
	if err != nil {
		s.mu.Lock()
		if s.state == stateConnecting {
			s.state = stateLost
		}
		s.mu.Unlock()
		return errors.WithStack(&ConnectionLostError{Err: err})
	}

	joined := make(chan error, 1)
	s.mu.Lock()
	if s.state != stateConnecting {
		s.mu.Unlock()
		tr.closeWith(websocket.CloseNormalClosure, "")
		return errors.WithStack(ErrSessionFinished)
	}
	s.tr = tr
	s.joined = joined
	s.state = stateAuthorizing
	s.mu.Unlock()

	tr.start(
		func(msg domain.ServerMsg) { s.onMessage(tr, msg) },
		func(ci closeInfo) { s.onTransportClosed(tr, ci) },
	)
	if err := tr.sendMsg(domain.ClientMsg{
		RoomID:  info.RoomID,
		Command: domain.JoinRoom{MemberID: info.MemberID, Credential: info.Credential},
	}); err != nil {
		tr.closeWith(websocket.CloseNormalClosure, "")
		return errors.WithStack(&ConnectionLostError{Err: err})
	}

	select {
	case err := <-joined:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		tr.closeWith(websocket.CloseNormalClosure, "")
		return ctx.Err()
	}

	s.mu.Lock()
	reconnected := s.canReconnect
	s.mu.Unlock()
	log.Info().Str("module", "rpc").Str("room_id", string(info.RoomID)).
		Str("member_id", string(info.MemberID)).Bool("reconnected", reconnected).Msg("session opened")
	if reconnected {
		s.broadcastSignal(&s.reconnects)
	}
	return nil
}

func (s *WebSocketSession) onMessage(tr *transport, msg domain.ServerMsg) {
	switch {
	case msg.Ping != nil:
		if err := tr.pong(*msg.Ping); err != nil {
			log.Warn().Err(err).Str("module", "rpc").Msg("pong")
		}
	case msg.Settings != nil:
		tr.applySettings(*msg.Settings)
	case msg.Event != nil:
		s.onEvent(tr, msg.RoomID, msg.Event)
	}
}

func (s *WebSocketSession) onEvent(tr *transport, roomID domain.RoomID, ev domain.Event) {
	s.mu.Lock()
	if s.tr != tr || s.info == nil || s.info.RoomID != roomID {
		s.mu.Unlock()
		log.Warn().Str("module", "rpc").Str("room_id", string(roomID)).Str("event", domain.EventName(ev)).Msg("event for another room")
		return
	}
	state := s.state
	switch e := ev.(type) {
	case domain.RoomJoined:
		if state == stateAuthorizing && e.MemberID == s.info.MemberID {
			s.state = stateOpened
			s.resolveJoinLocked(nil)
		}
		s.mu.Unlock()
		return
	case domain.RoomLeft:
		switch state {
		case stateAuthorizing:
			s.state = stateUninitialized
			s.resolveJoinLocked(errors.Wrap(ErrAuthorizationFailed, string(e.CloseReason)))
			s.mu.Unlock()
			tr.closeWith(websocket.CloseNormalClosure, "")
		case stateOpened:
			s.mu.Unlock()
			s.finishByServer(e.CloseReason)
			tr.closeWith(websocket.CloseNormalClosure, "")
		default:
			s.mu.Unlock()
		}
		return
	}
	s.mu.Unlock()
	if state != stateOpened {
		return
	}
	s.subsMu.Lock()
	subs := append([]chan domain.Event(nil), s.events...)
	s.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-s.finished:
			return
		}
	}
}

func (s *WebSocketSession) resolveJoinLocked(err error) {
	if s.joined != nil {
		s.joined <- err
		s.joined = nil
	}
}

func (s *WebSocketSession) onTransportClosed(tr *transport, ci closeInfo) {
	s.mu.Lock()
	if s.tr != tr {
		s.mu.Unlock()
		return
	}
	s.tr = nil
	if ci.normal {
		s.mu.Unlock()
		s.finishByServer(ci.reason)
		return
	}
	wasOpened := s.state == stateOpened
	switch s.state {
	case stateConnecting, stateAuthorizing, stateOpened:
		s.state = stateLost
	}
	if wasOpened {
		s.canReconnect = true
	}
	s.resolveJoinLocked(errors.WithStack(&ConnectionLostError{Err: ci.err}))
	s.mu.Unlock()

	if wasOpened {
		log.Warn().Err(ci.err).Str("module", "rpc").Msg("connection lost")
		s.broadcastSignal(&s.losses)
	}
}

func (s *WebSocketSession) finishByServer(reason domain.CloseReason) {
	s.mu.Lock()
	if s.state == stateFinished {
		s.mu.Unlock()
		return
	}
	s.state = stateFinished
	s.resolveJoinLocked(errors.Wrap(ErrSessionFinished, string(reason)))
	s.mu.Unlock()
	log.Info().Str("module", "rpc").Str("reason", string(reason)).Msg("session finished by server")

	s.subsMu.Lock()
	subs := s.normalClose
	s.normalClose = nil
	s.subsMu.Unlock()
	for _, ch := range subs {
		ch <- reason
		close(ch)
	}
	s.finish.Do(func() { close(s.finished) })
}

// broadcastSignal hands a notification to every subscriber. It waits for
// each to take it so losses and reconnects are observed in order.
func (s *WebSocketSession) broadcastSignal(list *[]chan struct{}) {
	s.subsMu.Lock()
	subs := append([]chan struct{}(nil), *list...)
	s.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		case <-s.finished:
			return
		}
	}
}

func (s *WebSocketSession) Subscribe() <-chan domain.Event {
	ch := make(chan domain.Event, 64)
	s.subsMu.Lock()
	s.events = append(s.events, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *WebSocketSession) OnConnectionLoss() <-chan struct{} {
	ch := make(chan struct{})
	s.subsMu.Lock()
	s.losses = append(s.losses, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *WebSocketSession) OnReconnected() <-chan struct{} {
	ch := make(chan struct{})
	s.subsMu.Lock()
	s.reconnects = append(s.reconnects, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *WebSocketSession) OnNormalClose() <-chan domain.CloseReason {
	ch := make(chan domain.CloseReason, 1)
	s.subsMu.Lock()
	s.normalClose = append(s.normalClose, ch)
	s.subsMu.Unlock()
	return ch
}

// SendCommand sends cmd if the session is open and drops it otherwise.
// Commands lost this way are recovered by state synchronization after a
// reconnect.
func (s *WebSocketSession) SendCommand(cmd domain.Command) {
	s.mu.Lock()
	if s.state != stateOpened || s.tr == nil {
		state := s.state
		s.mu.Unlock()
		log.Debug().Str("module", "rpc").Str("command", domain.CommandName(cmd)).Stringer("state", state).Msg("command dropped, session is not open")
		return
	}
	tr, room := s.tr, s.info.RoomID
	s.mu.Unlock()

	log.Debug().Str("module", "rpc").Str("command", domain.CommandName(cmd)).Msg("send command")
	if err := tr.sendMsg(domain.ClientMsg{RoomID: room, Command: cmd}); err != nil {
		log.Error().Err(err).Str("module", "rpc").Str("command", domain.CommandName(cmd)).Msg("send command")
	}
}

// CloseWithReason leaves the room and closes the socket with the code of
// reason. The session can not be used afterwards.
func (s *WebSocketSession) CloseWithReason(reason domain.ClientDisconnect) {
	s.mu.Lock()
	if s.state == stateFinished {
		s.mu.Unlock()
		return
	}
	tr := s.tr
	if tr != nil && s.state == stateOpened {
		_ = tr.sendMsg(domain.ClientMsg{RoomID: s.info.RoomID, Command: domain.LeaveRoom{MemberID: s.info.MemberID}})
	}
	s.state = stateFinished
	s.resolveJoinLocked(errors.WithStack(ErrSessionFinished))
	s.mu.Unlock()

	log.Info().Str("module", "rpc").Stringer("reason", reason).Msg("closing session")
	if tr != nil {
		text, _ := json.Marshal(map[string]domain.ClientDisconnect{"reason": reason})
		tr.closeWith(reason.Code(), string(text))
	}

	s.subsMu.Lock()
	subs := s.normalClose
	s.normalClose = nil
	s.subsMu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	s.finish.Do(func() { close(s.finished) })
}
