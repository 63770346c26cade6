package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/core/mocks"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

const waitTimeout = 2 * time.Second

type serverConn struct {
	ws       *websocket.Conn
	mu       sync.Mutex
	received chan domain.ClientMsg
	closed   chan *websocket.CloseError
}

func (c *serverConn) send(m domain.ServerMsg) error {
	b, err := domain.EncodeServerMsg(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *serverConn) write(t *testing.T, m domain.ServerMsg) {
	t.Helper()
	if err := c.send(m); err != nil {
		t.Fatal(err)
	}
}

func (c *serverConn) event(t *testing.T, room domain.RoomID, ev domain.Event) {
	t.Helper()
	c.write(t, domain.ServerMsg{RoomID: room, Event: ev})
}

func (c *serverConn) closeWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

// next waits for the next client message that matches keep.
func (c *serverConn) next(t *testing.T, keep func(domain.ClientMsg) bool) domain.ClientMsg {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case m := <-c.received:
			if keep(m) {
				return m
			}
		case <-deadline:
			t.Fatal("no client message")
		}
	}
}

func isCommand[T domain.Command](m domain.ClientMsg) bool {
	_, ok := m.Command.(T)
	return ok
}

// fakeServer accepts clients and joins them unless reject is set.
type fakeServer struct {
	srv      *httptest.Server
	conns    chan *serverConn
	settings domain.RpcSettings
	reject   bool
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		conns:    make(chan *serverConn, 4),
		settings: domain.RpcSettings{IdleTimeoutMs: 10_000, PingIntervalMs: 3_000},
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &serverConn{
			ws:       ws,
			received: make(chan domain.ClientMsg, 64),
			closed:   make(chan *websocket.CloseError, 1),
		}
		settings := fs.settings
		_ = c.send(domain.ServerMsg{Settings: &settings})
		fs.conns <- c
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					c.closed <- ce
				}
				return
			}
			m, err := domain.DecodeClientMsg(data)
			if err != nil {
				t.Errorf("bad client message: %v", err)
				return
			}
			if join, ok := m.Command.(domain.JoinRoom); ok {
				var reply domain.Event = domain.RoomJoined{MemberID: join.MemberID}
				if fs.reject {
					reply = domain.RoomLeft{CloseReason: domain.CloseRejected}
				}
				_ = c.send(domain.ServerMsg{RoomID: m.RoomID, Event: reply})
			}
			c.received <- m
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) info() core.ConnectionInfo {
	return core.ConnectionInfo{
		URL:        "ws" + strings.TrimPrefix(fs.srv.URL, "http"),
		RoomID:     "room1",
		MemberID:   "alice",
		Credential: "secret",
	}
}

func (fs *fakeServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("client did not connect")
		return nil
	}
}

func connected(t *testing.T, fs *fakeServer, opts Options) (*WebSocketSession, *serverConn) {
	t.Helper()
	s := NewWebSocketSession(opts)
	t.Cleanup(func() { s.CloseWithReason(domain.RoomClosed) })
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := s.Connect(ctx, fs.info()); err != nil {
		t.Fatal(err)
	}
	return s, fs.accept(t)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("nothing received")
		var zero T
		return zero
	}
}

func TestConnectJoinsRoomAndRoutesEvents(t *testing.T) {
	fs := newFakeServer(t)
	s, c := connected(t, fs, Options{})
	events := s.Subscribe()

	join := c.next(t, isCommand[domain.JoinRoom])
	if join.RoomID != "room1" || join.Command.(domain.JoinRoom).MemberID != "alice" || join.Command.(domain.JoinRoom).Credential != "secret" {
		t.Fatalf("join = %+v", join)
	}

	c.event(t, "other", domain.PeersRemoved{PeerIDs: []domain.PeerID{9}})
	c.event(t, "room1", domain.PeersRemoved{PeerIDs: []domain.PeerID{1}})
	ev := receive(t, events)
	if got, ok := ev.(domain.PeersRemoved); !ok || got.PeerIDs[0] != 1 {
		t.Fatalf("event = %#v", ev)
	}

	s.SendCommand(domain.SetIceCandidate{PeerID: 1})
	cmd := c.next(t, isCommand[domain.SetIceCandidate])
	if cmd.RoomID != "room1" || cmd.Command.(domain.SetIceCandidate).PeerID != 1 {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	fs := newFakeServer(t)
	_, c := connected(t, fs, Options{})

	n := uint32(7)
	c.write(t, domain.ServerMsg{Ping: &n})
	pong := c.next(t, func(m domain.ClientMsg) bool { return m.Pong != nil })
	if *pong.Pong != 7 {
		t.Fatalf("pong = %d", *pong.Pong)
	}
}

func TestRejectedJoin(t *testing.T) {
	fs := newFakeServer(t)
	fs.reject = true
	s := NewWebSocketSession(Options{})
	defer s.CloseWithReason(domain.RoomClosed)

	err := s.Connect(context.Background(), fs.info())
	if !errors.Is(err, ErrAuthorizationFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestLossThenReconnect(t *testing.T) {
	fs := newFakeServer(t)
	s, c := connected(t, fs, Options{})
	lost := s.OnConnectionLoss()
	reconnected := s.OnReconnected()

	// Dropping the socket without a close frame is a loss.
	_ = c.ws.NetConn().Close()
	receive(t, lost)

	// Commands sent while lost are dropped.
	s.SendCommand(domain.SetIceCandidate{PeerID: 1})

	errc := make(chan error, 1)
	go func() { errc <- s.Reconnect(context.Background()) }()
	receive(t, reconnected)
	if err := receive(t, errc); err != nil {
		t.Fatal(err)
	}

	c2 := fs.accept(t)
	c2.next(t, isCommand[domain.JoinRoom])
	s.SendCommand(domain.SetIceCandidate{PeerID: 2})
	if cmd := c2.next(t, isCommand[domain.SetIceCandidate]); cmd.Command.(domain.SetIceCandidate).PeerID != 2 {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestFirstConnectFailureIsNotALoss(t *testing.T) {
	s := NewWebSocketSession(Options{})
	defer s.CloseWithReason(domain.RoomClosed)
	lost := s.OnConnectionLoss()

	info := core.ConnectionInfo{URL: "ws://127.0.0.1:1/", RoomID: "room1", MemberID: "alice"}
	if err := s.Connect(context.Background(), info); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("err = %v", err)
	}
	select {
	case <-lost:
		t.Fatal("loss reported before the session was ever opened")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectFailureKeepsCause(t *testing.T) {
	s := NewWebSocketSession(Options{})
	defer s.CloseWithReason(domain.RoomClosed)
	info := core.ConnectionInfo{URL: "ws://127.0.0.1:1/", RoomID: "room1", MemberID: "alice"}

	err := s.Connect(context.Background(), info)
	var opErr *net.OpError
	if !errors.Is(err, ErrConnectionLost) || !errors.As(err, &opErr) {
		t.Fatalf("err = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Connect(ctx, info)
	if !errors.Is(err, ErrConnectionLost) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	var lost *ConnectionLostError
	if !errors.As(err, &lost) || lost.Err == nil {
		t.Fatalf("err = %#v", err)
	}
}

func TestConnectWithOtherInfoIsRejected(t *testing.T) {
	fs := newFakeServer(t)
	s, _ := connected(t, fs, Options{})

	info := fs.info()
	info.MemberID = "bob"
	if err := s.Connect(context.Background(), info); !errors.Is(err, ErrConnectionInfoChanged) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Connect(context.Background(), fs.info()); err != nil {
		t.Fatalf("same info must be a no-op: %v", err)
	}
}

func TestNormalCloseByServer(t *testing.T) {
	fs := newFakeServer(t)
	s, c := connected(t, fs, Options{})
	closed := s.OnNormalClose()

	c.closeWith(websocket.CloseNormalClosure, `{"reason":"Evicted"}`)
	if reason := receive(t, closed); reason != domain.CloseEvicted {
		t.Fatalf("reason = %q", reason)
	}
	if err := s.Reconnect(context.Background()); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("reconnect after finish: %v", err)
	}
}

func TestAbnormalCloseIsALoss(t *testing.T) {
	fs := newFakeServer(t)
	s, c := connected(t, fs, Options{})
	lost := s.OnConnectionLoss()

	c.closeWith(4000, "")
	receive(t, lost)
}

func TestCloseWithReasonLeavesRoom(t *testing.T) {
	fs := newFakeServer(t)
	s, c := connected(t, fs, Options{})

	s.CloseWithReason(domain.CloseForReconnection)
	leave := c.next(t, isCommand[domain.LeaveRoom])
	if leave.Command.(domain.LeaveRoom).MemberID != "alice" {
		t.Fatalf("leave = %+v", leave)
	}
	ce := receive(t, c.closed)
	if ce.Code != 3000 || ce.Text != `{"reason":"CloseForReconnection"}` {
		t.Fatalf("close frame = %d %q", ce.Code, ce.Text)
	}
	if err := s.Connect(context.Background(), fs.info()); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("connect after close: %v", err)
	}
}

func TestIdleServerIsNudgedThenLost(t *testing.T) {
	fs := newFakeServer(t)
	fs.settings = domain.RpcSettings{IdleTimeoutMs: 300, PingIntervalMs: 50}
	s, c := connected(t, fs, Options{})
	lost := s.OnConnectionLoss()

	nudge := c.next(t, func(m domain.ClientMsg) bool { return m.Pong != nil })
	if *nudge.Pong != 1 {
		t.Fatalf("nudge = %d", *nudge.Pong)
	}
	receive(t, lost)
}

func TestReconnectWithBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockRpcSession(ctrl)
	gomock.InOrder(
		session.EXPECT().Reconnect(gomock.Any()).Return(ErrConnectionLost),
		session.EXPECT().Reconnect(gomock.Any()).Return(ErrConnectionLost),
		session.EXPECT().Reconnect(gomock.Any()).Return(nil),
	)
	h := NewReconnectHandle(session, func() bool { return true })
	if err := h.ReconnectWithBackoff(context.Background(), time.Millisecond, 2, 10*time.Millisecond, 0); err != nil {
		t.Fatal(err)
	}
}

func TestReconnectStopsWhenFinished(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockRpcSession(ctrl)
	session.EXPECT().Reconnect(gomock.Any()).Return(ErrSessionFinished)

	h := NewReconnectHandle(session, func() bool { return true })
	err := h.ReconnectWithBackoff(context.Background(), time.Millisecond, 2, 10*time.Millisecond, 0)
	if !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("err = %v", err)
	}
}

func TestDetachedReconnectHandle(t *testing.T) {
	ctrl := gomock.NewController(t)
	session := mocks.NewMockRpcSession(ctrl)

	h := NewReconnectHandle(session, func() bool { return false })
	if err := h.ReconnectWithDelay(context.Background(), time.Millisecond); !errors.Is(err, ErrHandleDetached) {
		t.Fatalf("delay: %v", err)
	}
	if err := h.ReconnectWithBackoff(context.Background(), time.Millisecond, 2, time.Millisecond, 0); !errors.Is(err, ErrHandleDetached) {
		t.Fatalf("backoff: %v", err)
	}
}
