package rpc

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

var (
	ErrBackpressure    = errors.New("backpressure")
	ErrTransportClosed = errors.New("transport closed")
)

type frame struct {
	data []byte
	// close frames end the write pump after being written.
	close bool
	code  int
}

// closeInfo describes how a transport ended.
type closeInfo struct {
	// normal is set when the server closed with 1000 and a reason.
	normal bool
	reason domain.CloseReason
	err    error
}

// transport is one WebSocket connection. It never reconnects; the session
// replaces it.
type transport struct {
	conn         *websocket.Conn
	send         chan frame
	writeTimeout time.Duration

	mu       sync.RWMutex
	closed   bool
	idle     time.Duration
	ping     time.Duration
	lastPing uint32

	activity chan struct{}
	readDone chan struct{}
	info     closeInfo
}

func dial(ctx context.Context, dialer *websocket.Dialer, rawURL string, opts Options) (*transport, error) {
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}
	return &transport{
		conn:         conn,
		send:         make(chan frame, 64),
		writeTimeout: opts.WriteTimeout,
		idle:         opts.IdleTimeout,
		ping:         opts.PingInterval,
		activity:     make(chan struct{}, 1),
		readDone:     make(chan struct{}),
	}, nil
}

// start runs the pumps. onMsg is called on the read goroutine for every
// decoded message; onClose once after both pumps are finished.
func (t *transport) start(onMsg func(domain.ServerMsg), onClose func(closeInfo)) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.writePump()
	}()
	go func() {
		defer wg.Done()
		defer close(t.readDone)
		t.readPump(onMsg)
	}()
	go t.watchdog()
	go func() {
		wg.Wait()
		onClose(t.info)
	}()
}

// applySettings replaces the heartbeat timings with the server's.
func (t *transport) applySettings(s domain.RpcSettings) {
	t.mu.Lock()
	if s.IdleTimeoutMs > 0 {
		t.idle = time.Duration(s.IdleTimeoutMs) * time.Millisecond
	}
	if s.PingIntervalMs > 0 {
		t.ping = time.Duration(s.PingIntervalMs) * time.Millisecond
	}
	t.mu.Unlock()
}

func (t *transport) timings() (idle, ping time.Duration) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.idle, t.ping
}

// pong answers a server ping and remembers its number.
func (t *transport) pong(n uint32) error {
	t.mu.Lock()
	t.lastPing = n
	t.mu.Unlock()
	return t.sendMsg(domain.ClientMsg{Pong: &n})
}

// watchdog nudges a silent server with an unsolicited pong after two missed
// pings. The read deadline ends the transport when the idle timeout passes.
func (t *transport) watchdog() {
	_, ping := t.timings()
	timer := time.NewTimer(2 * ping)
	defer timer.Stop()
	for {
		select {
		case <-t.readDone:
			return
		case <-t.activity:
			_, ping = t.timings()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(2 * ping)
		case <-timer.C:
			t.mu.RLock()
			next := t.lastPing + 1
			t.mu.RUnlock()
			log.Debug().Str("module", "rpc").Uint32("pong", next).Msg("server is silent, nudging")
			_ = t.sendMsg(domain.ClientMsg{Pong: &next})
		}
	}
}

func (t *transport) writePump() {
	defer t.shutdown()
	for f := range t.send {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			log.Error().Err(err).Str("module", "rpc").Msg("writePump set deadline")
			return
		}
		if f.close {
			msg := websocket.FormatCloseMessage(f.code, string(f.data))
			if err := t.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
				log.Warn().Err(err).Str("module", "rpc").Msg("writePump close frame")
			}
			return
		}
		if err := t.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
			log.Error().Err(err).Str("module", "rpc").Msg("writePump write error")
			return
		}
	}
}

func (t *transport) readPump(onMsg func(domain.ServerMsg)) {
	defer t.shutdown()
	for {
		idle, _ := t.timings()
		if err := t.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			t.info.err = err
			return
		}
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.info = classifyClose(err)
			if !t.info.normal {
				log.Warn().Err(err).Str("module", "rpc").Msg("readPump read error")
			}
			return
		}
		msg, err := domain.DecodeServerMsg(data)
		if err != nil {
			log.Error().Err(err).Str("module", "rpc").Msg("bad server message")
			continue
		}
		select {
		case t.activity <- struct{}{}:
		default:
		}
		onMsg(msg)
	}
}

// classifyClose maps a read error to a close description. Only a 1000 close
// carrying a CloseDescription is a normal close, anything else is a loss.
func classifyClose(err error) closeInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
		var desc domain.CloseDescription
		if json.Unmarshal([]byte(ce.Text), &desc) == nil && desc.Reason != "" {
			return closeInfo{normal: true, reason: desc.Reason}
		}
	}
	return closeInfo{err: err}
}

func (t *transport) trySend(data []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	select {
	case t.send <- frame{data: data}:
	default:
		return ErrBackpressure
	}
	return nil
}

func (t *transport) sendMsg(msg domain.ClientMsg) error {
	b, err := domain.EncodeClientMsg(msg)
	if err != nil {
		return errors.Wrap(err, "encode client message")
	}
	return t.trySend(b)
}

// closeWith queues a close frame behind everything already queued.
func (t *transport) closeWith(code int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	// A full queue must not block: the write pump is stuck on the network
	// and closing the socket unblocks it.
	select {
	case t.send <- frame{close: true, code: code, data: []byte(text)}:
		close(t.send)
	default:
		close(t.send)
		_ = t.conn.Close()
	}
}

// shutdown tears the socket down. Safe to call from both pumps.
func (t *transport) shutdown() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.send)
	}
	t.mu.Unlock()
	_ = t.conn.Close()
}
