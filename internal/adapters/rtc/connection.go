// Package rtc backs the room's platform contracts with pion.
package rtc

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

var ErrNoLocalDescription = errors.New("local description is not set")

// Connection is a core.PeerConnection over a pion PeerConnection.
type Connection struct {
	api    *webrtc.API
	pc     *webrtc.PeerConnection
	peerID domain.PeerID

	mu           sync.Mutex
	transceivers map[*webrtc.RTPTransceiver]*Transceiver
	restartICE   bool

	onICE       func(domain.IceCandidate)
	onICEState  func(domain.IceConnectionState)
	onPeerState func(domain.PeerConnectionState)
	onTrack     func(core.RemoteTrack, core.Transceiver)
}

var _ core.PeerConnection = (*Connection)(nil)

// Configuration builds the pion configuration for a peer. stunURLs are
// appended to the servers the media server sent.
func Configuration(iceServers []domain.IceServer, forceRelay bool, stunURLs []string) webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(iceServers)+1)
	for _, s := range iceServers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != nil {
			srv.Username = *s.Username
		}
		if s.Credential != nil {
			srv.Credential = *s.Credential
		}
		servers = append(servers, srv)
	}
	if len(stunURLs) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stunURLs})
	}

	policy := webrtc.ICETransportPolicyAll
	if forceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// Factory returns a constructor of peer connections usable as
// peer.ConnectionFactory.
func Factory(stunURLs []string) func(domain.PeerID, []domain.IceServer, bool) (core.PeerConnection, error) {
	return func(id domain.PeerID, iceServers []domain.IceServer, forceRelay bool) (core.PeerConnection, error) {
		return NewConnection(id, Configuration(iceServers, forceRelay, stunURLs))
	}
}

// newAPI is what webrtc.NewPeerConnection uses, kept so senders can be
// created for transceivers pion made without one.
func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)), nil
}

func NewConnection(id domain.PeerID, cfg webrtc.Configuration) (*Connection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create peer connection")
	}
	c := &Connection{
		api:          api,
		pc:           pc,
		peerID:       id,
		transceivers: make(map[*webrtc.RTPTransceiver]*Transceiver),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(domain.IceCandidate{Candidate: init.Candidate, SdpMLineIndex: init.SDPMLineIndex, SdpMid: init.SDPMid})
		}
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Uint32("peer_id", uint32(id)).Str("ice_state", s.String()).Msg("ICE state")
		c.mu.Lock()
		fn := c.onICEState
		c.mu.Unlock()
		if st, ok := iceState(s); ok && fn != nil {
			fn(st)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Uint32("peer_id", uint32(id)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onPeerState
		c.mu.Unlock()
		if st, ok := peerState(s); ok && fn != nil {
			fn(st)
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Uint32("peer_id", uint32(id)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		tr := c.transceiverOf(receiver)
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if tr != nil && fn != nil {
			fn(track, tr)
		}
	})
	return c, nil
}

// AddTransceiver creates a sendonly transceiver for a send side and a
// recvonly one for a receive side. pion gives a sendonly transceiver a
// placeholder track, which stays on the sender while nothing is sent.
func (c *Connection) AddTransceiver(kind domain.MediaKind, side domain.TrackDirection, enabled bool) (core.Transceiver, error) {
	direction := webrtc.RTPTransceiverDirectionSendonly
	send, recv := enabled, false
	if side == domain.DirectionRecv {
		direction = webrtc.RTPTransceiverDirectionRecvonly
		send, recv = false, enabled
	}
	t, err := c.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{Direction: direction})
	if err != nil {
		return nil, errors.Wrap(err, "add transceiver")
	}
	tr := c.wrap(t)
	if err := tr.SetDirection(send, recv); err != nil {
		return nil, err
	}
	return tr, nil
}

func (c *Connection) TransceiverByMid(mid string) core.Transceiver {
	for _, t := range c.pc.GetTransceivers() {
		if t.Mid() == mid {
			return c.wrap(t)
		}
	}
	return nil
}

func (c *Connection) transceiverOf(r *webrtc.RTPReceiver) *Transceiver {
	for _, t := range c.pc.GetTransceivers() {
		if t.Receiver() == r {
			return c.wrap(t)
		}
	}
	return nil
}

func (c *Connection) wrap(t *webrtc.RTPTransceiver) *Transceiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok := c.transceivers[t]; ok {
		return tr
	}
	tr := &Transceiver{c: c, t: t}
	switch t.Direction() {
	case webrtc.RTPTransceiverDirectionSendrecv:
		tr.send, tr.recv = true, true
	case webrtc.RTPTransceiverDirectionSendonly:
		tr.send = true
	case webrtc.RTPTransceiverDirectionRecvonly:
		tr.recv = true
	}
	if sender := t.Sender(); sender != nil {
		tr.idle = sender.Track()
	}
	c.transceivers[t] = tr
	return tr
}

// attachSender gives t a sender with a fresh idle track. pion creates the
// transceiver of a remote recvonly section without a sender.
func (c *Connection) attachSender(t *webrtc.RTPTransceiver) (webrtc.TrackLocal, error) {
	kind := domain.MediaKindAudio
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.MediaKindVideo
	}
	idle, err := webrtc.NewTrackLocalStaticSample(codecOf(kind), uuid.NewString(), uuid.NewString())
	if err != nil {
		return nil, errors.Wrap(err, "create idle track")
	}
	sender, err := c.api.NewRTPSender(idle, c.pc.SCTP().Transport())
	if err != nil {
		return nil, errors.Wrap(err, "create sender")
	}
	if err := t.SetSender(sender, idle); err != nil {
		return nil, errors.Wrap(err, "set sender")
	}
	log.Debug().Str("module", "webrtc").Uint32("peer_id", uint32(c.peerID)).Str("mid", t.Mid()).Msg("sender attached")
	return idle, nil
}

func (c *Connection) CreateOffer(ctx context.Context) (string, error) {
	c.mu.Lock()
	restart := c.restartICE
	c.restartICE = false
	c.mu.Unlock()

	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if err != nil {
		return "", errors.Wrap(err, "create offer")
	}
	return c.setLocal(ctx, offer)
}

func (c *Connection) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", errors.Wrap(err, "create answer")
	}
	return c.setLocal(ctx, answer)
}

func (c *Connection) setLocal(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return "", errors.Wrap(err, "set local description")
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return "", errors.WithStack(ErrNoLocalDescription)
	}
	return local.SDP, nil
}

func (c *Connection) SetRemoteOffer(ctx context.Context, sdp string) error {
	return c.setRemote(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (c *Connection) SetRemoteAnswer(ctx context.Context, sdp string) error {
	return c.setRemote(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (c *Connection) setRemote(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(c.pc.SetRemoteDescription(desc), "set remote description")
}

func (c *Connection) AddICECandidate(cand domain.IceCandidate) error {
	return errors.Wrap(c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SdpMid,
		SDPMLineIndex: cand.SdpMLineIndex,
	}), "add ice candidate")
}

func (c *Connection) RestartICE() {
	c.mu.Lock()
	c.restartICE = true
	c.mu.Unlock()
}

// GetStats flattens the pion report into one map per stats entry.
func (c *Connection) GetStats(ctx context.Context) (domain.RtcStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report := c.pc.GetStats()
	out := make(domain.RtcStats, 0, len(report))
	for _, s := range report {
		b, err := json.Marshal(s)
		if err != nil {
			return nil, errors.Wrap(err, "encode stats")
		}
		var entry map[string]any
		if err := json.Unmarshal(b, &entry); err != nil {
			return nil, errors.Wrap(err, "decode stats")
		}
		out = append(out, entry)
	}
	return out, nil
}

func (c *Connection) OnICECandidate(fn func(domain.IceCandidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

// OnICECandidateError never fires: pion does not report candidate
// gathering errors.
func (c *Connection) OnICECandidateError(func(domain.IceCandidateError)) {}

func (c *Connection) OnICEConnectionStateChange(fn func(domain.IceConnectionState)) {
	c.mu.Lock()
	c.onICEState = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(domain.PeerConnectionState)) {
	c.mu.Lock()
	c.onPeerState = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack, core.Transceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Uint32("peer_id", uint32(c.peerID)).Msg("close error")
		return errors.Wrap(err, "close peer connection")
	}
	log.Info().Str("module", "webrtc").Uint32("peer_id", uint32(c.peerID)).Msg("closed")
	return nil
}

// Transceiver is a core.Transceiver over a pion transceiver. pion cannot
// change a negotiated direction and refuses a negotiated sender without a
// track, so a disabled send half swaps the idle track back in and a
// disabled recv half is only recorded.
type Transceiver struct {
	c *Connection
	t *webrtc.RTPTransceiver

	mu sync.Mutex
	// idle is what the sender carries while nothing is sent: pion's
	// placeholder or one made by attachSender. Nothing is written to it.
	idle  webrtc.TrackLocal
	track webrtc.TrackLocal
	send  bool
	recv  bool
}

var _ core.Transceiver = (*Transceiver)(nil)

func (tr *Transceiver) Mid() string { return tr.t.Mid() }

func (tr *Transceiver) SetSendTrack(track webrtc.TrackLocal) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.track = track
	return tr.syncLocked()
}

func (tr *Transceiver) SetDirection(send, recv bool) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.send, tr.recv = send, recv
	return tr.syncLocked()
}

func (tr *Transceiver) syncLocked() error {
	sending := tr.send && tr.track != nil
	sender := tr.t.Sender()
	if sender == nil {
		if !sending {
			return nil
		}
		idle, err := tr.c.attachSender(tr.t)
		if err != nil {
			return err
		}
		tr.idle, sender = idle, tr.t.Sender()
	}
	track := tr.idle
	if sending {
		track = tr.track
	}
	if track == nil || sender.Track() == track {
		return nil
	}
	return errors.Wrap(sender.ReplaceTrack(track), "replace track")
}

func (tr *Transceiver) HasSendTrack() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.track != nil
}

// Direction reports the requested send and recv halves.
func (tr *Transceiver) Direction() (send, recv bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.send, tr.recv
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.MediaKindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func iceState(s webrtc.ICEConnectionState) (domain.IceConnectionState, bool) {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return domain.IceConnectionNew, true
	case webrtc.ICEConnectionStateChecking:
		return domain.IceConnectionChecking, true
	case webrtc.ICEConnectionStateConnected:
		return domain.IceConnectionConnected, true
	case webrtc.ICEConnectionStateCompleted:
		return domain.IceConnectionCompleted, true
	case webrtc.ICEConnectionStateFailed:
		return domain.IceConnectionFailed, true
	case webrtc.ICEConnectionStateDisconnected:
		return domain.IceConnectionDisconnected, true
	case webrtc.ICEConnectionStateClosed:
		return domain.IceConnectionClosed, true
	}
	return "", false
}

func peerState(s webrtc.PeerConnectionState) (domain.PeerConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.PeerConnectionNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.PeerConnectionConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.PeerConnectionConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.PeerConnectionDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.PeerConnectionFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.PeerConnectionClosed, true
	}
	return "", false
}
