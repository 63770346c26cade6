package mocks

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

// FakePeerConnection is an in-memory core.PeerConnection. Offers and answers
// are plain strings and no network is touched.
type FakePeerConnection struct {
	mu           sync.Mutex
	transceivers []*FakeTransceiver
	offers       int
	answers      int
	remoteOffer  string
	remoteAnswer string
	candidates   []domain.IceCandidate
	iceRestarts  int
	closed       bool

	onICE           func(domain.IceCandidate)
	onICEError      func(domain.IceCandidateError)
	onICEState      func(domain.IceConnectionState)
	onState         func(domain.PeerConnectionState)
	onTrack         func(core.RemoteTrack, core.Transceiver)
	stats           domain.RtcStats
	statsScrapes    atomic.Int32
	failCreateOffer error
}

func NewFakePeerConnection() *FakePeerConnection {
	return &FakePeerConnection{}
}

func (pc *FakePeerConnection) AddTransceiver(kind domain.MediaKind, side domain.TrackDirection, enabled bool) (core.Transceiver, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	t := &FakeTransceiver{kind: kind}
	if side == domain.DirectionSend {
		t.send = enabled
	} else {
		t.recv = enabled
	}
	pc.transceivers = append(pc.transceivers, t)
	return t, nil
}

func (pc *FakePeerConnection) TransceiverByMid(mid string) core.Transceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, t := range pc.transceivers {
		if t.Mid() == mid {
			return t
		}
	}
	return nil
}

func (pc *FakePeerConnection) CreateOffer(context.Context) (string, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.failCreateOffer != nil {
		return "", pc.failCreateOffer
	}
	pc.offers++
	pc.assignMidsLocked()
	return fmt.Sprintf("offer-%d", pc.offers), nil
}

func (pc *FakePeerConnection) CreateAnswer(context.Context) (string, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.answers++
	pc.assignMidsLocked()
	return fmt.Sprintf("answer-%d", pc.answers), nil
}

func (pc *FakePeerConnection) assignMidsLocked() {
	for i, t := range pc.transceivers {
		if t.Mid() == "" {
			t.setMid(strconv.Itoa(i))
		}
	}
}

func (pc *FakePeerConnection) SetRemoteOffer(_ context.Context, sdp string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.remoteOffer = sdp
	return nil
}

func (pc *FakePeerConnection) SetRemoteAnswer(_ context.Context, sdp string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.remoteAnswer = sdp
	return nil
}

func (pc *FakePeerConnection) AddICECandidate(c domain.IceCandidate) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.candidates = append(pc.candidates, c)
	return nil
}

func (pc *FakePeerConnection) RestartICE() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.iceRestarts++
}

func (pc *FakePeerConnection) GetStats(context.Context) (domain.RtcStats, error) {
	pc.statsScrapes.Add(1)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.stats, nil
}

func (pc *FakePeerConnection) OnICECandidate(fn func(domain.IceCandidate)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICE = fn
}

func (pc *FakePeerConnection) OnICECandidateError(fn func(domain.IceCandidateError)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICEError = fn
}

func (pc *FakePeerConnection) OnICEConnectionStateChange(fn func(domain.IceConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICEState = fn
}

func (pc *FakePeerConnection) OnConnectionStateChange(fn func(domain.PeerConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onState = fn
}

func (pc *FakePeerConnection) OnTrack(fn func(core.RemoteTrack, core.Transceiver)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onTrack = fn
}

func (pc *FakePeerConnection) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closed = true
	return nil
}

// SetStats sets what GetStats returns.
func (pc *FakePeerConnection) SetStats(s domain.RtcStats) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.stats = s
}

// FailCreateOffer makes every following CreateOffer fail with err.
func (pc *FakePeerConnection) FailCreateOffer(err error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.failCreateOffer = err
}

func (pc *FakePeerConnection) EmitICECandidate(c domain.IceCandidate) {
	pc.mu.Lock()
	fn := pc.onICE
	pc.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (pc *FakePeerConnection) EmitICECandidateError(e domain.IceCandidateError) {
	pc.mu.Lock()
	fn := pc.onICEError
	pc.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

func (pc *FakePeerConnection) EmitICEConnectionState(s domain.IceConnectionState) {
	pc.mu.Lock()
	fn := pc.onICEState
	pc.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (pc *FakePeerConnection) EmitConnectionState(s domain.PeerConnectionState) {
	pc.mu.Lock()
	fn := pc.onState
	pc.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// EmitTrack delivers a remote track on the transceiver negotiated with mid.
func (pc *FakePeerConnection) EmitTrack(mid string, kind domain.MediaKind) {
	t := pc.TransceiverByMid(mid)
	pc.mu.Lock()
	fn := pc.onTrack
	pc.mu.Unlock()
	if fn == nil || t == nil {
		return
	}
	codec := webrtc.RTPCodecTypeAudio
	if kind == domain.MediaKindVideo {
		codec = webrtc.RTPCodecTypeVideo
	}
	fn(FakeRemoteTrack{id: "remote-" + mid, kind: codec}, t)
}

func (pc *FakePeerConnection) Offers() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.offers
}

func (pc *FakePeerConnection) Answers() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.answers
}

func (pc *FakePeerConnection) RemoteOffer() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remoteOffer
}

func (pc *FakePeerConnection) RemoteAnswer() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remoteAnswer
}

func (pc *FakePeerConnection) Candidates() []domain.IceCandidate {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]domain.IceCandidate(nil), pc.candidates...)
}

func (pc *FakePeerConnection) IceRestarts() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.iceRestarts
}

func (pc *FakePeerConnection) StatsScrapes() int { return int(pc.statsScrapes.Load()) }

func (pc *FakePeerConnection) Closed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

// Transceivers returns a snapshot of every transceiver added so far.
func (pc *FakePeerConnection) Transceivers() []*FakeTransceiver {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]*FakeTransceiver(nil), pc.transceivers...)
}

type FakeTransceiver struct {
	mu    sync.Mutex
	kind  domain.MediaKind
	mid   string
	send  bool
	recv  bool
	track webrtc.TrackLocal
}

func (t *FakeTransceiver) Mid() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mid
}

func (t *FakeTransceiver) setMid(mid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mid = mid
}

func (t *FakeTransceiver) SetSendTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.track = track
	return nil
}

func (t *FakeTransceiver) SetDirection(send, recv bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send, t.recv = send, recv
	return nil
}

func (t *FakeTransceiver) HasSendTrack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.track != nil
}

func (t *FakeTransceiver) Kind() domain.MediaKind { return t.kind }

// Direction returns the current send and recv flags.
func (t *FakeTransceiver) Direction() (send, recv bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send, t.recv
}

type FakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t FakeRemoteTrack) ID() string                { return t.id }
func (t FakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }
