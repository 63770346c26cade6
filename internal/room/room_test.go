package room

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/VoiceRoom/internal/connection"
	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/core/mocks"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/peer"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

const brokenDevice = "broken-camera"

var errDevice = errors.New("device is busy")

type harness struct {
	t      *testing.T
	room   *Room
	handle *Handle

	events      chan domain.Event
	lost        chan struct{}
	reconnected chan struct{}
	normalClose chan domain.CloseReason

	commands   chan domain.Command
	closedWith chan domain.ClientDisconnect
	closes     chan RoomCloseReason
	failures   chan error
	losses     chan core.ReconnectHandle
	connected  chan core.ConnectionInfo

	// echo answers every UpdateTracks the way the server does.
	echo       atomic.Bool
	failAll    atomic.Bool
	gum        atomic.Int32
	captures   *mocks.Captures
	connectErr error

	mu  sync.Mutex
	pcs map[domain.PeerID]*mocks.FakePeerConnection
}

func newHarness(t *testing.T, settings media.MediaStreamSettings) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		t:           t,
		events:      make(chan domain.Event, 1024),
		lost:        make(chan struct{}),
		reconnected: make(chan struct{}),
		normalClose: make(chan domain.CloseReason, 1),
		commands:    make(chan domain.Command, 1024),
		closedWith:  make(chan domain.ClientDisconnect, 4),
		closes:      make(chan RoomCloseReason, 4),
		failures:    make(chan error, 16),
		losses:      make(chan core.ReconnectHandle, 4),
		connected:   make(chan core.ConnectionInfo, 4),
		captures:    &mocks.Captures{},
		pcs:         make(map[domain.PeerID]*mocks.FakePeerConnection),
	}
	h.echo.Store(true)

	session := mocks.NewMockRpcSession(ctrl)
	session.EXPECT().Subscribe().Return((<-chan domain.Event)(h.events))
	session.EXPECT().OnConnectionLoss().Return((<-chan struct{})(h.lost))
	session.EXPECT().OnReconnected().Return((<-chan struct{})(h.reconnected))
	session.EXPECT().OnNormalClose().Return((<-chan domain.CloseReason)(h.normalClose))
	session.EXPECT().SendCommand(gomock.Any()).Do(h.sendCommand).AnyTimes()
	session.EXPECT().CloseWithReason(gomock.Any()).Do(func(r domain.ClientDisconnect) { h.closedWith <- r }).AnyTimes()
	session.EXPECT().Connect(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, info core.ConnectionInfo) error {
		h.connected <- info
		return h.connectErr
	}).AnyTimes()

	devices := mocks.NewMockMediaDevices(ctrl)
	devices.EXPECT().GetUserMedia(gomock.Any(), gomock.Any()).DoAndReturn(h.getUserMedia).AnyTimes()
	devices.EXPECT().GetDisplayMedia(gomock.Any(), gomock.Any()).DoAndReturn(h.captures.Capture).AnyTimes()

	h.room = New(Config{
		Session: session,
		Devices: devices,
		NewConnection: func(id domain.PeerID, _ []domain.IceServer, _ bool) (core.PeerConnection, error) {
			pc := mocks.NewFakePeerConnection()
			h.mu.Lock()
			h.pcs[id] = pc
			h.mu.Unlock()
			return pc, nil
		},
		Settings:          settings,
		TransitionTimeout: time.Minute,
	})
	h.handle = h.room.Handle()
	t.Cleanup(h.room.Dispose)

	if err := h.handle.OnClose(func(r RoomCloseReason) { h.closes <- r }); err != nil {
		t.Fatal(err)
	}
	if err := h.handle.OnFailedLocalMedia(func(err error) { h.failures <- err }); err != nil {
		t.Fatal(err)
	}
	if err := h.handle.OnConnectionLoss(func(rh core.ReconnectHandle) { h.losses <- rh }); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) sendCommand(cmd domain.Command) {
	h.commands <- cmd
	ut, ok := cmd.(domain.UpdateTracks)
	if !ok || !h.echo.Load() {
		return
	}
	h.events <- echoOf(ut)
}

func echoOf(ut domain.UpdateTracks) domain.PeerUpdated {
	updates := make([]domain.PeerUpdate, 0, len(ut.TracksPatches))
	for _, p := range ut.TracksPatches {
		updates = append(updates, domain.TrackUpdated(p.Event()))
	}
	return domain.PeerUpdated{PeerID: ut.PeerID, Updates: updates}
}

func (h *harness) getUserMedia(ctx context.Context, reqs []core.CaptureRequest) ([]core.CapturedTrack, error) {
	h.gum.Add(1)
	if h.failAll.Load() {
		return nil, errDevice
	}
	for _, r := range reqs {
		if r.DeviceID == brokenDevice {
			return nil, errDevice
		}
	}
	return h.captures.Capture(ctx, reqs)
}

func (h *harness) run(fn func()) {
	h.t.Helper()
	if err := h.room.Do(context.Background(), fn); err != nil {
		h.t.Fatal(err)
	}
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var ok bool
		h.run(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

// next returns the first command matching, skipping the others.
func (h *harness) next(what string, match func(domain.Command) bool) domain.Command {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cmd := <-h.commands:
			if match(cmd) {
				return cmd
			}
		case <-timeout:
			h.t.Fatalf("no %s command", what)
			return nil
		}
	}
}

// drain returns the commands sent so far.
func (h *harness) drain() []domain.Command {
	var out []domain.Command
	for {
		select {
		case cmd := <-h.commands:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func isUpdateTracks(cmd domain.Command) bool {
	_, ok := cmd.(domain.UpdateTracks)
	return ok
}

func isOffer(cmd domain.Command) bool {
	_, ok := cmd.(domain.MakeSdpOffer)
	return ok
}

// createPeer makes the server create a peer and waits for its offer.
func (h *harness) createPeer(id domain.PeerID, tracks ...domain.Track) *peer.Peer {
	h.t.Helper()
	h.events <- domain.PeerCreated{
		PeerID:          id,
		NegotiationRole: domain.Offerer(),
		ConnectionMode:  domain.ConnectionModeSfu,
		Tracks:          tracks,
	}
	h.next("MakeSdpOffer", isOffer)
	var p *peer.Peer
	h.run(func() { p, _ = h.room.peers.Get(id) })
	if p == nil {
		h.t.Fatalf("peer %d was not created", id)
	}
	return p
}

func (h *harness) pc(id domain.PeerID) *mocks.FakePeerConnection {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.pcs[id]
	if !ok {
		h.t.Fatalf("no connection for peer %d", id)
	}
	return pc
}

// metrics waits for the next metrics command of peer id that match accepts.
func (h *harness) metrics(what string, id domain.PeerID, match func(domain.PeerMetrics) bool) domain.PeerMetrics {
	h.t.Helper()
	return h.next(what, func(cmd domain.Command) bool {
		m, ok := cmd.(domain.AddPeerConnectionMetrics)
		return ok && m.PeerID == id && match(m.Metrics)
	}).(domain.AddPeerConnectionMetrics).Metrics
}

func (h *harness) connectionState(member domain.MemberID) domain.PeerConnectionState {
	h.t.Helper()
	var st domain.PeerConnectionState
	h.run(func() {
		if c, ok := h.room.conns.Get(member); ok {
			st = c.State()
		}
	})
	return st
}

func (h *harness) sender(p *peer.Peer, id domain.TrackID) *peer.Sender {
	h.t.Helper()
	var s *peer.Sender
	h.run(func() { s, _ = p.Sender(id) })
	if s == nil {
		h.t.Fatalf("no sender %d", id)
	}
	return s
}

func (h *harness) exchange(side peer.TransceiverSide) mediastate.State {
	var st mediastate.State
	h.run(func() { st = side.MediaState(mediastate.MediaExchange) })
	return st
}

func audioSend(id domain.TrackID, required bool, receivers ...domain.MemberID) domain.Track {
	return domain.Track{
		ID:             id,
		Direction:      domain.SendDirection(nil, receivers...),
		MediaDirection: domain.MediaSendRecv,
		MediaType:      domain.AudioType(required),
	}
}

func videoSend(id domain.TrackID, receivers ...domain.MemberID) domain.Track {
	return domain.Track{
		ID:             id,
		Direction:      domain.SendDirection(nil, receivers...),
		MediaDirection: domain.MediaSendRecv,
		MediaType:      domain.VideoType(domain.SourceDevice, false),
	}
}

func videoRecv(id domain.TrackID, sender domain.MemberID) domain.Track {
	return domain.Track{
		ID:             id,
		Direction:      domain.RecvDirection(nil, sender),
		MediaDirection: domain.MediaSendRecv,
		MediaType:      domain.VideoType(domain.SourceDevice, false),
	}
}

func wantChangeErr(t *testing.T, err error, kind ChangeMediaStateErrorKind) *ChangeMediaStateError {
	t.Helper()
	var cms *ChangeMediaStateError
	if !errors.As(err, &cms) || cms.Kind != kind {
		t.Fatalf("err = %v, want %s", err, kind)
	}
	return cms
}

func TestEnableWhenEnabledSendsNothing(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"))
	h.drain()

	if err := h.handle.EnableAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.handle.UnmuteAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range h.drain() {
		if isUpdateTracks(cmd) {
			t.Fatalf("unexpected command %+v", cmd)
		}
	}
}

func TestDisableAndMuteAudio(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"))
	s := h.sender(p, 1)

	if err := h.handle.MuteAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	mute := h.next("UpdateTracks", isUpdateTracks).(domain.UpdateTracks).TracksPatches[0]
	if mute.Muted == nil || !*mute.Muted || mute.Enabled != nil {
		t.Fatalf("mute patch = %+v", mute)
	}

	if err := h.handle.DisableAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	disable := h.next("UpdateTracks", isUpdateTracks).(domain.UpdateTracks).TracksPatches[0]
	if disable.Enabled == nil || *disable.Enabled {
		t.Fatalf("disable patch = %+v", disable)
	}
	if st := h.exchange(s); !st.IsStable(mediastate.Disabled) {
		t.Fatalf("state = %s", st)
	}
	h.run(func() {
		if s.HasTrack() {
			t.Error("disabled sender must drop its track")
		}
	})
	if h.room.send.IsTrackEnabled(domain.MediaKindAudio, domain.AnySource()) {
		t.Fatal("audio must be disabled in the send constraints")
	}
}

func TestRacingDisableAndEnable(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"))
	s := h.sender(p, 1)
	h.echo.Store(false)
	h.drain()

	disabled := make(chan error, 1)
	go func() { disabled <- h.handle.DisableAudio(context.Background()) }()
	first := h.next("disable UpdateTracks", isUpdateTracks).(domain.UpdateTracks)

	enabled := make(chan error, 1)
	go func() { enabled <- h.handle.EnableAudio(context.Background()) }()
	second := h.next("enable UpdateTracks", isUpdateTracks).(domain.UpdateTracks)
	if *first.TracksPatches[0].Enabled || !*second.TracksPatches[0].Enabled {
		t.Fatalf("patches = %+v, %+v", first, second)
	}

	h.events <- echoOf(first)
	h.events <- echoOf(second)

	cms := wantChangeErr(t, <-disabled, TransitionIntoOppositeState)
	if cms.State != mediastate.Enabled {
		t.Fatalf("opposite state = %s", cms.State)
	}
	if err := <-enabled; err != nil {
		t.Fatalf("enable = %v", err)
	}
	if st := h.exchange(s); !st.IsStable(mediastate.Enabled) {
		t.Fatalf("state = %s", st)
	}
}

func TestRacingEnableAndDisable(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"))
	s := h.sender(p, 1)
	if err := h.handle.DisableAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.echo.Store(false)
	h.drain()

	enabled := make(chan error, 1)
	go func() { enabled <- h.handle.EnableAudio(context.Background()) }()
	first := h.next("enable UpdateTracks", isUpdateTracks).(domain.UpdateTracks)

	disabled := make(chan error, 1)
	go func() { disabled <- h.handle.DisableAudio(context.Background()) }()
	second := h.next("disable UpdateTracks", isUpdateTracks).(domain.UpdateTracks)

	h.events <- echoOf(first)
	h.events <- echoOf(second)

	cms := wantChangeErr(t, <-enabled, TransitionIntoOppositeState)
	if cms.State != mediastate.Disabled {
		t.Fatalf("opposite state = %s", cms.State)
	}
	if err := <-disabled; err != nil {
		t.Fatalf("disable = %v", err)
	}
	if st := h.exchange(s); !st.IsStable(mediastate.Disabled) {
		t.Fatalf("state = %s", st)
	}
	if h.room.send.IsTrackEnabled(domain.MediaKindAudio, domain.AnySource()) {
		t.Fatal("audio must stay disabled in the send constraints")
	}
}

func TestRequiredAudioCannotBeDisabled(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, true, "bob"))
	h.drain()

	err := h.handle.DisableAudio(context.Background())
	wantChangeErr(t, err, ProhibitedState)
	if !errors.Is(err, peer.ErrCannotDisableRequiredSender) {
		t.Fatalf("err = %v", err)
	}
	for _, cmd := range h.drain() {
		if isUpdateTracks(cmd) {
			t.Fatalf("unexpected command %+v", cmd)
		}
	}
	if st := h.exchange(h.sender(p, 1)); !st.IsStable(mediastate.Enabled) {
		t.Fatalf("state = %s", st)
	}
}

func TestEnableFailsWithoutLocalMedia(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"))
	if err := h.handle.DisableAudio(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.drain()
	h.failAll.Store(true)

	err := h.handle.EnableAudio(context.Background())
	wantChangeErr(t, err, CouldNotGetLocalMedia)
	if !errors.Is(err, errDevice) {
		t.Fatalf("err = %v", err)
	}
	select {
	case reported := <-h.failures:
		if !errors.Is(reported, errDevice) {
			t.Fatalf("reported = %v", reported)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure was not reported")
	}
	if h.room.send.IsTrackEnabled(domain.MediaKindAudio, domain.AnySource()) {
		t.Fatal("constraints must be reverted")
	}
	for _, cmd := range h.drain() {
		if isUpdateTracks(cmd) {
			t.Fatalf("unexpected command %+v", cmd)
		}
	}
}

func TestRemoteVideoToggle(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, videoRecv(2, "bob"))
	h.drain()

	if err := h.handle.DisableRemoteVideo(context.Background(), domain.AnySource()); err != nil {
		t.Fatal(err)
	}
	patch := h.next("UpdateTracks", isUpdateTracks).(domain.UpdateTracks).TracksPatches[0]
	if patch.ID != 2 || patch.Enabled == nil || *patch.Enabled {
		t.Fatalf("patch = %+v", patch)
	}
	if h.room.recv.Enabled(domain.MediaKindVideo, domain.SourceDevice) {
		t.Fatal("video must be disabled in the receive constraints")
	}

	if err := h.handle.EnableRemoteVideo(context.Background(), domain.OnlySource(domain.SourceDevice)); err != nil {
		t.Fatal(err)
	}
	var r *peer.Receiver
	h.run(func() { r, _ = p.Receiver(2) })
	if st := h.exchange(r); !st.IsStable(mediastate.Enabled) {
		t.Fatalf("state = %s", st)
	}
}

func TestRollbackOnFailedSettings(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"), videoSend(2, "bob"))
	video := h.sender(p, 2)
	h.eventually("video track", func() bool { return video.HasTrack() })
	before := h.gum.Load()

	settings := media.DefaultSettings()
	settings.DeviceVideo(media.DeviceVideoTrackConstraints{DeviceID: brokenDevice})
	err := h.handle.SetLocalMediaSettings(context.Background(), settings, true, true)

	var cue *ConstraintsUpdateError
	if !errors.As(err, &cue) || cue.Kind != Recovered {
		t.Fatalf("err = %v", err)
	}
	wantChangeErr(t, cue.Reason, CouldNotGetLocalMedia)
	if got := h.gum.Load() - before; got != 2 {
		t.Fatalf("getUserMedia calls = %d", got)
	}
	h.run(func() {
		if !video.HasTrack() || video.Track().DeviceID() == brokenDevice {
			t.Error("video sender must get its original device back")
		}
	})
	if live := h.room.manager.LiveTracks(); live != 2 {
		t.Fatalf("live tracks = %d", live)
	}
}

func TestFailedSettingsWithoutRollbackDisablesSenders(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"), videoSend(2, "bob"))
	video := h.sender(p, 2)
	h.eventually("video track", func() bool { return video.HasTrack() })
	h.drain()

	settings := media.DefaultSettings()
	settings.DeviceVideo(media.DeviceVideoTrackConstraints{DeviceID: brokenDevice})
	err := h.handle.SetLocalMediaSettings(context.Background(), settings, true, false)

	var cue *ConstraintsUpdateError
	if !errors.As(err, &cue) || cue.Kind != Errored {
		t.Fatalf("err = %v", err)
	}
	patch := h.next("UpdateTracks", isUpdateTracks).(domain.UpdateTracks).TracksPatches[0]
	if patch.ID != 2 || patch.Enabled == nil || *patch.Enabled {
		t.Fatalf("patch = %+v", patch)
	}
	if st := h.exchange(video); !st.IsStable(mediastate.Disabled) {
		t.Fatalf("state = %s", st)
	}
}

func TestConstraintsUpdateErrorFold(t *testing.T) {
	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")

	got := recovered(a).recoveryFailed(b)
	if got.Kind != RecoverFailed || got.Reason != b || len(got.RecoverFailReasons) != 1 || got.RecoverFailReasons[0] != a {
		t.Fatalf("recovered fold = %+v", got)
	}
	got = got.recoveryFailed(c)
	if got.Reason != c || len(got.RecoverFailReasons) != 2 || got.RecoverFailReasons[1] != b {
		t.Fatalf("recover failed fold = %+v", got)
	}
	got = errored(a).recoveryFailed(b)
	if got.Kind != RecoverFailed || got.Reason != a || got.RecoverFailReasons[0] != b {
		t.Fatalf("errored fold = %+v", got)
	}
}

func TestIntentionSurvivesReconnect(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"))
	s := h.sender(p, 1)
	h.drain()

	h.lost <- struct{}{}
	select {
	case rh := <-h.losses:
		if rh == nil {
			t.Fatal("nil reconnect handle")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not reported")
	}

	disabled := make(chan error, 1)
	go func() { disabled <- h.handle.DisableAudio(context.Background()) }()
	h.eventually("transition", func() bool { return s.MediaState(mediastate.MediaExchange).InTransition })

	h.reconnected <- struct{}{}
	var order []domain.Command
	for len(order) < 2 {
		cmd := h.next("resync", func(cmd domain.Command) bool {
			switch cmd.(type) {
			case domain.SynchronizeMe:
				return true
			case domain.UpdateTracks:
				return true
			}
			return false
		})
		order = append(order, cmd)
		if syncMe, ok := cmd.(domain.SynchronizeMe); ok {
			if got := syncMe.State.Peers[1].Senders[1].MediaDirection; got != domain.MediaSendRecv {
				t.Fatalf("synchronized direction = %s", got)
			}
			h.events <- domain.StateSynchronized{State: syncMe.State}
		}
	}
	if _, ok := order[0].(domain.SynchronizeMe); !ok {
		t.Fatalf("first command = %+v", order[0])
	}
	patch := order[1].(domain.UpdateTracks).TracksPatches[0]
	if patch.ID != 1 || patch.Enabled == nil || *patch.Enabled {
		t.Fatalf("patch = %+v", patch)
	}
	if err := <-disabled; err != nil {
		t.Fatal(err)
	}
}

func TestSenderReceiversPatchUpdatesConnections(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	p := h.createPeer(1, audioSend(1, false, "bob"))
	s := h.sender(p, 1)

	empty := []domain.MemberID{}
	h.events <- domain.PeerUpdated{PeerID: 1, Updates: []domain.PeerUpdate{
		domain.TrackUpdated(domain.TrackPatchEvent{ID: 1, Receivers: &empty}),
	}}
	h.eventually("empty receivers", func() bool { return len(s.Receivers()) == 0 && h.room.conns.Len() == 0 })

	both := []domain.MemberID{"bob", "eva"}
	h.events <- domain.PeerUpdated{PeerID: 1, Updates: []domain.PeerUpdate{
		domain.TrackUpdated(domain.TrackPatchEvent{ID: 1, Receivers: &both}),
	}}
	h.eventually("two receivers", func() bool { return len(s.Receivers()) == 2 })
	h.run(func() {
		got := h.room.conns.Members()
		if len(got) != 2 || got[0] != "bob" || got[1] != "eva" {
			t.Errorf("connections = %v", got)
		}
	})
}

func TestPeersRemovedClosesConnections(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"), videoRecv(2, "bob"))
	h.run(func() {
		if h.room.conns.Len() != 1 {
			t.Errorf("connections = %v", h.room.conns.Members())
		}
	})

	h.events <- domain.PeersRemoved{PeerIDs: []domain.PeerID{1}}
	h.eventually("peer removal", func() bool { return h.room.peers.Len() == 0 && h.room.conns.Len() == 0 })
	h.mu.Lock()
	closed := h.pcs[1].Closed()
	h.mu.Unlock()
	if !closed {
		t.Fatal("peer connection must be closed")
	}
}

func TestLocalCandidateIsSent(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"))

	h.pc(1).EmitICECandidate(domain.IceCandidate{Candidate: "candidate:1"})
	cmd := h.next("SetIceCandidate", func(cmd domain.Command) bool {
		_, ok := cmd.(domain.SetIceCandidate)
		return ok
	}).(domain.SetIceCandidate)
	if cmd.PeerID != 1 || cmd.Candidate.Candidate != "candidate:1" {
		t.Fatalf("cmd = %+v", cmd)
	}
}

func TestJoin(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())

	err := h.handle.Join(context.Background(), "not a url")
	var je *JoinError
	if !errors.As(err, &je) || je.Kind != ConnectionInfoParse {
		t.Fatalf("err = %v", err)
	}

	if err := h.handle.Join(context.Background(), "ws://localhost/room1/alice?token=t"); err != nil {
		t.Fatal(err)
	}
	info := <-h.connected
	if info.RoomID != "room1" || info.MemberID != "alice" || info.Credential != "t" {
		t.Fatalf("info = %+v", info)
	}

	h.connectErr = errors.New("refused")
	err = h.handle.Join(context.Background(), "ws://localhost/room1/alice?token=t")
	if !errors.As(err, &je) || je.Kind != SessionError {
		t.Fatalf("err = %v", err)
	}
}

func TestJoinRequiresCallbacks(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.room.cb.mu.Lock()
	h.room.cb.onConnectionLoss = nil
	h.room.cb.mu.Unlock()

	err := h.handle.Join(context.Background(), "ws://localhost/room1/alice?token=t")
	var je *JoinError
	if !errors.As(err, &je) || je.Kind != CallbackNotSet || je.Callback != "Room.OnConnectionLoss" {
		t.Fatalf("err = %v", err)
	}
}

func TestDisposeWithoutClose(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.room.Dispose()
	h.room.Dispose()

	got := <-h.closes
	want := RoomCloseReason{Reason: "RoomUnexpectedlyDropped", IsErr: true}
	if got != want {
		t.Fatalf("close reason = %+v", got)
	}
	if r := <-h.closedWith; r != domain.RoomUnexpectedlyDropped {
		t.Fatalf("session closed with %s", r)
	}
	select {
	case extra := <-h.closes:
		t.Fatalf("second close %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	err := h.handle.EnableAudio(context.Background())
	wantChangeErr(t, err, ChangeDetached)
	if !errors.Is(err, ErrDetached) {
		t.Fatalf("err = %v", err)
	}
	var je *JoinError
	if err := h.handle.Join(context.Background(), "ws://localhost/r/m?token=t"); !errors.As(err, &je) || je.Kind != JoinDetached {
		t.Fatalf("join err = %v", err)
	}
}

func TestCloseByServerReason(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.room.Close(ByServer(domain.CloseFinished))

	got := <-h.closes
	want := RoomCloseReason{Reason: "Finished", IsClosedByServer: true}
	if got != want {
		t.Fatalf("close reason = %+v", got)
	}
	select {
	case r := <-h.closedWith:
		t.Fatalf("session must not be closed by the client, got %s", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServerNormalCloseDisposesRoom(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.normalClose <- domain.CloseEvicted

	select {
	case got := <-h.closes:
		if got.Reason != "Evicted" || !got.IsClosedByServer || got.IsErr {
			t.Fatalf("close reason = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("room was not closed")
	}
	<-h.room.Done()
	if err := h.handle.OnClose(func(RoomCloseReason) {}); !errors.Is(err, ErrDetached) {
		t.Fatalf("err = %v", err)
	}
}

func TestConnectedScrapesStatsAndUpdatesConnections(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"), videoRecv(2, "eva"))
	pc := h.pc(1)
	pc.SetStats(domain.RtcStats{{"type": "inbound-rtp", "packetsReceived": float64(10)}})

	pc.EmitConnectionState(domain.PeerConnectionConnected)
	state := h.metrics("connection state metrics", 1, func(m domain.PeerMetrics) bool { return m.PeerConnectionState != nil })
	if *state.PeerConnectionState != domain.PeerConnectionConnected {
		t.Fatalf("state = %s", *state.PeerConnectionState)
	}
	stats := h.metrics("stats metrics", 1, func(m domain.PeerMetrics) bool { return m.RtcStats != nil })
	if len(stats.RtcStats) != 1 || stats.RtcStats[0]["type"] != "inbound-rtp" {
		t.Fatalf("stats = %v", stats.RtcStats)
	}
	for _, member := range []domain.MemberID{"bob", "eva"} {
		h.eventually(string(member)+" connected", func() bool {
			c, ok := h.room.conns.Get(member)
			return ok && c.State() == domain.PeerConnectionConnected
		})
	}

	pc.EmitConnectionState(domain.PeerConnectionDisconnected)
	h.metrics("connection state metrics", 1, func(m domain.PeerMetrics) bool {
		return m.PeerConnectionState != nil && *m.PeerConnectionState == domain.PeerConnectionDisconnected
	})
	h.eventually("bob disconnected", func() bool {
		c, ok := h.room.conns.Get("bob")
		return ok && c.State() == domain.PeerConnectionDisconnected
	})
	if got := h.connectionState("eva"); got != domain.PeerConnectionDisconnected {
		t.Fatalf("eva state = %s", got)
	}
	if got := pc.StatsScrapes(); got != 1 {
		t.Fatalf("stats scraped %d times, want once on connect", got)
	}
}

func TestIceCandidateErrorIsReported(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob"))
	pc := h.pc(1)

	pc.EmitICEConnectionState(domain.IceConnectionChecking)
	ice := h.metrics("ice state metrics", 1, func(m domain.PeerMetrics) bool { return m.IceConnectionState != nil })
	if *ice.IceConnectionState != domain.IceConnectionChecking {
		t.Fatalf("ice state = %s", *ice.IceConnectionState)
	}

	pc.EmitICECandidateError(domain.IceCandidateError{URL: "stun:stun.example.org", ErrorCode: 701, ErrorText: "unreachable"})
	got := h.metrics("candidate error metrics", 1, func(m domain.PeerMetrics) bool { return m.IceCandidateError != nil })
	if e := got.IceCandidateError; e.ErrorCode != 701 || e.URL != "stun:stun.example.org" {
		t.Fatalf("candidate error = %+v", e)
	}
	if pc.StatsScrapes() != 0 {
		t.Fatal("stats must only be scraped once connected")
	}
}

func TestQualityScoreRoutedToConnection(t *testing.T) {
	h := newHarness(t, media.DefaultSettings())
	h.createPeer(1, audioSend(1, false, "bob", "eva"))

	var bob *connection.Connection
	h.run(func() { bob, _ = h.room.conns.Get("bob") })
	if bob == nil {
		t.Fatal("no connection with bob")
	}
	scores := make(chan uint8, 4)
	if err := bob.Handle().OnQualityScoreUpdate(func(s uint8) { scores <- s }); err != nil {
		t.Fatal(err)
	}

	h.events <- domain.ConnectionQualityUpdated{PartnerMemberID: "zed", QualityScore: domain.QualityPoor}
	h.events <- domain.ConnectionQualityUpdated{PartnerMemberID: "bob", QualityScore: domain.QualityHigh}
	select {
	case s := <-scores:
		if s != uint8(domain.QualityHigh) {
			t.Fatalf("score = %d", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no quality score update")
	}

	h.run(func() {
		if q, ok := bob.QualityScore(); !ok || q != domain.QualityHigh {
			t.Errorf("bob score = %d, %v", q, ok)
		}
		eva, ok := h.room.conns.Get("eva")
		if !ok {
			t.Error("no connection with eva")
			return
		}
		if _, ok := eva.QualityScore(); ok {
			t.Error("eva must not be scored")
		}
		if _, ok := h.room.conns.Get("zed"); ok {
			t.Error("a score must not create a connection")
		}
	})
}
