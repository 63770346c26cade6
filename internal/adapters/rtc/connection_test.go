package rtc

import (
	"context"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

func newConnection(t *testing.T, id domain.PeerID) *Connection {
	t.Helper()
	c, err := NewConnection(id, webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConfiguration(t *testing.T) {
	user, pass := "u", "p"
	cfg := Configuration([]domain.IceServer{
		{URLs: []string{"turn:turn.example.org"}, Username: &user, Credential: &pass},
	}, true, []string{"stun:stun.example.org"})

	if cfg.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("policy = %s", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("servers = %+v", cfg.ICEServers)
	}
	if cfg.ICEServers[0].Username != "u" || cfg.ICEServers[0].Credential != "p" {
		t.Fatalf("turn server = %+v", cfg.ICEServers[0])
	}
	if got := Configuration(nil, false, nil); got.ICETransportPolicy != webrtc.ICETransportPolicyAll || len(got.ICEServers) != 0 {
		t.Fatalf("empty configuration = %+v", got)
	}
}

func negotiate(t *testing.T, offerer, answerer *Connection) string {
	t.Helper()
	ctx := context.Background()
	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := answerer.SetRemoteOffer(ctx, offer); err != nil {
		t.Fatal(err)
	}
	answer, err := answerer.CreateAnswer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := offerer.SetRemoteAnswer(ctx, answer); err != nil {
		t.Fatal(err)
	}
	return offer
}

func captureAudio(t *testing.T) webrtc.TrackLocal {
	t.Helper()
	captured, err := NewDevices().GetUserMedia(context.Background(), []core.CaptureRequest{{Kind: domain.MediaKindAudio}})
	if err != nil {
		t.Fatal(err)
	}
	return captured[0].Track
}

func senderTrack(tr core.Transceiver) webrtc.TrackLocal {
	s := tr.(*Transceiver).t.Sender()
	if s == nil {
		return nil
	}
	return s.Track()
}

func TestOfferAnswer(t *testing.T) {
	offerer := newConnection(t, 1)
	answerer := newConnection(t, 2)

	audio, err := offerer.AddTransceiver(domain.MediaKindAudio, domain.DirectionSend, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := offerer.AddTransceiver(domain.MediaKindVideo, domain.DirectionRecv, true); err != nil {
		t.Fatal(err)
	}
	if _, err := offerer.AddTransceiver(domain.MediaKindVideo, domain.DirectionSend, false); err != nil {
		t.Fatal(err)
	}
	if audio.Mid() != "" {
		t.Fatalf("mid before negotiation = %q", audio.Mid())
	}

	// No local track is attached anywhere yet.
	offer := negotiate(t, offerer, answerer)
	if !strings.Contains(offer, "m=audio") || !strings.Contains(offer, "m=video") {
		t.Fatalf("offer has no media sections:\n%s", offer)
	}
	if audio.Mid() == "" {
		t.Fatal("mid must be assigned by the offer")
	}
	if got := offerer.TransceiverByMid(audio.Mid()); got != audio {
		t.Fatal("transceiver lookup must return the same transceiver")
	}
	if offerer.TransceiverByMid("unknown") != nil {
		t.Fatal("unknown mid must not resolve")
	}

	track := captureAudio(t)
	if err := audio.SetSendTrack(track); err != nil {
		t.Fatal(err)
	}
	if senderTrack(audio) != track {
		t.Fatal("track must be sent")
	}
	if err := audio.SetDirection(false, false); err != nil {
		t.Fatal(err)
	}
	negotiate(t, offerer, answerer)
	if err := audio.SetDirection(true, false); err != nil {
		t.Fatal(err)
	}
	if senderTrack(audio) != track {
		t.Fatal("track must be sent again")
	}
}

func TestClientAnswersServerOffer(t *testing.T) {
	ctx := context.Background()
	server, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = server.Close() })
	if _, err := server.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendonly}); err != nil {
		t.Fatal(err)
	}
	recv, err := server.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	if err != nil {
		t.Fatal(err)
	}
	offer, err := server.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}

	client := newConnection(t, 1)
	if err := client.SetRemoteOffer(ctx, offer.SDP); err != nil {
		t.Fatal(err)
	}
	// The section the server receives on is the client's send side.
	send := client.TransceiverByMid(recv.Mid())
	if send == nil {
		t.Fatal("no transceiver for the server's recvonly section")
	}
	track := captureAudio(t)
	if err := send.SetSendTrack(track); err != nil {
		t.Fatal(err)
	}
	if err := send.SetDirection(true, false); err != nil {
		t.Fatal(err)
	}
	if senderTrack(send) != track {
		t.Fatal("track must be sent")
	}

	answer, err := client.CreateAnswer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(answer, track.ID()) {
		t.Fatalf("answer does not announce the track:\n%s", answer)
	}
	if err := server.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatal(err)
	}

	if err := send.SetDirection(false, false); err != nil {
		t.Fatal(err)
	}
	if got := senderTrack(send); got == nil || got == track {
		t.Fatalf("disabled sender carries %v", got)
	}
}

func TestCanceledNegotiation(t *testing.T) {
	c := newConnection(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.CreateOffer(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := c.SetRemoteAnswer(ctx, "v=0"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestTransceiverSendTrack(t *testing.T) {
	c := newConnection(t, 1)
	tr, err := c.AddTransceiver(domain.MediaKindAudio, domain.DirectionSend, true)
	if err != nil {
		t.Fatal(err)
	}
	idle := senderTrack(tr)
	if idle == nil {
		t.Fatal("sender must start with an idle track")
	}
	track := captureAudio(t)

	if err := tr.SetSendTrack(track); err != nil {
		t.Fatal(err)
	}
	if !tr.HasSendTrack() || senderTrack(tr) != track {
		t.Fatal("track must be attached")
	}
	if err := tr.SetDirection(false, false); err != nil {
		t.Fatal(err)
	}
	send, recv := tr.(*Transceiver).Direction()
	if send || recv {
		t.Fatalf("direction = %v/%v", send, recv)
	}
	// The track survives a disabled send half; the sender never goes empty.
	if !tr.HasSendTrack() || senderTrack(tr) != idle {
		t.Fatal("track must stay attached while idle is sent")
	}
	if err := tr.SetDirection(true, false); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetSendTrack(nil); err != nil {
		t.Fatal(err)
	}
	if tr.HasSendTrack() || senderTrack(tr) != idle {
		t.Fatal("track must be detached")
	}
}

func TestReceiveSideHasNoSender(t *testing.T) {
	c := newConnection(t, 1)
	tr, err := c.AddTransceiver(domain.MediaKindVideo, domain.DirectionRecv, false)
	if err != nil {
		t.Fatal(err)
	}
	if tr.(*Transceiver).t.Sender() != nil {
		t.Fatal("receive side must be recvonly")
	}
	if err := tr.SetDirection(false, true); err != nil {
		t.Fatal(err)
	}
	if send, recv := tr.(*Transceiver).Direction(); send || !recv {
		t.Fatalf("direction = %v/%v", send, recv)
	}
}

func TestGetStats(t *testing.T) {
	c := newConnection(t, 1)
	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, s := range stats {
		if s["type"] == "peer-connection" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no peer-connection entry in %v", stats)
	}
}

func TestStateMapping(t *testing.T) {
	if st, ok := iceState(webrtc.ICEConnectionStateChecking); !ok || st != domain.IceConnectionChecking {
		t.Fatalf("ice state = %s", st)
	}
	if _, ok := iceState(webrtc.ICEConnectionStateUnknown); ok {
		t.Fatal("unknown ice state must not map")
	}
	if st, ok := peerState(webrtc.PeerConnectionStateFailed); !ok || st != domain.PeerConnectionFailed {
		t.Fatalf("peer state = %s", st)
	}
	if _, ok := peerState(webrtc.PeerConnectionStateUnknown); ok {
		t.Fatal("unknown peer state must not map")
	}
}
