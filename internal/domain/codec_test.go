package domain

import (
	"strings"
	"testing"
)

func TestDecodeServerMsgPeerUpdated(t *testing.T) {
	raw := `{"msg":"Event","data":{"room_id":"room","event":{"event":"PeerUpdated","data":{
		"peer_id":1,
		"updates":[
			{"Updated":{"id":3,"receivers":[]}},
			{"Updated":{"id":4,"muted":true}},
			"IceRestart",
			{"Removed":5}
		],
		"negotiation_role":{"Answerer":"v=0"}
	}}}}`

	msg, err := DecodeServerMsg([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.RoomID != "room" {
		t.Fatalf("room id = %q", msg.RoomID)
	}
	ev, ok := msg.Event.(PeerUpdated)
	if !ok {
		t.Fatalf("event type = %T", msg.Event)
	}
	if ev.NegotiationRole == nil || !ev.NegotiationRole.Answerer || ev.NegotiationRole.SdpOffer != "v=0" {
		t.Fatalf("negotiation role = %+v", ev.NegotiationRole)
	}
	if len(ev.Updates) != 4 {
		t.Fatalf("updates = %d", len(ev.Updates))
	}

	emptied := ev.Updates[0].Patch
	if emptied.Receivers == nil || len(*emptied.Receivers) != 0 {
		t.Fatalf("receivers must be present and empty, got %v", emptied.Receivers)
	}
	muted := ev.Updates[1].Patch
	if muted.Receivers != nil {
		t.Fatalf("absent receivers must stay nil")
	}
	if muted.Muted == nil || !*muted.Muted {
		t.Fatalf("muted = %v", muted.Muted)
	}
	if ev.Updates[2].Kind != PeerUpdateIceRestart {
		t.Fatalf("kind = %v", ev.Updates[2].Kind)
	}
	if ev.Updates[3].Kind != PeerUpdateRemoved || ev.Updates[3].TrackID != 5 {
		t.Fatalf("removed = %+v", ev.Updates[3])
	}
}

func TestDecodePeerCreated(t *testing.T) {
	raw := `{"event":"PeerCreated","data":{
		"peer_id":7,
		"negotiation_role":"Offerer",
		"connection_mode":"Sfu",
		"tracks":[
			{"id":1,"direction":{"Send":{"receivers":["bob"],"mid":null}},"media_direction":"SendRecv","muted":false,
			 "media_type":{"Audio":{"required":true,"source_kind":"Device"}}},
			{"id":2,"direction":{"Recv":{"sender":"bob","mid":"1"}},"media_direction":"RecvOnly","muted":true,
			 "media_type":{"Video":{"required":false,"source_kind":"Display"}}}
		],
		"ice_servers":[{"urls":["stun:example.org"]}],
		"force_relay":true
	}}`

	e, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev := e.(PeerCreated)
	if ev.NegotiationRole.Answerer || ev.ConnectionMode != ConnectionModeSfu || !ev.ForceRelay {
		t.Fatalf("unexpected header: %+v", ev)
	}
	audio, video := ev.Tracks[0], ev.Tracks[1]
	if audio.Direction.Kind != DirectionSend || audio.Direction.Receivers[0] != "bob" || !audio.MediaType.Required {
		t.Fatalf("audio = %+v", audio)
	}
	if video.Direction.Kind != DirectionRecv || video.Direction.Sender != "bob" || *video.Direction.Mid != "1" {
		t.Fatalf("video = %+v", video)
	}
	if video.MediaType.Kind != MediaKindVideo || video.MediaType.SourceKind != SourceDisplay {
		t.Fatalf("video media type = %+v", video.MediaType)
	}
	if video.MediaDirection.IsSendEnabled() || !video.MediaDirection.IsRecvEnabled() {
		t.Fatalf("media direction = %v", video.MediaDirection)
	}
}

func TestEncodeClientMsg(t *testing.T) {
	n := uint32(12)
	pong, err := EncodeClientMsg(ClientMsg{Pong: &n})
	if err != nil {
		t.Fatal(err)
	}
	if string(pong) != `{"Pong":12}` {
		t.Fatalf("pong = %s", pong)
	}

	disabled := false
	b, err := EncodeClientMsg(ClientMsg{RoomID: "room", Command: UpdateTracks{
		PeerID:        1,
		TracksPatches: []TrackPatchCommand{{ID: 2, Enabled: &disabled}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"command":"UpdateTracks"`) {
		t.Fatalf("missing command tag: %s", b)
	}

	back, err := DecodeClientMsg(b)
	if err != nil {
		t.Fatal(err)
	}
	upd := back.Command.(UpdateTracks)
	if back.RoomID != "room" || upd.PeerID != 1 || *upd.TracksPatches[0].Enabled {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestTrackPatchCommandEvent(t *testing.T) {
	on, off := true, false
	cases := []struct {
		name    string
		enabled *bool
		want    *MediaDirection
	}{
		{"enable", &on, ptr(MediaSendRecv)},
		{"disable", &off, ptr(MediaInactive)},
		{"untouched", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := TrackPatchCommand{ID: 1, Enabled: tc.enabled}.Event()
			if (ev.MediaDirection == nil) != (tc.want == nil) {
				t.Fatalf("direction = %v, want %v", ev.MediaDirection, tc.want)
			}
			if tc.want != nil && *ev.MediaDirection != *tc.want {
				t.Fatalf("direction = %v, want %v", *ev.MediaDirection, *tc.want)
			}
			if ev.Receivers != nil {
				t.Fatal("command never carries receivers")
			}
		})
	}
}

func TestClientDisconnectCode(t *testing.T) {
	if RoomClosed.Code() != 1000 || CloseForReconnection.Code() != 3000 {
		t.Fatal("unexpected close codes")
	}
}

func ptr[T any](v T) *T { return &v }
