package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

type commandEnvelope struct {
	Command string          `json:"command"`
	Data    json.RawMessage `json:"data"`
}

type eventEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func EncodeCommand(c Command) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandEnvelope{Command: c.commandName(), Data: data})
}

func DecodeCommand(b []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Command {
	case "JoinRoom":
		return decode[JoinRoom](env.Data)
	case "LeaveRoom":
		return decode[LeaveRoom](env.Data)
	case "MakeSdpOffer":
		return decode[MakeSdpOffer](env.Data)
	case "MakeSdpAnswer":
		return decode[MakeSdpAnswer](env.Data)
	case "SetIceCandidate":
		return decode[SetIceCandidate](env.Data)
	case "AddPeerConnectionMetrics":
		return decode[AddPeerConnectionMetrics](env.Data)
	case "UpdateTracks":
		return decode[UpdateTracks](env.Data)
	case "SynchronizeMe":
		return decode[SynchronizeMe](env.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
}

func EncodeEvent(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Event: e.eventName(), Data: data})
}

func DecodeEvent(b []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Event {
	case "RoomJoined":
		return decode[RoomJoined](env.Data)
	case "RoomLeft":
		return decode[RoomLeft](env.Data)
	case "PeerCreated":
		return decode[PeerCreated](env.Data)
	case "SdpAnswerMade":
		return decode[SdpAnswerMade](env.Data)
	case "LocalDescriptionApplied":
		return decode[LocalDescriptionApplied](env.Data)
	case "IceCandidateDiscovered":
		return decode[IceCandidateDiscovered](env.Data)
	case "PeersRemoved":
		return decode[PeersRemoved](env.Data)
	case "PeerUpdated":
		return decode[PeerUpdated](env.Data)
	case "ConnectionQualityUpdated":
		return decode[ConnectionQualityUpdated](env.Data)
	case "StateSynchronized":
		return decode[StateSynchronized](env.Data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// RpcSettings are pushed by the server right after connect.
type RpcSettings struct {
	IdleTimeoutMs  uint32 `json:"idle_timeout_ms"`
	PingIntervalMs uint32 `json:"ping_interval_ms"`
}

// ServerMsg is one frame received from the server. Exactly one of Ping,
// Event or Settings is set.
type ServerMsg struct {
	Ping     *uint32
	RoomID   RoomID
	Event    Event
	Settings *RpcSettings
}

type serverEnvelope struct {
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type roomEventBody struct {
	RoomID RoomID          `json:"room_id"`
	Event  json.RawMessage `json:"event"`
}

func DecodeServerMsg(b []byte) (ServerMsg, error) {
	var env serverEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return ServerMsg{}, err
	}
	switch env.Msg {
	case "Ping":
		n, err := decode[uint32](env.Data)
		return ServerMsg{Ping: &n}, err
	case "RpcSettings":
		s, err := decode[RpcSettings](env.Data)
		return ServerMsg{Settings: &s}, err
	case "Event":
		body, err := decode[roomEventBody](env.Data)
		if err != nil {
			return ServerMsg{}, err
		}
		ev, err := DecodeEvent(body.Event)
		return ServerMsg{RoomID: body.RoomID, Event: ev}, err
	}
	return ServerMsg{}, fmt.Errorf("%w: server msg %q", ErrUnknownVariant, env.Msg)
}

func EncodeServerMsg(m ServerMsg) ([]byte, error) {
	switch {
	case m.Ping != nil:
		return json.Marshal(map[string]any{"msg": "Ping", "data": *m.Ping})
	case m.Settings != nil:
		return json.Marshal(map[string]any{"msg": "RpcSettings", "data": m.Settings})
	case m.Event != nil:
		ev, err := EncodeEvent(m.Event)
		if err != nil {
			return nil, err
		}
		body := roomEventBody{RoomID: m.RoomID, Event: ev}
		return json.Marshal(map[string]any{"msg": "Event", "data": body})
	}
	return nil, fmt.Errorf("%w: empty server msg", ErrUnknownVariant)
}

// ClientMsg is one frame sent to the server. Either Pong or Command is set.
type ClientMsg struct {
	Pong    *uint32
	RoomID  RoomID
	Command Command
}

type roomCommandBody struct {
	RoomID  RoomID          `json:"room_id"`
	Command json.RawMessage `json:"command"`
}

func EncodeClientMsg(m ClientMsg) ([]byte, error) {
	if m.Pong != nil {
		return json.Marshal(map[string]uint32{"Pong": *m.Pong})
	}
	cmd, err := EncodeCommand(m.Command)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]roomCommandBody{
		"Command": {RoomID: m.RoomID, Command: cmd},
	})
}

func DecodeClientMsg(b []byte) (ClientMsg, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return ClientMsg{}, err
	}
	if data, ok := raw["Pong"]; ok {
		n, err := decode[uint32](data)
		return ClientMsg{Pong: &n}, err
	}
	data, ok := raw["Command"]
	if !ok {
		return ClientMsg{}, fmt.Errorf("%w: client msg %s", ErrUnknownVariant, b)
	}
	body, err := decode[roomCommandBody](data)
	if err != nil {
		return ClientMsg{}, err
	}
	cmd, err := DecodeCommand(body.Command)
	return ClientMsg{RoomID: body.RoomID, Command: cmd}, err
}
