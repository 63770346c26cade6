package domain

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

type MediaKind uint8

const (
	MediaKindAudio MediaKind = iota
	MediaKindVideo
)

func (k MediaKind) String() string {
	if k == MediaKindVideo {
		return "video"
	}
	return "audio"
}

// MediaSourceKind is where a track is captured from.
type MediaSourceKind uint8

const (
	SourceDevice MediaSourceKind = iota
	SourceDisplay
)

func (s MediaSourceKind) String() string {
	if s == SourceDisplay {
		return "Display"
	}
	return "Device"
}

func (s MediaSourceKind) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MediaSourceKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Device":
		*s = SourceDevice
	case "Display":
		*s = SourceDisplay
	default:
		return fmt.Errorf("%w: source kind %q", ErrUnknownVariant, b)
	}
	return nil
}

type TrackDirection uint8

const (
	DirectionSend TrackDirection = iota
	DirectionRecv
)

func (d TrackDirection) String() string {
	if d == DirectionRecv {
		return "recv"
	}
	return "send"
}

// MediaDirection is the negotiated direction of a track's transceiver as the
// server sees it.
type MediaDirection uint8

const (
	MediaSendRecv MediaDirection = iota
	MediaSendOnly
	MediaRecvOnly
	MediaInactive
)

var mediaDirectionNames = [...]string{"SendRecv", "SendOnly", "RecvOnly", "Inactive"}

func (d MediaDirection) String() string {
	if int(d) < len(mediaDirectionNames) {
		return mediaDirectionNames[d]
	}
	return "Unknown"
}

func (d MediaDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *MediaDirection) UnmarshalText(b []byte) error {
	for i, n := range mediaDirectionNames {
		if n == string(b) {
			*d = MediaDirection(i)
			return nil
		}
	}
	return fmt.Errorf("%w: media direction %q", ErrUnknownVariant, b)
}

func (d MediaDirection) IsSendEnabled() bool { return d == MediaSendRecv || d == MediaSendOnly }
func (d MediaDirection) IsRecvEnabled() bool { return d == MediaSendRecv || d == MediaRecvOnly }

// MediaDirectionOf builds a direction out of its send and recv halves.
func MediaDirectionOf(send, recv bool) MediaDirection {
	switch {
	case send && recv:
		return MediaSendRecv
	case send:
		return MediaSendOnly
	case recv:
		return MediaRecvOnly
	default:
		return MediaInactive
	}
}

type EncodingParameters struct {
	Rid                   string  `json:"rid"`
	Active                bool    `json:"active"`
	MaxBitrate            *uint32 `json:"max_bitrate,omitempty"`
	ScaleResolutionDownBy *uint8  `json:"scale_resolution_down_by,omitempty"`
	ScalabilityMode       *string `json:"scalability_mode,omitempty"`
}

// MediaType describes what a track carries.
type MediaType struct {
	Kind               MediaKind
	SourceKind         MediaSourceKind
	Required           bool
	EncodingParameters []EncodingParameters
}

func AudioType(required bool) MediaType {
	return MediaType{Kind: MediaKindAudio, SourceKind: SourceDevice, Required: required}
}

func VideoType(source MediaSourceKind, required bool) MediaType {
	return MediaType{Kind: MediaKindVideo, SourceKind: source, Required: required}
}

type mediaTypeBody struct {
	Required           bool                 `json:"required"`
	SourceKind         MediaSourceKind      `json:"source_kind"`
	EncodingParameters []EncodingParameters `json:"encoding_parameters,omitempty"`
}

func (m MediaType) MarshalJSON() ([]byte, error) {
	body := mediaTypeBody{Required: m.Required, SourceKind: m.SourceKind}
	if m.Kind == MediaKindVideo {
		body.EncodingParameters = m.EncodingParameters
		return json.Marshal(map[string]mediaTypeBody{"Video": body})
	}
	return json.Marshal(map[string]mediaTypeBody{"Audio": body})
}

func (m *MediaType) UnmarshalJSON(b []byte) error {
	var raw map[string]mediaTypeBody
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if body, ok := raw["Audio"]; ok {
		*m = MediaType{Kind: MediaKindAudio, Required: body.Required, SourceKind: body.SourceKind}
		return nil
	}
	if body, ok := raw["Video"]; ok {
		*m = MediaType{
			Kind:               MediaKindVideo,
			Required:           body.Required,
			SourceKind:         body.SourceKind,
			EncodingParameters: body.EncodingParameters,
		}
		return nil
	}
	return fmt.Errorf("%w: media type %s", ErrUnknownVariant, b)
}

// Direction tells whether a track is sent to Receivers or received from
// Sender.
type Direction struct {
	Kind      TrackDirection
	Receivers []MemberID
	Sender    MemberID
	Mid       *string
}

func SendDirection(mid *string, receivers ...MemberID) Direction {
	return Direction{Kind: DirectionSend, Receivers: receivers, Mid: mid}
}

func RecvDirection(mid *string, sender MemberID) Direction {
	return Direction{Kind: DirectionRecv, Sender: sender, Mid: mid}
}

type sendBody struct {
	Receivers []MemberID `json:"receivers"`
	Mid       *string    `json:"mid"`
}

type recvBody struct {
	Sender MemberID `json:"sender"`
	Mid    *string  `json:"mid"`
}

func (d Direction) MarshalJSON() ([]byte, error) {
	if d.Kind == DirectionRecv {
		return json.Marshal(map[string]recvBody{"Recv": {Sender: d.Sender, Mid: d.Mid}})
	}
	receivers := d.Receivers
	if receivers == nil {
		receivers = []MemberID{}
	}
	return json.Marshal(map[string]sendBody{"Send": {Receivers: receivers, Mid: d.Mid}})
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if data, ok := raw["Send"]; ok {
		var body sendBody
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		*d = Direction{Kind: DirectionSend, Receivers: body.Receivers, Mid: body.Mid}
		return nil
	}
	if data, ok := raw["Recv"]; ok {
		var body recvBody
		if err := json.Unmarshal(data, &body); err != nil {
			return err
		}
		*d = Direction{Kind: DirectionRecv, Sender: body.Sender, Mid: body.Mid}
		return nil
	}
	return fmt.Errorf("%w: direction %s", ErrUnknownVariant, b)
}

type Track struct {
	ID             TrackID        `json:"id"`
	Direction      Direction      `json:"direction"`
	MediaDirection MediaDirection `json:"media_direction"`
	Muted          bool           `json:"muted"`
	MediaType      MediaType      `json:"media_type"`
}

// TrackPatchCommand is a client request to change a track.
type TrackPatchCommand struct {
	ID      TrackID `json:"id"`
	Enabled *bool   `json:"enabled"`
	Muted   *bool   `json:"muted"`
}

// TrackPatchEvent is a server-side change of a track. Nil fields are left
// untouched; a non-nil Receivers replaces the receivers list.
type TrackPatchEvent struct {
	ID                 TrackID               `json:"id"`
	MediaDirection     *MediaDirection       `json:"media_direction,omitempty"`
	Receivers          *[]MemberID           `json:"receivers,omitempty"`
	Muted              *bool                 `json:"muted,omitempty"`
	EncodingParameters *[]EncodingParameters `json:"encoding_parameters,omitempty"`
}

// Event converts the command into the patch the server answers it with.
func (c TrackPatchCommand) Event() TrackPatchEvent {
	ev := TrackPatchEvent{ID: c.ID, Muted: c.Muted}
	if c.Enabled != nil {
		dir := MediaInactive
		if *c.Enabled {
			dir = MediaSendRecv
		}
		ev.MediaDirection = &dir
	}
	return ev
}

type PeerUpdateKind uint8

const (
	PeerUpdateAdded PeerUpdateKind = iota
	PeerUpdateRemoved
	PeerUpdateUpdated
	PeerUpdateIceRestart
)

// PeerUpdate is one change inside a PeerUpdated event. Only the field that
// matches Kind is meaningful.
type PeerUpdate struct {
	Kind    PeerUpdateKind
	Track   Track
	TrackID TrackID
	Patch   TrackPatchEvent
}

func TrackAdded(t Track) PeerUpdate { return PeerUpdate{Kind: PeerUpdateAdded, Track: t} }
func TrackRemoved(id TrackID) PeerUpdate {
	return PeerUpdate{Kind: PeerUpdateRemoved, TrackID: id}
}
func TrackUpdated(p TrackPatchEvent) PeerUpdate {
	return PeerUpdate{Kind: PeerUpdateUpdated, Patch: p}
}
func IceRestart() PeerUpdate { return PeerUpdate{Kind: PeerUpdateIceRestart} }

func (u PeerUpdate) MarshalJSON() ([]byte, error) {
	switch u.Kind {
	case PeerUpdateAdded:
		return json.Marshal(map[string]Track{"Added": u.Track})
	case PeerUpdateRemoved:
		return json.Marshal(map[string]TrackID{"Removed": u.TrackID})
	case PeerUpdateUpdated:
		return json.Marshal(map[string]TrackPatchEvent{"Updated": u.Patch})
	default:
		return []byte(`"IceRestart"`), nil
	}
}

func (u *PeerUpdate) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte(`"IceRestart"`)) {
		*u = IceRestart()
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw["Added"] != nil:
		u.Kind = PeerUpdateAdded
		return json.Unmarshal(raw["Added"], &u.Track)
	case raw["Removed"] != nil:
		u.Kind = PeerUpdateRemoved
		return json.Unmarshal(raw["Removed"], &u.TrackID)
	case raw["Updated"] != nil:
		u.Kind = PeerUpdateUpdated
		return json.Unmarshal(raw["Updated"], &u.Patch)
	}
	return fmt.Errorf("%w: peer update %s", ErrUnknownVariant, b)
}

// SourceFilter narrows an operation to a single MediaSourceKind. The zero
// value matches every source.
type SourceFilter struct {
	kind MediaSourceKind
	set  bool
}

func AnySource() SourceFilter { return SourceFilter{} }

func OnlySource(k MediaSourceKind) SourceFilter { return SourceFilter{kind: k, set: true} }

// Get returns the source and whether the filter is narrowed at all.
func (f SourceFilter) Get() (MediaSourceKind, bool) { return f.kind, f.set }

func (f SourceFilter) Matches(k MediaSourceKind) bool { return !f.set || f.kind == k }

func (f SourceFilter) String() string {
	if !f.set {
		return "Any"
	}
	return f.kind.String()
}
