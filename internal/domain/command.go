package domain

// Command is a request from the client to the media server.
type Command interface {
	commandName() string
}

type JoinRoom struct {
	MemberID   MemberID   `json:"member_id"`
	Credential Credential `json:"credential"`
}

type LeaveRoom struct {
	MemberID MemberID `json:"member_id"`
}

type MakeSdpOffer struct {
	PeerID               PeerID             `json:"peer_id"`
	SdpOffer             string             `json:"sdp_offer"`
	Mids                 map[TrackID]string `json:"mids"`
	TransceiversStatuses map[TrackID]bool   `json:"transceivers_statuses"`
}

type MakeSdpAnswer struct {
	PeerID               PeerID           `json:"peer_id"`
	SdpAnswer            string           `json:"sdp_answer"`
	TransceiversStatuses map[TrackID]bool `json:"transceivers_statuses"`
}

type SetIceCandidate struct {
	PeerID    PeerID       `json:"peer_id"`
	Candidate IceCandidate `json:"candidate"`
}

type AddPeerConnectionMetrics struct {
	PeerID  PeerID      `json:"peer_id"`
	Metrics PeerMetrics `json:"metrics"`
}

type UpdateTracks struct {
	PeerID        PeerID              `json:"peer_id"`
	TracksPatches []TrackPatchCommand `json:"tracks_patches"`
}

type SynchronizeMe struct {
	State RoomState `json:"state"`
}

func (JoinRoom) commandName() string                 { return "JoinRoom" }
func (LeaveRoom) commandName() string                { return "LeaveRoom" }
func (MakeSdpOffer) commandName() string             { return "MakeSdpOffer" }
func (MakeSdpAnswer) commandName() string            { return "MakeSdpAnswer" }
func (SetIceCandidate) commandName() string          { return "SetIceCandidate" }
func (AddPeerConnectionMetrics) commandName() string { return "AddPeerConnectionMetrics" }
func (UpdateTracks) commandName() string             { return "UpdateTracks" }
func (SynchronizeMe) commandName() string            { return "SynchronizeMe" }

// CommandName returns the wire name of c.
func CommandName(c Command) string { return c.commandName() }
