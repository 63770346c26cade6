package domain

// Event is a fact the media server reports to the client.
type Event interface {
	eventName() string
}

type RoomJoined struct {
	MemberID MemberID `json:"member_id"`
}

type RoomLeft struct {
	CloseReason CloseReason `json:"close_reason"`
}

type PeerCreated struct {
	PeerID          PeerID          `json:"peer_id"`
	NegotiationRole NegotiationRole `json:"negotiation_role"`
	ConnectionMode  ConnectionMode  `json:"connection_mode"`
	Tracks          []Track         `json:"tracks"`
	IceServers      []IceServer     `json:"ice_servers"`
	ForceRelay      bool            `json:"force_relay"`
}

type SdpAnswerMade struct {
	PeerID    PeerID `json:"peer_id"`
	SdpAnswer string `json:"sdp_answer"`
}

type LocalDescriptionApplied struct {
	PeerID   PeerID `json:"peer_id"`
	SdpOffer string `json:"sdp_offer"`
}

type IceCandidateDiscovered struct {
	PeerID    PeerID       `json:"peer_id"`
	Candidate IceCandidate `json:"candidate"`
}

type PeersRemoved struct {
	PeerIDs []PeerID `json:"peer_ids"`
}

type PeerUpdated struct {
	PeerID          PeerID           `json:"peer_id"`
	Updates         []PeerUpdate     `json:"updates"`
	NegotiationRole *NegotiationRole `json:"negotiation_role"`
}

type ConnectionQualityUpdated struct {
	PartnerMemberID MemberID               `json:"partner_member_id"`
	QualityScore    ConnectionQualityScore `json:"quality_score"`
}

type StateSynchronized struct {
	State RoomState `json:"state"`
}

func (RoomJoined) eventName() string               { return "RoomJoined" }
func (RoomLeft) eventName() string                 { return "RoomLeft" }
func (PeerCreated) eventName() string              { return "PeerCreated" }
func (SdpAnswerMade) eventName() string            { return "SdpAnswerMade" }
func (LocalDescriptionApplied) eventName() string  { return "LocalDescriptionApplied" }
func (IceCandidateDiscovered) eventName() string   { return "IceCandidateDiscovered" }
func (PeersRemoved) eventName() string             { return "PeersRemoved" }
func (PeerUpdated) eventName() string              { return "PeerUpdated" }
func (ConnectionQualityUpdated) eventName() string { return "ConnectionQualityUpdated" }
func (StateSynchronized) eventName() string        { return "StateSynchronized" }

// EventName returns the wire name of e.
func EventName(e Event) string { return e.eventName() }
