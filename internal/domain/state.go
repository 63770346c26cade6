package domain

// RoomState is the client's view of a room sent with SynchronizeMe and
// received back with StateSynchronized.
type RoomState struct {
	Peers map[PeerID]PeerState `json:"peers"`
}

type PeerState struct {
	ID              PeerID                    `json:"id"`
	ConnectionMode  ConnectionMode            `json:"connection_mode"`
	Senders         map[TrackID]SenderState   `json:"senders"`
	Receivers       map[TrackID]ReceiverState `json:"receivers"`
	ForceRelay      bool                      `json:"force_relay"`
	IceServers      []IceServer               `json:"ice_servers"`
	NegotiationRole *NegotiationRole          `json:"negotiation_role"`
	LocalSdp        *string                   `json:"local_sdp"`
	RemoteSdp       *string                   `json:"remote_sdp"`
	RestartIce      bool                      `json:"restart_ice"`
	IceCandidates   []IceCandidate            `json:"ice_candidates"`
}

type SenderState struct {
	ID             TrackID        `json:"id"`
	ConnectionMode ConnectionMode `json:"connection_mode"`
	Mid            *string        `json:"mid"`
	MediaType      MediaType      `json:"media_type"`
	Receivers      []MemberID     `json:"receivers"`
	Muted          bool           `json:"muted"`
	MediaDirection MediaDirection `json:"media_direction"`
}

type ReceiverState struct {
	ID             TrackID        `json:"id"`
	ConnectionMode ConnectionMode `json:"connection_mode"`
	Mid            *string        `json:"mid"`
	MediaType      MediaType      `json:"media_type"`
	SenderID       MemberID       `json:"sender_id"`
	Muted          bool           `json:"muted"`
	MediaDirection MediaDirection `json:"media_direction"`
}

// TrackIDs lists every sender and receiver id of the peer.
func (p PeerState) TrackIDs() []TrackID {
	ids := make([]TrackID, 0, len(p.Senders)+len(p.Receivers))
	for id := range p.Senders {
		ids = append(ids, id)
	}
	for id := range p.Receivers {
		ids = append(ids, id)
	}
	return ids
}
