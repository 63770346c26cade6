package domain

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// NegotiationRole tells a peer whether it starts SDP negotiation or answers
// the given offer.
type NegotiationRole struct {
	Answerer bool
	SdpOffer string
}

func Offerer() NegotiationRole { return NegotiationRole{} }

func Answerer(sdpOffer string) NegotiationRole {
	return NegotiationRole{Answerer: true, SdpOffer: sdpOffer}
}

func (r NegotiationRole) String() string {
	if r.Answerer {
		return "Answerer"
	}
	return "Offerer"
}

func (r NegotiationRole) MarshalJSON() ([]byte, error) {
	if r.Answerer {
		return json.Marshal(map[string]string{"Answerer": r.SdpOffer})
	}
	return []byte(`"Offerer"`), nil
}

func (r *NegotiationRole) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		if name != "Offerer" {
			return fmt.Errorf("%w: negotiation role %q", ErrUnknownVariant, name)
		}
		*r = Offerer()
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	sdp, ok := raw["Answerer"]
	if !ok {
		return fmt.Errorf("%w: negotiation role %s", ErrUnknownVariant, b)
	}
	*r = Answerer(sdp)
	return nil
}

type ConnectionMode string

const (
	ConnectionModeMesh ConnectionMode = "Mesh"
	ConnectionModeSfu  ConnectionMode = "Sfu"
)

type IceServer struct {
	URLs       []string `json:"urls"`
	Username   *string  `json:"username,omitempty"`
	Credential *string  `json:"credential,omitempty"`
}

type IceCandidate struct {
	Candidate     string  `json:"candidate"`
	SdpMLineIndex *uint16 `json:"sdp_m_line_index"`
	SdpMid        *string `json:"sdp_mid"`
}

// ConnectionQualityScore is the server's estimate of a link to a partner
// member, from Poor (1) to High (4).
type ConnectionQualityScore uint8

const (
	QualityPoor ConnectionQualityScore = iota + 1
	QualityLow
	QualityMedium
	QualityHigh
)
