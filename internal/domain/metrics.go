package domain

import (
	json "github.com/goccy/go-json"
)

type IceConnectionState string

const (
	IceConnectionNew          IceConnectionState = "New"
	IceConnectionChecking     IceConnectionState = "Checking"
	IceConnectionConnected    IceConnectionState = "Connected"
	IceConnectionCompleted    IceConnectionState = "Completed"
	IceConnectionFailed       IceConnectionState = "Failed"
	IceConnectionDisconnected IceConnectionState = "Disconnected"
	IceConnectionClosed       IceConnectionState = "Closed"
)

type PeerConnectionState string

const (
	PeerConnectionNew          PeerConnectionState = "New"
	PeerConnectionConnecting   PeerConnectionState = "Connecting"
	PeerConnectionConnected    PeerConnectionState = "Connected"
	PeerConnectionDisconnected PeerConnectionState = "Disconnected"
	PeerConnectionFailed       PeerConnectionState = "Failed"
	PeerConnectionClosed       PeerConnectionState = "Closed"
)

type IceCandidateError struct {
	Address   *string `json:"address"`
	Port      *uint32 `json:"port"`
	URL       string  `json:"url"`
	ErrorCode int32   `json:"error_code"`
	ErrorText string  `json:"error_text"`
}

// RtcStats is a flat list of stats entries as reported by the platform.
type RtcStats []map[string]any

// PeerMetrics is a single metric sent with AddPeerConnectionMetrics. Exactly
// one field is set.
type PeerMetrics struct {
	IceConnectionState  *IceConnectionState
	PeerConnectionState *PeerConnectionState
	IceCandidateError   *IceCandidateError
	RtcStats            RtcStats
}

func IceConnectionMetrics(s IceConnectionState) PeerMetrics {
	return PeerMetrics{IceConnectionState: &s}
}

func PeerConnectionMetrics(s PeerConnectionState) PeerMetrics {
	return PeerMetrics{PeerConnectionState: &s}
}

func IceCandidateErrorMetrics(e IceCandidateError) PeerMetrics {
	return PeerMetrics{IceCandidateError: &e}
}

func StatsMetrics(s RtcStats) PeerMetrics { return PeerMetrics{RtcStats: s} }

func (m PeerMetrics) MarshalJSON() ([]byte, error) {
	switch {
	case m.IceConnectionState != nil:
		return json.Marshal(map[string]any{"IceConnectionState": *m.IceConnectionState})
	case m.PeerConnectionState != nil:
		return json.Marshal(map[string]any{"PeerConnectionState": *m.PeerConnectionState})
	case m.IceCandidateError != nil:
		return json.Marshal(map[string]any{
			"PeerConnectionError": map[string]any{"IceCandidate": m.IceCandidateError},
		})
	default:
		stats := m.RtcStats
		if stats == nil {
			stats = RtcStats{}
		}
		return json.Marshal(map[string]any{"RtcStats": stats})
	}
}

func (m *PeerMetrics) UnmarshalJSON(b []byte) error {
	var raw struct {
		IceConnectionState  *IceConnectionState  `json:"IceConnectionState"`
		PeerConnectionState *PeerConnectionState `json:"PeerConnectionState"`
		PeerConnectionError *struct {
			IceCandidate *IceCandidateError `json:"IceCandidate"`
		} `json:"PeerConnectionError"`
		RtcStats RtcStats `json:"RtcStats"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = PeerMetrics{
		IceConnectionState:  raw.IceConnectionState,
		PeerConnectionState: raw.PeerConnectionState,
		RtcStats:            raw.RtcStats,
	}
	if raw.PeerConnectionError != nil {
		m.IceCandidateError = raw.PeerConnectionError.IceCandidate
	}
	return nil
}
