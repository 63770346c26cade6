package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_media.go -package=mocks . MediaDevices

// PeerConnection is the platform connection a peer negotiates over.
type PeerConnection interface {
	// AddTransceiver creates a transceiver for one side of a track. Only a
	// DirectionSend transceiver can ever carry a local track; enabled sets
	// its half of the initial direction.
	AddTransceiver(kind domain.MediaKind, side domain.TrackDirection, enabled bool) (Transceiver, error)
	// TransceiverByMid returns nil until a transceiver with mid is negotiated.
	TransceiverByMid(mid string) Transceiver
	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer creates an answer and applies it as the local description.
	CreateAnswer(ctx context.Context) (string, error)
	SetRemoteOffer(ctx context.Context, sdp string) error
	SetRemoteAnswer(ctx context.Context, sdp string) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(domain.IceCandidate) error
	// RestartICE marks the next offer as an ICE restart one.
	RestartICE()
	GetStats(ctx context.Context) (domain.RtcStats, error)

	OnICECandidate(func(domain.IceCandidate))
	OnICECandidateError(func(domain.IceCandidateError))
	OnICEConnectionStateChange(func(domain.IceConnectionState))
	OnConnectionStateChange(func(domain.PeerConnectionState))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(track RemoteTrack, transceiver Transceiver))

	// Close should stop all underlying media resources.
	Close() error
}

// Transceiver is a negotiated media section of a PeerConnection.
type Transceiver interface {
	// Mid is empty until the transceiver is negotiated.
	Mid() string
	SetSendTrack(track webrtc.TrackLocal) error
	SetDirection(send, recv bool) error
	HasSendTrack() bool
}

// RemoteTrack is an inbound track. *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// CaptureRequest asks the platform for one local track.
type CaptureRequest struct {
	Kind      domain.MediaKind
	Source    domain.MediaSourceKind
	DeviceID  string
	Width     uint32
	Height    uint32
	FrameRate uint32
}

// CapturedTrack is a live local track produced by MediaDevices.
type CapturedTrack struct {
	Track    webrtc.TrackLocal
	Kind     domain.MediaKind
	Source   domain.MediaSourceKind
	DeviceID string
	// Stop releases the capture device.
	Stop func()
}

// MediaDevices acquires local tracks from capture devices or the screen.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, reqs []CaptureRequest) ([]CapturedTrack, error)
	GetDisplayMedia(ctx context.Context, reqs []CaptureRequest) ([]CapturedTrack, error)
}
