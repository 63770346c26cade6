package core

import (
	"context"
	"time"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_signal.go -package=mocks . RpcSession

// ConnectionInfo is everything needed to join a room.
type ConnectionInfo struct {
	URL        string
	RoomID     domain.RoomID
	MemberID   domain.MemberID
	Credential domain.Credential
}

// RpcSession abstracts the signaling channel to the media server.
// Owned by the room; the room must CloseWithReason() it.
type RpcSession interface {
	// Connect establishes the session and joins the room.
	Connect(ctx context.Context, info ConnectionInfo) error
	// Subscribe returns the stream of room events.
	Subscribe() <-chan domain.Event
	// SendCommand queues a command; it never blocks on the network.
	SendCommand(cmd domain.Command)
	// OnConnectionLoss fires every time the transport is lost.
	OnConnectionLoss() <-chan struct{}
	// OnNormalClose yields the server's reason once the server finished
	// the session.
	OnNormalClose() <-chan domain.CloseReason
	// OnReconnected fires every time the session is re-established.
	OnReconnected() <-chan struct{}
	// Reconnect tries to re-establish a lost session once.
	Reconnect(ctx context.Context) error
	// CloseWithReason leaves the room and closes the transport.
	CloseWithReason(reason domain.ClientDisconnect)
}

// ReconnectHandle lets the application decide when to reconnect after a
// connection loss.
type ReconnectHandle interface {
	ReconnectWithDelay(ctx context.Context, delay time.Duration) error
	ReconnectWithBackoff(ctx context.Context, starting time.Duration, multiplier float64, maxDelay, maxElapsed time.Duration) error
}
