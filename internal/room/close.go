package room

import "github.com/dkeye/VoiceRoom/internal/domain"

// CloseReason is why a Room was closed.
type CloseReason struct {
	byServer bool
	server   domain.CloseReason
	client   domain.ClientDisconnect
	isErr    bool
}

// ByServer is a close the server initiated.
func ByServer(reason domain.CloseReason) CloseReason {
	return CloseReason{byServer: true, server: reason}
}

// ByClient is a close initiated on this side. The session is closed with
// reason.
func ByClient(reason domain.ClientDisconnect, isErr bool) CloseReason {
	return CloseReason{client: reason, isErr: isErr}
}

func defaultCloseReason() CloseReason {
	return ByClient(domain.RoomUnexpectedlyDropped, true)
}

// RoomCloseReason is handed to the OnClose callback.
type RoomCloseReason struct {
	Reason           string
	IsClosedByServer bool
	IsErr            bool
}

func (r CloseReason) info() RoomCloseReason {
	if r.byServer {
		return RoomCloseReason{Reason: string(r.server), IsClosedByServer: true}
	}
	return RoomCloseReason{Reason: r.client.String(), IsErr: r.isErr}
}
