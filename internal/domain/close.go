package domain

// CloseReason is why the server closed a session.
type CloseReason string

const (
	CloseFinished      CloseReason = "Finished"
	CloseReconnected   CloseReason = "Reconnected"
	CloseIdle          CloseReason = "Idle"
	CloseRejected      CloseReason = "Rejected"
	CloseInternalError CloseReason = "InternalError"
	CloseEvicted       CloseReason = "Evicted"
)

// CloseDescription is the payload of a server close frame.
type CloseDescription struct {
	Reason CloseReason `json:"reason"`
}

// ClientDisconnect is why the client closed a session.
type ClientDisconnect uint8

const (
	RoomUnexpectedlyDropped ClientDisconnect = iota
	RoomClosed
	RpcClientUnexpectedlyDropped
	RpcTransportUnexpectedlyDropped
	SessionUnexpectedlyDropped
	CloseForReconnection
)

var clientDisconnectNames = [...]string{
	"RoomUnexpectedlyDropped",
	"RoomClosed",
	"RpcClientUnexpectedlyDropped",
	"RpcTransportUnexpectedlyDropped",
	"SessionUnexpectedlyDropped",
	"CloseForReconnection",
}

func (d ClientDisconnect) String() string {
	if int(d) < len(clientDisconnectNames) {
		return clientDisconnectNames[d]
	}
	return "Unknown"
}

// Code is the WebSocket close code sent with this reason. Only 1000 and
// 3000-4999 are allowed, anything but 1000 is abnormal.
func (d ClientDisconnect) Code() int {
	if d == CloseForReconnection {
		return 3000
	}
	return 1000
}

func (d ClientDisconnect) MarshalText() ([]byte, error) { return []byte(d.String()), nil }
