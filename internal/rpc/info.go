// Package rpc is the signaling session with the media server: a WebSocket
// transport carrying the client API protocol, the room join handshake and
// reconnection.
package rpc

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

var (
	ErrInvalidURL      = errors.New("invalid join url")
	ErrMissingRoomID   = errors.New("join url has no room id")
	ErrMissingMemberID = errors.New("join url has no member id")
	ErrMissingToken    = errors.New("join url has no token")
)

// ParseConnectionInfo splits a join URL of the form
// ws://host/path/<room_id>/<member_id>?token=<credential> into the
// endpoint to dial and the credentials to join with.
func ParseConnectionInfo(raw string) (core.ConnectionInfo, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return core.ConnectionInfo{}, errors.Wrap(ErrInvalidURL, err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return core.ConnectionInfo{}, errors.Wrapf(ErrInvalidURL, "%q", raw)
	}
	token := u.Query().Get("token")
	if token == "" {
		return core.ConnectionInfo{}, errors.WithStack(ErrMissingToken)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 || segments[len(segments)-1] == "" {
		return core.ConnectionInfo{}, errors.WithStack(ErrMissingMemberID)
	}
	member := segments[len(segments)-1]
	if len(segments) < 2 || segments[len(segments)-2] == "" {
		return core.ConnectionInfo{}, errors.WithStack(ErrMissingRoomID)
	}
	room := segments[len(segments)-2]

	u.RawQuery = ""
	u.Fragment = ""
	u.RawPath = ""
	u.Path = "/" + strings.Join(segments[:len(segments)-2], "/")

	return core.ConnectionInfo{
		URL:        u.String(),
		RoomID:     domain.RoomID(room),
		MemberID:   domain.MemberID(member),
		Credential: domain.Credential(token),
	}, nil
}
