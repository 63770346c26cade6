// Package domain contains the client API protocol: ids, tracks, commands,
// events and the state snapshot exchanged with the media server.
package domain

import (
	"errors"
	"strconv"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrUnknownVariant = errors.New("unknown enum variant")
)

type (
	RoomID   string
	MemberID string
	PeerID   uint32
	TrackID  uint32
)

func (id PeerID) String() string  { return strconv.FormatUint(uint64(id), 10) }
func (id TrackID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Credential is a member's secret used to authenticate on join.
type Credential string

// String hides the secret from logs.
func (Credential) String() string { return "*****" }
