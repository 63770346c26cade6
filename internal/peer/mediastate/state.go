// Package mediastate holds the two-phase media state of a single track side:
// a stable value requested by the application and confirmed by the server,
// or a transition towards an intended value.
package mediastate

import "fmt"

type Kind uint8

const (
	MediaExchange Kind = iota
	Mute
)

func (k Kind) String() string {
	if k == Mute {
		return "Mute"
	}
	return "MediaExchange"
}

// MediaState is a stable value of either kind. For MediaExchange "on" means
// enabled, for Mute it means muted.
type MediaState struct {
	kind Kind
	on   bool
}

var (
	Enabled  = MediaState{kind: MediaExchange, on: true}
	Disabled = MediaState{kind: MediaExchange, on: false}
	Muted    = MediaState{kind: Mute, on: true}
	Unmuted  = MediaState{kind: Mute, on: false}
)

// Of builds a state of kind k.
func Of(k Kind, on bool) MediaState { return MediaState{kind: k, on: on} }

func (s MediaState) Kind() Kind { return s.kind }

// On reports enabled for MediaExchange and muted for Mute states.
func (s MediaState) On() bool { return s.on }

func (s MediaState) Opposite() MediaState { return MediaState{kind: s.kind, on: !s.on} }

func (s MediaState) String() string {
	switch s {
	case Enabled:
		return "Enabled"
	case Disabled:
		return "Disabled"
	case Muted:
		return "Muted"
	default:
		return "Unmuted"
	}
}

// State is a snapshot of a Controller.
type State struct {
	// Current is the stable value, or the last confirmed value while in
	// transition.
	Current      MediaState
	Intended     MediaState
	InTransition bool
}

func (s State) IsStable(v MediaState) bool { return !s.InTransition && s.Current == v }

func (s State) String() string {
	if !s.InTransition {
		return s.Current.String()
	}
	return fmt.Sprintf("%s->%s", s.Current, s.Intended)
}

// TransitsIntoOppositeError is returned by WhenStable when the side settled
// in a state other than the awaited one.
type TransitsIntoOppositeError struct {
	State MediaState
}

func (e *TransitsIntoOppositeError) Error() string {
	return fmt.Sprintf("media state transits into opposite state: %s", e.State)
}
