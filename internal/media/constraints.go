package media

import (
	"sync"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

// LocalTracksConstraints is the shared MediaStreamSettings of a room. Every
// peer reads it when deciding what to publish; the room writes it before
// any media is acquired.
type LocalTracksConstraints struct {
	mu sync.RWMutex
	s  MediaStreamSettings
}

func NewLocalTracksConstraints(s MediaStreamSettings) *LocalTracksConstraints {
	return &LocalTracksConstraints{s: s}
}

// Inner returns a copy of the current settings.
func (c *LocalTracksConstraints) Inner() MediaStreamSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s
}

func (c *LocalTracksConstraints) Constrain(other MediaStreamSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Constrain(other)
}

func (c *LocalTracksConstraints) KindsDiff(other MediaStreamSettings) Criteria {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.s.KindsDiff(other)
}

func (c *LocalTracksConstraints) SetPublish(enabled bool, kind domain.MediaKind, filter domain.SourceFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SetPublish(enabled, kind, filter)
}

func (c *LocalTracksConstraints) SetMuted(muted bool, kind domain.MediaKind, filter domain.SourceFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SetMuted(muted, kind, filter)
}

func (c *LocalTracksConstraints) SetPublishByKinds(enabled bool, kinds Criteria) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SetPublishByKinds(enabled, kinds)
}

func (c *LocalTracksConstraints) Enabled(mt domain.MediaType) bool {
	return c.Inner().Enabled(mt)
}

func (c *LocalTracksConstraints) Muted(mt domain.MediaType) bool {
	return c.Inner().Muted(mt)
}

func (c *LocalTracksConstraints) IsConstrained(kind domain.MediaKind, source domain.MediaSourceKind) bool {
	return c.Inner().IsConstrained(kind, source)
}

func (c *LocalTracksConstraints) IsTrackEnabled(kind domain.MediaKind, filter domain.SourceFilter) bool {
	return c.Inner().IsTrackEnabled(kind, filter)
}

func (c *LocalTracksConstraints) IsTrackEnabledAndConstrained(kind domain.MediaKind, filter domain.SourceFilter) bool {
	return c.Inner().IsTrackEnabledAndConstrained(kind, filter)
}

// RecvConstraints gate which inbound tracks are accepted, per class.
type RecvConstraints struct {
	mu      sync.RWMutex
	enabled map[Criteria]bool
}

func NewRecvConstraints() *RecvConstraints {
	return &RecvConstraints{enabled: map[Criteria]bool{
		DeviceAudio:  true,
		DisplayAudio: true,
		DeviceVideo:  true,
		DisplayVideo: true,
	}}
}

func (c *RecvConstraints) SetEnabled(enabled bool, kind domain.MediaKind, filter domain.SourceFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, source := range []domain.MediaSourceKind{domain.SourceDevice, domain.SourceDisplay} {
		if filter.Matches(source) {
			c.enabled[criteriaOf(kind, source)] = enabled
		}
	}
}

func (c *RecvConstraints) Enabled(kind domain.MediaKind, source domain.MediaSourceKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[criteriaOf(kind, source)]
}
