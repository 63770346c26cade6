package media

import "github.com/dkeye/VoiceRoom/internal/domain"

type AudioTrackConstraints struct {
	DeviceID string `json:"device_id,omitempty" mapstructure:"device_id"`
}

type DeviceVideoTrackConstraints struct {
	DeviceID string `json:"device_id,omitempty" mapstructure:"device_id"`
	Width    uint32 `json:"width,omitempty" mapstructure:"width"`
	Height   uint32 `json:"height,omitempty" mapstructure:"height"`
}

type DisplayVideoTrackConstraints struct {
	DeviceID  string `json:"device_id,omitempty" mapstructure:"device_id"`
	Width     uint32 `json:"width,omitempty" mapstructure:"width"`
	Height    uint32 `json:"height,omitempty" mapstructure:"height"`
	FrameRate uint32 `json:"frame_rate,omitempty" mapstructure:"frame_rate"`
}

// trackSettings is the per-class part of MediaStreamSettings. A nil
// constraints pointer means the class is not requested at all.
type trackSettings[C comparable] struct {
	constraints *C
	enabled     bool
	muted       bool
}

func (s trackSettings[C]) isEnabled() bool { return s.enabled && s.constraints != nil }

func (s *trackSettings[C]) set(c C) {
	s.constraints = &c
	s.enabled = true
}

// constrain never re-enables a class that the room disabled.
func (s *trackSettings[C]) constrain(other trackSettings[C]) {
	s.enabled = s.enabled && other.enabled
	s.constraints = other.constraints
}

func (s trackSettings[C]) equal(other trackSettings[C]) bool {
	if s.enabled != other.enabled || s.muted != other.muted {
		return false
	}
	if s.constraints == nil || other.constraints == nil {
		return s.constraints == other.constraints
	}
	return *s.constraints == *other.constraints
}

// MediaStreamSettings describes which local media should be published and
// which devices should produce it. Audio settings cover both audio sources.
type MediaStreamSettings struct {
	audio        trackSettings[AudioTrackConstraints]
	deviceVideo  trackSettings[DeviceVideoTrackConstraints]
	displayVideo trackSettings[DisplayVideoTrackConstraints]
}

// NewSettings returns settings that request nothing: audio is disabled and
// both video classes are unconstrained.
func NewSettings() MediaStreamSettings {
	return MediaStreamSettings{
		audio:        trackSettings[AudioTrackConstraints]{constraints: &AudioTrackConstraints{}},
		deviceVideo:  trackSettings[DeviceVideoTrackConstraints]{enabled: true},
		displayVideo: trackSettings[DisplayVideoTrackConstraints]{enabled: true},
	}
}

// DefaultSettings enables and constrains every class with default
// constraints.
func DefaultSettings() MediaStreamSettings {
	s := NewSettings()
	s.Audio(AudioTrackConstraints{})
	s.DeviceVideo(DeviceVideoTrackConstraints{})
	s.DisplayVideo(DisplayVideoTrackConstraints{})
	return s
}

func (s *MediaStreamSettings) Audio(c AudioTrackConstraints)               { s.audio.set(c) }
func (s *MediaStreamSettings) DeviceVideo(c DeviceVideoTrackConstraints)   { s.deviceVideo.set(c) }
func (s *MediaStreamSettings) DisplayVideo(c DisplayVideoTrackConstraints) { s.displayVideo.set(c) }

func (s MediaStreamSettings) AudioConstraints() AudioTrackConstraints {
	if s.audio.constraints == nil {
		return AudioTrackConstraints{}
	}
	return *s.audio.constraints
}

func (s MediaStreamSettings) DeviceVideoConstraints() (DeviceVideoTrackConstraints, bool) {
	if s.deviceVideo.constraints == nil {
		return DeviceVideoTrackConstraints{}, false
	}
	return *s.deviceVideo.constraints, true
}

func (s MediaStreamSettings) DisplayVideoConstraints() (DisplayVideoTrackConstraints, bool) {
	if s.displayVideo.constraints == nil {
		return DisplayVideoTrackConstraints{}, false
	}
	return *s.displayVideo.constraints, true
}

// Constrain replaces the constraint objects with other's, while the enabled
// flags may only turn off.
func (s *MediaStreamSettings) Constrain(other MediaStreamSettings) {
	s.audio.constrain(other.audio)
	s.deviceVideo.constrain(other.deviceVideo)
	s.displayVideo.constrain(other.displayVideo)
}

// KindsDiff returns the classes whose settings differ from other.
func (s MediaStreamSettings) KindsDiff(other MediaStreamSettings) Criteria {
	var c Criteria
	if !s.deviceVideo.equal(other.deviceVideo) {
		c |= DeviceVideo
	}
	if !s.displayVideo.equal(other.displayVideo) {
		c |= DisplayVideo
	}
	if !s.audio.equal(other.audio) {
		c |= DeviceAudio | DisplayAudio
	}
	return c
}

// SetPublish enables or disables publishing of kind. Audio ignores the
// source filter.
func (s *MediaStreamSettings) SetPublish(enabled bool, kind domain.MediaKind, filter domain.SourceFilter) {
	if kind == domain.MediaKindAudio {
		s.audio.enabled = enabled
		return
	}
	if filter.Matches(domain.SourceDevice) {
		s.deviceVideo.enabled = enabled
	}
	if filter.Matches(domain.SourceDisplay) {
		s.displayVideo.enabled = enabled
	}
}

func (s *MediaStreamSettings) SetMuted(muted bool, kind domain.MediaKind, filter domain.SourceFilter) {
	if kind == domain.MediaKindAudio {
		s.audio.muted = muted
		return
	}
	if filter.Matches(domain.SourceDevice) {
		s.deviceVideo.muted = muted
	}
	if filter.Matches(domain.SourceDisplay) {
		s.displayVideo.muted = muted
	}
}

// SetPublishByKinds enables or disables every class in kinds.
func (s *MediaStreamSettings) SetPublishByKinds(enabled bool, kinds Criteria) {
	if kinds&(DeviceAudio|DisplayAudio) != 0 {
		s.audio.enabled = enabled
	}
	if kinds&DeviceVideo != 0 {
		s.deviceVideo.enabled = enabled
	}
	if kinds&DisplayVideo != 0 {
		s.displayVideo.enabled = enabled
	}
}

func (s MediaStreamSettings) IsAudioEnabled() bool        { return s.audio.enabled }
func (s MediaStreamSettings) IsDeviceVideoEnabled() bool  { return s.deviceVideo.isEnabled() }
func (s MediaStreamSettings) IsDisplayVideoEnabled() bool { return s.displayVideo.isEnabled() }

// IsConstrained reports whether the class of kind/source is requested at
// all. Audio is always constrained.
func (s MediaStreamSettings) IsConstrained(kind domain.MediaKind, source domain.MediaSourceKind) bool {
	switch {
	case kind == domain.MediaKindAudio:
		return true
	case source == domain.SourceDisplay:
		return s.displayVideo.constraints != nil
	default:
		return s.deviceVideo.constraints != nil
	}
}

// Enabled reports whether mt is enabled and constrained.
func (s MediaStreamSettings) Enabled(mt domain.MediaType) bool {
	return s.IsTrackEnabledAndConstrained(mt.Kind, domain.OnlySource(mt.SourceKind))
}

func (s MediaStreamSettings) Muted(mt domain.MediaType) bool {
	switch {
	case mt.Kind == domain.MediaKindAudio:
		return s.audio.muted
	case mt.SourceKind == domain.SourceDisplay:
		return s.displayVideo.muted
	default:
		return s.deviceVideo.muted
	}
}

func (s MediaStreamSettings) IsTrackEnabledAndConstrained(kind domain.MediaKind, filter domain.SourceFilter) bool {
	if kind == domain.MediaKindAudio {
		return s.audio.enabled
	}
	ok := true
	if filter.Matches(domain.SourceDevice) {
		ok = ok && s.deviceVideo.isEnabled()
	}
	if filter.Matches(domain.SourceDisplay) {
		ok = ok && s.displayVideo.isEnabled()
	}
	return ok
}

// IsTrackEnabled looks at the enabled flags only.
func (s MediaStreamSettings) IsTrackEnabled(kind domain.MediaKind, filter domain.SourceFilter) bool {
	if kind == domain.MediaKindAudio {
		return s.audio.enabled
	}
	ok := true
	if filter.Matches(domain.SourceDevice) {
		ok = ok && s.deviceVideo.enabled
	}
	if filter.Matches(domain.SourceDisplay) {
		ok = ok && s.displayVideo.enabled
	}
	return ok
}

func (s MediaStreamSettings) classEnabled(c Criteria) bool {
	switch c {
	case DeviceAudio, DisplayAudio:
		return s.audio.isEnabled()
	case DeviceVideo:
		return s.deviceVideo.isEnabled()
	case DisplayVideo:
		return s.displayVideo.isEnabled()
	}
	return false
}
