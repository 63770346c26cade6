package media

import (
	"strings"

	"github.com/dkeye/VoiceRoom/internal/domain"
)

// Criteria is a set of (kind, source) pairs a local stream update applies to.
type Criteria uint8

const (
	DeviceAudio Criteria = 1 << iota
	DisplayAudio
	DeviceVideo
	DisplayVideo

	NoCriteria  Criteria = 0
	AllCriteria          = DeviceAudio | DisplayAudio | DeviceVideo | DisplayVideo
)

func criteriaOf(kind domain.MediaKind, source domain.MediaSourceKind) Criteria {
	switch {
	case kind == domain.MediaKindAudio && source == domain.SourceDisplay:
		return DisplayAudio
	case kind == domain.MediaKindAudio:
		return DeviceAudio
	case source == domain.SourceDisplay:
		return DisplayVideo
	default:
		return DeviceVideo
	}
}

// CriteriaFromKinds builds criteria for kind, covering both sources when
// the filter is not narrowed.
func CriteriaFromKinds(kind domain.MediaKind, filter domain.SourceFilter) Criteria {
	if source, ok := filter.Get(); ok {
		return criteriaOf(kind, source)
	}
	return criteriaOf(kind, domain.SourceDevice) | criteriaOf(kind, domain.SourceDisplay)
}

// CriteriaFromTracks collects the classes of the send tracks only.
func CriteriaFromTracks(tracks []domain.Track) Criteria {
	var c Criteria
	for _, t := range tracks {
		if t.Direction.Kind == domain.DirectionSend {
			c.Add(t.MediaType.Kind, t.MediaType.SourceKind)
		}
	}
	return c
}

func (c *Criteria) Add(kind domain.MediaKind, source domain.MediaSourceKind) {
	*c |= criteriaOf(kind, source)
}

func (c Criteria) Has(kind domain.MediaKind, source domain.MediaSourceKind) bool {
	return c&criteriaOf(kind, source) != 0
}

func (c Criteria) IsEmpty() bool { return c == NoCriteria }

func (c Criteria) String() string {
	if c.IsEmpty() {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		bit  Criteria
		name string
	}{
		{DeviceAudio, "device_audio"},
		{DisplayAudio, "display_audio"},
		{DeviceVideo, "device_video"},
		{DisplayVideo, "display_video"},
	} {
		if c&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}
