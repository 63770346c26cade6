package media

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
)

// TrackResult is one track returned by Manager.GetTracks. The caller owns
// one reference of Track and must Release it.
type TrackResult struct {
	Track *LocalTrack
	IsNew bool
}

// Manager acquires local tracks and reuses live ones. It never keeps a
// reference of its own, so a track stops as soon as its last sender drops it.
type Manager struct {
	devices core.MediaDevices

	mu     sync.Mutex
	tracks []*LocalTrack
}

func NewManager(devices core.MediaDevices) *Manager {
	return &Manager{devices: devices}
}

// GetTracks resolves every capture of req. Device captures go into a single
// GetUserMedia call, display captures into a single GetDisplayMedia call.
func (m *Manager) GetTracks(ctx context.Context, req *TracksRequest) ([]TrackResult, error) {
	var (
		results     []TrackResult
		userReqs    []core.CaptureRequest
		displayReqs []core.CaptureRequest
	)
	for _, c := range req.Captures() {
		if t := m.reuse(c); t != nil {
			results = append(results, TrackResult{Track: t})
			continue
		}
		if c.Source == domain.SourceDisplay {
			displayReqs = append(displayReqs, c)
		} else {
			userReqs = append(userReqs, c)
		}
	}

	if len(userReqs) > 0 {
		captured, err := m.devices.GetUserMedia(ctx, userReqs)
		if err != nil {
			releaseAll(results)
			return nil, errors.WithStack(&LocalMediaError{Kind: GetUserMediaFailed, Err: err})
		}
		results = append(results, m.store(captured, userReqs)...)
	}
	if len(displayReqs) > 0 {
		captured, err := m.devices.GetDisplayMedia(ctx, displayReqs)
		if err != nil {
			releaseAll(results)
			return nil, errors.WithStack(&LocalMediaError{Kind: GetDisplayMediaFailed, Err: err})
		}
		results = append(results, m.store(captured, displayReqs)...)
	}
	return results, nil
}

func (m *Manager) reuse(c core.CaptureRequest) *LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	for _, t := range m.tracks {
		if t.satisfies(c) && t.Acquire() {
			return t
		}
	}
	return nil
}

func (m *Manager) store(captured []core.CapturedTrack, reqs []core.CaptureRequest) []TrackResult {
	out := make([]TrackResult, 0, len(captured))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range captured {
		req := core.CaptureRequest{Kind: c.Kind, Source: c.Source}
		for _, r := range reqs {
			if r.Kind == c.Kind && r.Source == c.Source {
				req = r
				break
			}
		}
		t := newLocalTrack(c, req)
		m.tracks = append(m.tracks, t)
		out = append(out, TrackResult{Track: t, IsNew: true})
		log.Info().Str("module", "media").Str("track", t.ID()).
			Str("kind", t.Kind().String()).Str("source", t.SourceKind().String()).
			Str("device_id", t.DeviceID()).Msg("local track acquired")
	}
	return out
}

func (m *Manager) pruneLocked() {
	live := m.tracks[:0]
	for _, t := range m.tracks {
		if t.Live() {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(m.tracks); i++ {
		m.tracks[i] = nil
	}
	m.tracks = live
}

// LiveTracks returns how many tracks are still owned by someone.
func (m *Manager) LiveTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	return len(m.tracks)
}

func releaseAll(results []TrackResult) {
	for _, r := range results {
		r.Track.Release()
	}
}
