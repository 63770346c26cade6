package connection

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/peer/mediastate"
)

// Handle is the application's view of a Connection. It fails with
// ErrDetached once the connection is closed.
type Handle struct {
	c *Connection
}

func (h *Handle) upgrade() (*Connection, error) {
	if h.c == nil || h.c.closed.Load() {
		return nil, errors.WithStack(ErrDetached)
	}
	return h.c, nil
}

func (h *Handle) RemoteMemberID() (domain.MemberID, error) {
	c, err := h.upgrade()
	if err != nil {
		return "", err
	}
	return c.remoteID, nil
}

func (h *Handle) OnClose(fn func()) error {
	c, err := h.upgrade()
	if err != nil {
		return err
	}
	c.cb.mu.Lock()
	c.cb.onClose = fn
	c.cb.mu.Unlock()
	return nil
}

func (h *Handle) OnRemoteTrackAdded(fn func(RemoteMediaTrack)) error {
	c, err := h.upgrade()
	if err != nil {
		return err
	}
	c.cb.mu.Lock()
	c.cb.onRemoteTrackAdded = fn
	c.cb.mu.Unlock()
	return nil
}

func (h *Handle) OnQualityScoreUpdate(fn func(uint8)) error {
	c, err := h.upgrade()
	if err != nil {
		return err
	}
	c.cb.mu.Lock()
	c.cb.onQualityScoreUpdate = fn
	c.cb.mu.Unlock()
	return nil
}

func (h *Handle) OnStateChange(fn func(domain.PeerConnectionState)) error {
	c, err := h.upgrade()
	if err != nil {
		return err
	}
	c.cb.mu.Lock()
	c.cb.onStateChange = fn
	c.cb.mu.Unlock()
	return nil
}

func (h *Handle) EnableRemoteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindAudio, domain.AnySource())
}

func (h *Handle) DisableRemoteAudio(ctx context.Context) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindAudio, domain.AnySource())
}

func (h *Handle) EnableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Enabled, domain.MediaKindVideo, filter)
}

func (h *Handle) DisableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error {
	return h.changeMediaState(ctx, mediastate.Disabled, domain.MediaKindVideo, filter)
}

func (h *Handle) changeMediaState(ctx context.Context, desired mediastate.MediaState, kind domain.MediaKind, filter domain.SourceFilter) error {
	c, err := h.upgrade()
	if err != nil {
		return err
	}
	return c.changeMediaState(ctx, desired, kind, filter)
}
