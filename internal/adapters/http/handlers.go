package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/room"
)

// Controller is the part of a room handle the control API drives.
// *room.Handle implements it.
type Controller interface {
	MuteAudio(ctx context.Context) error
	UnmuteAudio(ctx context.Context) error
	DisableAudio(ctx context.Context) error
	EnableAudio(ctx context.Context) error
	MuteVideo(ctx context.Context, filter domain.SourceFilter) error
	UnmuteVideo(ctx context.Context, filter domain.SourceFilter) error
	DisableVideo(ctx context.Context, filter domain.SourceFilter) error
	EnableVideo(ctx context.Context, filter domain.SourceFilter) error
	DisableRemoteAudio(ctx context.Context) error
	EnableRemoteAudio(ctx context.Context) error
	DisableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error
	EnableRemoteVideo(ctx context.Context, filter domain.SourceFilter) error
	SetLocalMediaSettings(ctx context.Context, settings media.MediaStreamSettings, stopFirst, rollbackOnFail bool) error
}

var _ Controller = (*room.Handle)(nil)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type SettingsRequest struct {
	StopFirst      bool                                `json:"stop_first"`
	RollbackOnFail bool                                `json:"rollback_on_fail"`
	Audio          *media.AudioTrackConstraints        `json:"audio"`
	DeviceVideo    *media.DeviceVideoTrackConstraints  `json:"device_video"`
	DisplayVideo   *media.DisplayVideoTrackConstraints `json:"display_video"`
}

// Settings converts the request into stream settings. Absent classes are
// not requested.
func (r SettingsRequest) Settings() media.MediaStreamSettings {
	s := media.NewSettings()
	if r.Audio != nil {
		s.Audio(*r.Audio)
	}
	if r.DeviceVideo != nil {
		s.DeviceVideo(*r.DeviceVideo)
	}
	if r.DisplayVideo != nil {
		s.DisplayVideo(*r.DisplayVideo)
	}
	return s
}

type handlers struct {
	ctrl Controller
}

type action func(ctx context.Context, filter domain.SourceFilter) error

func (h *handlers) audioActions() map[string]action {
	return map[string]action{
		"mute":    func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.MuteAudio(ctx) },
		"unmute":  func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.UnmuteAudio(ctx) },
		"enable":  func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.EnableAudio(ctx) },
		"disable": func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.DisableAudio(ctx) },
	}
}

func (h *handlers) videoActions() map[string]action {
	return map[string]action{
		"mute":    h.ctrl.MuteVideo,
		"unmute":  h.ctrl.UnmuteVideo,
		"enable":  h.ctrl.EnableVideo,
		"disable": h.ctrl.DisableVideo,
	}
}

func (h *handlers) remoteAudioActions() map[string]action {
	return map[string]action{
		"enable":  func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.EnableRemoteAudio(ctx) },
		"disable": func(ctx context.Context, _ domain.SourceFilter) error { return h.ctrl.DisableRemoteAudio(ctx) },
	}
}

func (h *handlers) remoteVideoActions() map[string]action {
	return map[string]action{
		"enable":  h.ctrl.EnableRemoteVideo,
		"disable": h.ctrl.DisableRemoteVideo,
	}
}

// toggle serves /:action for one kind and direction. Video accepts an
// optional ?source=Device|Display.
func toggle(actions map[string]action) gin.HandlerFunc {
	return func(c *gin.Context) {
		fn, ok := actions[c.Param("action")]
		if !ok {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown action " + c.Param("action")})
			return
		}
		filter := domain.AnySource()
		if raw := c.Query("source"); raw != "" {
			var source domain.MediaSourceKind
			if err := source.UnmarshalText([]byte(raw)); err != nil {
				c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
				return
			}
			filter = domain.OnlySource(source)
		}

		if err := fn(c.Request.Context(), filter); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
	}
}

func (h *handlers) settings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid settings: " + err.Error()})
		return
	}
	if err := h.ctrl.SetLocalMediaSettings(c.Request.Context(), req.Settings(), req.StopFirst, req.RollbackOnFail); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func healthz(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

func respondError(c *gin.Context, err error) {
	status, kind := classify(err)
	log.Warn().Err(err).Str("module", "http").Str("path", c.FullPath()).Int("status", status).Msg("room operation failed")
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}

// classify maps room errors to an HTTP status and the error kind reported
// to the caller.
func classify(err error) (int, string) {
	var (
		cue  *room.ConstraintsUpdateError
		cms  *room.ChangeMediaStateError
		kind string
	)
	if errors.As(err, &cue) {
		kind = cue.Kind.String()
		if cue.Kind == room.Recovered {
			return http.StatusFailedDependency, kind
		}
	}
	switch {
	case errors.Is(err, room.ErrDetached):
		return http.StatusGone, "Detached"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, kind
	case errors.Is(err, context.Canceled):
		return 499, kind
	}
	if errors.As(err, &cms) {
		if kind == "" {
			kind = cms.Kind.String()
		}
		switch cms.Kind {
		case room.ProhibitedState, room.TransitionIntoOppositeState:
			return http.StatusConflict, kind
		case room.CouldNotGetLocalMedia, room.InvalidLocalTracks, room.InsertLocalTracksError:
			return http.StatusFailedDependency, kind
		}
	}
	return http.StatusInternalServerError, kind
}
