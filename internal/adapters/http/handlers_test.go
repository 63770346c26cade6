package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/dkeye/VoiceRoom/internal/config"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/room"
)

type call struct {
	name   string
	filter domain.SourceFilter
}

type fakeController struct {
	mu       sync.Mutex
	calls    []call
	err      error
	settings media.MediaStreamSettings
	flags    [2]bool
}

func (f *fakeController) record(name string, filter domain.SourceFilter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, filter: filter})
	return f.err
}

func (f *fakeController) MuteAudio(context.Context) error {
	return f.record("MuteAudio", domain.AnySource())
}
func (f *fakeController) UnmuteAudio(context.Context) error {
	return f.record("UnmuteAudio", domain.AnySource())
}
func (f *fakeController) DisableAudio(context.Context) error {
	return f.record("DisableAudio", domain.AnySource())
}
func (f *fakeController) EnableAudio(context.Context) error {
	return f.record("EnableAudio", domain.AnySource())
}
func (f *fakeController) MuteVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("MuteVideo", s)
}
func (f *fakeController) UnmuteVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("UnmuteVideo", s)
}
func (f *fakeController) DisableVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("DisableVideo", s)
}
func (f *fakeController) EnableVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("EnableVideo", s)
}
func (f *fakeController) DisableRemoteAudio(context.Context) error {
	return f.record("DisableRemoteAudio", domain.AnySource())
}
func (f *fakeController) EnableRemoteAudio(context.Context) error {
	return f.record("EnableRemoteAudio", domain.AnySource())
}
func (f *fakeController) DisableRemoteVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("DisableRemoteVideo", s)
}
func (f *fakeController) EnableRemoteVideo(_ context.Context, s domain.SourceFilter) error {
	return f.record("EnableRemoteVideo", s)
}
func (f *fakeController) SetLocalMediaSettings(_ context.Context, s media.MediaStreamSettings, stopFirst, rollback bool) error {
	f.mu.Lock()
	f.settings, f.flags = s, [2]bool{stopFirst, rollback}
	f.mu.Unlock()
	return f.record("SetLocalMediaSettings", domain.AnySource())
}

func (f *fakeController) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func serve(t *testing.T, ctrl Controller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := SetupRouter(&config.Config{Mode: "release"}, ctrl)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestToggleRoutes(t *testing.T) {
	tests := []struct {
		path   string
		want   string
		filter domain.SourceFilter
	}{
		{"/room/audio/mute", "MuteAudio", domain.AnySource()},
		{"/room/audio/enable", "EnableAudio", domain.AnySource()},
		{"/room/video/disable", "DisableVideo", domain.AnySource()},
		{"/room/video/unmute?source=Display", "UnmuteVideo", domain.OnlySource(domain.SourceDisplay)},
		{"/room/remote/audio/disable", "DisableRemoteAudio", domain.AnySource()},
		{"/room/remote/video/enable?source=Device", "EnableRemoteVideo", domain.OnlySource(domain.SourceDevice)},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ctrl := &fakeController{}
			w := serve(t, ctrl, http.MethodPost, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body)
			}
			if got := ctrl.last(); got.name != tt.want || got.filter != tt.filter {
				t.Fatalf("call = %+v", got)
			}
		})
	}
}

func TestToggleBadRequests(t *testing.T) {
	ctrl := &fakeController{}
	if w := serve(t, ctrl, http.MethodPost, "/room/remote/audio/mute", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if w := serve(t, ctrl, http.MethodPost, "/room/video/mute?source=Webcam", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if len(ctrl.calls) != 0 {
		t.Fatalf("calls = %+v", ctrl.calls)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"detached", &room.ChangeMediaStateError{Kind: room.ChangeDetached, Err: room.ErrDetached}, http.StatusGone, "Detached"},
		{"prohibited", &room.ChangeMediaStateError{Kind: room.ProhibitedState}, http.StatusConflict, "ProhibitedState"},
		{"opposite", &room.ChangeMediaStateError{Kind: room.TransitionIntoOppositeState}, http.StatusConflict, "TransitionIntoOppositeState"},
		{"media", &room.ChangeMediaStateError{Kind: room.CouldNotGetLocalMedia}, http.StatusFailedDependency, "CouldNotGetLocalMedia"},
		{"timeout", errors.WithStack(context.DeadlineExceeded), http.StatusGatewayTimeout, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &fakeController{err: tt.err}, http.MethodPost, "/room/audio/disable", "")
			if w.Code != tt.status {
				t.Fatalf("status = %d", w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Kind != tt.kind || resp.Error == "" {
				t.Fatalf("resp = %+v", resp)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	ctrl := &fakeController{}
	body := `{"stop_first":true,"rollback_on_fail":true,"audio":{"device_id":"mic"},"device_video":{"device_id":"cam","width":640}}`
	w := serve(t, ctrl, http.MethodPut, "/room/settings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if ctrl.flags != [2]bool{true, true} {
		t.Fatalf("flags = %v", ctrl.flags)
	}
	if got := ctrl.settings.AudioConstraints().DeviceID; got != "mic" {
		t.Fatalf("audio device = %q", got)
	}
	video, ok := ctrl.settings.DeviceVideoConstraints()
	if !ok || video.DeviceID != "cam" || video.Width != 640 {
		t.Fatalf("device video = %+v, %v", video, ok)
	}
	if _, ok := ctrl.settings.DisplayVideoConstraints(); ok {
		t.Fatal("display video must not be requested")
	}
}

func TestSettingsErrors(t *testing.T) {
	if w := serve(t, &fakeController{}, http.MethodPut, "/room/settings", "{"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}

	recovered := &room.ConstraintsUpdateError{
		Kind:   room.Recovered,
		Reason: &room.ChangeMediaStateError{Kind: room.CouldNotGetLocalMedia},
	}
	w := serve(t, &fakeController{err: recovered}, http.MethodPut, "/room/settings", `{"audio":{}}`)
	if w.Code != http.StatusFailedDependency || !strings.Contains(w.Body.String(), `"kind":"Recovered"`) {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
}

func TestHealthz(t *testing.T) {
	if w := serve(t, &fakeController{}, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
