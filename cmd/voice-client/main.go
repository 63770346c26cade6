package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/VoiceRoom/internal/adapters/http"
	"github.com/dkeye/VoiceRoom/internal/adapters/rtc"
	"github.com/dkeye/VoiceRoom/internal/config"
	"github.com/dkeye/VoiceRoom/internal/connection"
	"github.com/dkeye/VoiceRoom/internal/core"
	"github.com/dkeye/VoiceRoom/internal/domain"
	"github.com/dkeye/VoiceRoom/internal/media"
	"github.com/dkeye/VoiceRoom/internal/room"
	"github.com/dkeye/VoiceRoom/internal/rpc"
)

var rootCmd = &cobra.Command{
	Use:   "voice-client",
	Short: "Join a media server room and control it over a local HTTP API",
	RunE:  run,
}

func init() {
	f := rootCmd.Flags()
	f.String("url", "", "join url: ws://host/path/<room_id>/<member_id>?token=<credential>")
	f.String("mode", "release", "control API mode: debug or release")
	f.String("log-level", "info", "log level")
	f.String("control-addr", "127.0.0.1:8090", "control API listen address")
	f.Bool("audio", true, "publish audio on join")
	f.Bool("video", true, "publish device video on join")
	f.StringSlice("fail-device", nil, "device ids the synthetic capture fails for")
	f.StringSlice("stun", nil, "extra STUN urls")
}

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("voice-client failed")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	zerolog.SetGlobalLevel(level)

	session := rpc.NewWebSocketSession(rpc.Options{
		IdleTimeout:  cfg.RPC.DefaultIdleTimeout,
		PingInterval: cfg.RPC.DefaultPingInterval,
		WriteTimeout: cfg.RPC.WriteTimeout,
	})
	r := room.New(room.Config{
		Session:           session,
		Devices:           rtc.NewDevices(cfg.Media.FailDevices...),
		NewConnection:     rtc.Factory(cfg.ICE.StunURLs),
		Settings:          initialSettings(cfg.Media),
		TransitionTimeout: cfg.TransitionTimeout,
	})
	defer r.Dispose()

	h := r.Handle()
	if err := registerCallbacks(ctx, cancel, h, cfg.Reconnect); err != nil {
		return err
	}
	if err := h.Join(ctx, cfg.URL); err != nil {
		return err
	}
	log.Info().Str("module", "room").Msg("joined")

	srv := &http.Server{
		Addr:    cfg.ControlAddr,
		Handler: router.SetupRouter(cfg, h),
	}
	go func() {
		log.Info().Str("module", "http").Str("addr", cfg.ControlAddr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "http").Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	r.Close(room.ByClient(domain.RoomClosed, false))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "http").Msg("Server forced to shutdown")
	}
	log.Info().Msg("voice-client exited gracefully")
	return nil
}

// initialSettings publishes device audio and video, never the display.
func initialSettings(cfg config.MediaConfig) media.MediaStreamSettings {
	s := media.NewSettings()
	s.Audio(media.AudioTrackConstraints{DeviceID: cfg.AudioDeviceID})
	s.DeviceVideo(media.DeviceVideoTrackConstraints{DeviceID: cfg.VideoDeviceID})
	if !cfg.Audio {
		s.SetPublish(false, domain.MediaKindAudio, domain.AnySource())
	}
	if !cfg.Video {
		s.SetPublish(false, domain.MediaKindVideo, domain.OnlySource(domain.SourceDevice))
	}
	return s
}

func registerCallbacks(ctx context.Context, stop context.CancelFunc, h *room.Handle, rc config.ReconnectConfig) error {
	if err := h.OnClose(func(reason room.RoomCloseReason) {
		log.Info().Str("module", "room").Str("reason", reason.Reason).Bool("by_server", reason.IsClosedByServer).
			Bool("is_err", reason.IsErr).Msg("room closed")
		stop()
	}); err != nil {
		return err
	}
	if err := h.OnLocalTrack(func(t *media.LocalTrack) {
		log.Info().Str("module", "media").Str("track_id", t.ID()).Str("kind", t.Kind().String()).
			Str("source", t.SourceKind().String()).Msg("local track")
	}); err != nil {
		return err
	}
	if err := h.OnFailedLocalMedia(func(err error) {
		log.Error().Err(err).Str("module", "media").Msg("failed to get local media")
	}); err != nil {
		return err
	}
	if err := h.OnConnectionLoss(func(rh core.ReconnectHandle) {
		log.Warn().Str("module", "rpc").Msg("connection lost, reconnecting")
		go func() {
			err := rh.ReconnectWithBackoff(ctx, rc.InitialDelay, rc.Multiplier, rc.MaxDelay, rc.MaxElapsed)
			if err != nil {
				log.Error().Err(err).Str("module", "rpc").Msg("reconnect failed")
				stop()
				return
			}
			log.Info().Str("module", "rpc").Msg("reconnected")
		}()
	}); err != nil {
		return err
	}
	return h.OnNewConnection(func(c *connection.Handle) {
		member, err := c.RemoteMemberID()
		if err != nil {
			return
		}
		l := log.With().Str("module", "connection").Str("member_id", string(member)).Logger()
		l.Info().Msg("new connection")
		_ = c.OnRemoteTrackAdded(func(t connection.RemoteMediaTrack) {
			l.Info().Uint32("peer_id", uint32(t.PeerID)).Uint32("track_id", uint32(t.TrackID)).
				Str("kind", t.MediaType.Kind.String()).Msg("remote track added")
		})
		_ = c.OnQualityScoreUpdate(func(score uint8) {
			l.Debug().Uint8("quality_score", score).Msg("quality score updated")
		})
		_ = c.OnStateChange(func(st domain.PeerConnectionState) {
			l.Debug().Str("state", string(st)).Msg("connection state changed")
		})
		_ = c.OnClose(func() { l.Info().Msg("connection closed") })
	})
}
