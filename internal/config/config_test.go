package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

func flagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("url", "", "")
	fs.String("log-level", "info", "")
	fs.String("control-addr", "", "")
	fs.Bool("audio", true, "")
	fs.Bool("video", true, "")
	fs.StringSlice("fail-device", nil, "")
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load(flagSet(t, "--url", "ws://localhost/r/m?token=t"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TransitionTimeout != 10*time.Second || cfg.Mode != "release" || cfg.LogLevel != "info" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.InitialDelay != 500*time.Millisecond || cfg.Reconnect.Multiplier != 2 || cfg.Reconnect.MaxElapsed != 0 {
		t.Fatalf("reconnect = %+v", cfg.Reconnect)
	}
	if cfg.RPC.DefaultPingInterval != 3*time.Second || cfg.RPC.WriteTimeout != 5*time.Second {
		t.Fatalf("rpc = %+v", cfg.RPC)
	}
	if !cfg.Media.Audio || !cfg.Media.Video || len(cfg.ICE.StunURLs) != 1 {
		t.Fatalf("media = %+v, ice = %+v", cfg.Media, cfg.ICE)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("CONFIG_ENV", "test")
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := []byte("url: ws://file/r/m?token=t\nlog_level: warn\ncontrol_addr: 127.0.0.1:1\nreconnect:\n  max_delay: 3s\n")
	if err := os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICE_CONTROL_ADDR", "127.0.0.1:2")
	t.Setenv("VOICE_RECONNECT_MAX_DELAY", "7s")

	cfg, err := Load(flagSet(t, "--log-level", "debug", "--fail-device", "cam-1", "--video=false"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "ws://file/r/m?token=t" {
		t.Fatalf("url = %q", cfg.URL)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("flag must win, log_level = %q", cfg.LogLevel)
	}
	if cfg.ControlAddr != "127.0.0.1:2" || cfg.Reconnect.MaxDelay != 7*time.Second {
		t.Fatalf("env must win over the file, cfg = %+v", cfg)
	}
	if cfg.Media.Video || len(cfg.Media.FailDevices) != 1 || cfg.Media.FailDevices[0] != "cam-1" {
		t.Fatalf("media = %+v", cfg.Media)
	}
}

func TestLoadValidation(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	if _, err := Load(nil); !errors.Is(err, ErrMissingURL) {
		t.Fatalf("err = %v", err)
	}
	t.Setenv("VOICE_URL", "ws://localhost/r/m?token=t")
	t.Setenv("VOICE_RECONNECT_MULTIPLIER", "0.5")
	if _, err := Load(nil); !errors.Is(err, ErrInvalidMultiplier) {
		t.Fatalf("err = %v", err)
	}
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
