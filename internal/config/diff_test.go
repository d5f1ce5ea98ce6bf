package config_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/easyvoice/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo, ListenAddr: ":8080"},
		Voice: config.VoiceConfig{
			SampleRate:           16000,
			StopTalkingThreshold: 200 * time.Millisecond,
		},
		Providers: config.ProvidersConfig{
			Capture: config.ProviderEntry{Name: "tone", Options: map[string]any{"frequency": 440}},
			Codec:   config.ProviderEntry{Name: "opus"},
			Sink:    config.ProviderEntry{Name: "stream"},
		},
		Session: config.SessionConfig{Mode: config.ModeLoopback},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.HasChanges() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_StopTalkingThresholdIsHot(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Voice.StopTalkingThreshold = time.Second

	d := config.Diff(old, new)
	if !d.StopTalkingThresholdChanged || d.NewStopTalkingThreshold != time.Second {
		t.Errorf("threshold change not reported: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("threshold is hot-reloadable, got RestartRequired=%v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name:   "sample rate",
			mutate: func(c *config.Config) { c.Voice.SampleRate = 48000 },
			want:   []string{"voice"},
		},
		{
			name:   "listen addr",
			mutate: func(c *config.Config) { c.Server.ListenAddr = ":9090" },
			want:   []string{"server.listen_addr"},
		},
		{
			name:   "provider option",
			mutate: func(c *config.Config) { c.Providers.Capture.Options["frequency"] = 220 },
			want:   []string{"providers"},
		},
		{
			name:   "provider name",
			mutate: func(c *config.Config) { c.Providers.Sink.Name = "discard" },
			want:   []string{"providers"},
		},
		{
			name:   "session mode",
			mutate: func(c *config.Config) { c.Session.Mode = config.ModeReplay },
			want:   []string{"session"},
		},
		{
			name:   "archive bucket",
			mutate: func(c *config.Config) { c.Archive.Bucket = "other" },
			want:   []string{"archive"},
		},
		{
			name: "several sections",
			mutate: func(c *config.Config) {
				c.Voice.MaxCompressedSize = 512
				c.Session.SpeakerID = "carol"
			},
			want: []string{"voice", "session"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			new := baseConfig()
			tt.mutate(new)

			d := config.Diff(baseConfig(), new)
			if diff := cmp.Diff(tt.want, d.RestartRequired); diff != "" {
				t.Errorf("RestartRequired mismatch (-want +got):\n%s", diff)
			}
			if !d.HasChanges() {
				t.Error("HasChanges() = false")
			}
		})
	}
}

func TestDiff_NilAndEmptyOptionsAreEqual(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	old.Providers.Codec.Options = nil
	new.Providers.Codec.Options = map[string]any{}

	if d := config.Diff(old, new); d.HasChanges() {
		t.Errorf("nil vs empty options reported as change: %+v", d)
	}
}
