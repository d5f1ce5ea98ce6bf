package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/pkg/audio"
	"github.com/MrWong99/easyvoice/pkg/audio/opus"
	"github.com/MrWong99/easyvoice/pkg/audio/stream"
	"github.com/MrWong99/easyvoice/pkg/audio/tone"
)

// RegisterBuiltins wires the providers that ship with easyvoice into reg.
// Stream sinks write raw PCM into cfg.Session.OutputDir when it is set.
func RegisterBuiltins(reg *config.Registry, cfg *config.Config) {
	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture("tone", func(entry config.ProviderEntry, voice config.VoiceConfig) (func() (audio.Capture, error), error) {
		tc := tone.Config{
			SampleRate: voice.SampleRate,
			Channels:   voice.Channels,
			Frequency:  optFloat(entry.Options, "frequency", 440),
			Volume:     optFloat(entry.Options, "volume", 0.5),
		}
		var err error
		if tc.TalkFor, err = optDuration(entry.Options, "talk_for", 0); err != nil {
			return nil, err
		}
		if tc.PauseFor, err = optDuration(entry.Options, "pause_for", 0); err != nil {
			return nil, err
		}
		if tc.MaxBuffer, err = optDuration(entry.Options, "max_buffer", 0); err != nil {
			return nil, err
		}
		return func() (audio.Capture, error) { return tone.New(tc), nil }, nil
	})

	// none leaves the module receive-only.
	reg.RegisterCapture("none", func(config.ProviderEntry, config.VoiceConfig) (func() (audio.Capture, error), error) {
		return nil, nil
	})

	// ── Codec ─────────────────────────────────────────────────────────────────

	reg.RegisterCodec("opus", func(entry config.ProviderEntry, voice config.VoiceConfig) (audio.Codec, error) {
		c, err := opus.NewCodec(opus.Config{
			SampleRate: voice.SampleRate,
			Channels:   voice.Channels,
			Bitrate:    int(optFloat(entry.Options, "bitrate", float64(voice.Bitrate))),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	})

	// ── Sink ──────────────────────────────────────────────────────────────────

	outputDir := cfg.Session.OutputDir
	reg.RegisterSink("stream", func(entry config.ProviderEntry, voice config.VoiceConfig, speakerID string) (audio.Sink, error) {
		opts, err := streamOptions(entry, voice)
		if err != nil {
			return nil, err
		}
		if outputDir == "" {
			return stream.New(io.Discard, opts...), nil
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		f, err := os.Create(filepath.Join(outputDir, sanitizeName(speakerID)+".pcm"))
		if err != nil {
			return nil, fmt.Errorf("create speaker output: %w", err)
		}
		return &fileSink{Sink: stream.New(f, opts...), f: f}, nil
	})

	reg.RegisterSink("discard", func(entry config.ProviderEntry, voice config.VoiceConfig, _ string) (audio.Sink, error) {
		opts, err := streamOptions(entry, voice)
		if err != nil {
			return nil, err
		}
		return stream.New(io.Discard, opts...), nil
	})
}

func streamOptions(entry config.ProviderEntry, voice config.VoiceConfig) ([]stream.Option, error) {
	opts := []stream.Option{stream.WithChannels(voice.Channels)}
	period, err := optDuration(entry.Options, "period", 0)
	if err != nil {
		return nil, err
	}
	if period > 0 {
		opts = append(opts, stream.WithPeriod(period))
	}
	return opts, nil
}

// fileSink closes its output file after the renderer.
type fileSink struct {
	*stream.Sink
	f *os.File
}

func (s *fileSink) Close() error {
	return errors.Join(s.Sink.Close(), s.f.Close())
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optFloat extracts a number from a provider Options map. YAML integers and
// floats are both accepted; anything else yields def.
func optFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	default:
		return def
	}
}

// optDuration extracts a duration given as a Go duration string.
func optDuration(opts map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("option %q: want a duration string, got %T", key, v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return d, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	if name == "" {
		return "speaker"
	}
	return name
}
