package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/easyvoice/internal/voip"
)

// EnvPrefix prefixes every environment variable that overrides a file value.
const EnvPrefix = "EASYVOICE_"

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture": {"tone", "none"},
	"codec":   {"opus"},
	"sink":    {"stream", "discard"},
}

// Default values not covered by [voip.DefaultSettings].
const (
	DefaultChannels = 1
	DefaultTickRate = 60
)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookuper envconfig.Lookuper
}

// WithLookuper replaces the process environment as the source of overrides.
func WithLookuper(l envconfig.Lookuper) LoadOption {
	return func(o *loadOptions) { o.lookuper = l }
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string, opts ...LoadOption) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := loadOptions{lookuper: envconfig.OsLookuper()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, o.lookuper),
	}); err != nil {
		return nil, fmt.Errorf("config: apply environment: %w", err)
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	def := voip.DefaultSettings()
	v := &cfg.Voice

	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if v.SampleRate == 0 {
		v.SampleRate = def.SampleRate
	}
	if v.Channels == 0 {
		v.Channels = DefaultChannels
	}
	if v.TickRate == 0 {
		v.TickRate = DefaultTickRate
	}
	if v.NumBufferedPackets == 0 {
		v.NumBufferedPackets = def.NumBufferedPackets
	}
	if v.BufferingDelay == 0 {
		v.BufferingDelay = def.BufferingDelay
	}
	if v.MaxUncompressedSize == 0 {
		v.MaxUncompressedSize = def.MaxUncompressedSize
	}
	if v.MaxCompressedSize == 0 {
		v.MaxCompressedSize = def.MaxCompressedSize
	}
	if v.MaxRemainderSize == 0 {
		// The codec only consumes whole frames, so the carry-over must hold
		// at least one partial frame.
		v.MaxRemainderSize = max(def.MaxRemainderSize, v.FrameBytes())
	}
	if v.StopTalkingThreshold == 0 {
		v.StopTalkingThreshold = def.StopTalkingThreshold
	}

	if cfg.Providers.Capture.Name == "" {
		cfg.Providers.Capture.Name = "tone"
	}
	if cfg.Providers.Codec.Name == "" {
		cfg.Providers.Codec.Name = "opus"
	}
	if cfg.Providers.Sink.Name == "" {
		cfg.Providers.Sink.Name = "stream"
	}
	if cfg.Session.Mode == "" {
		cfg.Session.Mode = ModeLoopback
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Voice
	if err := cfg.Voice.Settings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}
	if cfg.Voice.Channels != 1 && cfg.Voice.Channels != 2 {
		errs = append(errs, fmt.Errorf("voice.channels %d is invalid; valid values: 1, 2", cfg.Voice.Channels))
	}
	if cfg.Voice.TickRate <= 0 || cfg.Voice.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("voice.tick_rate %d is out of range [1, 1000]", cfg.Voice.TickRate))
	}
	if cfg.Voice.Bitrate < 0 {
		errs = append(errs, fmt.Errorf("voice.bitrate %d must not be negative", cfg.Voice.Bitrate))
	}
	if frame := cfg.Voice.FrameBytes(); cfg.Providers.Codec.Name == "opus" && cfg.Voice.MaxRemainderSize < frame {
		errs = append(errs, fmt.Errorf("voice.max_remainder_size %d is smaller than one %s opus frame (%d bytes at %d Hz, %d channels)",
			cfg.Voice.MaxRemainderSize, codecFrame, frame, cfg.Voice.SampleRate, cfg.Voice.Channels))
	}

	// Unknown provider names only warn.
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("codec", cfg.Providers.Codec.Name)
	validateProviderName("sink", cfg.Providers.Sink.Name)

	// Session
	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: loopback, record, replay", cfg.Session.Mode))
	}
	if (cfg.Session.Mode == ModeRecord || cfg.Session.Mode == ModeReplay) && cfg.Session.RecordingPath == "" {
		errs = append(errs, fmt.Errorf("session.recording_path is required in %s mode", cfg.Session.Mode))
	}
	if cfg.Session.Duration < 0 {
		errs = append(errs, fmt.Errorf("session.duration %s must not be negative", cfg.Session.Duration))
	}
	if cfg.Session.Mode == ModeReplay && cfg.Providers.Capture.Name != "none" {
		slog.Info("replay mode does not capture; providers.capture is ignored", "capture", cfg.Providers.Capture.Name)
	}

	// Archive
	if cfg.Archive.Enabled() {
		if cfg.Archive.Endpoint != "" && cfg.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required when archive.endpoint is set"))
		}
		if cfg.Session.Mode != ModeRecord {
			slog.Warn("archive is configured but only record sessions produce recordings", "mode", cfg.Session.Mode)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
