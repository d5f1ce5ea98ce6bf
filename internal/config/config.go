// Package config provides the configuration schema, loader, and provider registry
// for the easyvoice voice-chat pipeline.
package config

import (
	"time"

	"github.com/MrWong99/easyvoice/internal/voip"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SessionMode selects what the application does with the packets it
// produces.
type SessionMode string

const (
	// ModeLoopback plays the local speaker's packets back through the
	// inbound path as if they came from a remote speaker.
	ModeLoopback SessionMode = "loopback"

	// ModeRecord writes every packet to a recording file.
	ModeRecord SessionMode = "record"

	// ModeReplay plays a recording file through the inbound path.
	ModeReplay SessionMode = "replay"
)

// IsValid reports whether m is a recognised session mode.
func (m SessionMode) IsValid() bool {
	switch m {
	case ModeLoopback, ModeRecord, ModeReplay:
		return true
	}
	return false
}

// Config is the root configuration structure for easyvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// Environment variables prefixed with EASYVOICE_ override file values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the health and metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR, overwrite"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level" env:"LOG_LEVEL, overwrite"`
}

// VoiceConfig holds the pipeline constants. Zero values are replaced by
// [ApplyDefaults], so zero cannot be configured: max_remainder_size 0 gives at
// least one codec frame and stop_talking_threshold 0 gives 200ms.
type VoiceConfig struct {
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE, overwrite"`
	Channels   int `yaml:"channels" env:"CHANNELS, overwrite"`

	// TickRate is the number of pipeline ticks per second.
	TickRate int `yaml:"tick_rate" env:"TICK_RATE, overwrite"`

	NumBufferedPackets   int           `yaml:"num_buffered_packets" env:"NUM_BUFFERED_PACKETS, overwrite"`
	BufferingDelay       time.Duration `yaml:"buffering_delay" env:"BUFFERING_DELAY, overwrite"`
	MaxUncompressedSize  int           `yaml:"max_uncompressed_size" env:"MAX_UNCOMPRESSED_SIZE, overwrite"`
	MaxCompressedSize    int           `yaml:"max_compressed_size" env:"MAX_COMPRESSED_SIZE, overwrite"`
	MaxRemainderSize     int           `yaml:"max_remainder_size" env:"MAX_REMAINDER_SIZE, overwrite"`
	StopTalkingThreshold time.Duration `yaml:"stop_talking_threshold" env:"STOP_TALKING_THRESHOLD, overwrite"`

	// Bitrate of the codec in bits per second. Zero keeps the codec default.
	Bitrate int `yaml:"bitrate" env:"BITRATE, overwrite"`
}

// Settings converts v into the pipeline settings.
func (v VoiceConfig) Settings() voip.Settings {
	return voip.Settings{
		SampleRate:           v.SampleRate,
		NumBufferedPackets:   v.NumBufferedPackets,
		BufferingDelay:       v.BufferingDelay,
		MaxUncompressedSize:  v.MaxUncompressedSize,
		MaxCompressedSize:    v.MaxCompressedSize,
		MaxRemainderSize:     v.MaxRemainderSize,
		StopTalkingThreshold: v.StopTalkingThreshold,
	}
}

// codecFrame is the audio consumed per opus frame.
const codecFrame = 20 * time.Millisecond

// FrameBytes returns the size of one codec frame of 16-bit PCM.
func (v VoiceConfig) FrameBytes() int {
	return int(int64(v.SampleRate)*int64(codecFrame)/int64(time.Second)) * v.Channels * 2
}

// TickInterval returns the duration of one tick.
func (v VoiceConfig) TickInterval() time.Duration {
	if v.TickRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(v.TickRate)
}

// ProvidersConfig declares which implementation to use for each capability.
// Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Capture ProviderEntry `yaml:"capture"`
	Codec   ProviderEntry `yaml:"codec"`
	Sink    ProviderEntry `yaml:"sink"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "tone", "opus").
	Name string `yaml:"name"`

	// Options holds provider-specific configuration values. Values may be
	// strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SessionConfig controls what a run of the application does.
type SessionConfig struct {
	// Mode is the session mode. Defaults to loopback.
	Mode SessionMode `yaml:"mode" env:"SESSION_MODE, overwrite"`

	// RecordingPath is the recording file written in record mode and read in
	// replay mode.
	RecordingPath string `yaml:"recording_path" env:"RECORDING_PATH, overwrite"`

	// SpeakerID names the local speaker. When empty it is "replay" in replay
	// mode and "loopback" otherwise.
	SpeakerID string `yaml:"speaker_id" env:"SPEAKER_ID, overwrite"`

	// Duration ends the session after this long. Zero runs until interrupted.
	Duration time.Duration `yaml:"duration" env:"SESSION_DURATION, overwrite"`

	// OutputDir receives one raw PCM file per speaker from the stream sink.
	// Empty discards rendered audio.
	OutputDir string `yaml:"output_dir" env:"OUTPUT_DIR, overwrite"`
}

// ArchiveConfig configures where finished recordings are kept: an
// S3-compatible object store, a local directory, or both with the directory
// taking over while the store fails. The archive is disabled when neither is
// set.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT, overwrite"`
	AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY, overwrite"`
	SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY, overwrite"`
	Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET, overwrite"`
	UseSSL    bool   `yaml:"use_ssl" env:"ARCHIVE_USE_SSL, overwrite"`

	// FallbackDir receives recordings when no object store is configured or
	// the object store fails.
	FallbackDir string `yaml:"fallback_dir" env:"ARCHIVE_FALLBACK_DIR, overwrite"`
}

// Enabled reports whether any archive destination is configured.
func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" || a.FallbackDir != "" }
