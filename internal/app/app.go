// Package app wires the voice pipeline into a running session.
//
// The App owns the full lifecycle: New acquires the capabilities and opens
// the session's files, Run drives the tick loop next to the ops HTTP server,
// and Shutdown releases everything and archives a finished recording.
//
// For testing, inject doubles via functional options (WithModule,
// WithSinkFactory, WithUploader, ...). Tests can also drive [App.Tick]
// directly instead of calling Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/easyvoice/internal/archive"
	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/observe"
	"github.com/MrWong99/easyvoice/internal/voip"
	"github.com/MrWong99/easyvoice/pkg/audio"
)

// Default speaker ids when session.speaker_id is empty.
const (
	LoopbackSpeaker = "loopback"
	ReplaySpeaker   = "replay"
)

const serverShutdownTimeout = 5 * time.Second

// ErrVoiceUnavailable is returned by [New] when a capturing session cannot
// initialise voice.
var ErrVoiceUnavailable = errors.New("app: voice capture unavailable")

// ErrRecordingMismatch is returned by [New] when a recording's format does not
// match the voice config.
var ErrRecordingMismatch = errors.New("app: recording format does not match voice config")

// Uploader archives a finished recording and returns its key.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// App owns one voice session.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	module   audio.Module
	newSink  voip.SinkFactory
	metrics  *observe.Metrics
	logLevel *slog.LevelVar
	uploader Uploader
	gatherer prometheus.Gatherer

	outbound *voip.Outbound
	speakers *voip.Speakers
	recorder *recorder
	player   *player

	// Tick goroutine state.
	elapsed    time.Duration
	sent       bool
	replayDone bool

	// Read by readiness probes on the HTTP goroutines.
	captureReady  atomic.Bool
	playbackReady atomic.Bool

	reloads chan config.ConfigDiff
	closers []func() error

	stopOnce    sync.Once
	archivedKey string
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithModule injects the voice capability module instead of assembling one
// from the registry.
func WithModule(m audio.Module) Option {
	return func(a *App) { a.module = m }
}

// WithSinkFactory injects the per-speaker sink factory.
func WithSinkFactory(f voip.SinkFactory) Option {
	return func(a *App) { a.newSink = f }
}

// WithMetrics sets the metric instruments. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the App the level variable behind the process logger so
// hot reload can change it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithUploader injects the archive uploader instead of building one from the
// archive config.
func WithUploader(u Uploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the session described by cfg. Providers are taken from reg
// unless injected via options; reg may be nil when both the module and the
// sink factory are injected.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		registry: reg,
		reloads:  make(chan config.ConfigDiff, 4),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}

	// ── 1. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	settings := cfg.Voice.Settings()
	vopts := []voip.Option{voip.WithMetrics(a.metrics)}
	a.speakers = voip.NewSpeakers(a.module, a.newSink, settings, vopts...)
	a.outbound = voip.NewOutbound(a.module, settings, voip.Handlers{
		VoiceGenerated: a.voiceGenerated,
		StartTalking:   func() { slog.Info("talking started", "after", a.elapsed) },
		StopTalking:    func() { slog.Info("talking stopped", "after", a.elapsed) },
	}, vopts...)

	// ── 3. Session ───────────────────────────────────────────────────────
	if err := a.initSession(); err != nil {
		a.close()
		return nil, err
	}

	// ── 4. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initProviders() error {
	if a.module == nil {
		if a.registry == nil {
			return errors.New("no module and no registry")
		}
		m, err := a.registry.Module(a.cfg)
		if err != nil {
			return err
		}
		a.module = m
	}

	newSink := a.newSink
	if newSink == nil {
		if a.registry == nil {
			return errors.New("no sink factory and no registry")
		}
		newSink = func(speakerID string) (audio.Sink, error) {
			return a.registry.CreateSink(a.cfg.Providers.Sink, a.cfg.Voice, speakerID)
		}
	}
	// Sinks that own a renderer or a file are closed on Shutdown.
	a.newSink = func(speakerID string) (audio.Sink, error) {
		s, err := newSink(speakerID)
		if err != nil {
			return nil, err
		}
		if c, ok := s.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
		a.playbackReady.Store(true)
		return s, nil
	}
	return nil
}

func (a *App) initSession() error {
	s := a.cfg.Session
	header := recordingHeader{
		SampleRate: a.cfg.Voice.SampleRate,
		Channels:   a.cfg.Voice.Channels,
		TickRate:   a.cfg.Voice.TickRate,
	}

	switch s.Mode {
	case config.ModeReplay:
		p, err := openPlayer(s.RecordingPath)
		if err != nil {
			return err
		}
		a.player = p
		got := audio.Format{SampleRate: p.header.SampleRate, Channels: p.header.Channels}
		want := audio.Format{SampleRate: header.SampleRate, Channels: header.Channels}
		if got != want {
			return fmt.Errorf("%w: file %d Hz/%d ch, config %d Hz/%d ch", ErrRecordingMismatch,
				got.SampleRate, got.Channels, want.SampleRate, want.Channels)
		}
		if p.header.TickRate != header.TickRate {
			slog.Warn("recording tick rate differs; replay will run at a different speed",
				"recorded", p.header.TickRate, "configured", header.TickRate)
		}
		slog.Info("replaying recording", "path", s.RecordingPath, "speaker", a.speakerID())
		return nil

	case config.ModeRecord:
		r, err := createRecorder(s.RecordingPath, header)
		if err != nil {
			return err
		}
		a.recorder = r
	}

	if !a.outbound.InitVoice(voip.Peer{ID: "local", Player: true, Local: true}) {
		return ErrVoiceUnavailable
	}
	a.captureReady.Store(true)
	slog.Info("voice initialised", "mode", s.Mode, "sample_rate", a.cfg.Voice.SampleRate)
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if a.uploader != nil || a.recorder == nil || !a.cfg.Archive.Enabled() {
		return nil
	}
	store, err := archive.FromConfig(ctx, a.cfg.Archive)
	if err != nil {
		return err
	}
	a.uploader = archive.New(store)
	return nil
}

// ─── Tick ────────────────────────────────────────────────────────────────────

// Tick advances the session by dt and reports whether it is complete:
// the configured duration has elapsed, or a replay has run out of frames and
// all playback has gone idle. Tick must only be called from one goroutine.
func (a *App) Tick(dt time.Duration) bool {
	a.elapsed += dt

	if a.player != nil {
		a.replayTick()
	} else {
		a.sent = false
		a.outbound.Tick(dt)
		if a.recorder != nil && !a.sent {
			a.record(nil)
		}
	}
	a.speakers.Tick()

	if d := a.cfg.Session.Duration; d > 0 && a.elapsed >= d {
		return true
	}
	return a.replayDone && a.speakers.Active() == 0
}

func (a *App) voiceGenerated(packet []byte, _ float32) {
	a.sent = true
	switch {
	case a.recorder != nil:
		a.record(packet)
	default:
		a.submit(packet)
	}
}

func (a *App) record(packet []byte) {
	if err := a.recorder.write(packet); err != nil {
		slog.Error("recording write failed", "path", a.recorder.path, "err", err)
	}
}

func (a *App) submit(packet []byte) {
	if err := a.speakers.Submit(a.speakerID(), packet); err != nil {
		slog.Warn("playback submit failed", "speaker", a.speakerID(), "err", err)
	}
}

func (a *App) replayTick() {
	if a.replayDone {
		return
	}
	packet, err := a.player.next()
	switch {
	case errors.Is(err, io.EOF):
		a.replayDone = true
		slog.Info("recording finished", "after", a.elapsed)
	case err != nil:
		a.replayDone = true
		slog.Error("recording read failed", "err", err)
	case len(packet) > 0:
		a.submit(packet)
	}
}

func (a *App) speakerID() string {
	if id := a.cfg.Session.SpeakerID; id != "" {
		return id
	}
	if a.player != nil {
		return ReplaySpeaker
	}
	return LoopbackSpeaker
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload queues d for the tick goroutine. It never blocks; a full queue drops
// d with a warning.
func (a *App) Reload(d config.ConfigDiff) {
	if !d.HasChanges() {
		return
	}
	select {
	case a.reloads <- d:
	default:
		slog.Warn("config reload dropped; previous reloads still pending")
	}
}

func (a *App) applyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.StopTalkingThresholdChanged {
		a.outbound.SetStopTalkingThreshold(d.NewStopTalkingThreshold)
		slog.Info("stop talking threshold changed", "threshold", d.NewStopTalkingThreshold)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the tick loop at the configured tick rate, next to the ops
// server when server.listen_addr is set. It returns nil when ctx is cancelled
// or the session completes.
func (a *App) Run(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "session."+string(a.cfg.Session.Mode))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serve(ctx, srv) })
	}
	g.Go(func() error {
		defer cancel()
		return a.loop(ctx)
	})

	observe.Logger(ctx).Info("session running",
		"mode", a.cfg.Session.Mode,
		"tick_interval", a.cfg.Voice.TickInterval(),
		"ops_addr", a.cfg.Server.ListenAddr,
	)
	return g.Wait()
}

func (a *App) loop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Voice.TickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-a.reloads:
			a.applyDiff(d)
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if a.Tick(dt) {
				observe.Logger(ctx).Info("session complete", "elapsed", a.elapsed)
				return nil
			}
		}
	}
}

func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return fmt.Errorf("app: ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: ops server shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: ops server: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops capture, closes sinks and session files, and uploads a
// recording when an archive is configured. It respects the context deadline
// for the upload. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.outbound.StopVoice()
		a.captureReady.Store(false)
		err = a.close()

		if a.recorder != nil && a.uploader != nil && err == nil {
			key, uerr := a.uploader.Upload(ctx, a.recorder.path)
			if uerr != nil {
				err = fmt.Errorf("app: archive recording: %w", uerr)
				return
			}
			a.archivedKey = key
		}
		slog.Info("shutdown complete")
	})
	return err
}

// close releases files and sinks. It is safe on a partially built App.
func (a *App) close() error {
	var errs []error
	for i, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
		slog.Info("recording closed", "path", a.recorder.path, "frames", a.recorder.frames)
	}
	if a.player != nil {
		errs = append(errs, a.player.Close())
	}
	return errors.Join(errs...)
}

// ArchivedKey returns the object key of the uploaded recording, if any.
func (a *App) ArchivedKey() string { return a.archivedKey }
