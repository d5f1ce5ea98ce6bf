// Command easyvoice runs a voice session: it captures, encodes and plays back
// (loopback), records, or replays voice packets at a fixed tick rate, and
// serves health and metrics endpoints next to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/easyvoice/internal/app"
	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "easyvoice.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with EASYVOICE_* overrides")
	watch := flag.Bool("watch", true, "hot-reload log level and talking threshold when the config file changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "easyvoice: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "easyvoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "easyvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("easyvoice starting",
		"version", version,
		"config", *configPath,
		"mode", cfg.Session.Mode,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers & application ───────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg, cfg)
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevel(&level))
	if err != nil {
		slog.Error("failed to initialise session", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			application.Reload(config.Diff(old, new))
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if key := application.ArchivedKey(); key != "" {
		slog.Info("recording archived", "key", key)
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// printStartupSummary logs the resolved voice settings and providers.
func printStartupSummary(cfg *config.Config) {
	v := cfg.Voice
	slog.Info("voice settings",
		"sample_rate", v.SampleRate,
		"channels", v.Channels,
		"tick_interval", v.TickInterval(),
		"buffered_packets", v.NumBufferedPackets,
		"buffering_delay", v.BufferingDelay,
		"stop_talking_threshold", v.StopTalkingThreshold,
	)
	slog.Info("providers",
		"capture", cfg.Providers.Capture.Name,
		"codec", cfg.Providers.Codec.Name,
		"sink", cfg.Providers.Sink.Name,
	)
	if cfg.Archive.Enabled() {
		slog.Info("archive enabled",
			"endpoint", cfg.Archive.Endpoint,
			"bucket", cfg.Archive.Bucket,
			"fallback_dir", cfg.Archive.FallbackDir,
		)
	}
}
