package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/health"
	"github.com/MrWong99/easyvoice/internal/observe"
)

// Handler returns the ops HTTP surface: /healthz, /readyz and /metrics behind
// the observe middleware. Readiness depends on the session mode: capturing
// sessions need an initialised capture, loopback and replay need a started
// playback.
func (a *App) Handler() http.Handler {
	var checks []health.Checker
	mode := a.cfg.Session.Mode
	if mode != config.ModeReplay {
		checks = append(checks, health.Ready("capture", a.captureReady.Load))
	}
	if mode != config.ModeRecord {
		checks = append(checks, health.Ready("playback", a.playbackReady.Load))
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	return observe.Middleware(a.metrics)(mux)
}
