package voip

import (
	"log/slog"

	"github.com/MrWong99/easyvoice/internal/observe"
)

type options struct {
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option configures [Outbound], [Playback] and [Speakers].
type Option func(*options)

// WithLogger sets the logger. Default [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records pipeline metrics into m. Without it nothing is
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func applyOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
