package webhook

import (
	"fmt"
	"net/http"

	"github.com/mattjoyce/deployhook/internal/config"
)

// FromGlobalConfig converts the listener and metrics sections to a webhook.Config.
// metricsHandler is mounted only when metrics are enabled.
func FromGlobalConfig(cfg *config.Config, metricsHandler http.Handler) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("config is nil")
	}

	out := Config{
		Listen:       cfg.Listener.Listen,
		MaxBodySize:  DefaultMaxBodySize,
		Async:        cfg.Listener.Async,
		DrainTimeout: cfg.Service.ShutdownTimeout,
	}

	if cfg.Listener.MaxBodySize != "" {
		size, err := config.ParseByteSize(cfg.Listener.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("listener: invalid max_body_size %q: %w", cfg.Listener.MaxBodySize, err)
		}
		out.MaxBodySize = size
	}

	if cfg.Metrics.Enabled {
		out.MetricsPath = cfg.Metrics.Path
		out.MetricsHandler = metricsHandler
	}

	return out, nil
}
