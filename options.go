package livepredict

import (
	"log/slog"

	"github.com/livefir/livepredict/internal/config"
	"github.com/livefir/livepredict/internal/metrics"
)

// Option is a functional option for configuring an Engine
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig replaces the default configuration
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithConfigFile loads the configuration from a YAML file. A missing file
// yields the defaults.
func WithConfigFile(path string) Option {
	return func(e *Engine) {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			e.optionErr = err
			return
		}
		e.config = cfg
	}
}

// WithMetrics shares a metrics collector between engines
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithMinConfidence overrides prediction.min_confidence
func WithMinConfidence(confidence float64) Option {
	return func(e *Engine) {
		e.overrides = append(e.overrides, func(c *config.Config) {
			c.Prediction.MinConfidence = confidence
		})
	}
}

// WithMinObservations overrides prediction.min_observations
func WithMinObservations(n int) Option {
	return func(e *Engine) {
		e.overrides = append(e.overrides, func(c *config.Config) {
			c.Prediction.MinObservations = n
		})
	}
}
