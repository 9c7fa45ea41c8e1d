// Package prometheus owns the process metrics registry and its exports.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/turtacn/DDI-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/DDI-Intelligence/pkg/errors"
)

// RegistryConfig selects the runtime collectors registered alongside the
// application metrics.
type RegistryConfig struct {
	Namespace            string
	EnableProcessMetrics bool
	EnableGoMetrics      bool
}

// Registry is an isolated prometheus registry.
type Registry struct {
	reg    *prometheus.Registry
	logger logging.Logger
}

// NewRegistry creates a registry with the requested runtime collectors.
func NewRegistry(cfg RegistryConfig, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	reg := prometheus.NewRegistry()
	if cfg.EnableProcessMetrics {
		reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{
			Namespace: cfg.Namespace,
		}))
	}
	if cfg.EnableGoMetrics {
		reg.MustRegister(prometheus.NewGoCollector())
	}
	return &Registry{reg: reg, logger: logger.Named("metrics")}
}

// Registerer is where application collectors register.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile dumps every metric to path in the node_exporter textfile
// format. The file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "write metrics textfile").
			WithDetailf("path=%q", path)
	}
	r.logger.Info("metrics textfile written", logging.String("path", path))
	return nil
}
