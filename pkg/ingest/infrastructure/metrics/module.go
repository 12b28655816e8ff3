package metrics

import (
	"go.uber.org/fx"

	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
)

// Module is an Fx module that provides the PrometheusRecorder. The concrete
// type is also provided so the admin server can mount its registry.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(func(r *PrometheusRecorder) metrics.MetricRecorder { return r }),
)
