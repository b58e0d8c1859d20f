package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// NewPrometheusMeterProvider builds a meter provider whose readings are served by the
// default Prometheus registry (and therefore by promhttp.Handler)
func NewPrometheusMeterProvider(res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	opts := []metric.Option{metric.WithReader(exporter)}
	if res != nil {
		opts = append(opts, metric.WithResource(res))
	}
	return metric.NewMeterProvider(opts...), nil
}
