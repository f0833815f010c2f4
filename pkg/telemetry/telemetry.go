// Package telemetry sets up the in-process metrics pipeline. Command metrics
// are collected by a manual reader and summarised into the log when the
// server stops.
package telemetry

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/devicelab-dev/uia2-server/pkg/dispatch"
)

// ServiceName is reported as the service.name resource attribute.
const ServiceName = "uia2-server"

// Provider owns the meter provider and its reader.
type Provider struct {
	Meter metric.Meter

	reader   *sdkmetric.ManualReader
	shutdown func(context.Context) error
}

// Init creates a provider. When enabled is false every instrument is a no-op.
func Init(ctx context.Context, enabled bool, version string) (*Provider, error) {
	if !enabled {
		return &Provider{
			Meter:    noop.NewMeterProvider().Meter(dispatch.MeterName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	return &Provider{
		Meter:    mp.Meter(dispatch.MeterName),
		reader:   reader,
		shutdown: mp.Shutdown,
	}, nil
}

// CommandCount is the number of dispatched commands with a given outcome.
type CommandCount struct {
	Command string
	Status  int64
	Count   int64
}

// Commands collects the current command counters, sorted by command then
// status. A disabled provider reports nothing.
func (p *Provider) Commands(ctx context.Context) ([]CommandCount, error) {
	if p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var out []CommandCount
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "uia2.commands" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out = append(out, CommandCount{
					Command: stringAttr(dp.Attributes, "command"),
					Status:  intAttr(dp.Attributes, "status"),
					Count:   dp.Value,
				})
			}
		}
	}
	slices.SortFunc(out, func(a, b CommandCount) int {
		if c := strings.Compare(a.Command, b.Command); c != 0 {
			return c
		}
		return int(a.Status - b.Status)
	})
	return out, nil
}

// Summary renders Commands as one line, e.g. "findElement[0]=3 status[0]=1".
func (p *Provider) Summary(ctx context.Context) (string, error) {
	counts, err := p.Commands(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s[%d]=%d", c.Command, c.Status, c.Count))
	}
	return strings.Join(parts, " "), nil
}

// Shutdown stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func stringAttr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func intAttr(set attribute.Set, key string) int64 {
	v, _ := set.Value(attribute.Key(key))
	return v.AsInt64()
}
