// Package metrics is the counter/timing sink the broker reports to.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	meterName = "github.com/ovaphlow/pitchfork/service-sherpa-broker"
	prefix    = "broker."
)

// Sink receives counts and measurements. An empty route means the value is
// process-wide rather than tied to one endpoint.
type Sink interface {
	Increment(route, name string)
	Measure(route, name string, value float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Increment(string, string)        {}
func (Nop) Measure(string, string, float64) {}

// OTel records counters and histograms on an OpenTelemetry meter. Instruments
// are created on first use and reused afterwards.
type OTel struct {
	meter  metric.Meter
	logger *zap.SugaredLogger

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTel returns a sink on meter, or on the global meter provider when
// meter is nil.
func NewOTel(meter metric.Meter, logger *zap.SugaredLogger) *OTel {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &OTel{
		meter:      meter,
		logger:     logger,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (o *OTel) Increment(route, name string) {
	c, err := o.counter(name)
	if err != nil {
		o.logger.Debugw("metrics counter", "name", name, "err", err)
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(routeAttrs(route)...))
}

func (o *OTel) Measure(route, name string, value float64) {
	h, err := o.histogram(name)
	if err != nil {
		o.logger.Debugw("metrics histogram", "name", name, "err", err)
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(routeAttrs(route)...))
}

func (o *OTel) counter(name string) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c, nil
	}
	c, err := o.meter.Int64Counter(prefix + name)
	if err != nil {
		return nil, err
	}
	o.counters[name] = c
	return c, nil
}

func (o *OTel) histogram(name string) (metric.Float64Histogram, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h, nil
	}
	h, err := o.meter.Float64Histogram(prefix+name, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	o.histograms[name] = h
	return h, nil
}

func routeAttrs(route string) []attribute.KeyValue {
	if route == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("route", route)}
}
