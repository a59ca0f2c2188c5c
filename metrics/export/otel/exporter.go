package otel

import (
	"context"
	"errors"
	"fmt"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goAuthClient.MetricsSnapshot
	AuditDropped() uint64
}

// observeFunc reports one instrument from a snapshot taken once per
// collection.
type observeFunc func(o metric.Observer, snap goAuthClient.MetricsSnapshot, dropped uint64)

// OTelExporter publishes client metrics as observable instruments read on
// each collection cycle. The latency histogram is exposed as one gauge per
// cumulative bucket plus _count and _sum gauges, matching the Prometheus
// series names.
type OTelExporter struct {
	registration metric.Registration
}

// NewOTelExporter registers instruments on meter that read from client.
func NewOTelExporter(meter metric.Meter, client *goAuthClient.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

// NewOTelExporterFromSource registers instruments that read from any value
// with MetricsSnapshot and AuditDropped methods.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	r := &registrar{meter: meter}
	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		r.counter(def.Name, def.Help, func(snap goAuthClient.MetricsSnapshot, _ uint64) int64 {
			return int64(snap.Counters[id])
		})
	}
	for i, le := range internaldefs.LatencyLabels {
		name := internaldefs.LatencyName + "_bucket_le_" + internaldefs.InstrumentSuffix(le)
		r.latencyGauge(name, "Cumulative latency bucket count.", func(lat *goAuthClient.LatencySnapshot) int64 {
			return int64(lat.Cumulative()[i])
		})
	}
	r.latencyGauge(internaldefs.LatencyName+"_count", "Latency sample count.", func(lat *goAuthClient.LatencySnapshot) int64 {
		return int64(lat.Count())
	})
	r.latencySum(internaldefs.LatencyName+"_sum", "Total latency in seconds.")
	r.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, func(_ goAuthClient.MetricsSnapshot, dropped uint64) int64 {
		return int64(dropped)
	})
	if r.err != nil {
		return nil, r.err
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := source.MetricsSnapshot()
		dropped := source.AuditDropped()
		for _, observe := range r.observers {
			observe(o, snap, dropped)
		}
		return nil
	}, r.instruments...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &OTelExporter{registration: registration}, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// registrar creates instruments and remembers how to observe them. It
// keeps the first creation error.
type registrar struct {
	meter       metric.Meter
	instruments []metric.Observable
	observers   []observeFunc
	err         error
}

func (r *registrar) counter(name, help string, value func(goAuthClient.MetricsSnapshot, uint64) int64) {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create observable counter %s: %w", name, err)
		return
	}
	r.instruments = append(r.instruments, ins)
	r.observers = append(r.observers, func(o metric.Observer, snap goAuthClient.MetricsSnapshot, dropped uint64) {
		o.ObserveInt64(ins, value(snap, dropped))
	})
}

// latencyGauge is skipped during collection when latency histograms are
// off.
func (r *registrar) latencyGauge(name, help string, value func(*goAuthClient.LatencySnapshot) int64) {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create latency gauge %s: %w", name, err)
		return
	}
	r.instruments = append(r.instruments, ins)
	r.observers = append(r.observers, func(o metric.Observer, snap goAuthClient.MetricsSnapshot, _ uint64) {
		if snap.Latency != nil {
			o.ObserveInt64(ins, value(snap.Latency))
		}
	})
}

func (r *registrar) latencySum(name, help string) {
	if r.err != nil {
		return
	}
	ins, err := r.meter.Float64ObservableGauge(name, metric.WithDescription(help), metric.WithUnit("s"))
	if err != nil {
		r.err = fmt.Errorf("create latency gauge %s: %w", name, err)
		return
	}
	r.instruments = append(r.instruments, ins)
	r.observers = append(r.observers, func(o metric.Observer, snap goAuthClient.MetricsSnapshot, _ uint64) {
		if snap.Latency != nil {
			o.ObserveFloat64(ins, snap.Latency.Sum.Seconds())
		}
	})
}
