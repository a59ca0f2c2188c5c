package otel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// stubSource serves a fixed latency snapshot and a login counter that can
// change between collections.
type stubSource struct {
	logins  atomic.Uint64
	latency *goAuthClient.LatencySnapshot
	dropped uint64
}

func (s *stubSource) MetricsSnapshot() goAuthClient.MetricsSnapshot {
	snap := goAuthClient.MetricsSnapshot{
		Counters: map[goAuthClient.MetricID]uint64{goAuthClient.MetricLoginSuccess: s.logins.Load()},
	}
	if s.latency != nil {
		lat := *s.latency
		snap.Latency = &lat
	}
	return snap
}

func (s *stubSource) AuditDropped() uint64 { return s.dropped }

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// collect flattens one collection into name -> single data point value.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]float64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) == 1 {
					out[m.Name] = float64(data.DataPoints[0].Value)
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) == 1 {
					out[m.Name] = float64(data.DataPoints[0].Value)
				}
			case metricdata.Gauge[float64]:
				if len(data.DataPoints) == 1 {
					out[m.Name] = data.DataPoints[0].Value
				}
			}
		}
	}
	return out
}

func TestExporterObservesCountersAndLatency(t *testing.T) {
	reader, provider := newReader()
	src := &stubSource{
		latency: &goAuthClient.LatencySnapshot{
			Buckets: [goAuthClient.LatencyBucketCount]uint64{1, 1, 1, 1, 1, 1, 1, 1},
			Sum:     2 * time.Second,
		},
		dropped: 1,
	}
	src.logins.Store(3)

	exp, err := NewOTelExporterFromSource(provider.Meter("goauthclient-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	t.Cleanup(func() {
		if err := exp.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	got := collect(t, reader)
	for name, want := range map[string]float64{
		"goauthclient_login_success_total":                    3,
		"goauthclient_refresh_failure_total":                  0,
		"goauthclient_request_latency_seconds_bucket_le_0_05": 1,
		"goauthclient_request_latency_seconds_bucket_le_inf":  8,
		"goauthclient_request_latency_seconds_count":          8,
		"goauthclient_request_latency_seconds_sum":            2,
		"goauthclient_audit_dropped_total":                    1,
	} {
		if v, ok := got[name]; !ok || v != want {
			t.Fatalf("%s = %v (present=%v), want %v", name, v, ok, want)
		}
	}
}

func TestExporterSkipsLatencyWhenDisabled(t *testing.T) {
	reader, provider := newReader()
	exp, err := NewOTelExporterFromSource(provider.Meter("goauthclient-test"), &stubSource{})
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if _, ok := got["goauthclient_request_latency_seconds_count"]; ok {
		t.Fatal("latency observed without a latency snapshot")
	}
	if _, ok := got["goauthclient_login_success_total"]; !ok {
		t.Fatal("counters must still be observed")
	}
}

func TestExporterStopsObservingAfterClose(t *testing.T) {
	reader, provider := newReader()
	src := &stubSource{}
	src.logins.Store(1)
	exp, err := NewOTelExporterFromSource(provider.Meter("goauthclient-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := collect(t, reader)["goauthclient_login_success_total"]; ok {
		t.Fatal("callback still registered after Close")
	}
}

func TestConstructorsRejectNil(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("goauthclient-test")

	if _, err := NewOTelExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("nil client: got %v, want ErrNilSource", err)
	}
	if _, err := NewOTelExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("nil source: got %v, want ErrNilSource", err)
	}
	if _, err := NewOTelExporterFromSource(nil, &stubSource{}); err != ErrNilMeter {
		t.Fatalf("nil meter: got %v, want ErrNilMeter", err)
	}
	var exp *OTelExporter
	if err := exp.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

func TestConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &stubSource{}
	exp, err := NewOTelExporterFromSource(provider.Meter("goauthclient-test"), src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src.logins.Add(1)
			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}()
	}
	wg.Wait()
}
