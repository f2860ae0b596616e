package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Metrics records unit of work and API signals on an OpenTelemetry meter and
// renders them in the Prometheus text format.
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	uowDuration  metric.Float64Histogram
	uowTotal     metric.Int64Counter
	uowConflicts metric.Int64Counter
	uowRetries   metric.Int64Counter
	apiRequests  metric.Int64Counter
	apiLatency   metric.Float64Histogram
	apiInflight  metric.Int64UpDownCounter
}

func NewMetrics() (*Metrics, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("subgate")
	m := &Metrics{reader: reader, provider: provider}

	var err error
	if m.uowDuration, err = meter.Float64Histogram("subgate_uow_operation_duration_seconds",
		metric.WithDescription("Unit of work commit/rollback latency in seconds by op/status."),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if m.uowTotal, err = meter.Int64Counter("subgate_uow_operations_total",
		metric.WithDescription("Unit of work commit/rollback count by op/status.")); err != nil {
		return nil, err
	}
	if m.uowConflicts, err = meter.Int64Counter("subgate_uow_conflicts_total",
		metric.WithDescription("Unit of work operations failed on a constraint conflict.")); err != nil {
		return nil, err
	}
	if m.uowRetries, err = meter.Int64Counter("subgate_uow_retryable_total",
		metric.WithDescription("Unit of work operations failed with a retryable error.")); err != nil {
		return nil, err
	}
	if m.apiRequests, err = meter.Int64Counter("subgate_api_requests_total",
		metric.WithDescription("Total API requests by method/route/status.")); err != nil {
		return nil, err
	}
	if m.apiLatency, err = meter.Float64Histogram("subgate_api_request_duration_seconds",
		metric.WithDescription("API request latency in seconds by method/route/status."),
		metric.WithExplicitBucketBoundaries(latencyBuckets...)); err != nil {
		return nil, err
	}
	if m.apiInflight, err = meter.Int64UpDownCounter("subgate_api_inflight_requests",
		metric.WithDescription("In-flight API requests.")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) ObserveUowOperation(op, status string, dur time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", orUnknown(op)), attribute.String("status", orUnknown(status)))
	m.uowDuration.Record(context.Background(), dur.Seconds(), attrs)
	m.uowTotal.Add(context.Background(), 1, attrs)
}

func (m *Metrics) IncUowConflict(op string) {
	if m == nil {
		return
	}
	m.uowConflicts.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", orUnknown(op))))
}

func (m *Metrics) IncUowRetry(op string) {
	if m == nil {
		return
	}
	m.uowRetries.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", orUnknown(op))))
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if status == "" {
		status = "0"
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", orUnknown(route)),
		attribute.String("status", status),
	)
	m.apiRequests.Add(context.Background(), 1, attrs)
	m.apiLatency.Record(context.Background(), dur.Seconds(), attrs)
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Add(context.Background(), 1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Add(context.Background(), -1)
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(r.Context(), w)
}

// WritePrometheus collects the current values and writes them in the
// Prometheus text exposition format.
func (m *Metrics) WritePrometheus(ctx context.Context, w io.Writer) error {
	if m == nil {
		return nil
	}
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if err := writeMetric(w, md); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeMetric(w io.Writer, md metricdata.Metrics) error {
	switch data := md.Data.(type) {
	case metricdata.Sum[int64]:
		kind := "gauge"
		if data.IsMonotonic {
			kind = "counter"
		}
		if err := writeHeader(w, md.Name, md.Description, kind); err != nil {
			return err
		}
		for _, dp := range data.DataPoints {
			if _, err := fmt.Fprintf(w, "%s%s %d\n", md.Name, labelString(dp.Attributes, ""), dp.Value); err != nil {
				return err
			}
		}
	case metricdata.Histogram[float64]:
		if err := writeHeader(w, md.Name, md.Description, "histogram"); err != nil {
			return err
		}
		for _, dp := range data.DataPoints {
			var cumulative uint64
			for i, b := range dp.Bounds {
				cumulative += dp.BucketCounts[i]
				if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", md.Name, labelString(dp.Attributes, fmt.Sprintf("%g", b)), cumulative); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", md.Name, labelString(dp.Attributes, "+Inf"), dp.Count); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", md.Name, labelString(dp.Attributes, ""), dp.Sum); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s_count%s %d\n", md.Name, labelString(dp.Attributes, ""), dp.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeHeader(w io.Writer, name, help, kind string) error {
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", name, help); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	return err
}

func labelString(set attribute.Set, le string) string {
	kvs := set.ToSlice()
	parts := make([]string, 0, len(kvs)+1)
	for _, kv := range kvs {
		parts = append(parts, string(kv.Key)+"=\""+escapeLabel(kv.Value.Emit())+"\"")
	}
	sort.Strings(parts)
	if le != "" {
		parts = append(parts, "le=\""+escapeLabel(le)+"\"")
	}
	if len(parts) == 0 {
		return ""
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
