// internal/telemetry/collector.go
package telemetry

import (
	"context"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var collectErrorDesc = prometheus.NewDesc("libracirc_otel_collect_error", "Failed to read otel metrics.", nil, nil)

// MeterCollector exposes the monotonic otel sums held by a manual reader
// as prometheus counters. It is an unchecked collector: the set of metrics
// is only known once instruments have been created.
type MeterCollector struct {
	reader *sdkmetric.ManualReader
}

func NewMeterCollector(reader *sdkmetric.ManualReader) *MeterCollector {
	return &MeterCollector{reader: reader}
}

func (c *MeterCollector) Describe(chan<- *prometheus.Desc) {}

func (c *MeterCollector) Collect(ch chan<- prometheus.Metric) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(context.Background(), &rm); err != nil {
		ch <- prometheus.NewInvalidMetric(collectErrorDesc, err)
		return
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			name := promName(m.Name)
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					ch <- counter(name, m.Description, dp.Attributes, float64(dp.Value))
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					ch <- counter(name, m.Description, dp.Attributes, dp.Value)
				}
			}
		}
	}
}

var nameReplacer = strings.NewReplacer(".", "_", "-", "_")

// promName turns "libracirc.loans.created" into "libracirc_loans_created_total".
func promName(name string) string {
	return nameReplacer.Replace(name) + "_total"
}

func labelName(key string) string {
	return nameReplacer.Replace(key)
}

func counter(name, help string, attrs attribute.Set, value float64) prometheus.Metric {
	var keys, values []string
	iter := attrs.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		keys = append(keys, labelName(string(kv.Key)))
		values = append(values, kv.Value.Emit())
	}
	if help == "" {
		help = name
	}
	desc := prometheus.NewDesc(name, help, keys, nil)
	metric, err := prometheus.NewConstMetric(desc, prometheus.CounterValue, value, values...)
	if err != nil {
		return prometheus.NewInvalidMetric(desc, err)
	}
	return metric
}
