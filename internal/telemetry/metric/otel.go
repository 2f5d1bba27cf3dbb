package metric

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// OTel JSON document shape, trimmed to the fields scrapers consume.
// Sums and gauges cover all replication metrics; histograms from the
// runtime collectors are flattened to their sample sums.

type otelDocument struct {
	ResourceMetrics []otelResourceMetrics `json:"resourceMetrics"`
}

type otelResourceMetrics struct {
	Resource     otelResource       `json:"resource"`
	ScopeMetrics []otelScopeMetrics `json:"scopeMetrics"`
}

type otelResource struct {
	Attributes []otelAttribute `json:"attributes"`
}

type otelScopeMetrics struct {
	Scope   otelScope    `json:"scope"`
	Metrics []otelMetric `json:"metrics"`
}

type otelScope struct {
	Name string `json:"name"`
}

type otelMetric struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Gauge       *otelPoint `json:"gauge,omitempty"`
	Sum         *otelSum   `json:"sum,omitempty"`
}

type otelSum struct {
	DataPoints  []otelDataPoint `json:"dataPoints"`
	IsMonotonic bool            `json:"isMonotonic"`
}

type otelPoint struct {
	DataPoints []otelDataPoint `json:"dataPoints"`
}

type otelDataPoint struct {
	Attributes   []otelAttribute `json:"attributes,omitempty"`
	TimeUnixNano int64           `json:"timeUnixNano,string"`
	AsDouble     float64         `json:"asDouble"`
}

type otelAttribute struct {
	Key   string        `json:"key"`
	Value otelAttrValue `json:"value"`
}

type otelAttrValue struct {
	StringValue string `json:"stringValue"`
}

// EncodeOTelJSON renders the gatherer's current metric families as an
// OTLP-style JSON document, for collectors that ingest OTel JSON but
// cannot scrape the Prometheus text format.
func EncodeOTelJSON(gatherer prometheus.Gatherer, serviceName string) ([]byte, error) {
	families, err := gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("metric: gather: %w", err)
	}

	now := time.Now().UnixNano()
	metrics := make([]otelMetric, 0, len(families))
	for _, family := range families {
		m := otelMetric{
			Name:        family.GetName(),
			Description: family.GetHelp(),
		}
		points := familyDataPoints(family, now)
		if len(points) == 0 {
			continue
		}
		switch family.GetType() {
		case dto.MetricType_COUNTER:
			m.Sum = &otelSum{DataPoints: points, IsMonotonic: true}
		case dto.MetricType_GAUGE:
			m.Gauge = &otelPoint{DataPoints: points}
		default:
			// Histograms and summaries flatten to their sample sums.
			m.Sum = &otelSum{DataPoints: points, IsMonotonic: true}
		}
		metrics = append(metrics, m)
	}

	doc := otelDocument{
		ResourceMetrics: []otelResourceMetrics{{
			Resource: otelResource{
				Attributes: []otelAttribute{{
					Key:   "service.name",
					Value: otelAttrValue{StringValue: serviceName},
				}},
			},
			ScopeMetrics: []otelScopeMetrics{{
				Scope:   otelScope{Name: "kitedb.replication"},
				Metrics: metrics,
			}},
		}},
	}
	return json.Marshal(doc)
}

func familyDataPoints(family *dto.MetricFamily, now int64) []otelDataPoint {
	points := make([]otelDataPoint, 0, len(family.GetMetric()))
	for _, metric := range family.GetMetric() {
		point := otelDataPoint{TimeUnixNano: now}
		switch {
		case metric.GetCounter() != nil:
			point.AsDouble = metric.GetCounter().GetValue()
		case metric.GetGauge() != nil:
			point.AsDouble = metric.GetGauge().GetValue()
		case metric.GetHistogram() != nil:
			point.AsDouble = metric.GetHistogram().GetSampleSum()
		case metric.GetSummary() != nil:
			point.AsDouble = metric.GetSummary().GetSampleSum()
		default:
			continue
		}
		for _, label := range metric.GetLabel() {
			point.Attributes = append(point.Attributes, otelAttribute{
				Key:   label.GetName(),
				Value: otelAttrValue{StringValue: label.GetValue()},
			})
		}
		points = append(points, point)
	}
	return points
}
