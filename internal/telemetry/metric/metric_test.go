package metric

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics_HandlerExposesFamilies(t *testing.T) {
	m := NewMetrics()
	m.CommitsTotal.Add(3)
	m.HeadEpoch.Set(2)
	m.ReplicaLag.WithLabelValues("replica-a").Set(7)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("handler status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"kitedb_replication_commits_total 3",
		"kitedb_replication_head_epoch 2",
		`kitedb_replication_replica_lag_entries{replica_id="replica-a"} 7`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestEncodeOTelJSON(t *testing.T) {
	m := NewMetrics()
	m.CommitsTotal.Add(5)
	m.HeadLogIndex.Set(42)
	m.ReplicaLag.WithLabelValues("replica-b").Set(1)

	data, err := EncodeOTelJSON(m.Registry(), "kitesync-test")
	if err != nil {
		t.Fatalf("EncodeOTelJSON() error = %v", err)
	}

	var doc struct {
		ResourceMetrics []struct {
			Resource struct {
				Attributes []struct {
					Key   string `json:"key"`
					Value struct {
						StringValue string `json:"stringValue"`
					} `json:"value"`
				} `json:"attributes"`
			} `json:"resource"`
			ScopeMetrics []struct {
				Metrics []struct {
					Name  string `json:"name"`
					Gauge *struct {
						DataPoints []struct {
							AsDouble float64 `json:"asDouble"`
						} `json:"dataPoints"`
					} `json:"gauge"`
					Sum *struct {
						IsMonotonic bool `json:"isMonotonic"`
						DataPoints  []struct {
							AsDouble float64 `json:"asDouble"`
						} `json:"dataPoints"`
					} `json:"sum"`
				} `json:"metrics"`
			} `json:"scopeMetrics"`
		} `json:"resourceMetrics"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(doc.ResourceMetrics) != 1 || len(doc.ResourceMetrics[0].ScopeMetrics) != 1 {
		t.Fatal("expected one resource with one scope")
	}
	if got := doc.ResourceMetrics[0].Resource.Attributes[0].Value.StringValue; got != "kitesync-test" {
		t.Errorf("service.name = %q, want kitesync-test", got)
	}

	byName := map[string]bool{}
	for _, metric := range doc.ResourceMetrics[0].ScopeMetrics[0].Metrics {
		byName[metric.Name] = true
		switch metric.Name {
		case "kitedb_replication_commits_total":
			if metric.Sum == nil || !metric.Sum.IsMonotonic {
				t.Error("commits_total should be a monotonic sum")
			} else if metric.Sum.DataPoints[0].AsDouble != 5 {
				t.Errorf("commits_total = %v, want 5", metric.Sum.DataPoints[0].AsDouble)
			}
		case "kitedb_replication_head_log_index":
			if metric.Gauge == nil {
				t.Error("head_log_index should be a gauge")
			} else if metric.Gauge.DataPoints[0].AsDouble != 42 {
				t.Errorf("head_log_index = %v, want 42", metric.Gauge.DataPoints[0].AsDouble)
			}
		}
	}
	for _, want := range []string{
		"kitedb_replication_commits_total",
		"kitedb_replication_head_log_index",
		"kitedb_replication_replica_lag_entries",
	} {
		if !byName[want] {
			t.Errorf("document missing metric %q", want)
		}
	}
}
