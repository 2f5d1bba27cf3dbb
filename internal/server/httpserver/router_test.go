package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/internal/core/service"
	"github.com/kitedb/kitesync/internal/storage"
	"github.com/kitedb/kitesync/internal/storage/memory"
	"github.com/kitedb/kitesync/internal/telemetry/metric"
	"github.com/kitedb/kitesync/internal/transport"
)

const testAdminToken = "router-test-token"

func newTestGate(t *testing.T) *service.AdminGate {
	t.Helper()
	gate, err := service.NewAdminGate(service.AdminGateConfig{
		Mode:  service.AuthModeToken,
		Token: testAdminToken,
	})
	if err != nil {
		t.Fatalf("NewAdminGate() error = %v", err)
	}
	return gate
}

func newPrimaryRouter(t *testing.T) (*service.Primary, http.Handler) {
	t.Helper()
	p, err := service.NewPrimary(service.PrimaryConfig{
		NodeID:  "primary-1",
		DataDir: t.TempDir(),
		Store:   memory.New(),
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewPrimary() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	router := NewRouter(&RouterConfig{
		NodeID:  "primary-1",
		Primary: p,
		Gate:    newTestGate(t),
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})
	return p, router
}

func commitOnPrimary(t *testing.T, p *service.Primary, key, value string) domain.CommitToken {
	t.Helper()
	payload, err := storage.Mutation{Op: storage.OpSet, Key: key, Value: value}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	token, err := p.Commit(context.Background(), payload)
	if err != nil {
		t.Fatalf("Commit(%q) error = %v", key, err)
	}
	return token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_OpenEndpoints(t *testing.T) {
	p, router := newPrimaryRouter(t)
	commitOnPrimary(t, p, "k", "v")

	rec := doJSON(t, router, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/replication/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /replication/status status = %d, want 200", rec.Code)
	}
	var status domain.PrimaryStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status.Role != "primary" || status.HeadLogIndex != 1 {
		t.Errorf("status = %+v, want primary at head 1", status)
	}
}

func TestRouter_GatedEndpointsRequireAuth(t *testing.T) {
	_, router := newPrimaryRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{"POST", "/replication/promote"},
		{"GET", "/replication/transport/snapshot"},
		{"GET", "/replication/transport/log"},
		{"GET", "/replication/metrics/prometheus"},
		{"POST", "/replication/retention/run"},
	}
	for _, tt := range paths {
		rec := doJSON(t, router, tt.method, tt.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", tt.method, tt.path, rec.Code)
		}
	}
}

func TestRouter_PrimaryControlOperations(t *testing.T) {
	p, router := newPrimaryRouter(t)
	commitOnPrimary(t, p, "k1", "v1")

	// Promote
	rec := doJSON(t, router, "POST", "/replication/promote", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("promote status = %d, body %s", rec.Code, rec.Body.String())
	}
	var promoted struct {
		Epoch uint64 `json:"epoch"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &promoted); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if promoted.Epoch != 2 {
		t.Errorf("epoch = %d, want 2", promoted.Epoch)
	}

	// Progress
	rec = doJSON(t, router, "POST", "/replication/progress", testAdminToken,
		map[string]string{"replica_id": "replica-1", "token": "1:1"})
	if rec.Code != http.StatusOK {
		t.Errorf("progress status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Progress ahead of head is rejected.
	rec = doJSON(t, router, "POST", "/replication/progress", testAdminToken,
		map[string]string{"replica_id": "replica-1", "token": "9:9"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ahead progress status = %d, want 400", rec.Code)
	}

	// Retention
	rec = doJSON(t, router, "POST", "/replication/retention/run", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("retention status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Checkpoint
	rec = doJSON(t, router, "POST", "/replication/checkpoint", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("checkpoint status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Replica operations are a role error on the primary.
	rec = doJSON(t, router, "POST", "/replication/pull", testAdminToken, map[string]int{"max_frames": 1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pull on primary status = %d, want 400", rec.Code)
	}
}

func TestRouter_TransportSurface(t *testing.T) {
	p, router := newPrimaryRouter(t)
	commitOnPrimary(t, p, "k1", "v1")
	commitOnPrimary(t, p, "k2", "v2")

	rec := doJSON(t, router, "GET", "/replication/transport/snapshot?include_data=false", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d, body %s", rec.Code, rec.Body.String())
	}
	var snap transport.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if snap.Token != "1:2" || snap.RecordCount != 2 {
		t.Errorf("snapshot = %+v, want token 1:2 count 2", snap)
	}
	if len(snap.State) != 0 {
		t.Error("include_data=false returned state data")
	}

	rec = doJSON(t, router, "GET", "/replication/transport/log?max_frames=1", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("log status = %d, body %s", rec.Code, rec.Body.String())
	}
	var page transport.LogPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(page.Frames) != 1 || page.NextCursor == nil {
		t.Errorf("page = %+v, want one frame and a cursor", page)
	}

	rec = doJSON(t, router, "GET", "/replication/transport/log?max_frames=oops", testAdminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad max_frames status = %d, want 400", rec.Code)
	}
}

func TestRouter_MetricsEndpoints(t *testing.T) {
	p, err := service.NewPrimary(service.PrimaryConfig{
		NodeID:  "primary-1",
		DataDir: t.TempDir(),
		Store:   memory.New(),
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewPrimary() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	metrics := metric.NewMetrics()
	router := NewRouter(&RouterConfig{
		NodeID:  "primary-1",
		Primary: p,
		Gate:    newTestGate(t),
		Metrics: metrics,
		Logger:  testLogger(t),
	})

	rec := doJSON(t, router, "GET", "/replication/metrics/prometheus", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("prometheus status = %d", rec.Code)
	}

	rec = doJSON(t, router, "GET", "/replication/metrics/otel-json", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("otel-json status = %d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("otel-json body not JSON: %v", err)
	}
	if _, ok := doc["resourceMetrics"]; !ok {
		t.Error("otel-json body missing resourceMetrics")
	}
}

// TestRouter_ReplicaAgainstRemotePrimary runs the full loop: a replica
// node pulls from a primary node over real HTTP.
func TestRouter_ReplicaAgainstRemotePrimary(t *testing.T) {
	p, primaryRouter := newPrimaryRouter(t)
	primarySrv := httptest.NewServer(primaryRouter)
	t.Cleanup(primarySrv.Close)

	commitOnPrimary(t, p, "k1", "v1")

	source := transport.NewHTTPSource(primarySrv.URL,
		transport.WithAdminToken(testAdminToken))
	store := memory.New()
	rep, err := service.NewReplica(service.ReplicaConfig{
		NodeID:  "replica-1",
		DataDir: t.TempDir(),
		Store:   store,
		Source:  source,
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatalf("NewReplica() error = %v", err)
	}
	t.Cleanup(func() { _ = rep.Close() })

	replicaRouter := NewRouter(&RouterConfig{
		NodeID:  "replica-1",
		Replica: rep,
		Gate:    newTestGate(t),
		Metrics: metric.NewMetrics(),
		Logger:  testLogger(t),
	})

	rec := doJSON(t, replicaRouter, "POST", "/replication/bootstrap", testAdminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap status = %d, body %s", rec.Code, rec.Body.String())
	}
	var status domain.ReplicaStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if status.State != domain.ReplicaTailing || status.AppliedToken != "1:1" {
		t.Errorf("status = %+v, want tailing at 1:1", status)
	}

	target := commitOnPrimary(t, p, "k2", "v2")
	commitOnPrimary(t, p, "k3", "v3")

	rec = doJSON(t, replicaRouter, "POST", "/replication/pull", testAdminToken,
		map[string]int{"max_frames": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("pull status = %d, body %s", rec.Code, rec.Body.String())
	}
	var pull struct {
		FramesApplied int    `json:"frames_applied"`
		State         string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pull); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if pull.FramesApplied != 2 {
		t.Errorf("frames_applied = %d, want 2", pull.FramesApplied)
	}

	rec = doJSON(t, replicaRouter, "POST", "/replication/wait", testAdminToken,
		map[string]any{"token": target.String(), "timeout_ms": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("wait status = %d, body %s", rec.Code, rec.Body.String())
	}
	var wait struct {
		Reached bool `json:"reached"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wait); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !wait.Reached {
		t.Error("reached = false after pull, want true")
	}

	if _, ok, _ := store.Get(context.Background(), "k3"); !ok {
		t.Error("k3 missing on replica after pull")
	}
}
