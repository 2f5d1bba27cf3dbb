package command

import (
	"net/http"
	"strings"
	"testing"
)

func TestNodeStatus_Primary(t *testing.T) {
	server := newMockServer()
	defer server.Close()

	server.handle("/replication/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"role":                    "primary",
			"epoch":                   2,
			"head_log_index":          17,
			"last_commit_token":       "2:17",
			"retained_from_log_index": 5,
			"segment_count":           3,
			"replica_lags":            []any{},
		})
	})

	ctx := makeTestContext(server, nil, nil)
	if err := nodeStatus(ctx); err != nil {
		t.Fatalf("nodeStatus failed: %v", err)
	}
}

func TestNodeStatus_Replica(t *testing.T) {
	server := newMockServer()
	defer server.Close()

	server.handle("/replication/status", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{
			"role":          "replica",
			"state":         "tailing",
			"applied_token": "2:15",
			"source":        "http",
			"record_count":  42,
		})
	})

	ctx := makeTestContext(server, nil, nil)
	if err := nodeStatus(ctx); err != nil {
		t.Fatalf("nodeStatus failed: %v", err)
	}
}

func TestNodeStatus_ServerError(t *testing.T) {
	server := newMockServer()
	defer server.Close()

	server.handle("/replication/status", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusUnauthorized, "KS-AUTH-4010", "admin credentials required")
	})

	ctx := makeTestContext(server, nil, nil)
	err := nodeStatus(ctx)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "KS-AUTH-4010") {
		t.Errorf("error = %q, want to contain the error code", err.Error())
	}
}

func TestNodeHealth(t *testing.T) {
	server := newMockServer()
	defer server.Close()

	server.handle("/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"role":   "primary",
		})
	})

	ctx := makeTestContext(server, nil, nil)
	if err := nodeHealth(ctx); err != nil {
		t.Fatalf("nodeHealth failed: %v", err)
	}
}
