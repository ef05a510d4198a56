package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_ListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Errorf("Expected path /api/v1/runs, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET method, got %s", r.Method)
		}
		q := r.URL.Query()
		if q.Get("network") != "goerli" || q.Get("limit") != "2" || q.Get("cursor") != "abc" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "run-1", "network": "goerli", "chainId": 5, "succeeded": 2},
			},
			"pagination": map[string]any{
				"limit":      2,
				"hasMore":    true,
				"nextCursor": "run-1",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL+"/", "")
	resp, err := client.ListRuns(context.Background(), ListRunsOptions{Network: "goerli", Limit: 2, Cursor: "abc"})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}

	if len(resp.Data) != 1 {
		t.Fatalf("ListRuns() returned %d runs, want 1", len(resp.Data))
	}
	if resp.Data[0].ID != "run-1" || resp.Data[0].ChainID != 5 || resp.Data[0].Succeeded != 2 {
		t.Errorf("ListRuns()[0] = %+v", resp.Data[0])
	}
	if !resp.Pagination.HasMore || resp.Pagination.NextCursor != "run-1" {
		t.Errorf("ListRuns().Pagination = %+v", resp.Pagination)
	}
}

func TestClient_ListRunsNoQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("Expected no query, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[],"pagination":{"limit":20,"hasMore":false}}`))
	}))
	defer server.Close()

	resp, err := New(server.URL, "").ListRuns(context.Background(), ListRunsOptions{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(resp.Data) != 0 {
		t.Errorf("ListRuns() returned %d runs, want 0", len(resp.Data))
	}
}

func TestClient_GetRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-1" {
			t.Errorf("Expected path /api/v1/runs/run-1, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"id":      "run-1",
			"network": "goerli",
			"results": []map[string]any{
				{"runId": "run-1", "artifact": "/build/Token.json", "contractName": "Token", "outcome": "succeeded", "guid": "g1"},
			},
		})
	}))
	defer server.Close()

	run, err := New(server.URL, "").GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(run.Results) != 1 {
		t.Fatalf("GetRun().Results has %d items, want 1", len(run.Results))
	}
	if run.Results[0].ArtifactKey != "/build/Token.json" || run.Results[0].GUID != "g1" {
		t.Errorf("GetRun().Results[0] = %+v", run.Results[0])
	}
}

func TestClient_ContractHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/contracts/0xabc" {
			t.Errorf("Expected path /api/v1/contracts/0xabc, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("network") != "mainnet" {
			t.Errorf("Expected network=mainnet, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"address":"0xabc","data":[{"runId":"r1","outcome":"failed"},{"runId":"r2","outcome":"succeeded"}]}`))
	}))
	defer server.Close()

	results, err := New(server.URL, "").ContractHistory(context.Background(), "mainnet", "0xabc", 0)
	if err != nil {
		t.Fatalf("ContractHistory() error = %v", err)
	}
	if len(results) != 2 || results[1].Outcome != "succeeded" {
		t.Errorf("ContractHistory() = %+v", results)
	}
}

func TestClient_APIKeyHeader(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	if err := New(server.URL, "secret").Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("X-API-Key = %q, want secret", gotKey)
	}
}

func TestClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/runs/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"run not found"}}`))
		case "/api/v1/runs":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"API key required"}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	client := New(server.URL, "")

	_, err := client.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun() error = %v, want ErrNotFound", err)
	}

	_, err = client.ListRuns(context.Background(), ListRunsOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ListRuns() error = %v, want *APIError", err)
	}
	if apiErr.Code != "UNAUTHORIZED" || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("ListRuns() error = %+v", apiErr)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("401 must not match ErrNotFound")
	}

	err = client.Health(context.Background())
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Errorf("Health() error = %v, want HTTP 502", err)
	}
}
