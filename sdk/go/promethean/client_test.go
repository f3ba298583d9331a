package promethean

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMintSendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mint" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get(APIKeyHeader); got != "sk-demo" {
			t.Fatalf("expected api key header, got %q", got)
		}
		var req MintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Title != "Aurora" {
			t.Fatalf("unexpected title: %q", req.Title)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(MintResult{
			RequestID:       "req-1",
			TokenID:         7,
			MetadataURI:     "ipfs://bafy",
			TransactionHash: "0xabc",
			Status:          "succeeded",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "sk-demo", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.Mint(context.Background(), MintRequest{
		Title:       "Aurora",
		Description: "Northern lights over a frozen lake.",
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if result.TransactionHash != "0xabc" || result.MetadataURI != "ipfs://bafy" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestMintRequiresAPIKey(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:0", "", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Mint(context.Background(), MintRequest{Title: "x"}); err == nil {
		t.Fatal("expected error when api key is missing")
	}
}

func TestMintSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "failed",
			"code":    "UPSTREAM_FAILURE",
			"message": "pinning service unavailable",
			"stage":   "storage",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "sk-demo", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Mint(context.Background(), MintRequest{Title: "Aurora", Description: "desc"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadGateway || apiErr.Code != "UPSTREAM_FAILURE" || apiErr.Stage != "storage" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestListMintsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/mints" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "5" || q.Get("status") != "failed" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]MintRecord{{ID: "req-1", Status: "failed", ErrorStage: "chain"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "sk-demo", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	records, err := client.ListMints(context.Background(), ListMintsOptions{Limit: 5, Status: "failed"})
	if err != nil {
		t.Fatalf("list mints: %v", err)
	}
	if len(records) != 1 || records[0].ErrorStage != "chain" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(APIKeyHeader) != "" {
			t.Fatal("health must not send the api key")
		}
		_ = json.NewEncoder(w).Encode(Health{Status: "ok"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health: %+v", health)
	}
}
