package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Spruked/promethean-echo/internal/auth"
	"github.com/Spruked/promethean-echo/internal/chain"
	"github.com/Spruked/promethean-echo/internal/ipfs"
	"github.com/Spruked/promethean-echo/internal/ledger"
	"github.com/Spruked/promethean-echo/internal/metadata"
	"github.com/Spruked/promethean-echo/internal/mint"
	"github.com/Spruked/promethean-echo/internal/ratelimit"
)

const testAPIKey = "test-api-key"

type stubGenerator struct {
	calls *int
}

func (g *stubGenerator) Generate(_ context.Context, req metadata.Request) (*metadata.Document, error) {
	*g.calls++
	return &metadata.Document{Name: req.Title, Description: req.Description, CreatedAt: time.Now().UTC()}, nil
}

type stubUploader struct {
	calls *int
	err   error
}

func (u *stubUploader) Upload(context.Context, string, []byte) (string, error) {
	*u.calls++
	if u.err != nil {
		return "", u.err
	}
	return "ipfs://bafybeigdyrzt", nil
}

type stubChain struct {
	calls *int
}

func (c *stubChain) Mint(context.Context, string, string) (*chain.MintReceipt, error) {
	*c.calls++
	return &chain.MintReceipt{TokenID: 1, TxHash: "0xabc", BlockNumber: 5, GasUsed: 90000}, nil
}

func (c *stubChain) FetchChainSnapshot(context.Context) (chain.ChainSnapshot, error) {
	return chain.ChainSnapshot{ChainID: "0x1", BlockNumber: "0x10"}, nil
}

func (c *stubChain) Close() {}

type stubResolver struct {
	client chain.Client
}

func (r *stubResolver) DefaultClient() (chain.Client, error) { return r.client, nil }
func (r *stubResolver) Client(string) (chain.Client, bool)   { return nil, false }

type testEnv struct {
	server      *httptest.Server
	store       *ledger.MemoryStore
	collabCalls *int
}

func newTestEnv(t *testing.T, uploadErr error, mintLimiter ratelimit.Limiter) *testEnv {
	t.Helper()

	store := ledger.NewMemoryStore()
	calls := new(int)

	var uploader ipfs.Uploader = &stubUploader{calls: calls, err: uploadErr}
	resolver := &stubResolver{client: &stubChain{calls: calls}}
	coordinator := mint.NewCoordinator(&stubGenerator{calls: calls}, uploader, resolver, store, nil)

	authSvc, err := auth.NewService(context.Background(), auth.Config{
		Mode:  auth.ModeAPIKey,
		Seeds: []auth.Seed{{Name: "test", Key: testAPIKey}},
	}, auth.NewMemoryStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	server := NewServer(Options{
		Coordinator: coordinator,
		Store:       store,
		Chains:      resolver,
		Auth:        authSvc,
		MintLimiter: mintLimiter,
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store, collabCalls: calls}
}

func postMint(t *testing.T, env *testEnv, apiKey string, body map[string]any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/mint", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(auth.APIKeyHeader, apiKey)
	}
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

func validBody() map[string]any {
	return map[string]any{
		"title":       "Morning Light",
		"description": "A photograph of dawn over the harbor.",
		"tags":        []string{"photo"},
		"author":      "tester",
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	return decoded
}

func TestMintRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp := postMint(t, env, "", validBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["code"] != "AUTH_FAILURE" {
		t.Fatalf("unexpected error body: %+v", body)
	}
	if *env.collabCalls != 0 {
		t.Fatalf("collaborators must not run for unauthenticated requests")
	}
}

func TestMintSuccess(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp := postMint(t, env, testAPIKey, validBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["metadata_uri"] == "" || body["transaction_hash"] == "" {
		t.Fatalf("expected populated result, got %+v", body)
	}
	if body["status"] != "succeeded" {
		t.Fatalf("unexpected status: %+v", body)
	}
	if *env.collabCalls != 3 {
		t.Fatalf("expected all three collaborators to run, got %d calls", *env.collabCalls)
	}
}

func TestMintValidationError(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body := validBody()
	body["title"] = ""
	resp := postMint(t, env, testAPIKey, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	decoded := decodeBody(t, resp)
	if decoded["code"] != "MINT_VALIDATION_FAILED" {
		t.Fatalf("unexpected error body: %+v", decoded)
	}
	if *env.collabCalls != 0 {
		t.Fatalf("collaborators must not run for invalid requests")
	}
}

func TestMintRateLimited(t *testing.T) {
	env := newTestEnv(t, nil, ratelimit.NewMapLimiter(1, 1))

	first := postMint(t, env, testAPIKey, validBody())
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("expected first mint to succeed, got %d", first.StatusCode)
	}
	first.Body.Close()
	callsAfterFirst := *env.collabCalls

	second := postMint(t, env, testAPIKey, validBody())
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}
	decoded := decodeBody(t, second)
	if decoded["code"] != "RATE_LIMITED" {
		t.Fatalf("unexpected error body: %+v", decoded)
	}
	if *env.collabCalls != callsAfterFirst {
		t.Fatalf("rate limited request must not reach collaborators")
	}
}

func TestMintUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, errors.New("upload timed out"), nil)

	resp := postMint(t, env, testAPIKey, validBody())
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	decoded := decodeBody(t, resp)
	if decoded["code"] != "UPSTREAM_FAILURE" || decoded["stage"] != "storage" {
		t.Fatalf("unexpected error body: %+v", decoded)
	}
}

func TestHealthIsOpen(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestGetMintAndStats(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	created := decodeBody(t, postMint(t, env, testAPIKey, validBody()))
	requestID, _ := created["request_id"].(string)
	if requestID == "" {
		t.Fatalf("request id missing in response: %+v", created)
	}

	req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/v1/mints/%s", env.server.URL, requestID), nil)
	req.Header.Set(auth.APIKeyHeader, testAPIKey)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	record := decodeBody(t, resp)
	if record["status"] != "succeeded" {
		t.Fatalf("unexpected record: %+v", record)
	}

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/stats", nil)
	req.Header.Set(auth.APIKeyHeader, testAPIKey)
	resp, err = env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := decodeBody(t, resp)
	if stats["total"] != float64(1) || stats["succeeded"] != float64(1) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetMintNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/mints/does-not-exist", nil)
	req.Header.Set(auth.APIKeyHeader, testAPIKey)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSecurityAuditExposesAuthDenials(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	// 先制造一次认证失败,事件应出现在审计接口中。
	resp := postMint(t, env, "wrong-key", validBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/security/audit", nil)
	req.Header.Set(auth.APIKeyHeader, testAPIKey)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	events, ok := body["events"].([]any)
	if !ok || len(events) == 0 {
		t.Fatalf("expected recorded events, got %+v", body)
	}
	first, _ := events[0].(map[string]any)
	if first["type"] != auth.EventInvalidKey {
		t.Fatalf("unexpected event: %+v", first)
	}
	if first["client_ip"] == "" || first["occurred_at"] == "" {
		t.Fatalf("event missing fields: %+v", first)
	}
}

func TestSecurityAuditRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	resp, err := env.server.Client().Get(env.server.URL + "/security/audit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
