package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coffersTech/logpipe/internal/batcher"
	"github.com/coffersTech/logpipe/internal/controller"
	"github.com/coffersTech/logpipe/internal/deadletter"
	"github.com/coffersTech/logpipe/internal/diagnostics"
	"github.com/coffersTech/logpipe/internal/logrecord"
	"github.com/coffersTech/logpipe/internal/registry"
	"github.com/coffersTech/logpipe/internal/security"
	"github.com/coffersTech/logpipe/internal/state"
)

const testRawToken = "admin-raw-token-xyz"

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	if _, err := security.InitMasterKey(filepath.Join(dir, "master.key")); err != nil {
		t.Fatal(err)
	}

	diagKV, err := state.OpenKV(filepath.Join(dir, "diagnostics.db"), "diagnostics_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { diagKV.Close() })
	diag := diagnostics.NewKVSink(diagKV)

	dlqKV, err := state.OpenKV(filepath.Join(dir, "deadletter.db"), "deadletter_kv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dlqKV.Close() })
	dlq, err := deadletter.NewKVStore(dlqKV)
	if err != nil {
		t.Fatal(err)
	}

	tokenStore := controller.NewStore(filepath.Join(dir, "tokens.enc"))
	hash, err := HashToken(testRawToken)
	if err != nil {
		t.Fatal(err)
	}
	if err := tokenStore.AddToken(controller.APIToken{ID: "t1", Name: "test", TokenHash: hash}); err != nil {
		t.Fatal(err)
	}

	auth, err := NewAuthenticator(tokenStore)
	if err != nil {
		t.Fatal(err)
	}

	srv := New(diag, dlq, tokenStore, nil, auth, "", nil)
	return srv, testRawToken
}

func TestServer_ClusterEndpointsNotImplementedWithoutPeers(t *testing.T) {
	srv, token := newTestServer(t)

	for _, path := range []string{"/admin/cluster/pruning", "/admin/cluster/deadletter"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.srv.Handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("%s: expected 501 with no configured peers, got %d", path, rec.Code)
		}
	}
}

func TestServer_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/diagnostics/pruning", nil)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestServer_AcceptsValidBearerToken(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/diagnostics/pruning", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_HandleState_NotFound(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/diagnostics/state/shard-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an instance with no state yet, got %d", rec.Code)
	}
}

func TestServer_HandleState_ReturnsSnapshot(t *testing.T) {
	srv, token := newTestServer(t)

	snap := batcher.Snapshot{ID: "shard-1", Colo: "SJC"}
	kvSink := srv.diag.(*diagnostics.KVSink)
	if err := kvSink.PutState(context.Background(), "shard-1", snap); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/diagnostics/state/shard-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got batcher.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "shard-1" || got.Colo != "SJC" {
		t.Errorf("unexpected snapshot: %+v", got)
	}
}

func TestServer_HandleDeadLetter_FiltersByQuery(t *testing.T) {
	srv, token := newTestServer(t)

	dlqStore := srv.dlq.(*deadletter.KVStore)
	ctx := context.Background()
	if err := dlqStore.Put(ctx, "deadletter_orders_1", "orders", "timeout", []logrecord.Record{{"logId": "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := dlqStore.Put(ctx, "deadletter_payments_1", "payments", "connection refused", []logrecord.Record{{"logId": "b"}}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/deadletter?q=table:orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got []deadletter.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TableName != "orders" {
		t.Fatalf("expected only the orders entry, got %+v", got)
	}
}

func TestServer_HandleCreateToken_IssuesUsableToken(t *testing.T) {
	srv, adminToken := newTestServer(t)

	body := strings.NewReader(`{"name":"ci-runner"}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/tokens", body)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["token"] == "" {
		t.Fatal("expected a freshly issued raw token in the response")
	}

	pingReq := httptest.NewRequest(http.MethodGet, "/admin/diagnostics/pruning", nil)
	pingReq.Header.Set("Authorization", "Bearer "+resp["token"])
	pingRec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(pingRec, pingReq)
	if pingRec.Code != http.StatusOK {
		t.Fatalf("expected the newly issued token to authenticate, got %d", pingRec.Code)
	}
}

func TestServer_HandleCreateToken_RejectsGet(t *testing.T) {
	srv, adminToken := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/tokens", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestServer_HandleRegistry_EmptyWhenUnconfigured(t *testing.T) {
	srv, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/registry", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []registry.Instance
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no live instances when the server has no registry wired, got %d", len(got))
	}
}
