package adminapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastjson"

	"github.com/coffersTech/logpipe/internal/batcher"
	"github.com/coffersTech/logpipe/internal/cluster"
	"github.com/coffersTech/logpipe/internal/controller"
	"github.com/coffersTech/logpipe/internal/deadletter"
	"github.com/coffersTech/logpipe/internal/diagnostics"
	"github.com/coffersTech/logpipe/internal/query"
	"github.com/coffersTech/logpipe/internal/registry"
)

// Server serves the read-only admin HTTP surface, plus a minimal
// token-issuance endpoint for operators provisioning new bearer tokens.
type Server struct {
	diag    diagnostics.Reader
	dlq     deadletter.Store
	tokens  *controller.Store
	live    *registry.Store
	cluster *cluster.Aggregator
	auth    *Authenticator
	srv     *http.Server
}

// New builds an admin API server. tokens may be nil when the caller never
// needs to provision new tokens through the API (e.g. tests that seed the
// store directly). live may be nil when the caller has no in-process
// liveness view to expose (e.g. a process that only reads diagnostics
// written by others). peers lists every other instance's admin API base
// URL in the deployment ("" or empty means single-instance, and the
// cluster-wide endpoints report 501). addr is the http.Server listen
// address; an empty addr makes ListenAndServe listen on ":http", as
// net/http does.
func New(diag diagnostics.Reader, dlq deadletter.Store, tokens *controller.Store, live *registry.Store, auth *Authenticator, addr string, peers []string) *Server {
	s := &Server{diag: diag, dlq: dlq, tokens: tokens, live: live, auth: auth}
	if len(peers) > 0 {
		s.cluster = cluster.NewAggregator(peers)
	}

	mux := http.NewServeMux()
	mux.Handle("/admin/diagnostics/state/", auth.Middleware(http.HandlerFunc(s.handleState)))
	mux.Handle("/admin/diagnostics/firehose/last-batch", auth.Middleware(http.HandlerFunc(s.handleLastBatch)))
	mux.Handle("/admin/diagnostics/firehose/last-event", auth.Middleware(http.HandlerFunc(s.handleLastEvent)))
	mux.Handle("/admin/diagnostics/pruning", auth.Middleware(http.HandlerFunc(s.handlePruning)))
	mux.Handle("/admin/deadletter", auth.Middleware(http.HandlerFunc(s.handleDeadLetter)))
	mux.Handle("/admin/tokens", auth.Middleware(http.HandlerFunc(s.handleCreateToken)))
	mux.Handle("/admin/registry", auth.Middleware(http.HandlerFunc(s.handleRegistry)))
	mux.Handle("/admin/cluster/pruning", auth.Middleware(http.HandlerFunc(s.handleClusterPruning)))
	mux.Handle("/admin/cluster/deadletter", auth.Middleware(http.HandlerFunc(s.handleClusterDeadLetter)))

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe starts serving. Blocks until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimPrefix(r.URL.Path, "/admin/diagnostics/state/")
	if instanceID == "" {
		http.Error(w, "instance id required", http.StatusBadRequest)
		return
	}
	var snap batcher.Snapshot
	ok, err := s.diag.GetState(r.Context(), instanceID, &snap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no state for instance", http.StatusNotFound)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleLastBatch(w http.ResponseWriter, r *http.Request) {
	var payload any
	ok, err := s.diag.GetLastFirehoseBatch(r.Context(), &payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no firehose batch recorded yet", http.StatusNotFound)
		return
	}
	writeJSON(w, payload)
}

func (s *Server) handleLastEvent(w http.ResponseWriter, r *http.Request) {
	var payload any
	ok, err := s.diag.GetLastFirehoseEvent(r.Context(), &payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no firehose event recorded yet", http.StatusNotFound)
		return
	}
	writeJSON(w, payload)
}

func (s *Server) handlePruning(w http.ResponseWriter, r *http.Request) {
	summary, err := s.diag.GetPruningSummary(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

// handleDeadLetter serves GET /admin/deadletter?q=<query DSL> against
// the dead-letter store, filtering with internal/query.
func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	entries, err := s.dlq.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	q := r.URL.Query().Get("q")
	node, err := query.Parse(q)
	if err != nil {
		http.Error(w, "invalid query: "+err.Error(), http.StatusBadRequest)
		return
	}

	out := make([]deadletter.Entry, 0, len(entries))
	for _, e := range entries {
		if query.Match(node, e) {
			out = append(out, e)
		}
	}
	writeJSON(w, out)
}

// handleClusterPruning serves GET /admin/cluster/pruning: the per-table
// pruning_summary merged across every peer in the deployment, keeping
// each table's most recently pruned entry.
func (s *Server) handleClusterPruning(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		http.Error(w, "no cluster peers configured on this instance", http.StatusNotImplemented)
		return
	}
	summary, err := s.cluster.PruningSummary(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

// handleClusterDeadLetter serves GET /admin/cluster/deadletter?q=<query
// DSL>: the matching dead-letter entries from every peer, merged newest
// first.
func (s *Server) handleClusterDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		http.Error(w, "no cluster peers configured on this instance", http.StatusNotImplemented)
		return
	}
	entries, err := s.cluster.DeadLetterEntries(r.URL.Query().Get("q"), r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

// handleRegistry lists every batcher instance this process currently
// considers live, per internal/registry.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeJSON(w, []registry.Instance{})
		return
	}
	writeJSON(w, s.live.List())
}

// handleCreateToken provisions a fresh bearer token. The request body is a
// small, flat JSON object ({"name": "ci-runner"}); fastjson's zero-allocation
// parser is used here rather than encoding/json because this endpoint sits
// behind the same bearer-token check it is itself issuing credentials
// for, and a malformed or adversarial body should not pay for a full
// reflection-based unmarshal to be rejected.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.tokens == nil {
		http.Error(w, "token issuance not configured on this instance", http.StatusNotImplemented)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	name := string(v.GetStringBytes("name"))
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	raw := uuid.NewString()
	hash, err := HashToken(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	token := controller.APIToken{ID: uuid.NewString(), Name: name, TokenHash: hash, CreatedAt: time.Now().UnixMilli()}
	if err := s.tokens.AddToken(token); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]string{"id": token.ID, "name": token.Name, "token": raw})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
