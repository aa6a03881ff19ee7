// Package adminapi exposes the read-only operational surface over HTTP:
// per-instance diagnostics state, the last firehose batch/event, the
// pruning summary, and a query endpoint over the dead-letter store.
// Adapted from the teacher's internal/server, whose AuthMiddleware
// checked a bearer token against internal/controller.Store before
// serving ingest/search/stats; here the same bearer-token check guards
// the diagnostics/dead-letter endpoints, with bcrypt-hashed tokens
// (golang.org/x/crypto/bcrypt, same as the teacher's admin password
// hashing) and an otter-bounded cache of already-verified raw tokens so
// a busy dashboard doesn't run bcrypt on every poll
// (github.com/maypok86/otter, the bounded cache Resinat-Resin's
// internal/node/latency.go uses for per-domain latency stats).
package adminapi

import (
	"net/http"
	"strings"

	"github.com/maypok86/otter"
	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/logpipe/internal/controller"
)

const verifiedTokenCacheSize = 4096

// Authenticator checks bearer tokens against the admin token store,
// caching verified raw tokens so repeat calls skip bcrypt.
type Authenticator struct {
	tokens  *controller.Store
	cache   otter.Cache[string, string] // raw token -> token id
}

// NewAuthenticator builds an Authenticator backed by tokens.
func NewAuthenticator(tokens *controller.Store) (*Authenticator, error) {
	cache, err := otter.MustBuilder[string, string](verifiedTokenCacheSize).
		Cost(func(_ string, _ string) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, err
	}
	return &Authenticator{tokens: tokens, cache: cache}, nil
}

// Verify reports whether raw is a valid, known admin token, returning
// the matched token's id.
func (a *Authenticator) Verify(raw string) (tokenID string, ok bool) {
	if raw == "" {
		return "", false
	}
	if id, found := a.cache.Get(raw); found {
		return id, true
	}
	for _, t := range a.tokens.Tokens() {
		if bcrypt.CompareHashAndPassword([]byte(t.TokenHash), []byte(raw)) == nil {
			a.cache.Set(raw, t.ID)
			return t.ID, true
		}
	}
	return "", false
}

// Middleware rejects requests without a valid token. The token is read
// from an Authorization: Bearer header or, when the request carries no
// Bearer header, from the token query parameter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			raw = r.URL.Query().Get("token")
		}

		if _, ok := a.Verify(raw); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="logpipe-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashToken bcrypt-hashes a freshly issued raw token for storage.
func HashToken(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	return string(hash), err
}
