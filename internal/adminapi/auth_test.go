package adminapi

import (
	"path/filepath"
	"testing"

	"github.com/coffersTech/logpipe/internal/controller"
	"github.com/coffersTech/logpipe/internal/security"
)

func TestAuthenticator_Verify(t *testing.T) {
	dir := t.TempDir()
	if _, err := security.InitMasterKey(filepath.Join(dir, "master.key")); err != nil {
		t.Fatal(err)
	}
	store := controller.NewStore(filepath.Join(dir, "tokens.enc"))

	hash, err := HashToken("super-secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddToken(controller.APIToken{ID: "t1", Name: "ci", TokenHash: hash}); err != nil {
		t.Fatal(err)
	}

	auth, err := NewAuthenticator(store)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := auth.Verify("super-secret"); !ok {
		t.Error("expected the matching raw token to verify")
	}
	if _, ok := auth.Verify("wrong-token"); ok {
		t.Error("expected a non-matching token to fail verification")
	}
	if _, ok := auth.Verify(""); ok {
		t.Error("expected an empty token to fail verification")
	}
}

func TestAuthenticator_Verify_CachesSuccessfulLookup(t *testing.T) {
	dir := t.TempDir()
	if _, err := security.InitMasterKey(filepath.Join(dir, "master.key")); err != nil {
		t.Fatal(err)
	}
	store := controller.NewStore(filepath.Join(dir, "tokens.enc"))

	hash, err := HashToken("cached-token")
	if err != nil {
		t.Fatal(err)
	}
	store.AddToken(controller.APIToken{ID: "t1", Name: "ci", TokenHash: hash})

	auth, err := NewAuthenticator(store)
	if err != nil {
		t.Fatal(err)
	}

	id1, ok := auth.Verify("cached-token")
	if !ok {
		t.Fatal("expected first verify to succeed")
	}

	// Delete the token from the backing store; a cached verification
	// should still succeed since it skips the bcrypt comparison entirely.
	store.DeleteToken("t1")

	id2, ok := auth.Verify("cached-token")
	if !ok {
		t.Fatal("expected cached verify to still succeed after deletion")
	}
	if id1 != id2 {
		t.Errorf("expected stable token id, got %q then %q", id1, id2)
	}
}
