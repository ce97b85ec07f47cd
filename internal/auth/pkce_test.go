package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"trackdeck/internal/core"
)

func newTestFlow(t *testing.T) (*Flow, *Store) {
	t.Helper()

	store := newTestStore(t)
	flow := NewFlow(&core.SpotifyConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://127.0.0.1:8888/callback",
	}, store, zap.NewNop())

	return flow, store
}

func TestFlow_BeginLoginPersistsVerifierAndBuildsChallenge(t *testing.T) {
	flow, store := newTestFlow(t)

	authURL, err := flow.BeginLogin("state-123")
	if err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("BeginLogin returned unparsable URL: %v", err)
	}

	query := parsed.Query()
	if query.Get("client_id") != "test-client-id" {
		t.Errorf("client_id = %q, expected configured client id", query.Get("client_id"))
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, expected S256", query.Get("code_challenge_method"))
	}
	if query.Get("code_challenge") == "" {
		t.Error("authorization URL carries no code challenge")
	}
	if query.Get("state") != "state-123" {
		t.Errorf("state = %q, expected caller state", query.Get("state"))
	}
	if !strings.Contains(query.Get("redirect_uri"), "127.0.0.1:8888") {
		t.Errorf("redirect_uri = %q, expected configured redirect", query.Get("redirect_uri"))
	}

	verifier, ok, err := store.TakeVerifier()
	if err != nil {
		t.Fatalf("TakeVerifier failed: %v", err)
	}
	if !ok || verifier == "" {
		t.Error("BeginLogin did not persist a code verifier")
	}
}

func TestFlow_BeginLoginGeneratesFreshVerifier(t *testing.T) {
	flow, store := newTestFlow(t)

	if _, err := flow.BeginLogin("state-1"); err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	first, _, _ := store.TakeVerifier()

	if _, err := flow.BeginLogin("state-2"); err != nil {
		t.Fatalf("BeginLogin failed: %v", err)
	}
	second, _, _ := store.TakeVerifier()

	if first == second {
		t.Error("BeginLogin reused a code verifier across logins")
	}
}

func TestFlow_CompleteLoginWithoutVerifier(t *testing.T) {
	flow, _ := newTestFlow(t)

	_, err := flow.CompleteLogin(context.Background(), "some-code")
	if !errors.Is(err, ErrVerifierMissing) {
		t.Errorf("CompleteLogin = %v, expected ErrVerifierMissing", err)
	}
}
