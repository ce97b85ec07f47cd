package auth

import (
	"context"
	"errors"
	"fmt"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"trackdeck/internal/core"
)

var (
	// ErrVerifierMissing indicates the login flow was completed without a
	// stored code verifier, e.g. the flow was restarted elsewhere.
	ErrVerifierMissing = errors.New("no code verifier stored for this login")

	// ErrExchangeRejected indicates the token endpoint refused the
	// authorization code exchange.
	ErrExchangeRejected = errors.New("authorization code exchange rejected")
)

// Flow implements the PKCE authorization flow. No client secret is
// involved: the code exchange is authenticated by the stored verifier.
type Flow struct {
	auth   *spotifyauth.Authenticator
	store  *Store
	logger *zap.Logger
}

func NewFlow(config *core.SpotifyConfig, store *Store, logger *zap.Logger) *Flow {
	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(config.RedirectURL),
		spotifyauth.WithClientID(config.ClientID),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadPlaybackState,
			spotifyauth.ScopeUserModifyPlaybackState,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserLibraryRead,
			spotifyauth.ScopeUserLibraryModify,
			spotifyauth.ScopeStreaming,
		),
	)

	return &Flow{
		auth:   auth,
		store:  store,
		logger: logger,
	}
}

// BeginLogin generates a code verifier, persists it, and returns the
// authorization URL carrying the SHA-256 challenge. The caller opens the
// URL in a browser.
func (f *Flow) BeginLogin(state string) (string, error) {
	verifier := oauth2.GenerateVerifier()

	if err := f.store.SaveVerifier(verifier); err != nil {
		return "", fmt.Errorf("failed to persist code verifier: %w", err)
	}

	f.logger.Debug("Login started, verifier persisted")

	return f.auth.AuthURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteLogin exchanges the authorization code for a token pair using the
// stored verifier, persists the session and returns it. The verifier is
// consumed whether or not the exchange succeeds.
func (f *Flow) CompleteLogin(ctx context.Context, code string) (Session, error) {
	verifier, ok, err := f.store.TakeVerifier()
	if err != nil {
		return Session{}, fmt.Errorf("failed to read code verifier: %w", err)
	}
	if !ok {
		return Session{}, ErrVerifierMissing
	}

	token, err := f.auth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrExchangeRejected, err)
	}

	sess := sessionFromToken(token)
	if err := f.store.SaveSession(sess); err != nil {
		return Session{}, fmt.Errorf("failed to persist session: %w", err)
	}

	f.logger.Info("Login completed", zap.Time("expiresAt", sess.ExpiresAt))

	return sess, nil
}

func sessionFromToken(token *oauth2.Token) Session {
	return Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}
