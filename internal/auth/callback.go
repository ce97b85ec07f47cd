package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const callbackTimeout = 2 * time.Minute

// ErrLoginTimeout is returned when the browser callback never arrives.
var ErrLoginTimeout = errors.New("login timed out waiting for callback")

// RunInteractiveLogin walks the full PKCE flow: prints the authorization
// URL, serves the redirect callback on the loopback address taken from the
// configured redirect URL, and completes the code exchange.
func (f *Flow) RunInteractiveLogin(ctx context.Context, redirectURL string) (Session, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return Session{}, fmt.Errorf("invalid redirect URL: %w", err)
	}

	state, err := generateState()
	if err != nil {
		return Session{}, fmt.Errorf("failed to generate state: %w", err)
	}

	authURL, err := f.BeginLogin(state)
	if err != nil {
		return Session{}, err
	}

	sessCh := make(chan Session, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(parsed.Path, func(w http.ResponseWriter, r *http.Request) {
		f.handleCallback(w, r, state, sessCh, errCh)
	})

	server := &http.Server{
		Addr:    parsed.Host,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("callback server failed: %w", err)
		}
	}()

	fmt.Printf("Open the following URL in your browser to authorize trackdeck:\n%s\n", authURL)

	var sess Session
	select {
	case sess = <-sessCh:
	case err := <-errCh:
		f.shutdownCallbackServer(server)
		return Session{}, err
	case <-time.After(callbackTimeout):
		f.shutdownCallbackServer(server)
		return Session{}, ErrLoginTimeout
	case <-ctx.Done():
		f.shutdownCallbackServer(server)
		return Session{}, ctx.Err()
	}

	f.shutdownCallbackServer(server)
	return sess, nil
}

func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request, expectedState string, sessCh chan<- Session, errCh chan<- error) {
	if r.URL.Query().Get("state") != expectedState {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		errCh <- errors.New("authorization state mismatch")
		return
	}

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "Authorization failed: "+errMsg, http.StatusBadRequest)
		errCh <- fmt.Errorf("authorization denied: %s", errMsg)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		errCh <- errors.New("callback carried no authorization code")
		return
	}

	sess, err := f.CompleteLogin(r.Context(), code)
	if err != nil {
		http.Error(w, "Failed to complete login", http.StatusInternalServerError)
		errCh <- err
		return
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>trackdeck</title></head>
<body>
<h1>Authorization successful</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)

	sessCh <- sess
}

func (f *Flow) shutdownCallbackServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		f.logger.Warn("Failed to shut down callback server", zap.Error(err))
	}
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
