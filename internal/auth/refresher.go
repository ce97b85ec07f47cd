package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshLeeway is how close to expiry the pull-style token supplier
// refreshes eagerly instead of handing out a nearly dead token.
const refreshLeeway = time.Minute

// ErrNoRefreshToken is returned when a refresh is requested but the stored
// session has no refresh token.
var ErrNoRefreshToken = errors.New("no refresh token available")

// exchangeFunc swaps a refresh token for a rotated session.
type exchangeFunc func(ctx context.Context, refreshToken string) (Session, error)

// Refresher rotates the access token on a fixed interval, shorter than the
// typical 60 minute expiry. Refreshes are serialized through singleflight:
// a trigger firing while another refresh is still pending joins it instead
// of issuing a second concurrent call against the same refresh token.
type Refresher struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
	exchange exchangeFunc
	group    singleflight.Group

	mu          sync.RWMutex
	subscribers []func(Session)
	onAuthLost  func(error)
}

func NewRefresher(clientID string, interval time.Duration, store *Store, logger *zap.Logger) *Refresher {
	return &Refresher{
		store:    store,
		interval: interval,
		logger:   logger,
		exchange: spotifyRefreshExchange(clientID),
	}
}

// Subscribe registers a callback invoked with the rotated session after
// every successful refresh. Device registration uses this to rebuild its
// handle with the new token.
func (r *Refresher) Subscribe(fn func(Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// SetAuthLostHandler registers the escalation path: one failed refresh
// clears the session and forces a full re-login, there is no bounded retry.
func (r *Refresher) SetAuthLostHandler(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAuthLost = fn
}

// Run refreshes on a fixed interval until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("Starting token refresh scheduler",
		zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Token refresh scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				r.logger.Warn("Scheduled token refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh rotates the access token. Overlapping calls coalesce into the one
// in-flight exchange and all receive its result.
func (r *Refresher) Refresh(ctx context.Context) (Session, error) {
	v, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	if shared {
		r.logger.Debug("Refresh trigger joined in-flight refresh")
	}
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

func (r *Refresher) refresh(ctx context.Context) (Session, error) {
	sess, err := r.store.LoadSession()
	if err != nil {
		return Session{}, err
	}
	if sess.RefreshToken == "" {
		return Session{}, ErrNoRefreshToken
	}

	next, err := r.exchange(ctx, sess.RefreshToken)
	if err != nil {
		// A cancelled or timed-out context means the daemon is shutting
		// down (or the caller gave up), not that the endpoint rejected the
		// refresh token. Escalating would clear a perfectly good session.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.escalate(err)
		}
		return Session{}, fmt.Errorf("token refresh failed: %w", err)
	}

	// The endpoint may omit the rotated refresh token; keep the old one.
	if next.RefreshToken == "" {
		next.RefreshToken = sess.RefreshToken
	}

	if err := r.store.SaveSession(next); err != nil {
		return Session{}, err
	}

	r.logger.Info("Access token rotated", zap.Time("expiresAt", next.ExpiresAt))

	r.notify(next)
	return next, nil
}

// AccessToken is the pull-style token supplier handed to the playback and
// library layers. It refreshes eagerly when the stored token is about to
// expire. The refresh token itself never leaves this package.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	sess, err := r.store.LoadSession()
	if err != nil {
		return "", err
	}

	if sess.ExpiresWithin(refreshLeeway) {
		sess, err = r.Refresh(ctx)
		if err != nil {
			return "", err
		}
	}

	return sess.AccessToken, nil
}

func (r *Refresher) notify(sess Session) {
	r.mu.RLock()
	subscribers := make([]func(Session), len(r.subscribers))
	copy(subscribers, r.subscribers)
	r.mu.RUnlock()

	for _, fn := range subscribers {
		fn(sess)
	}
}

func (r *Refresher) escalate(err error) {
	r.mu.RLock()
	onAuthLost := r.onAuthLost
	r.mu.RUnlock()

	if onAuthLost != nil {
		onAuthLost(err)
	}
}

// spotifyRefreshExchange refreshes against the accounts token endpoint as a
// public client: the request is authenticated by the client id alone, no
// secret.
func spotifyRefreshExchange(clientID string) exchangeFunc {
	return func(ctx context.Context, refreshToken string) (Session, error) {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		form.Set("client_id", clientID)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, spotifyauth.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return Session{}, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return Session{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return Session{}, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, string(body))
		}

		var tokenResp struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
			return Session{}, err
		}

		return Session{
			AccessToken:  tokenResp.AccessToken,
			RefreshToken: tokenResp.RefreshToken,
			ExpiresAt:    time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		}, nil
	}
}
