// Package auth owns the session lifecycle: durable token storage, the PKCE
// authorization flow and scheduled token refresh.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// ErrNoSession is returned when no token pair has been stored yet.
var ErrNoSession = errors.New("no session stored")

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyExpiresAt    = "expires_at"
	keyCodeVerifier = "code_verifier"
	keyLastTrackURI = "last_track_uri"
)

// Session is the stored token pair. It is mutated only by the PKCE flow
// (initial login) and the Refresher (rotation).
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ExpiresWithin reports whether the access token expires before now+d.
func (s Session) ExpiresWithin(d time.Duration) bool {
	return time.Now().Add(d).After(s.ExpiresAt)
}

// Store is a sqlite-backed key-value store for session state. Writes are
// per-key; there is no cross-key transaction, so readers must tolerate a
// partially written session (e.g. token saved, verifier already cleared).
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// SaveSession persists the token pair. Keys are written individually.
func (s *Store) SaveSession(sess Session) error {
	if err := s.set(keyAccessToken, sess.AccessToken); err != nil {
		return err
	}
	if err := s.set(keyRefreshToken, sess.RefreshToken); err != nil {
		return err
	}
	return s.set(keyExpiresAt, sess.ExpiresAt.UTC().Format(time.RFC3339))
}

// LoadSession reads the stored token pair. Returns ErrNoSession when no
// access token has been stored.
func (s *Store) LoadSession() (Session, error) {
	access, ok, err := s.get(keyAccessToken)
	if err != nil {
		return Session{}, err
	}
	if !ok || access == "" {
		return Session{}, ErrNoSession
	}

	refresh, _, err := s.get(keyRefreshToken)
	if err != nil {
		return Session{}, err
	}

	var expiresAt time.Time
	if raw, ok, err := s.get(keyExpiresAt); err != nil {
		return Session{}, err
	} else if ok {
		if parsed, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			expiresAt = parsed
		}
	}

	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
	}, nil
}

// ClearSession removes the stored token pair.
func (s *Store) ClearSession() error {
	for _, key := range []string{keyAccessToken, keyRefreshToken, keyExpiresAt} {
		if err := s.delete(key); err != nil {
			return err
		}
	}
	return nil
}

// SaveVerifier stores the PKCE code verifier until the code exchange.
func (s *Store) SaveVerifier(verifier string) error {
	return s.set(keyCodeVerifier, verifier)
}

// TakeVerifier reads and deletes the stored code verifier. The second
// return value is false when no verifier is stored.
func (s *Store) TakeVerifier() (string, bool, error) {
	verifier, ok, err := s.get(keyCodeVerifier)
	if err != nil || !ok {
		return "", false, err
	}
	if err := s.delete(keyCodeVerifier); err != nil {
		return "", false, err
	}
	return verifier, true, nil
}

// SaveLastTrackURI remembers the resolved current track so the player view
// can be restored after a restart.
func (s *Store) SaveLastTrackURI(uri string) error {
	return s.set(keyLastTrackURI, uri)
}

// LastTrackURI returns the remembered current track, or "" when none is
// stored.
func (s *Store) LastTrackURI() (string, error) {
	uri, _, err := s.get(keyLastTrackURI)
	return uri, err
}
