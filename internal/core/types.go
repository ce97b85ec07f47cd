// Package core defines the domain types and boundary interfaces shared by
// every trackdeck component.
package core

import (
	"context"
	"time"
)

type Track struct {
	ID         string
	URI        string
	Title      string
	Artist     string
	Album      string
	Popularity int
	Duration   time.Duration
}

// NormalizedTrack is the uniform shape every collection kind is projected
// into. AddedAt is nil for collections that carry no per-item timestamp
// (albums, artist top tracks).
type NormalizedTrack struct {
	Track   Track
	AddedAt *time.Time
}

// PlaybackState is the reconciled single source of truth for what is
// currently playing. TrackURI is empty when nothing is playing.
type PlaybackState struct {
	TrackURI string
	Playing  bool
	Position time.Duration
	Duration time.Duration
}

// NowPlaying is a snapshot returned by the currently-playing poll.
type NowPlaying struct {
	TrackURI string
	TrackID  string
	Playing  bool
	Position time.Duration
	Duration time.Duration
}

// StreamClient is the remote REST API boundary for playback queries and
// commands. Implementations take a bearer token from their own supplier;
// callers never handle credentials.
type StreamClient interface {
	CurrentlyPlaying(ctx context.Context) (*NowPlaying, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, percent int) error
}

// LikeService is the remote boundary for library like-status. HasLiked
// accepts at most 50 ids per call; batching above that limit is the
// caller's job.
type LikeService interface {
	HasLiked(ctx context.Context, trackIDs []string) ([]bool, error)
	Like(ctx context.Context, trackID string) error
	Unlike(ctx context.Context, trackID string) error
}

// TokenSupplier pulls the current access token. The playback and library
// layers depend on this instead of the session so the refresh token never
// crosses into them.
type TokenSupplier func(ctx context.Context) (string, error)
