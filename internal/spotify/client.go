// Package spotify backs the playback, library and search boundaries with
// the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"trackdeck/internal/core"
)

type Client struct {
	api    *spotify.Client
	logger *zap.Logger
}

// supplierSource adapts the pull-style token supplier to oauth2 so every
// request carries the freshest access token without this package ever
// seeing the refresh token.
type supplierSource struct {
	ctx    context.Context
	supply core.TokenSupplier
}

func (s supplierSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.supply(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to supply access token: %w", err)
	}
	return &oauth2.Token{AccessToken: accessToken}, nil
}

func NewClient(ctx context.Context, tokens core.TokenSupplier, logger *zap.Logger) *Client {
	httpClient := oauth2.NewClient(ctx, supplierSource{ctx: ctx, supply: tokens})

	return &Client{
		api:    spotify.New(httpClient),
		logger: logger,
	}
}

// API exposes the underlying Web API client for sibling components.
func (c *Client) API() *spotify.Client { return c.api }

// CurrentlyPlaying returns the playback snapshot, or nil when nothing is
// playing.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*core.NowPlaying, error) {
	currently, err := c.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get currently playing: %w", err)
	}
	if currently == nil || currently.Item == nil {
		return nil, nil
	}

	return &core.NowPlaying{
		TrackURI: string(currently.Item.URI),
		TrackID:  currently.Item.ID.String(),
		Playing:  currently.Playing,
		Position: time.Duration(currently.Progress) * time.Millisecond,
		Duration: currently.Item.TimeDuration(),
	}, nil
}

func (c *Client) Play(ctx context.Context) error {
	if err := c.api.Play(ctx); err != nil {
		return fmt.Errorf("failed to resume playback: %w", err)
	}
	return nil
}

func (c *Client) Pause(ctx context.Context) error {
	if err := c.api.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	return nil
}

func (c *Client) Next(ctx context.Context) error {
	if err := c.api.Next(ctx); err != nil {
		return fmt.Errorf("failed to skip to next track: %w", err)
	}
	return nil
}

func (c *Client) Previous(ctx context.Context) error {
	if err := c.api.Previous(ctx); err != nil {
		return fmt.Errorf("failed to skip to previous track: %w", err)
	}
	return nil
}

func (c *Client) Seek(ctx context.Context, position time.Duration) error {
	if err := c.api.Seek(ctx, int(position/time.Millisecond)); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (c *Client) SetVolume(ctx context.Context, percent int) error {
	if err := c.api.Volume(ctx, percent); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

// HasLiked reports like-status for up to 50 track ids, aligned to input
// order.
func (c *Client) HasLiked(ctx context.Context, trackIDs []string) ([]bool, error) {
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}

	liked, err := c.api.UserHasTracks(ctx, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to check liked tracks: %w", err)
	}
	return liked, nil
}

func (c *Client) Like(ctx context.Context, trackID string) error {
	if err := c.api.AddTracksToLibrary(ctx, spotify.ID(trackID)); err != nil {
		return fmt.Errorf("failed to like track %s: %w", trackID, err)
	}
	return nil
}

func (c *Client) Unlike(ctx context.Context, trackID string) error {
	if err := c.api.RemoveTracksFromLibrary(ctx, spotify.ID(trackID)); err != nil {
		return fmt.Errorf("failed to unlike track %s: %w", trackID, err)
	}
	return nil
}

func trackFromFull(track spotify.FullTrack) core.Track {
	return core.Track{
		ID:         track.ID.String(),
		URI:        string(track.URI),
		Title:      track.Name,
		Artist:     joinArtists(track.Artists),
		Album:      track.Album.Name,
		Popularity: int(track.Popularity),
		Duration:   track.TimeDuration(),
	}
}

func joinArtists(artists []spotify.SimpleArtist) string {
	names := make([]string, len(artists))
	for i, artist := range artists {
		names[i] = artist.Name
	}
	return strings.Join(names, ", ")
}
