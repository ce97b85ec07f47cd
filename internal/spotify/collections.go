package spotify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"trackdeck/internal/core"
	"trackdeck/internal/library"
	"trackdeck/internal/search"
)

const searchPageSize = 10

// Playlist fetches a playlist with all its tracks and their added-at
// timestamps, paging until exhausted.
func (c *Client) Playlist(ctx context.Context, playlistID string) (library.PlaylistCollection, error) {
	full, err := c.api.GetPlaylist(ctx, spotify.ID(playlistID))
	if err != nil {
		return library.PlaylistCollection{}, fmt.Errorf("failed to get playlist %s: %w", playlistID, err)
	}

	collection := library.PlaylistCollection{
		ID:    full.ID.String(),
		Name:  full.Name,
		Owner: full.Owner.DisplayName,
	}

	page := &full.Tracks
	for {
		for _, item := range page.Tracks {
			addedAt, _ := time.Parse(time.RFC3339, item.AddedAt)
			collection.Items = append(collection.Items, library.DatedItem{
				Track:   trackFromFull(item.Track),
				AddedAt: addedAt,
			})
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return library.PlaylistCollection{}, fmt.Errorf("failed to page playlist %s: %w", playlistID, err)
		}
	}

	c.logger.Debug("Fetched playlist",
		zap.String("playlistID", playlistID),
		zap.Int("tracks", len(collection.Items)))

	return collection, nil
}

// Album fetches an album with its full track listing. Album tracks carry
// no added-at timestamp and no per-track popularity.
func (c *Client) Album(ctx context.Context, albumID string) (library.AlbumCollection, error) {
	full, err := c.api.GetAlbum(ctx, spotify.ID(albumID))
	if err != nil {
		return library.AlbumCollection{}, fmt.Errorf("failed to get album %s: %w", albumID, err)
	}

	collection := library.AlbumCollection{
		ID:     full.ID.String(),
		Name:   full.Name,
		Artist: joinArtists(full.Artists),
	}

	page := &full.Tracks
	for {
		for _, track := range page.Tracks {
			collection.Tracks = append(collection.Tracks, core.Track{
				ID:       track.ID.String(),
				URI:      string(track.URI),
				Title:    track.Name,
				Artist:   joinArtists(track.Artists),
				Album:    full.Name,
				Duration: track.TimeDuration(),
			})
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return library.AlbumCollection{}, fmt.Errorf("failed to page album %s: %w", albumID, err)
		}
	}

	return collection, nil
}

// ArtistTopTracks fetches an artist's top tracks for the given market.
func (c *Client) ArtistTopTracks(ctx context.Context, artistID, country string) (library.ArtistTopTracks, error) {
	artist, err := c.api.GetArtist(ctx, spotify.ID(artistID))
	if err != nil {
		return library.ArtistTopTracks{}, fmt.Errorf("failed to get artist %s: %w", artistID, err)
	}

	top, err := c.api.GetArtistsTopTracks(ctx, spotify.ID(artistID), country)
	if err != nil {
		return library.ArtistTopTracks{}, fmt.Errorf("failed to get top tracks for artist %s: %w", artistID, err)
	}

	collection := library.ArtistTopTracks{
		ArtistID:   artistID,
		ArtistName: artist.Name,
	}
	for _, track := range top {
		collection.Tracks = append(collection.Tracks, trackFromFull(track))
	}

	return collection, nil
}

// SavedTracks fetches the user's saved tracks with their saved-at
// timestamps, paging 50 at a time.
func (c *Client) SavedTracks(ctx context.Context) (library.SavedTracks, error) {
	page, err := c.api.CurrentUsersTracks(ctx, spotify.Limit(50))
	if err != nil {
		return library.SavedTracks{}, fmt.Errorf("failed to get saved tracks: %w", err)
	}

	var collection library.SavedTracks
	for {
		for _, saved := range page.Tracks {
			addedAt, _ := time.Parse(time.RFC3339, saved.AddedAt)
			collection.Items = append(collection.Items, library.DatedItem{
				Track:   trackFromFull(saved.FullTrack),
				AddedAt: addedAt,
			})
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return library.SavedTracks{}, fmt.Errorf("failed to page saved tracks: %w", err)
		}
	}

	c.logger.Debug("Fetched saved tracks", zap.Int("tracks", len(collection.Items)))

	return collection, nil
}

// Search runs a mixed-type search and maps the response into ranker
// candidates, response order preserved per type. Albums and playlists
// expose no popularity on search results.
func (c *Client) Search(ctx context.Context, query string) ([]search.Candidate, error) {
	results, err := c.api.Search(ctx, query,
		spotify.SearchTypeTrack|spotify.SearchTypeAlbum|spotify.SearchTypeArtist|spotify.SearchTypePlaylist,
		spotify.Limit(searchPageSize))
	if err != nil {
		return nil, fmt.Errorf("search for %q failed: %w", query, err)
	}

	var candidates []search.Candidate

	if results.Tracks != nil {
		for _, track := range results.Tracks.Tracks {
			candidates = append(candidates, search.Candidate{
				ID:              track.ID.String(),
				Name:            track.Name,
				Type:            search.TypeTrack,
				Popularity:      int(track.Popularity),
				PopularityKnown: true,
			})
		}
	}
	if results.Albums != nil {
		for _, album := range results.Albums.Albums {
			candidates = append(candidates, search.Candidate{
				ID:   album.ID.String(),
				Name: album.Name,
				Type: search.TypeAlbum,
			})
		}
	}
	if results.Artists != nil {
		for _, artist := range results.Artists.Artists {
			candidates = append(candidates, search.Candidate{
				ID:              artist.ID.String(),
				Name:            artist.Name,
				Type:            search.TypeArtist,
				Popularity:      int(artist.Popularity),
				PopularityKnown: true,
			})
		}
	}
	if results.Playlists != nil {
		for _, playlist := range results.Playlists.Playlists {
			candidates = append(candidates, search.Candidate{
				ID:   playlist.ID.String(),
				Name: playlist.Name,
				Type: search.TypePlaylist,
			})
		}
	}

	c.logger.Debug("Search completed",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}
