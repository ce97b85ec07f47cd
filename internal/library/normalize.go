// Package library projects heterogeneous collection shapes into one
// uniform track list and caches per-track like status.
package library

import (
	"time"

	"trackdeck/internal/core"
)

// Collection is the sealed union of collection shapes the display and
// playback layers consume. New kinds must be added here and handled in
// Normalize before they exist anywhere else.
type Collection interface {
	collection()
}

// DatedItem is a collection entry carrying the time it was added, as
// playlist and saved-track items do.
type DatedItem struct {
	Track   core.Track
	AddedAt time.Time
}

type PlaylistCollection struct {
	ID    string
	Name  string
	Owner string
	Items []DatedItem
}

type AlbumCollection struct {
	ID     string
	Name   string
	Artist string
	Tracks []core.Track
}

type ArtistTopTracks struct {
	ArtistID   string
	ArtistName string
	Tracks     []core.Track
}

type SavedTracks struct {
	Items []DatedItem
}

func (PlaylistCollection) collection() {}
func (AlbumCollection) collection()    {}
func (ArtistTopTracks) collection()    {}
func (SavedTracks) collection()        {}

// Normalize maps any collection into the uniform ordered {track, addedAt}
// sequence. Album and artist tracks carry no timestamp. A nil collection
// yields an empty sequence, never an error, so display code stays safe
// against partially loaded data.
func Normalize(c Collection) []core.NormalizedTrack {
	switch col := c.(type) {
	case PlaylistCollection:
		return normalizeDated(col.Items)
	case SavedTracks:
		return normalizeDated(col.Items)
	case AlbumCollection:
		return normalizeBare(col.Tracks)
	case ArtistTopTracks:
		return normalizeBare(col.Tracks)
	default:
		return []core.NormalizedTrack{}
	}
}

func normalizeDated(items []DatedItem) []core.NormalizedTrack {
	normalized := make([]core.NormalizedTrack, 0, len(items))
	for _, item := range items {
		addedAt := item.AddedAt
		normalized = append(normalized, core.NormalizedTrack{
			Track:   item.Track,
			AddedAt: &addedAt,
		})
	}
	return normalized
}

func normalizeBare(tracks []core.Track) []core.NormalizedTrack {
	normalized := make([]core.NormalizedTrack, 0, len(tracks))
	for _, track := range tracks {
		normalized = append(normalized, core.NormalizedTrack{Track: track})
	}
	return normalized
}
