package spotify

import (
	"errors"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"

	"trackdeck/internal/player"
)

func TestStateChanged(t *testing.T) {
	base := &player.SDKState{
		TrackURI: "spotify:track:a",
		Playing:  true,
		Position: 10 * time.Second,
		Duration: 3 * time.Minute,
	}

	tests := []struct {
		name     string
		last     *player.SDKState
		current  *player.SDKState
		elapsed  time.Duration
		expected bool
	}{
		{
			name:     "first observation",
			last:     nil,
			current:  base,
			expected: true,
		},
		{
			name:     "track changed",
			last:     base,
			current:  &player.SDKState{TrackURI: "spotify:track:b", Playing: true, Position: 0},
			elapsed:  time.Second,
			expected: true,
		},
		{
			name:     "paused",
			last:     base,
			current:  &player.SDKState{TrackURI: "spotify:track:a", Playing: false, Position: 11 * time.Second},
			elapsed:  time.Second,
			expected: true,
		},
		{
			name:     "normal progression",
			last:     base,
			current:  &player.SDKState{TrackURI: "spotify:track:a", Playing: true, Position: 11 * time.Second},
			elapsed:  time.Second,
			expected: false,
		},
		{
			name:     "external seek forward",
			last:     base,
			current:  &player.SDKState{TrackURI: "spotify:track:a", Playing: true, Position: 90 * time.Second},
			elapsed:  time.Second,
			expected: true,
		},
		{
			name:     "external seek backward",
			last:     base,
			current:  &player.SDKState{TrackURI: "spotify:track:a", Playing: true, Position: 2 * time.Second},
			elapsed:  time.Second,
			expected: true,
		},
		{
			name:     "paused position holds",
			last:     &player.SDKState{TrackURI: "spotify:track:a", Playing: false, Position: 10 * time.Second},
			current:  &player.SDKState{TrackURI: "spotify:track:a", Playing: false, Position: 10 * time.Second},
			elapsed:  5 * time.Second,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stateChanged(tt.last, tt.current, tt.elapsed); got != tt.expected {
				t.Errorf("stateChanged = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestIsUnauthorized(t *testing.T) {
	unauthorized := spotify.Error{Status: 401, Message: "The access token expired"}

	if !isUnauthorized(unauthorized) {
		t.Error("401 API error not detected as unauthorized")
	}
	if isUnauthorized(spotify.Error{Status: 429, Message: "rate limited"}) {
		t.Error("429 misclassified as unauthorized")
	}
	if isUnauthorized(errors.New("connection refused")) {
		t.Error("transport error misclassified as unauthorized")
	}
}
