// Package player owns the playback device lifecycle and reconciles
// authoritative remote playback state with locally predicted progress.
package player

import (
	"context"
	"time"
)

// EventType enumerates the lifecycle and state events an SDK connection
// emits on its event channel.
type EventType string

const (
	EventReady               EventType = "ready"
	EventNotReady            EventType = "not_ready"
	EventAuthenticationError EventType = "authentication_error"
	EventInitializationError EventType = "initialization_error"
	EventAccountError        EventType = "account_error"
	EventStateChanged        EventType = "player_state_changed"
)

// Event is one occurrence on an SDK connection. DeviceID is set for Ready
// events, State for StateChanged events, Err for the error kinds.
type Event struct {
	Type     EventType
	DeviceID string
	State    *SDKState
	Err      error
}

// SDKState is a playback snapshot pushed by the device. Sequence is a
// monotonic per-connection counter assigned by the implementation;
// the reconciler uses it to discard stale updates.
type SDKState struct {
	Sequence uint64
	TrackURI string
	TrackID  string
	Playing  bool
	Position time.Duration
	Duration time.Duration
}

// SDK is one playback device connection. Connect registers the device and
// starts event delivery; Disconnect tears it down and closes the event
// channel. Disconnect is idempotent.
type SDK interface {
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan Event

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration) error
	SetVolume(ctx context.Context, percent int) error
	CurrentState(ctx context.Context) (*SDKState, error)
}

// SDKFactory builds a fresh connection. The registrar calls it once per
// registration attempt so a replaced device never reuses a torn-down
// connection.
type SDKFactory func() SDK
