package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"trackdeck/internal/player"
)

// positionJumpTolerance is how far the observed position may drift from
// the predicted one before the watcher treats it as an external seek.
const positionJumpTolerance = 1500 * time.Millisecond

// ErrDeviceNotFound is returned when no Connect device matches the
// configured name.
var ErrDeviceNotFound = errors.New("no matching playback device found")

// Bridge implements the playback device connection over Spotify Connect:
// Connect transfers playback to the named device and a watcher polls the
// player state, emitting diffs as state-changed events. An unauthorized
// response surfaces as an authentication-error event so the registrar can
// refresh and rebuild.
type Bridge struct {
	client        *Client
	deviceName    string
	watchInterval time.Duration
	logger        *zap.Logger

	eventsTotal *prometheus.CounterVec

	events chan player.Event

	mutex    sync.Mutex
	cancel   context.CancelFunc
	closed   bool
	sequence uint64
}

func NewBridge(client *Client, deviceName string, watchInterval time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{
		client:        client,
		deviceName:    deviceName,
		watchInterval: watchInterval,
		logger:        logger,
		events:        make(chan player.Event, 32),
	}
}

// SetMetrics wires the optional event counter. May be nil.
func (b *Bridge) SetMetrics(eventsTotal *prometheus.CounterVec) {
	b.eventsTotal = eventsTotal
}

// Connect resolves the configured device, transfers playback to it and
// starts the state watcher. Emits a ready event carrying the device id.
func (b *Bridge) Connect(ctx context.Context) error {
	deviceID, err := b.resolveDevice(ctx)
	if err != nil {
		return err
	}

	if err := b.client.api.TransferPlayback(ctx, deviceID, false); err != nil {
		return fmt.Errorf("failed to transfer playback to device %s: %w", deviceID, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	b.mutex.Lock()
	b.cancel = cancel
	b.mutex.Unlock()

	b.logger.Info("Playback transferred to device",
		zap.String("deviceID", deviceID.String()),
		zap.String("deviceName", b.deviceName))

	b.emit(player.Event{Type: player.EventReady, DeviceID: deviceID.String()})

	go b.watch(watchCtx, deviceID.String())
	return nil
}

// Disconnect stops the watcher and closes the event channel. Safe to call
// more than once.
func (b *Bridge) Disconnect() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if b.cancel != nil {
		b.cancel()
	}
	close(b.events)
}

func (b *Bridge) Events() <-chan player.Event { return b.events }

func (b *Bridge) Pause(ctx context.Context) error {
	if err := b.client.api.Pause(ctx); err != nil {
		return fmt.Errorf("failed to pause device: %w", err)
	}
	return nil
}

func (b *Bridge) Resume(ctx context.Context) error {
	if err := b.client.api.Play(ctx); err != nil {
		return fmt.Errorf("failed to resume device: %w", err)
	}
	return nil
}

func (b *Bridge) Seek(ctx context.Context, position time.Duration) error {
	if err := b.client.api.Seek(ctx, int(position/time.Millisecond)); err != nil {
		return fmt.Errorf("failed to seek device: %w", err)
	}
	return nil
}

func (b *Bridge) SetVolume(ctx context.Context, percent int) error {
	if err := b.client.api.Volume(ctx, percent); err != nil {
		return fmt.Errorf("failed to set device volume: %w", err)
	}
	return nil
}

// CurrentState reads the player state once, outside the watch cadence.
func (b *Bridge) CurrentState(ctx context.Context) (*player.SDKState, error) {
	state, err := b.client.api.PlayerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get player state: %w", err)
	}
	return b.sdkState(state), nil
}

func (b *Bridge) resolveDevice(ctx context.Context) (spotify.ID, error) {
	devices, err := b.client.api.PlayerDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list playback devices: %w", err)
	}

	for _, device := range devices {
		if strings.EqualFold(device.Name, b.deviceName) {
			return device.ID, nil
		}
	}

	// Fall back to the active device when no name is configured.
	if b.deviceName == "" {
		for _, device := range devices {
			if device.Active {
				return device.ID, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %q", ErrDeviceNotFound, b.deviceName)
}

// watch polls the player state and emits a state-changed event whenever
// the track or play state changes, or the position jumps further than
// playback alone explains.
func (b *Bridge) watch(ctx context.Context, deviceID string) {
	ticker := time.NewTicker(b.watchInterval)
	defer ticker.Stop()

	var last *player.SDKState
	lastSeen := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := b.client.api.PlayerState(ctx)
			if err != nil {
				if isUnauthorized(err) {
					b.emit(player.Event{Type: player.EventAuthenticationError, Err: err})
					return
				}
				b.logger.Debug("Player state watch failed", zap.Error(err))
				continue
			}

			now := time.Now()
			current := b.sdkState(state)
			if current == nil {
				lastSeen = now
				continue
			}

			if stateChanged(last, current, now.Sub(lastSeen)) {
				current.Sequence = b.nextSequence()
				b.emit(player.Event{Type: player.EventStateChanged, DeviceID: deviceID, State: current})
			}
			last = current
			lastSeen = now
		}
	}
}

func stateChanged(last, current *player.SDKState, elapsed time.Duration) bool {
	if last == nil {
		return true
	}
	if current.TrackURI != last.TrackURI || current.Playing != last.Playing {
		return true
	}

	expected := last.Position
	if last.Playing {
		expected += elapsed
	}
	drift := current.Position - expected
	if drift < 0 {
		drift = -drift
	}
	return drift > positionJumpTolerance
}

func (b *Bridge) sdkState(state *spotify.PlayerState) *player.SDKState {
	if state == nil || state.Item == nil {
		return nil
	}
	return &player.SDKState{
		TrackURI: string(state.Item.URI),
		TrackID:  state.Item.ID.String(),
		Playing:  state.Playing,
		Position: time.Duration(state.Progress) * time.Millisecond,
		Duration: state.Item.TimeDuration(),
	}
}

func (b *Bridge) nextSequence() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.sequence++
	return b.sequence
}

func (b *Bridge) emit(event player.Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}

	if b.eventsTotal != nil {
		b.eventsTotal.WithLabelValues(string(event.Type)).Inc()
	}

	select {
	case b.events <- event:
	default:
		b.logger.Warn("Dropping device event, channel full",
			zap.String("type", string(event.Type)))
	}
}

func isUnauthorized(err error) bool {
	var apiErr spotify.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
