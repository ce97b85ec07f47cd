package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trackdeck/internal/core"
)

// Reconciler merges three inputs into one authoritative playback state:
// pushed device state, a periodic currently-playing poll, and a local
// ticker that predicts position between authoritative updates. Every write
// bumps a sequence number; the poll captures the sequence when its request
// is issued and discards the response if a newer write landed meanwhile.
type Reconciler struct {
	client       core.StreamClient
	sdkFor       func() SDK
	logger       *zap.Logger
	pollInterval time.Duration
	tickInterval time.Duration

	onTrackChange func(trackID string)

	pollTotal     *prometheus.CounterVec
	staleDiscards prometheus.Counter
	positionGauge prometheus.Gauge

	mutex          sync.Mutex
	state          core.PlaybackState
	sequence       uint64
	dragging       bool
	lastTick       time.Time
	lastCheckedURI string
	stopped        bool
}

func NewReconciler(client core.StreamClient, sdkFor func() SDK, pollInterval, tickInterval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		client:       client,
		sdkFor:       sdkFor,
		logger:       logger,
		pollInterval: pollInterval,
		tickInterval: tickInterval,
	}
}

// SetTrackChangeHandler installs the callback fired once per track URI
// change, with the new track id. Used to drive the liked-status check.
func (r *Reconciler) SetTrackChangeHandler(handler func(trackID string)) {
	r.onTrackChange = handler
}

// SetMetrics wires the optional collectors. Any of them may be nil.
func (r *Reconciler) SetMetrics(pollTotal *prometheus.CounterVec, staleDiscards prometheus.Counter, position prometheus.Gauge) {
	r.pollTotal = pollTotal
	r.staleDiscards = staleDiscards
	r.positionGauge = position
}

// State returns a snapshot of the reconciled playback state.
func (r *Reconciler) State() core.PlaybackState {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// Run drives the poll and tick loops until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Starting playback reconciliation",
		zap.Duration("pollInterval", r.pollInterval),
		zap.Duration("tickInterval", r.tickInterval))

	poll := time.NewTicker(r.pollInterval)
	defer poll.Stop()
	tick := time.NewTicker(r.tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			r.logger.Info("Playback reconciliation stopped")
			return nil
		case <-poll.C:
			r.poll(ctx)
		case <-tick.C:
			r.tick()
		}
	}
}

// Stop freezes the state; pushes, polls and seeks landing afterwards are
// ignored. Idempotent.
func (r *Reconciler) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stopped = true
}

// ApplyPush applies a device state push immediately. Position is held
// while a seek drag is in progress so the drag handle does not jump under
// the user.
func (r *Reconciler) ApplyPush(state *SDKState) {
	if state == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stopped {
		return
	}

	previousURI := r.state.TrackURI

	r.state.TrackURI = state.TrackURI
	r.state.Playing = state.Playing
	r.state.Duration = state.Duration
	if !r.dragging {
		r.state.Position = state.Position
	}
	r.bumpLocked()
	r.lastTick = time.Now()

	if state.TrackURI != previousURI {
		r.fireTrackChangeLocked(state.TrackURI, state.TrackID)
	}
}

// SetDragging marks whether a seek drag is in progress. While set,
// authoritative and predicted position updates are suppressed.
func (r *Reconciler) SetDragging(dragging bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.dragging = dragging
	r.lastTick = time.Now()
}

// Seek jumps to duration*ratio (ratio clamped to [0,1]). The position is
// updated optimistically before the device call; a failed call rolls the
// position back and returns the error.
func (r *Reconciler) Seek(ctx context.Context, ratio float64) error {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}

	r.mutex.Lock()
	if r.stopped {
		r.mutex.Unlock()
		return nil
	}
	previous := r.state.Position
	target := time.Duration(float64(r.state.Duration) * ratio)
	r.state.Position = target
	r.bumpLocked()
	r.mutex.Unlock()

	sdk := r.sdkFor()
	if sdk == nil {
		r.rollbackPosition(previous)
		return fmt.Errorf("seek failed: no playback device registered")
	}

	if err := sdk.Seek(ctx, target); err != nil {
		r.rollbackPosition(previous)
		r.logger.Warn("Seek rejected by device, position rolled back",
			zap.Duration("target", target),
			zap.Error(err))
		return fmt.Errorf("seek to %s failed: %w", target, err)
	}

	return nil
}

func (r *Reconciler) rollbackPosition(position time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.state.Position = position
	r.bumpLocked()
}

// poll reconciles against the currently-playing endpoint. The response is
// fenced on the sequence captured at request time so a slow poll never
// clobbers a fresher push, and is applied only when the track changed.
func (r *Reconciler) poll(ctx context.Context) {
	r.mutex.Lock()
	issued := r.sequence
	currentURI := r.state.TrackURI
	r.mutex.Unlock()

	now, err := r.client.CurrentlyPlaying(ctx)
	if err != nil {
		r.countPoll("error")
		r.logger.Debug("Currently-playing poll failed", zap.Error(err))
		return
	}
	if now == nil || now.TrackURI == "" || now.TrackURI == currentURI {
		r.countPoll("unchanged")
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.stopped {
		return
	}
	if r.sequence != issued {
		if r.staleDiscards != nil {
			r.staleDiscards.Inc()
		}
		r.logger.Debug("Discarding stale poll result",
			zap.Uint64("issued", issued),
			zap.Uint64("current", r.sequence))
		return
	}

	r.state = core.PlaybackState{
		TrackURI: now.TrackURI,
		Playing:  now.Playing,
		Position: now.Position,
		Duration: now.Duration,
	}
	r.bumpLocked()
	r.lastTick = time.Now()
	r.countPoll("applied")

	r.fireTrackChangeLocked(now.TrackURI, now.TrackID)
}

// tick advances the predicted position by the elapsed wall time, clamped
// to the track duration. Only moves while playing and not dragging.
func (r *Reconciler) tick() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTick)
	r.lastTick = now

	if r.stopped || !r.state.Playing || r.dragging {
		return
	}

	r.state.Position += elapsed
	if r.state.Duration > 0 && r.state.Position > r.state.Duration {
		r.state.Position = r.state.Duration
	}

	if r.positionGauge != nil {
		r.positionGauge.Set(r.state.Position.Seconds())
	}
}

func (r *Reconciler) bumpLocked() {
	r.sequence++
	if r.positionGauge != nil {
		r.positionGauge.Set(r.state.Position.Seconds())
	}
}

// fireTrackChangeLocked notifies the track-change handler at most once per
// URI. Called with the mutex held; the callback runs on its own goroutine.
func (r *Reconciler) fireTrackChangeLocked(trackURI, trackID string) {
	if trackURI == r.lastCheckedURI {
		return
	}
	r.lastCheckedURI = trackURI

	if r.onTrackChange != nil && trackID != "" {
		go r.onTrackChange(trackID)
	}
}

func (r *Reconciler) countPoll(status string) {
	if r.pollTotal != nil {
		r.pollTotal.WithLabelValues(status).Inc()
	}
}
