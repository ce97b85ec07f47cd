package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"trackdeck/internal/core"
)

type fakeStreamClient struct {
	mutex   sync.Mutex
	now     *core.NowPlaying
	nowErr  error
	release chan struct{}
}

func (f *fakeStreamClient) CurrentlyPlaying(_ context.Context) (*core.NowPlaying, error) {
	if f.release != nil {
		<-f.release
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now, f.nowErr
}

func (f *fakeStreamClient) Play(_ context.Context) error                  { return nil }
func (f *fakeStreamClient) Pause(_ context.Context) error                 { return nil }
func (f *fakeStreamClient) Next(_ context.Context) error                  { return nil }
func (f *fakeStreamClient) Previous(_ context.Context) error              { return nil }
func (f *fakeStreamClient) Seek(_ context.Context, _ time.Duration) error { return nil }
func (f *fakeStreamClient) SetVolume(_ context.Context, _ int) error      { return nil }

func newTestReconciler(client core.StreamClient, sdk SDK) *Reconciler {
	return NewReconciler(client, func() SDK { return sdk }, 5*time.Second, 250*time.Millisecond, zap.NewNop())
}

func TestReconciler_PushAppliesImmediately(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)

	reconciler.ApplyPush(&SDKState{
		TrackURI: "spotify:track:a",
		Playing:  true,
		Position: 3 * time.Second,
		Duration: 200 * time.Second,
	})

	state := reconciler.State()
	if state.TrackURI != "spotify:track:a" || !state.Playing {
		t.Errorf("state = %+v, expected pushed track playing", state)
	}
	if state.Position != 3*time.Second {
		t.Errorf("position = %v, expected 3s", state.Position)
	}
}

func TestReconciler_PushHoldsPositionWhileDragging(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)

	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Position: 10 * time.Second, Duration: time.Minute})
	reconciler.SetDragging(true)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Position: 30 * time.Second, Duration: time.Minute})

	if got := reconciler.State().Position; got != 10*time.Second {
		t.Errorf("position = %v during drag, expected held at 10s", got)
	}
}

func TestReconciler_StalePollDiscarded(t *testing.T) {
	client := &fakeStreamClient{release: make(chan struct{})}
	client.now = &core.NowPlaying{TrackURI: "spotify:track:poll", TrackID: "poll", Playing: true}

	reconciler := newTestReconciler(client, nil)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Playing: true, Duration: time.Minute})

	pollDone := make(chan struct{})
	go func() {
		reconciler.poll(context.Background())
		close(pollDone)
	}()

	// A push lands while the poll request is in flight.
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:push", TrackID: "push", Playing: true, Duration: time.Minute})

	close(client.release)
	<-pollDone

	if got := reconciler.State().TrackURI; got != "spotify:track:push" {
		t.Errorf("state URI = %q, expected stale poll result to be discarded", got)
	}
}

func TestReconciler_PollAppliesTrackChange(t *testing.T) {
	client := &fakeStreamClient{now: &core.NowPlaying{
		TrackURI: "spotify:track:b",
		TrackID:  "b",
		Playing:  true,
		Position: 12 * time.Second,
		Duration: 3 * time.Minute,
	}}

	reconciler := newTestReconciler(client, nil)

	changes := make(chan string, 1)
	reconciler.SetTrackChangeHandler(func(trackID string) { changes <- trackID })

	reconciler.poll(context.Background())

	state := reconciler.State()
	if state.TrackURI != "spotify:track:b" || state.Position != 12*time.Second {
		t.Errorf("state = %+v, expected poll result applied", state)
	}

	select {
	case trackID := <-changes:
		if trackID != "b" {
			t.Errorf("track change fired with %q, expected b", trackID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("track change handler never fired")
	}
}

func TestReconciler_PollSkipsUnchangedTrack(t *testing.T) {
	client := &fakeStreamClient{now: &core.NowPlaying{
		TrackURI: "spotify:track:a",
		Position: 90 * time.Second,
	}}

	reconciler := newTestReconciler(client, nil)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Position: 10 * time.Second, Duration: time.Minute})

	reconciler.poll(context.Background())

	if got := reconciler.State().Position; got != 10*time.Second {
		t.Errorf("position = %v, expected unchanged-track poll to be skipped", got)
	}
}

func TestReconciler_TickAdvancesPosition(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Playing: true, Duration: time.Minute})

	reconciler.mutex.Lock()
	reconciler.lastTick = time.Now().Add(-500 * time.Millisecond)
	reconciler.mutex.Unlock()

	reconciler.tick()

	got := reconciler.State().Position
	if got < 500*time.Millisecond || got > time.Second {
		t.Errorf("position = %v, expected roughly the elapsed 500ms", got)
	}
}

func TestReconciler_TickClampsToDuration(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)
	reconciler.ApplyPush(&SDKState{
		TrackURI: "spotify:track:a",
		Playing:  true,
		Position: 59*time.Second + 900*time.Millisecond,
		Duration: time.Minute,
	})

	reconciler.mutex.Lock()
	reconciler.lastTick = time.Now().Add(-2 * time.Second)
	reconciler.mutex.Unlock()

	reconciler.tick()

	if got := reconciler.State().Position; got != time.Minute {
		t.Errorf("position = %v, expected clamp to track duration", got)
	}
}

func TestReconciler_TickHoldsWhilePausedOrDragging(t *testing.T) {
	tests := []struct {
		name    string
		playing bool
		drag    bool
	}{
		{"paused", false, false},
		{"dragging", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reconciler := newTestReconciler(&fakeStreamClient{}, nil)
			reconciler.ApplyPush(&SDKState{
				TrackURI: "spotify:track:a",
				Playing:  tt.playing,
				Position: 10 * time.Second,
				Duration: time.Minute,
			})
			reconciler.SetDragging(tt.drag)

			reconciler.mutex.Lock()
			reconciler.lastTick = time.Now().Add(-time.Second)
			reconciler.mutex.Unlock()

			reconciler.tick()

			if got := reconciler.State().Position; got != 10*time.Second {
				t.Errorf("position = %v, expected held at 10s", got)
			}
		})
	}
}

func TestReconciler_SeekOptimisticWithRollback(t *testing.T) {
	sdk := newFakeSDK("dev-1", true)
	reconciler := newTestReconciler(&fakeStreamClient{}, sdk)
	reconciler.ApplyPush(&SDKState{
		TrackURI: "spotify:track:a",
		Position: 10 * time.Second,
		Duration: 100 * time.Second,
	})

	if err := reconciler.Seek(context.Background(), 0.5); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := reconciler.State().Position; got != 50*time.Second {
		t.Errorf("position = %v after seek, expected 50s", got)
	}
	if len(sdk.seeks) != 1 || sdk.seeks[0] != 50*time.Second {
		t.Errorf("device seeks = %v, expected one seek to 50s", sdk.seeks)
	}

	sdk.seekErr = errors.New("device rejected seek")
	if err := reconciler.Seek(context.Background(), 0.9); err == nil {
		t.Fatal("Seek succeeded, expected device error to propagate")
	}
	if got := reconciler.State().Position; got != 50*time.Second {
		t.Errorf("position = %v after failed seek, expected rollback to 50s", got)
	}
}

func TestReconciler_SeekClampsRatio(t *testing.T) {
	sdk := newFakeSDK("dev-1", true)
	reconciler := newTestReconciler(&fakeStreamClient{}, sdk)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Duration: 100 * time.Second})

	if err := reconciler.Seek(context.Background(), 1.7); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := reconciler.State().Position; got != 100*time.Second {
		t.Errorf("position = %v, expected ratio clamped to 1.0", got)
	}

	if err := reconciler.Seek(context.Background(), -0.3); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if got := reconciler.State().Position; got != 0 {
		t.Errorf("position = %v, expected ratio clamped to 0", got)
	}
}

func TestReconciler_TrackChangeFiresOncePerURI(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)

	var mutex sync.Mutex
	var fired []string
	reconciler.SetTrackChangeHandler(func(trackID string) {
		mutex.Lock()
		defer mutex.Unlock()
		fired = append(fired, trackID)
	})

	push := &SDKState{TrackURI: "spotify:track:a", TrackID: "a", Playing: true, Duration: time.Minute}
	reconciler.ApplyPush(push)
	reconciler.ApplyPush(push)

	waitFor(t, "track change delivery", func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(fired) >= 1
	})
	time.Sleep(20 * time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	if len(fired) != 1 || fired[0] != "a" {
		t.Errorf("track change fired %v, expected exactly once for a", fired)
	}
}

func TestReconciler_NoUpdatesAfterStop(t *testing.T) {
	reconciler := newTestReconciler(&fakeStreamClient{}, nil)
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:a", Position: 10 * time.Second, Duration: time.Minute})

	reconciler.Stop()
	reconciler.ApplyPush(&SDKState{TrackURI: "spotify:track:b", Position: 20 * time.Second, Duration: time.Minute})

	if got := reconciler.State().TrackURI; got != "spotify:track:a" {
		t.Errorf("state URI = %q after Stop, expected frozen", got)
	}
}
