package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const registerReadyTimeout = 30 * time.Second

var (
	// ErrRegistrationInProgress is returned when Register is called while
	// another registration has not resolved yet.
	ErrRegistrationInProgress = errors.New("device registration already in progress")

	// ErrRegisterTimeout is returned when the device never reported ready.
	ErrRegisterTimeout = errors.New("device did not become ready in time")
)

// TokenRefresher forces a credential refresh. The registrar triggers it
// when the device connection reports an authentication error.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// Registrar owns the single live playback device connection. It guards
// against concurrent registration, always tears the previous connection
// down before replacing it, and recovers from authentication errors by
// refreshing credentials and registering a fresh device.
type Registrar struct {
	factory   SDKFactory
	refresher TokenRefresher
	logger    *zap.Logger

	onState func(*SDKState)

	mutex       sync.Mutex
	registering bool
	recovering  bool
	sdk         SDK
	deviceID    string
}

func NewRegistrar(factory SDKFactory, refresher TokenRefresher, logger *zap.Logger) *Registrar {
	return &Registrar{
		factory:   factory,
		refresher: refresher,
		logger:    logger,
	}
}

// SetStateHandler installs the callback invoked for every state push from
// the live device. Must be called before Register.
func (r *Registrar) SetStateHandler(handler func(*SDKState)) {
	r.onState = handler
}

// DeviceID returns the id of the live device, or empty when none is
// registered.
func (r *Registrar) DeviceID() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.deviceID
}

// SDK returns the live connection, or nil when none is registered.
func (r *Registrar) SDK() SDK {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.sdk
}

// Register builds a fresh device connection and resolves once the device
// reports ready, returning its id. Any previous connection is disconnected
// first so two devices are never live at once. A second Register while one
// is still resolving fails with ErrRegistrationInProgress.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	r.mutex.Lock()
	if r.registering {
		r.mutex.Unlock()
		return "", ErrRegistrationInProgress
	}
	r.registering = true
	previous := r.sdk
	r.sdk = nil
	r.deviceID = ""
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.registering = false
		r.mutex.Unlock()
	}()

	if previous != nil {
		r.logger.Info("Tearing down previous device connection before registering")
		previous.Disconnect()
	}

	sdk := r.factory()
	if err := sdk.Connect(ctx); err != nil {
		return "", fmt.Errorf("failed to connect playback device: %w", err)
	}

	timeout := time.NewTimer(registerReadyTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			sdk.Disconnect()
			return "", ctx.Err()

		case <-timeout.C:
			sdk.Disconnect()
			return "", ErrRegisterTimeout

		case event, ok := <-sdk.Events():
			if !ok {
				return "", errors.New("device connection closed before ready")
			}

			switch event.Type {
			case EventReady:
				r.mutex.Lock()
				r.sdk = sdk
				r.deviceID = event.DeviceID
				r.mutex.Unlock()

				r.logger.Info("Playback device registered",
					zap.String("deviceID", event.DeviceID))

				go r.watch(ctx, sdk)
				return event.DeviceID, nil

			case EventAuthenticationError, EventInitializationError, EventAccountError:
				sdk.Disconnect()
				return "", fmt.Errorf("device registration failed (%s): %w", event.Type, event.Err)
			}
		}
	}
}

// Unregister disconnects the live device, if any. Safe to call repeatedly.
func (r *Registrar) Unregister() {
	r.mutex.Lock()
	sdk := r.sdk
	r.sdk = nil
	r.deviceID = ""
	r.mutex.Unlock()

	if sdk == nil {
		return
	}

	r.logger.Info("Unregistering playback device")
	sdk.Disconnect()
}

// TokenRotated rebuilds the device connection after a credential rotation
// so the device never plays on a token about to expire. A no-op when no
// device is registered, or while an auth-error recovery is in flight: the
// recovery refresh notifies rotation subscribers too, and the recovery
// cycle already rebuilds the device exactly once.
func (r *Registrar) TokenRotated(ctx context.Context) {
	r.mutex.Lock()
	live := r.sdk != nil
	recovering := r.recovering
	r.mutex.Unlock()

	if !live {
		return
	}
	if recovering {
		r.logger.Debug("Token rotated during device recovery, rebuild deferred to recovery")
		return
	}

	r.logger.Info("Access token rotated, rebuilding device connection")
	if _, err := r.Register(ctx); err != nil {
		r.logger.Error("Failed to rebuild device after token rotation", zap.Error(err))
	}
}

// watch forwards events from the live connection until it closes. An
// authentication error triggers a refresh-and-reregister cycle on a new
// connection; the failed one is never reused.
func (r *Registrar) watch(ctx context.Context, sdk SDK) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-sdk.Events():
			if !ok {
				return
			}

			switch event.Type {
			case EventStateChanged:
				if r.onState != nil && event.State != nil {
					r.onState(event.State)
				}

			case EventNotReady:
				r.logger.Warn("Playback device went offline",
					zap.String("deviceID", event.DeviceID))

			case EventAuthenticationError:
				r.logger.Warn("Device connection lost authentication, recovering",
					zap.Error(event.Err))
				go r.recover(ctx)
				return

			case EventInitializationError, EventAccountError:
				r.logger.Error("Playback device error",
					zap.String("type", string(event.Type)),
					zap.Error(event.Err))
			}
		}
	}
}

func (r *Registrar) recover(ctx context.Context) {
	r.mutex.Lock()
	r.recovering = true
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.recovering = false
		r.mutex.Unlock()
	}()

	if err := r.refresher.Refresh(ctx); err != nil {
		r.logger.Error("Credential refresh during device recovery failed", zap.Error(err))
		return
	}

	if _, err := r.Register(ctx); err != nil {
		r.logger.Error("Device re-registration after refresh failed", zap.Error(err))
	}
}
