// Package main provides the trackdeck CLI application entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"trackdeck/internal/auth"
	"trackdeck/internal/core"
	httpserver "trackdeck/internal/http"
	"trackdeck/internal/library"
	"trackdeck/internal/player"
	"trackdeck/internal/spotify"
)

const likedCacheCapacity = 10000

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trackdeck",
	Short: "trackdeck - headless Spotify playback controller",
	Long: `trackdeck is a daemon that registers itself as a Spotify Connect playback
target, keeps the session token fresh, and reconciles playback state from
device pushes and periodic polls.`,
	RunE: runTrackdeck,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run the interactive authorization flow and store the session",
	RunE:  runLogin,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify client ID")
	rootCmd.PersistentFlags().String("spotify-redirect-url", "", "OAuth redirect URL")
	rootCmd.PersistentFlags().String("store-path", "", "session store path")
	rootCmd.PersistentFlags().String("device-name", "", "Connect device to control")
	rootCmd.PersistentFlags().String("server-host", "", "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", 8080, "HTTP server port")
	rootCmd.PersistentFlags().Int("refresh-interval-mins", 0, "token refresh interval in minutes")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(loginCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".env")
		viper.SetConfigType("env")
	}

	viper.SetEnvPrefix("TRACKDECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	if url := viper.GetString("spotify-redirect-url"); url != "" {
		cfg.Spotify.RedirectURL = url
	}
	if path := viper.GetString("store-path"); path != "" {
		cfg.Spotify.StorePath = path
	}

	if name := viper.GetString("device-name"); name != "" {
		cfg.Player.DeviceName = name
	}
	if mins := viper.GetInt("refresh-interval-mins"); mins > 0 {
		cfg.Player.RefreshInterval = time.Duration(mins) * time.Minute
	}

	if host := viper.GetString("server-host"); host != "" {
		cfg.Server.Host = host
	}
	if port := viper.GetInt("server-port"); port != 0 {
		cfg.Server.Port = port
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

// refreshAdapter narrows the refresher to the error-only shape the device
// registrar depends on.
type refreshAdapter struct {
	refresher *auth.Refresher
}

func (a refreshAdapter) Refresh(ctx context.Context) error {
	_, err := a.refresher.Refresh(ctx)
	return err
}

func runTrackdeck(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting trackdeck",
		zap.String("device", config.Player.DeviceName))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	store, err := auth.OpenStore(config.Spotify.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	if _, err := store.LoadSession(); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return fmt.Errorf("no stored session, run 'trackdeck login' first")
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	if lastURI, err := store.LastTrackURI(); err == nil && lastURI != "" {
		logger.Info("Last known track restored", zap.String("trackURI", lastURI))
	}

	refresher := auth.NewRefresher(config.Spotify.ClientID, config.Player.RefreshInterval, store, logger.Named("auth"))

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"))
	metrics := httpServer.GetMetrics()

	spotifyClient := spotify.NewClient(ctx, refresher.AccessToken, logger.Named("spotify"))

	likedCache := library.NewLikedCache(spotifyClient, likedCacheCapacity, logger.Named("library"))

	factory := func() player.SDK {
		bridge := spotify.NewBridge(spotifyClient, config.Player.DeviceName, config.Player.WatchInterval, logger.Named("bridge"))
		bridge.SetMetrics(metrics.SDKEventsTotal)
		return bridge
	}

	registrar := player.NewRegistrar(factory, refreshAdapter{refresher}, logger.Named("registrar"))

	reconciler := player.NewReconciler(
		spotifyClient,
		registrar.SDK,
		config.Player.PollInterval,
		config.Player.TickInterval,
		logger.Named("reconciler"),
	)
	reconciler.SetMetrics(metrics.PollTotal, metrics.StaleUpdatesDiscarded, metrics.PlaybackPosition)
	registrar.SetStateHandler(reconciler.ApplyPush)

	reconciler.SetTrackChangeHandler(func(trackID string) {
		liked, err := likedCache.QueryLiked(ctx, []string{trackID})
		if err != nil {
			httpServer.RecordLikedLookup("error")
			logger.Warn("Liked-status check for current track failed",
				zap.String("trackID", trackID), zap.Error(err))
			return
		}
		httpServer.RecordLikedLookup("checked")

		state := reconciler.State()
		if err := store.SaveLastTrackURI(state.TrackURI); err != nil {
			logger.Warn("Failed to persist last track", zap.Error(err))
		}

		logger.Info("Track changed",
			zap.String("trackID", trackID),
			zap.String("trackURI", state.TrackURI),
			zap.Bool("liked", liked[0]))
	})

	refresher.Subscribe(func(auth.Session) {
		httpServer.RecordTokenRefresh("success")
		registrar.TokenRotated(ctx)
	})

	refresher.SetAuthLostHandler(func(err error) {
		httpServer.RecordTokenRefresh("failure")
		logger.Error("Authorization lost, clearing session and shutting down", zap.Error(err))
		if clearErr := store.ClearSession(); clearErr != nil {
			logger.Error("Failed to clear session", zap.Error(clearErr))
		}
		cancel()
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return refresher.Run(gCtx)
	})

	g.Go(func() error {
		return reconciler.Run(gCtx)
	})

	g.Go(func() error {
		deviceID, err := registrar.Register(gCtx)
		if err != nil {
			return fmt.Errorf("initial device registration failed: %w", err)
		}
		httpServer.SetDeviceReady(true)
		logger.Info("Playback device ready", zap.String("deviceID", deviceID))

		<-gCtx.Done()
		registrar.Unregister()
		httpServer.SetDeviceReady(false)
		return nil
	})

	logger.Info("trackdeck started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("trackdeck stopped with error", zap.Error(err))
		return err
	}

	logger.Info("trackdeck stopped gracefully")
	return nil
}

func runLogin(_ *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	store, err := auth.OpenStore(config.Spotify.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	flow := auth.NewFlow(&config.Spotify, store, logger.Named("auth"))

	sess, err := flow.RunInteractiveLogin(ctx, config.Spotify.RedirectURL)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	logger.Info("Login successful, session stored",
		zap.Time("expiresAt", sess.ExpiresAt))
	return nil
}

func validateConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required")
	}

	if config.Spotify.RedirectURL == "" {
		return fmt.Errorf("spotify redirect URL is required")
	}

	return nil
}
