// Package http serves operational endpoints: Prometheus metrics, health
// and readiness checks.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trackdeck/internal/core"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

type Metrics struct {
	TokenRefreshesTotal   *prometheus.CounterVec
	PollTotal             *prometheus.CounterVec
	SDKEventsTotal        *prometheus.CounterVec
	StaleUpdatesDiscarded prometheus.Counter
	LikedLookupsTotal     *prometheus.CounterVec
	ErrorsTotal           *prometheus.CounterVec
	PlaybackPosition      prometheus.Gauge
	DeviceReady           prometheus.Gauge
}

func NewServer(config *core.ServerConfig, logger *zap.Logger) *Server {
	metrics := &Metrics{
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_token_refreshes_total",
				Help: "Total number of access token refresh attempts",
			},
			[]string{"status"},
		),
		PollTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_poll_total",
				Help: "Total number of currently-playing polls",
			},
			[]string{"status"},
		),
		SDKEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_sdk_events_total",
				Help: "Total number of playback device events",
			},
			[]string{"type"},
		),
		StaleUpdatesDiscarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trackdeck_stale_updates_discarded_total",
				Help: "Total number of poll results discarded because a newer state write landed first",
			},
		),
		LikedLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_liked_lookups_total",
				Help: "Total number of liked-status lookups",
			},
			[]string{"result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_errors_total",
				Help: "Total number of errors",
			},
			[]string{"component", "type"},
		),
		PlaybackPosition: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackdeck_playback_position_seconds",
				Help: "Reconciled playback position of the current track",
			},
		),
		DeviceReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trackdeck_device_ready",
				Help: "Whether a playback device is registered and ready (1) or not (0)",
			},
		),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.TokenRefreshesTotal,
		metrics.PollTotal,
		metrics.SDKEventsTotal,
		metrics.StaleUpdatesDiscarded,
		metrics.LikedLookupsTotal,
		metrics.ErrorsTotal,
		metrics.PlaybackPosition,
		metrics.DeviceReady,
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"trackdeck"}`))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"trackdeck"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return &Server{
		config:  config,
		logger:  logger,
		server:  server,
		metrics: metrics,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

func (s *Server) RecordTokenRefresh(status string) {
	s.metrics.TokenRefreshesTotal.WithLabelValues(status).Inc()
}

func (s *Server) RecordLikedLookup(result string) {
	s.metrics.LikedLookupsTotal.WithLabelValues(result).Inc()
}

func (s *Server) RecordError(component, errorType string) {
	s.metrics.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func (s *Server) SetDeviceReady(ready bool) {
	if ready {
		s.metrics.DeviceReady.Set(1)
		return
	}
	s.metrics.DeviceReady.Set(0)
}
