package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"trackdeck/internal/core"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	server := NewServer(&core.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}, zap.NewNop())

	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	return server, ts
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to call %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHealthzEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz returned status %d, expected %d", resp.StatusCode, http.StatusOK)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("/healthz Content-Type = %q, expected %q", contentType, "application/json")
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("/healthz body = %s, expected ok status", body)
	}
}

func TestReadyzEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := get(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz returned status %d, expected %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, ts := newTestServer(t)

	server.RecordTokenRefresh("success")
	server.RecordLikedLookup("hit")
	server.RecordError("reconciler", "poll")
	server.SetDeviceReady(true)
	server.GetMetrics().StaleUpdatesDiscarded.Inc()

	resp := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics returned status %d, expected %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, metric := range []string{
		`trackdeck_token_refreshes_total{status="success"} 1`,
		`trackdeck_liked_lookups_total{result="hit"} 1`,
		`trackdeck_errors_total{component="reconciler",type="poll"} 1`,
		"trackdeck_device_ready 1",
		"trackdeck_stale_updates_discarded_total 1",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("/metrics missing %q", metric)
		}
	}
}

func TestServersUseIsolatedRegistries(t *testing.T) {
	// Two servers must not collide on metric registration.
	first, _ := newTestServer(t)
	second, _ := newTestServer(t)

	first.RecordTokenRefresh("success")
	second.RecordTokenRefresh("failure")
}

func TestServerAddr(t *testing.T) {
	server := NewServer(&core.ServerConfig{
		Host: "0.0.0.0",
		Port: 9090,
	}, zap.NewNop())

	if server.server.Addr != "0.0.0.0:9090" {
		t.Errorf("server Addr = %q, expected 0.0.0.0:9090", server.server.Addr)
	}
}
