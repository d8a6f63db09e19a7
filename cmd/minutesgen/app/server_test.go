package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mtokuhisa/minutesgen/cmd/minutesgen/app"
	"github.com/mtokuhisa/minutesgen/pkg/logging"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	args := []string{"minutesgen"}
	cfg, err := app.LoadConfig(args, t.TempDir())
	require.NoError(t, err)
	cfg.TempRoot = t.TempDir()

	require.NoError(t, logging.InitSlog(cfg.LogLevel, logging.LogDiscard))

	server, err := app.SetupServer(context.Background(), cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := testRequest(t, ts, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsMounted(t *testing.T) {
	ts := newTestServer(t)
	// A labeled counter is only exported once it has been observed, so
	// record one intake request before scraping.
	resp, _ := testRequest(t, ts, "DELETE", "/api/intake/sessions/unknown", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := testRequest(t, ts, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "intake_requests_total")
}

func TestUnknownRunReturns404(t *testing.T) {
	ts := newTestServer(t)
	resp, body := testRequest(t, ts, "GET", "/api/segmentation/runs/nonexistent/segments/segment_000.wav", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errBody map[string]any
	require.NoError(t, json.Unmarshal(body, &errBody))
}

func testRequest(t *testing.T, ts *httptest.Server, method, path string, reqBody io.Reader) (*http.Response, []byte) {
	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close()

	return resp, respBody
}
