package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seoscope/internal/audit"
	"seoscope/internal/broadcast"
	"seoscope/internal/config"
	"seoscope/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) (*Server, *memory.JobStore, *broadcast.Hub) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	for _, opt := range opts {
		opt(&cfg)
	}
	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewJobStore(clock)
	hub := broadcast.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	return NewServer(store, hub, &seqIDGen{}, clock, cfg, zap.NewNop()), store, hub
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitAudit(t *testing.T) {
	server, store, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{
		"domain":            "example.com",
		"output_projection": "by-rule",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatePending, job.State)
	assert.Equal(t, audit.ProjectionByRule, job.OutputProjection)
}

func TestSubmitAuditDefaultsProjection(t *testing.T) {
	server, store, _ := newTestServer(t)

	rec := doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, audit.ProjectionByPage, job.OutputProjection)
}

func TestSubmitAuditValidation(t *testing.T) {
	server, _, _ := newTestServer(t)

	t.Run("MissingDomain", func(t *testing.T) {
		rec := doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("BadProjection", func(t *testing.T) {
		rec := doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{
			"domain":            "example.com",
			"output_projection": "by-color",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "output_projection")
	})

	t.Run("BadJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/audits", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetAudit(t *testing.T) {
	server, _, _ := newTestServer(t)
	doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})

	rec := doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary jobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, "pending", summary.State)
	assert.Equal(t, 0, summary.Progress)

	rec = doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func completeJob(t *testing.T, store *memory.JobStore, score int) {
	t.Helper()
	ctx := context.Background()
	_, ok, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Transition(ctx, "job-1", audit.JobStateCompleted,
		&audit.ScoreReport{Site: "example.com", OverallScore: score}, ""))
}

func TestGetReport(t *testing.T) {
	server, store, _ := newTestServer(t)
	doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})

	rec := doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/job-1/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "report unavailable before completion")

	completeJob(t, store, 90)

	rec = doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/job-1/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report audit.ScoreReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 90, report.OverallScore)
}

func TestGetReportFailedJob(t *testing.T) {
	server, store, _ := newTestServer(t)
	doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})

	ctx := context.Background()
	_, ok, err := store.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Transition(ctx, "job-1", audit.JobStateFailed, nil, "dns lookup failed"))

	rec := doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/job-1/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "dns lookup failed")
}

func TestAPIKeyMiddleware(t *testing.T) {
	server, _, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.APIKey = "sekrit"
	})

	rec := doJSON(t, server.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusOK, doJSON(t, server.Handler(), http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, server.Handler(), http.MethodGet, "/readyz", nil).Code)

	rec := doJSON(t, server.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/healthz", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func readSSEEvents(t *testing.T, body *bufio.Reader, max int) []broadcast.Event {
	t.Helper()
	var events []broadcast.Event
	for len(events) < max {
		line, err := body.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt broadcast.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		events = append(events, evt)
		if evt.Terminal() {
			break
		}
	}
	return events
}

func TestStreamEventsLive(t *testing.T) {
	server, _, hub := newTestServer(t)
	doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/audits/job-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)

	// Snapshot arrives first.
	snapshot := readSSEEvents(t, reader, 1)
	require.Len(t, snapshot, 1)
	assert.Equal(t, broadcast.EventStatus, snapshot[0].Type)
	assert.Equal(t, 0, snapshot[0].Progress)

	// The hub needs a moment to register the subscriber before broadcasting.
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("job-1") == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast("job-1", broadcast.StatusEvent("job-1", 50, "halfway"))
	hub.Broadcast("job-1", broadcast.CompleteEvent("job-1", &audit.ScoreReport{OverallScore: 95}))

	events := readSSEEvents(t, reader, 2)
	require.Len(t, events, 2)
	assert.Equal(t, 50, events[0].Progress)
	assert.Equal(t, broadcast.EventComplete, events[1].Type)
	require.NotNil(t, events[1].Report)
	assert.Equal(t, 95, events[1].Report.OverallScore)
}

func TestStreamEventsTerminalJob(t *testing.T) {
	server, store, _ := newTestServer(t)
	doJSON(t, server.Handler(), http.MethodPost, "/v1/audits", map[string]any{"domain": "example.com"})
	completeJob(t, store, 88)

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/audits/job-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSEEvents(t, bufio.NewReader(resp.Body), 3)
	require.Len(t, events, 1, "terminal job yields only the terminal snapshot")
	assert.Equal(t, broadcast.EventComplete, events[0].Type)
}

func TestStreamEventsUnknownJob(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := doJSON(t, server.Handler(), http.MethodGet, "/v1/audits/ghost/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
