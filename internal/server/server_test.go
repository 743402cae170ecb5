package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/internal/formats"
	"mediaconv/internal/hwaccel"
	"mediaconv/internal/metrics"
	"mediaconv/pkg/models"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    []*models.JobConfig
	stopped int
	err     error
}

func (q *fakeQueue) Enqueue(job *models.JobConfig) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	if job.ID == "" {
		return fmt.Sprintf("job-%d", len(q.jobs)), nil
	}
	return job.ID, nil
}

func (q *fakeQueue) Snapshot() models.Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap := models.Snapshot{MaxParallel: 2, Queued: len(q.jobs)}
	for _, j := range q.jobs {
		snap.Jobs = append(snap.Jobs, models.JobStatus{
			ID:         j.ID,
			InputPath:  j.InputPath,
			OutputPath: j.OutputPath,
			State:      models.StateQueued,
		})
	}
	return snap
}

func (q *fakeQueue) StopAll() {
	q.mu.Lock()
	q.stopped++
	q.mu.Unlock()
}

type fakeEngine struct {
	mu        sync.Mutex
	profile   *hwaccel.Profile
	next      *hwaccel.Profile
	redetects int
	table     *formats.Table
}

func (e *fakeEngine) Profile() *hwaccel.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile
}

func (e *fakeEngine) Redetect(context.Context) *hwaccel.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redetects++
	if e.next != nil {
		e.profile = e.next
	}
	return e.profile
}

func (e *fakeEngine) Formats() *formats.Table { return e.table }

func cudaEngine() *fakeEngine {
	return &fakeEngine{
		profile: &hwaccel.Profile{
			Platform: "linux",
			GPU:      "NVIDIA GeForce RTX 3060",
			Methods:  []hwaccel.Method{hwaccel.MethodCUDA},
			Encoders: map[string][]string{"h264": {"nvenc"}},
			Best:     hwaccel.MethodCUDA,
		},
		table: formats.New(),
	}
}

func newTestServer(q Queue, m *metrics.Metrics) *httptest.Server {
	return httptest.NewServer(NewJobServer(":0", q, cudaEngine(), m, nil).Handler())
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSubmitJob(t *testing.T) {
	q := &fakeQueue{}
	srv := newTestServer(q, nil)
	defer srv.Close()

	body := `{"id":"clip-1","input_path":"/media/in.mov","output_path":"/media/out.mp4","crf":20}`
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "clip-1", out["id"])
	assert.Equal(t, "queued", out["status"])

	require.Len(t, q.jobs, 1)
	assert.Equal(t, 20, q.jobs[0].GetCRF())
}

func TestSubmitWithPreset(t *testing.T) {
	q := &fakeQueue{}
	srv := newTestServer(q, nil)
	defer srv.Close()

	body := `{"input_path":"in.mov","output_path":"out.mp4","crf":19}`
	resp, err := http.Post(srv.URL+"/api/v1/jobs?preset=youtube", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Len(t, q.jobs, 1)
	job := q.jobs[0]
	assert.True(t, job.ForceCFR, "preset fields apply")
	assert.Equal(t, 19, job.GetCRF(), "job fields win over the preset")
	assert.Equal(t, "+faststart", job.MovFlags)
}

func TestSubmitRejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
		body  string
		qErr  error
		want  string
	}{
		{"malformed", "", `{"input_path":`, nil, "decode job"},
		{"unknown field", "", `{"input_path":"a","output_path":"b","colour":"red"}`, nil, "unknown field"},
		{"missing output", "", `{"input_path":"a"}`, nil, "output_path is required"},
		{"unknown preset", "?preset=vhs", `{"input_path":"a","output_path":"b.mp4"}`, nil, `unknown preset "vhs"`},
		{"duplicate", "", `{"id":"x","input_path":"a","output_path":"b.mp4"}`, errors.New("job x already exists"), "already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{err: tt.qErr}
			srv := newTestServer(q, nil)
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/api/v1/jobs"+tt.query, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var out map[string]string
			decodeBody(t, resp, &out)
			assert.Contains(t, out["error"], tt.want)
			assert.Empty(t, q.jobs)
		})
	}
}

func TestListAndGetJobs(t *testing.T) {
	q := &fakeQueue{}
	_, _ = q.Enqueue(&models.JobConfig{ID: "a", InputPath: "in.mkv", OutputPath: "out.mp4"})
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	var snap models.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, 2, snap.MaxParallel)
	require.Len(t, snap.Jobs, 1)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/a")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st models.JobStatus
	decodeBody(t, resp, &st)
	assert.Equal(t, "in.mkv", st.InputPath)
	assert.Equal(t, models.StateQueued, st.State)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestStopAll(t *testing.T) {
	q := &fakeQueue{}
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/jobs/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, q.stopped)
}

func TestHardwareAndPresets(t *testing.T) {
	srv := newTestServer(&fakeQueue{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/hardware")
	require.NoError(t, err)
	var info hwaccel.Info
	decodeBody(t, resp, &info)
	assert.Equal(t, "cuda", info.Acceleration)
	assert.Equal(t, "NVIDIA GeForce RTX 3060", info.GPU)

	resp, err = http.Get(srv.URL + "/api/v1/presets")
	require.NoError(t, err)
	var names []string
	decodeBody(t, resp, &names)
	assert.Equal(t, models.PresetNames(), names)
}

func TestHardwareWithoutSource(t *testing.T) {
	srv := httptest.NewServer(NewJobServer(":0", &fakeQueue{}, nil, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/hardware")
	require.NoError(t, err)
	var info hwaccel.Info
	decodeBody(t, resp, &info)
	assert.Equal(t, "none", info.Acceleration)
}

func TestRedetectHardware(t *testing.T) {
	engine := cudaEngine()
	engine.next = &hwaccel.Profile{
		Platform: "linux",
		GPU:      "Intel UHD Graphics 770",
		Methods:  []hwaccel.Method{hwaccel.MethodQSV},
		Encoders: map[string][]string{"h264": {"qsv"}},
		Best:     hwaccel.MethodQSV,
	}
	m := metrics.New()
	srv := httptest.NewServer(NewJobServer(":0", &fakeQueue{}, engine, m, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/hardware/redetect", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info hwaccel.Info
	decodeBody(t, resp, &info)
	assert.Equal(t, "qsv", info.Acceleration)
	assert.Equal(t, 1, engine.redetects)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HardwareAcceleration.WithLabelValues("qsv")))

	// Later reads see the new profile.
	resp, err = http.Get(srv.URL + "/api/v1/hardware")
	require.NoError(t, err)
	decodeBody(t, resp, &info)
	assert.Equal(t, "Intel UHD Graphics 770", info.GPU)

	resp, err = http.Get(srv.URL + "/api/v1/hardware/redetect")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRedetectWithoutEngine(t *testing.T) {
	srv := httptest.NewServer(NewJobServer(":0", &fakeQueue{}, nil, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/hardware/redetect", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "hardware detection unavailable", out["error"])
}

func TestFormatsCatalog(t *testing.T) {
	for name, engine := range map[string]Engine{"engine": cudaEngine(), "no engine": nil} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(NewJobServer(":0", &fakeQueue{}, engine, nil, nil).Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/api/v1/formats")
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var c formats.Catalog
			decodeBody(t, resp, &c)
			assert.Equal(t, formats.New().Catalog(), c)
			require.NotEmpty(t, c.VideoFormats)
			assert.Equal(t, "avi", c.VideoFormats[0].ID)
		})
	}
}

func TestWrongMethod(t *testing.T) {
	srv := newTestServer(&fakeQueue{}, nil)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	m := metrics.New()
	q := &fakeQueue{}
	_, _ = q.Enqueue(&models.JobConfig{ID: "a", InputPath: "in", OutputPath: "out.mp4"})
	srv := newTestServer(q, m)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/a")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{id}", "200")) == 1
	}, time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeQueue{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
}

func TestRunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := NewJobServer(addr, &fakeQueue{}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
