package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/pkg/models"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.ObserveResult(models.StateSucceeded, time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(a.JobsTotal.WithLabelValues("succeeded")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(b.JobsTotal.WithLabelValues("succeeded")), 1e-9)
}

func TestObserveResult(t *testing.T) {
	m := New()
	m.ObserveResult(models.StateSucceeded, 2*time.Second)
	m.ObserveResult(models.StateFailed, time.Second)
	m.ObserveResult(models.StateFailed, time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(m.JobsTotal.WithLabelValues("succeeded")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.JobsTotal.WithLabelValues("failed")), 1e-9)
	assert.Equal(t, 2, testutil.CollectAndCount(m.JobDuration))
}

func TestSetLoad(t *testing.T) {
	m := New()
	m.SetLoad(2, 5, 42.5)

	assert.InDelta(t, 2, testutil.ToFloat64(m.JobsActive), 1e-9)
	assert.InDelta(t, 5, testutil.ToFloat64(m.JobsQueued), 1e-9)
	assert.InDelta(t, 42.5, testutil.ToFloat64(m.AggregateProgress), 1e-9)
}

func TestSetHardwareKeepsOneMethod(t *testing.T) {
	m := New()
	m.SetHardware("cuda")
	m.SetHardware("none")

	assert.Equal(t, 1, testutil.CollectAndCount(m.HardwareAcceleration))
	assert.InDelta(t, 1, testutil.ToFloat64(m.HardwareAcceleration.WithLabelValues("none")), 1e-9)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetLoad(1, 0, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "mediaconv_jobs_active 1")
	assert.Contains(t, body, "go_goroutines")
}

type stubProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *stubProvider) GetStats(context.Context) (models.HostStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return models.HostStats{}, p.err
	}
	return models.HostStats{CPUPercent: 12.5, RAMPercent: 60}, nil
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestCollectorRun(t *testing.T) {
	m := New()
	p := &stubProvider{}
	c := NewCollector(m, p, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.InDelta(t, 12.5, testutil.ToFloat64(m.HostCPUPercent), 1e-9)
	assert.InDelta(t, 60, testutil.ToFloat64(m.HostMemoryPercent), 1e-9)
}

func TestCollectorKeepsLastReadingOnError(t *testing.T) {
	m := New()
	m.SetHost(models.HostStats{CPUPercent: 5})

	c := NewCollector(m, &stubProvider{err: errors.New("unsupported")}, time.Hour, nil)
	c.collect(context.Background())

	assert.InDelta(t, 5, testutil.ToFloat64(m.HostCPUPercent), 1e-9)
}
