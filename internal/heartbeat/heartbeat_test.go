package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/internal/client"
	"mediaconv/pkg/models"
)

type recordingPublisher struct {
	mu        sync.Mutex
	registers int
	reports   []models.StatusReport
	events    []models.Event
	lostState int // number of status calls that report lost state
}

func (p *recordingPublisher) Register(context.Context, models.WorkerCapabilities) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registers++
	return nil
}

func (p *recordingPublisher) PublishStatus(_ context.Context, r models.StatusReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lostState > 0 {
		p.lostState--
		return &client.StateError{StatusCode: 404}
	}
	p.reports = append(p.reports, r)
	return nil
}

func (p *recordingPublisher) PublishEvent(_ context.Context, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) counts() (registers, reports, events int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registers, len(p.reports), len(p.events)
}

type staticStatus struct{}

func (staticStatus) Snapshot() models.Snapshot {
	return models.Snapshot{MaxParallel: 2, Active: 1}
}

type staticHost struct{}

func (staticHost) GetStats(context.Context) (models.HostStats, error) {
	return models.HostStats{CPUPercent: 33}, nil
}

func runService(t *testing.T, s *Service) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, s.Run(ctx))
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestRunRegistersAndReports(t *testing.T) {
	p := &recordingPublisher{}
	s := New(p, staticStatus{}, staticHost{}, models.WorkerCapabilities{}, 10*time.Millisecond, nil)
	runService(t, s)

	require.Eventually(t, func() bool {
		_, reports, _ := p.counts()
		return reports >= 2
	}, 2*time.Second, 5*time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.registers)
	assert.Equal(t, 1, p.reports[0].Snapshot.Active)
	assert.InDelta(t, 33, p.reports[0].Host.CPUPercent, 1e-9)
	assert.False(t, p.reports[0].Time.IsZero())
}

func TestReRegistersOnStateLoss(t *testing.T) {
	p := &recordingPublisher{lostState: 1}
	s := New(p, staticStatus{}, nil, models.WorkerCapabilities{}, 10*time.Millisecond, nil)
	runService(t, s)

	require.Eventually(t, func() bool {
		registers, reports, _ := p.counts()
		return registers == 2 && reports >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNotifyForwardsEvents(t *testing.T) {
	p := &recordingPublisher{}
	s := New(p, staticStatus{}, nil, models.WorkerCapabilities{}, time.Hour, nil)
	runService(t, s)

	s.Notify(models.Event{Kind: models.EventStarted, JobID: "a"})
	s.Notify(models.Event{Kind: models.EventFinished, JobID: "a", State: models.StateSucceeded})

	require.Eventually(t, func() bool {
		_, _, events := p.counts()
		return events == 2
	}, 2*time.Second, 5*time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, models.EventStarted, p.events[0].Kind)
	assert.Equal(t, models.StateSucceeded, p.events[1].State)
}

func TestNotifyNeverBlocks(t *testing.T) {
	s := New(&recordingPublisher{}, staticStatus{}, nil, models.WorkerCapabilities{}, time.Hour, nil)
	for i := 0; i < OutboxSize*2; i++ {
		s.Notify(models.Event{Kind: models.EventProgress})
	}
	assert.Len(t, s.outbox, OutboxSize)
}
