package heartbeat

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"mediaconv/internal/client"
	"mediaconv/pkg/models"
)

// OutboxSize bounds the events waiting to be forwarded.
const OutboxSize = 128

// Publisher is the remote side of the heartbeat; *client.Reporter satisfies it.
type Publisher interface {
	Register(ctx context.Context, caps models.WorkerCapabilities) error
	PublishStatus(ctx context.Context, report models.StatusReport) error
	PublishEvent(ctx context.Context, ev models.Event) error
}

// StatusSource provides the scheduler view.
type StatusSource interface {
	Snapshot() models.Snapshot
}

// HostSource provides host telemetry.
type HostSource interface {
	GetStats(ctx context.Context) (models.HostStats, error)
}

// Service periodically reports worker status and forwards scheduler events.
type Service struct {
	publisher Publisher
	status    StatusSource
	host      HostSource
	caps      models.WorkerCapabilities
	interval  time.Duration
	logger    hclog.Logger
	outbox    chan models.Event
}

// New creates a heartbeat service. host may be nil.
func New(p Publisher, status StatusSource, host HostSource, caps models.WorkerCapabilities, interval time.Duration, logger hclog.Logger) *Service {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Service{
		publisher: p,
		status:    status,
		host:      host,
		caps:      caps,
		interval:  interval,
		logger:    logger.Named("heartbeat"),
		outbox:    make(chan models.Event, OutboxSize),
	}
}

// Notify queues ev for forwarding. It never blocks; events are dropped when
// the outbox is full.
func (s *Service) Notify(ev models.Event) {
	select {
	case s.outbox <- ev:
	default:
		s.logger.Debug("outbox full, dropping event", "kind", ev.Kind, "job", ev.JobID)
	}
}

// Run registers the worker and then reports on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.register(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("heartbeat started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping heartbeat")
			return nil
		case ev := <-s.outbox:
			s.forward(ctx, ev)
		case <-ticker.C:
			s.ping(ctx)
		}
	}
}

func (s *Service) register(ctx context.Context) {
	if err := s.publisher.Register(ctx, s.caps); err != nil {
		s.logger.Warn("registration failed", "error", err)
	}
}

func (s *Service) ping(ctx context.Context) {
	report := models.StatusReport{
		Time:     time.Now().UTC(),
		Snapshot: s.status.Snapshot(),
	}
	if s.host != nil {
		stats, err := s.host.GetStats(ctx)
		if err != nil {
			s.logger.Debug("host stats unavailable", "error", err)
		}
		report.Host = stats
	}

	err := s.publisher.PublishStatus(ctx, report)
	if client.IsStateError(err) {
		s.logger.Info("collector lost worker state, registering again")
		s.register(ctx)
		return
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("status report failed", "error", err)
	}
}

func (s *Service) forward(ctx context.Context, ev models.Event) {
	err := s.publisher.PublishEvent(ctx, ev)
	if client.IsStateError(err) {
		s.register(ctx)
		err = s.publisher.PublishEvent(ctx, ev)
	}
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("event report failed", "kind", ev.Kind, "job", ev.JobID, "error", err)
	}
}
