package metrics

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"mediaconv/pkg/models"
)

// StatsProvider reads host telemetry.
type StatsProvider interface {
	GetStats(ctx context.Context) (models.HostStats, error)
}

// Collector periodically copies host telemetry into the gauges.
type Collector struct {
	metrics  *Metrics
	provider StatsProvider
	interval time.Duration
	logger   hclog.Logger
}

// NewCollector creates a collector that samples provider every interval.
func NewCollector(m *Metrics, provider StatsProvider, interval time.Duration, logger hclog.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Collector{
		metrics:  m,
		provider: provider,
		interval: interval,
		logger:   logger.Named("metrics"),
	}
}

// Run collects immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.collect(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	if c.provider == nil {
		return
	}
	stats, err := c.provider.GetStats(ctx)
	if err != nil {
		c.logger.Debug("host stats unavailable", "error", err)
		return
	}
	c.metrics.SetHost(stats)
}
