package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"mediaconv/internal/config"
	"mediaconv/internal/logging"
	"mediaconv/internal/monitor"
	"mediaconv/internal/scheduler"
	"mediaconv/internal/transcoder"
	"mediaconv/internal/workspace"
	"mediaconv/pkg/models"
)

type commandContext struct {
	configFlag *string

	config  *config.Config
	logger  hclog.Logger
	monitor *monitor.SystemMonitor
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		monitor:    monitor.NewSystemMonitor(time.Second),
	}
}

// load resolves the configuration against the flags of the command being
// run and builds the root logger.
func (c *commandContext) load(cmd *cobra.Command) error {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	c.config = cfg
	c.logger = logging.New(logging.Options{
		Name:   "mediaconv",
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	return nil
}

func (c *commandContext) newEngine(ctx context.Context) (*transcoder.Engine, error) {
	threads := c.config.DefaultThreads
	if threads <= 0 {
		threads = c.monitor.DefaultThreads(ctx)
	}
	return transcoder.NewEngine(ctx, transcoder.Options{
		FFmpegPath:    c.config.FFmpegPath,
		FFprobePath:   c.config.FFprobePath,
		EnableHWAccel: c.config.EnableHWAccel,
		Threads:       threads,
		DetectTimeout: c.config.DetectTimeout(),
		ProbeTimeout:  c.config.ProbeTimeout(),
		CancelGrace:   c.config.CancelGrace(),
		Logger:        c.logger,
	})
}

// jobRuntime is everything a command needs to run jobs.
type jobRuntime struct {
	engine    *transcoder.Engine
	root      *workspace.Root
	scheduler *scheduler.Scheduler
}

func (c *commandContext) newRuntime(ctx context.Context, recorder scheduler.Recorder) (*jobRuntime, error) {
	engine, err := c.newEngine(ctx)
	if err != nil {
		return nil, err
	}
	root, err := workspace.NewRoot(c.config.TempDir)
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(engine, root, scheduler.Options{
		MaxParallel:  c.config.MaxParallel,
		ProbeTimeout: c.config.ProbeTimeout(),
		Logger:       c.logger,
		Recorder:     recorder,
	})
	if err != nil {
		_ = root.Close()
		return nil, err
	}

	profile := engine.Profile()
	c.logger.Info("engine ready",
		"ffmpeg", engine.FFmpegPath,
		"hardware", engine.HasHWAccel(),
		"acceleration", profile.Best,
		"max_parallel", c.config.MaxParallel,
		"workspace", root.Dir())
	return &jobRuntime{engine: engine, root: root, scheduler: sched}, nil
}

// close stops every job, waits for the job goroutines and removes the
// session directory. With discard set, events still in flight are read and
// dropped so no job goroutine stays blocked on an absent consumer.
func (r *jobRuntime) close(logger hclog.Logger, discard bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if discard {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			for {
				select {
				case <-r.scheduler.Events():
				case <-stop:
					return
				}
			}
		}()
	}
	if err := r.scheduler.Shutdown(ctx); err != nil {
		logger.Warn("scheduler did not stop in time", "error", err)
	}
	if n, err := r.root.Size(); err == nil && n > 0 {
		logger.Debug("removing leftover scratch files", "dir", r.root.Dir(), "size", humanize.Bytes(uint64(n)))
	}
	if err := r.root.Close(); err != nil {
		logger.Warn("failed to remove workspace", "dir", r.root.Dir(), "error", err)
	}
}

func logEvent(logger hclog.Logger, ev models.Event) {
	switch ev.Kind {
	case models.EventStarted:
		logger.Info("job started", "job", ev.JobID)
	case models.EventFinished:
		fields := []any{"job", ev.JobID, "state", ev.State}
		if ev.Message != "" {
			fields = append(fields, "message", ev.Message)
		}
		if ev.State == models.StateFailed {
			logger.Warn("job finished", fields...)
		} else {
			logger.Info("job finished", fields...)
		}
	case models.EventProgress:
		logger.Debug("job progress", "job", ev.JobID,
			"percent", fmt.Sprintf("%.1f", ev.Percent),
			"aggregate", fmt.Sprintf("%.1f", ev.Aggregate))
	case models.EventDrained:
		logger.Info("all jobs done")
	}
}
