package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mediaconv/internal/client"
	"mediaconv/internal/heartbeat"
	"mediaconv/internal/metrics"
	"mediaconv/internal/server"
	"mediaconv/pkg/models"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the worker with its HTTP job API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			return runServe(parent, ctx)
		},
	}
	cmd.Flags().String("listen-addr", ":8085", "HTTP listen address")
	cmd.Flags().String("report-url", "", "Collector base URL for heartbeats (empty disables reporting)")
	cmd.Flags().String("worker-id", "", "Worker identifier sent to the collector (default: hostname)")
	cmd.Flags().Int("heartbeat-seconds", 15, "Heartbeat interval")
	return cmd
}

func runServe(parent context.Context, c *commandContext) error {
	cfg := c.config
	logger := c.logger

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := metrics.New()
	rt, err := c.newRuntime(ctx, m)
	if err != nil {
		return err
	}

	// First signal: graceful shutdown. Second: kill the running encoders.
	sigs, release := interrupts()
	defer release()
	sigDone := make(chan struct{})
	defer close(sigDone)
	go watchSignals(sigs, sigDone, logger, cancel, rt.engine.ForceStop)
	profile := rt.engine.Profile()
	m.SetHardware(string(profile.Best))

	var hb *heartbeat.Service
	if cfg.ReportURL != "" {
		workerID := cfg.WorkerID
		if workerID == "" {
			workerID = defaultWorkerID()
		}
		reporter, err := client.NewReporter(client.Options{
			BaseURL:  cfg.ReportURL,
			WorkerID: workerID,
			Logger:   logger,
		})
		if err != nil {
			rt.close(logger, true)
			return err
		}
		info := profile.Info()
		caps := models.WorkerCapabilities{
			WorkerID:     workerID,
			Platform:     info.Platform,
			GPU:          info.GPU,
			Acceleration: info.Acceleration,
			Methods:      info.Methods,
			Encoders:     info.Encoders,
			CPUCount:     c.monitor.CPUCount(ctx),
			MaxParallel:  cfg.MaxParallel,
		}
		hb = heartbeat.New(reporter, rt.scheduler, c.monitor, caps, cfg.HeartbeatInterval(), logger)
	}

	// Lifecycle events block the scheduler until read, so the consumer
	// outlives the errgroup and stops only after Shutdown.
	eventsDone := make(chan struct{})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			select {
			case ev := <-rt.scheduler.Events():
				logEvent(logger, ev)
				if hb != nil {
					hb.Notify(ev)
				}
			case <-eventsDone:
				return
			}
		}
	}()

	if err := rt.scheduler.Start(ctx); err != nil {
		close(eventsDone)
		<-consumerDone
		rt.close(logger, true)
		return err
	}

	srv := server.NewJobServer(cfg.ListenAddr, rt.scheduler, rt.engine, m, logger)
	collector := metrics.NewCollector(m, c.monitor, cfg.HeartbeatInterval(), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		collector.Run(gctx)
		return nil
	})
	if hb != nil {
		g.Go(func() error {
			return hb.Run(gctx)
		})
	}

	runErr := g.Wait()
	logger.Info("shutting down")
	rt.close(logger, false)
	close(eventsDone)
	<-consumerDone

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

func defaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
