package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"mediaconv/pkg/models"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var jobsFile string
	var preset string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "convert [INPUT OUTPUT]",
		Short: "Convert files and wait for every job to finish",
		Example: `  mediaconv convert in.mov out.mp4 --preset youtube
  mediaconv convert --jobs batch.yml -j 4`,
		Args: func(cmd *cobra.Command, args []string) error {
			if jobsFile == "" && len(args) != 2 {
				return errors.New("expected INPUT and OUTPUT, or --jobs FILE")
			}
			if jobsFile != "" && len(args) != 0 {
				return errors.New("--jobs cannot be combined with INPUT OUTPUT")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := loadJobs(jobsFile, preset, args)
			if err != nil {
				return err
			}
			showBar := !noProgress && isTerminal(os.Stderr)
			return runConvert(cmd.Context(), ctx, jobs, showBar, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&jobsFile, "jobs", "", "YAML file listing the jobs to run")
	cmd.Flags().StringVar(&preset, "preset", "", "Built-in preset applied under every job")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Log progress instead of drawing a bar")
	return cmd
}

func loadJobs(jobsFile, preset string, args []string) ([]*models.JobConfig, error) {
	var jobs []*models.JobConfig
	if jobsFile != "" {
		f, err := os.Open(jobsFile)
		if err != nil {
			return nil, fmt.Errorf("open job file: %w", err)
		}
		defer f.Close()
		if jobs, err = models.DecodeJobBatch(f); err != nil {
			return nil, fmt.Errorf("%s: %w", jobsFile, err)
		}
	} else {
		jobs = []*models.JobConfig{{InputPath: args[0], OutputPath: args[1]}}
	}

	if preset == "" {
		return jobs, nil
	}
	for i, job := range jobs {
		merged, err := models.ApplyPreset(job, preset)
		if err != nil {
			return nil, err
		}
		jobs[i] = merged
	}
	return jobs, nil
}

func runConvert(parent context.Context, c *commandContext, jobs []*models.JobConfig, showBar bool, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := c.logger

	rt, err := c.newRuntime(parent, nil)
	if err != nil {
		return err
	}
	defer rt.close(logger, true)
	sched := rt.scheduler

	for _, job := range jobs {
		if _, err := sched.Enqueue(job); err != nil {
			return err
		}
	}

	// The first SIGINT or SIGTERM stops everything and the loop below still
	// runs until the cancelled jobs have reported. A second one kills the
	// encoders without waiting out the grace period.
	sigs, release := interrupts()
	defer release()
	done := make(chan struct{})
	defer close(done)
	go watchSignals(sigs, done, logger, sched.StopAll, rt.engine.ForceStop)

	started := time.Now()
	if err := sched.Start(parent); err != nil {
		return err
	}

	tracker := newBatchTracker(len(jobs), showBar, logger)
	for ev := range sched.Events() {
		tracker.observe(ev)
		if ev.Kind == models.EventDrained {
			break
		}
	}
	tracker.finish()

	snap := sched.Snapshot()
	fmt.Fprintln(out, renderJobTable(snap.Jobs))

	var failed, cancelled int
	for _, st := range snap.Jobs {
		switch st.State {
		case models.StateFailed:
			failed++
		case models.StateCancelled:
			cancelled++
		}
	}
	logger.Info("batch complete",
		"jobs", len(snap.Jobs),
		"failed", failed,
		"cancelled", cancelled,
		"elapsed", time.Since(started).Round(time.Millisecond))

	if failed+cancelled > 0 {
		return fmt.Errorf("%d of %d jobs did not succeed", failed+cancelled, len(snap.Jobs))
	}
	return nil
}

// batchTracker turns scheduler events into an overall progress view, either
// a terminal bar or log lines.
type batchTracker struct {
	total   int
	percent map[string]float64
	done    int
	bar     *progressbar.ProgressBar
	logger  hclog.Logger
}

func newBatchTracker(total int, showBar bool, logger hclog.Logger) *batchTracker {
	t := &batchTracker{
		total:   total,
		percent: make(map[string]float64, total),
		logger:  logger,
	}
	if showBar {
		t.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(t.describe()),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	return t
}

func (t *batchTracker) observe(ev models.Event) {
	switch ev.Kind {
	case models.EventProgress:
		t.percent[ev.JobID] = ev.Percent
	case models.EventFinished:
		t.percent[ev.JobID] = 100
		t.done++
	}

	if t.bar == nil {
		logEvent(t.logger, ev)
		return
	}
	if ev.Kind == models.EventFinished {
		// Outcomes are worth keeping even with the bar on screen.
		_ = t.bar.Clear()
		logEvent(t.logger, ev)
	}
	t.bar.Describe(t.describe())
	_ = t.bar.Set(int(t.overall()))
}

// overall is the batch completion: finished jobs count fully, queued ones
// as zero.
func (t *batchTracker) overall() float64 {
	if t.total == 0 {
		return 0
	}
	var sum float64
	for _, p := range t.percent {
		sum += p
	}
	return min(sum/float64(t.total), 100)
}

func (t *batchTracker) describe() string {
	return fmt.Sprintf("converting %d/%d", t.done, t.total)
}

func (t *batchTracker) finish() {
	if t.bar != nil {
		_ = t.bar.Finish()
	}
}

func renderJobTable(jobs []models.JobStatus) string {
	rows := make([][]string, 0, len(jobs))
	for _, st := range jobs {
		message := st.Message
		if st.State == models.StateFailed {
			message = firstLine(message)
		}
		rows = append(rows, []string{
			shortID(st.ID),
			filepath.Base(st.InputPath),
			filepath.Base(st.OutputPath),
			string(st.State),
			message,
		})
	}
	return renderTable(
		[]string{"Job", "Input", "Output", "State", "Message"},
		rows,
		nil,
	)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
