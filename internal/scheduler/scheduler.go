// Package scheduler runs queued conversions on a bounded pool. Bookkeeping
// (queue, active set, aggregate progress) is serialized by one mutex; each
// active job runs on its own goroutine and reports back through it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/sourcegraph/conc"

	"mediaconv/internal/probe"
	"mediaconv/internal/transcoder"
	"mediaconv/internal/workspace"
	"mediaconv/pkg/models"
)

// DefaultEventBuffer is the capacity of the events channel.
const DefaultEventBuffer = 256

// Transcoder is the per-job work: analyse, synthesize, execute.
// *transcoder.Engine satisfies it.
type Transcoder interface {
	Probe(ctx context.Context, input string) (*models.MediaInfo, error)
	Build(job *models.JobConfig, info *models.MediaInfo) ([]string, error)
	Run(ctx context.Context, req transcoder.Request, progress chan<- models.ProgressSample) models.Result
}

// Recorder receives load and outcome updates, typically for metrics.
type Recorder interface {
	ObserveResult(state models.JobState, d time.Duration)
	SetLoad(active, queued int, aggregate float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveResult(models.JobState, time.Duration) {}
func (nopRecorder) SetLoad(int, int, float64)                  {}

// Options configures a Scheduler.
type Options struct {
	MaxParallel  int           // At least 1.
	ProbeTimeout time.Duration // Bound on input analysis per job.
	EventBuffer  int
	Logger       hclog.Logger
	Recorder     Recorder
}

type activeJob struct {
	job     *models.JobConfig
	cancel  context.CancelFunc
	percent float64
}

// Scheduler is a FIFO worker pool over conversion jobs.
type Scheduler struct {
	tc       Transcoder
	root     *workspace.Root
	max      int
	timeout  time.Duration
	logger   hclog.Logger
	recorder Recorder
	events   chan models.Event
	wg       conc.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	queue   []*models.JobConfig
	active  map[string]*activeJob
	status  map[string]*models.JobStatus
	order   []string
	idle    chan struct{} // closed whenever queue and active set are empty
}

// New creates a scheduler. Jobs get their scratch directories from root.
func New(tc Transcoder, root *workspace.Root, opts Options) (*Scheduler, error) {
	if tc == nil {
		return nil, errors.New("scheduler: nil transcoder")
	}
	if root == nil {
		return nil, errors.New("scheduler: nil workspace root")
	}
	if opts.MaxParallel < 1 {
		return nil, fmt.Errorf("scheduler: max parallel must be at least 1, got %d", opts.MaxParallel)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = probe.DefaultTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	idle := make(chan struct{})
	close(idle)
	return &Scheduler{
		tc:       tc,
		root:     root,
		max:      opts.MaxParallel,
		timeout:  opts.ProbeTimeout,
		logger:   opts.Logger.Named("scheduler"),
		recorder: opts.Recorder,
		events:   make(chan models.Event, opts.EventBuffer),
		active:   make(map[string]*activeJob),
		status:   make(map[string]*models.JobStatus),
		idle:     idle,
	}, nil
}

// Events delivers started, progress, finished and drained events. Progress
// events are dropped when the channel is full; the others wait for room, so
// a running scheduler needs a consumer.
func (s *Scheduler) Events() <-chan models.Event {
	return s.events
}

// Enqueue validates job and appends a copy to the queue. Relative paths are
// made absolute, since the encoder runs inside the job's workspace. An empty
// ID is replaced with a generated one, which is returned.
func (s *Scheduler) Enqueue(job *models.JobConfig) (string, error) {
	if job == nil {
		return "", errors.New("nil job")
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	j := job.Clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	var err error
	if j.InputPath, err = filepath.Abs(j.InputPath); err != nil {
		return "", fmt.Errorf("resolve input path: %w", err)
	}
	if j.OutputPath, err = filepath.Abs(j.OutputPath); err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.status[j.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("job %s already exists", j.ID)
	}
	s.queue = append(s.queue, j)
	s.status[j.ID] = &models.JobStatus{
		ID:         j.ID,
		InputPath:  j.InputPath,
		OutputPath: j.OutputPath,
		State:      models.StateQueued,
		UpdatedAt:  time.Now(),
	}
	s.order = append(s.order, j.ID)
	s.markBusyLocked()

	var launched []models.Event
	if s.started {
		launched = s.fillLocked()
	}
	load := s.loadLocked()
	s.mu.Unlock()

	s.logger.Debug("job queued", "job", j.ID, "input", j.InputPath)
	s.recorder.SetLoad(load.active, load.queued, load.aggregate)
	s.emit(launched...)
	return j.ID, nil
}

// Start begins filling execution slots. Jobs run under ctx; cancelling it
// has the same effect as StopAll for the running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	launched := s.fillLocked()
	load := s.loadLocked()
	s.mu.Unlock()

	s.logger.Info("scheduler started", "max_parallel", s.max)
	s.recorder.SetLoad(load.active, load.queued, load.aggregate)
	s.emit(launched...)
	return nil
}

// StopAll cancels every active job and discards the queue. Discarded jobs
// finish as Cancelled without running; terminal jobs are not affected.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	for _, a := range s.active {
		a.cancel()
	}
	now := time.Now()
	events := make([]models.Event, 0, len(dropped)+1)
	for _, j := range dropped {
		st := s.status[j.ID]
		st.State = models.StateCancelled
		st.Message = "Conversion cancelled"
		st.UpdatedAt = now
		events = append(events, models.Event{
			Kind:    models.EventFinished,
			JobID:   j.ID,
			State:   models.StateCancelled,
			Message: st.Message,
			Time:    now,
		})
	}
	if len(dropped) > 0 && s.drainedLocked() {
		events = append(events, models.Event{Kind: models.EventDrained, Time: now})
	}
	activeCount := len(s.active)
	load := s.loadLocked()
	s.mu.Unlock()

	s.logger.Info("stopping all jobs", "active", activeCount, "dropped", len(dropped))
	for range dropped {
		s.recorder.ObserveResult(models.StateCancelled, 0)
	}
	s.recorder.SetLoad(load.active, load.queued, load.aggregate)
	s.emit(events...)
}

// Wait blocks until the queue and the active set are both empty.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops all jobs and waits for their goroutines to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.StopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return nil
}

// Snapshot returns the state of every known job in submission order.
func (s *Scheduler) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.Snapshot{
		MaxParallel: s.max,
		Active:      len(s.active),
		Queued:      len(s.queue),
		Aggregate:   s.aggregateLocked(),
		Jobs:        make([]models.JobStatus, 0, len(s.order)),
	}
	for _, id := range s.order {
		snap.Jobs = append(snap.Jobs, *s.status[id])
	}
	return snap
}

// Aggregate is the mean progress of the active jobs, 0 when none run.
func (s *Scheduler) Aggregate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregateLocked()
}

// fillLocked launches queued jobs while slots are free and returns their
// Started events.
func (s *Scheduler) fillLocked() []models.Event {
	var events []models.Event
	for len(s.queue) > 0 && len(s.active) < s.max {
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(s.ctx)
		s.active[job.ID] = &activeJob{job: job, cancel: cancel}

		now := time.Now()
		st := s.status[job.ID]
		st.State = models.StateRunning
		st.Percent = 0
		st.UpdatedAt = now
		events = append(events, models.Event{
			Kind:      models.EventStarted,
			JobID:     job.ID,
			State:     models.StateRunning,
			Aggregate: s.aggregateLocked(),
			Time:      now,
		})

		s.wg.Go(func() {
			defer cancel()
			s.finish(job, s.execute(ctx, job))
		})
	}
	return events
}

// execute runs one job from workspace creation to process exit.
func (s *Scheduler) execute(ctx context.Context, job *models.JobConfig) models.Result {
	started := time.Now()
	fail := func(kind transcoder.FailureKind, err error) models.Result {
		return models.Result{
			JobID:    job.ID,
			State:    models.StateFailed,
			Message:  models.TruncateMessage(err.Error(), models.MaxMessageBytes),
			Err:      &transcoder.JobError{Kind: kind, JobID: job.ID, Err: err},
			Duration: time.Since(started),
		}
	}
	cancelled := func() models.Result {
		return models.Result{
			JobID:    job.ID,
			State:    models.StateCancelled,
			Message:  "Conversion cancelled",
			Duration: time.Since(started),
		}
	}

	ws, err := s.root.Create(job.ID)
	if err != nil {
		return fail(transcoder.FailureLaunch, fmt.Errorf("create workspace: %w", err))
	}
	defer func() {
		if err := ws.Remove(); err != nil {
			s.logger.Warn("failed to remove workspace", "job", job.ID, "dir", ws.Dir, "error", err)
		}
	}()

	// 1. Analyse the input.
	s.progress(models.ProgressSample{JobID: job.ID, Percent: 0, Message: "Analyzing input file..."})
	pctx, pcancel := context.WithTimeout(ctx, s.timeout)
	info, err := s.tc.Probe(pctx, job.InputPath)
	pcancel()
	if ctx.Err() != nil {
		return cancelled()
	}
	if err != nil {
		return fail(transcoder.FailureAnalysis, fmt.Errorf("analyze input: %w", err))
	}

	// 2. Synthesize the command.
	s.progress(models.ProgressSample{JobID: job.ID, Percent: 5, Message: "Building conversion command..."})
	args, err := s.tc.Build(job, info)
	if err != nil {
		s.logger.Error("command synthesis failed", "job", job.ID, "error", err)
		return fail(transcoder.FailureBuild, err)
	}

	// 3. Execute, forwarding progress into the bookkeeping.
	s.progress(models.ProgressSample{JobID: job.ID, Percent: 10, Message: "Starting conversion..."})
	samples := make(chan models.ProgressSample, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for sample := range samples {
			s.progress(sample)
		}
	}()

	res := s.tc.Run(ctx, transcoder.Request{
		JobID:    job.ID,
		Args:     args,
		Duration: info.Duration,
		Dir:      ws.Dir,
	}, samples)
	close(samples)
	<-forwarded

	if res.State == models.StateSucceeded {
		s.progress(models.ProgressSample{JobID: job.ID, Percent: 100, Message: "Conversion complete!"})
		res.Message = job.OutputPath
	}
	res.JobID = job.ID
	res.Duration = time.Since(started)
	return res
}

// progress records a sample for an active job and emits it with the new
// aggregate.
func (s *Scheduler) progress(sample models.ProgressSample) {
	s.mu.Lock()
	a, ok := s.active[sample.JobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	a.percent = sample.Percent
	now := time.Now()
	st := s.status[sample.JobID]
	st.Percent = sample.Percent
	st.Message = sample.Message
	st.UpdatedAt = now
	load := s.loadLocked()
	s.mu.Unlock()

	s.recorder.SetLoad(load.active, load.queued, load.aggregate)
	ev := models.Event{
		Kind:      models.EventProgress,
		JobID:     sample.JobID,
		State:     models.StateRunning,
		Percent:   sample.Percent,
		Aggregate: load.aggregate,
		Message:   sample.Message,
		Time:      now,
	}
	select {
	case s.events <- ev:
	default:
	}
}

// finish moves a job to its terminal state and refills the freed slot.
func (s *Scheduler) finish(job *models.JobConfig, res models.Result) {
	switch res.State {
	case models.StateFailed:
		s.logger.Warn("job failed", "job", job.ID, "error", res.Err, "duration", res.Duration)
	default:
		s.logger.Info("job finished", "job", job.ID, "state", res.State, "duration", res.Duration)
	}

	s.mu.Lock()
	delete(s.active, job.ID)
	now := time.Now()
	st := s.status[job.ID]
	st.State = res.State
	st.Message = res.Message
	st.UpdatedAt = now
	if res.State == models.StateSucceeded {
		st.Percent = 100
	}

	events := []models.Event{{
		Kind:      models.EventFinished,
		JobID:     job.ID,
		State:     res.State,
		Percent:   st.Percent,
		Aggregate: s.aggregateLocked(),
		Message:   res.Message,
		Time:      now,
	}}
	events = append(events, s.fillLocked()...)
	if s.drainedLocked() {
		events = append(events, models.Event{Kind: models.EventDrained, Time: now})
	}
	load := s.loadLocked()
	s.mu.Unlock()

	s.recorder.ObserveResult(res.State, res.Duration)
	s.recorder.SetLoad(load.active, load.queued, load.aggregate)
	s.emit(events...)
}

// drainedLocked closes the idle channel when there is nothing left to do
// and reports whether it did.
func (s *Scheduler) drainedLocked() bool {
	if len(s.queue) > 0 || len(s.active) > 0 {
		return false
	}
	select {
	case <-s.idle:
		return false
	default:
		close(s.idle)
		return true
	}
}

func (s *Scheduler) markBusyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *Scheduler) aggregateLocked() float64 {
	if len(s.active) == 0 {
		return 0
	}
	var sum float64
	for _, a := range s.active {
		sum += a.percent
	}
	return sum / float64(len(s.active))
}

type loadSample struct {
	active    int
	queued    int
	aggregate float64
}

func (s *Scheduler) loadLocked() loadSample {
	return loadSample{active: len(s.active), queued: len(s.queue), aggregate: s.aggregateLocked()}
}

func (s *Scheduler) emit(events ...models.Event) {
	for _, ev := range events {
		s.events <- ev
	}
}
