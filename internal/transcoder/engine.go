// Package transcoder wires the encoder binaries to the rest of the system:
// the Engine locates them, detects hardware support once, and exposes
// probing, command synthesis and execution for the scheduler.
package transcoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"mediaconv/internal/command"
	"mediaconv/internal/formats"
	"mediaconv/internal/hwaccel"
	"mediaconv/internal/probe"
	"mediaconv/pkg/models"
)

// Options configures an Engine.
type Options struct {
	FFmpegPath    string // Looked up on PATH; defaults to "ffmpeg".
	FFprobePath   string // Defaults to the sibling of FFmpegPath.
	EnableHWAccel bool
	Threads       int // Default thread count for jobs; 0 means min(cpu, 8).
	DetectTimeout time.Duration
	ProbeTimeout  time.Duration
	CancelGrace   time.Duration
	Logger        hclog.Logger
}

// Engine represents the transcoding capabilities of the local device.
type Engine struct {
	FFmpegPath  string
	FFprobePath string

	logger   hclog.Logger
	formats  *formats.Table
	detector *hwaccel.Detector
	prober   *probe.Prober
	executor *Executor
	threads  int
	hwOn     bool

	mu      sync.RWMutex
	profile *hwaccel.Profile
	builder *command.Builder
}

// NewEngine finds the binaries and runs hardware detection.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	// 1. Locate the FFmpeg binary.
	name := strings.TrimSpace(opts.FFmpegPath)
	if name == "" {
		name = "ffmpeg"
	}
	ffmpegPath, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	// 2. The prober usually sits next to it.
	probePath := strings.TrimSpace(opts.FFprobePath)
	if probePath == "" {
		probePath = probe.SiblingPath(ffmpegPath)
	}
	if found, err := exec.LookPath(probePath); err == nil {
		probePath = found
	} else {
		logger.Warn("ffprobe not found, input analysis will fail", "path", probePath, "error", err)
	}

	e := &Engine{
		FFmpegPath:  ffmpegPath,
		FFprobePath: probePath,
		logger:      logger.Named("engine"),
		formats:     formats.New(),
		detector:    hwaccel.NewDetector(ffmpegPath, opts.DetectTimeout, logger),
		prober:      probe.New(probePath, opts.ProbeTimeout),
		executor:    NewExecutor(ffmpegPath, opts.CancelGrace, logger),
		threads:     opts.Threads,
		hwOn:        opts.EnableHWAccel,
	}

	// 3. Perform hardware discovery.
	e.setProfile(e.detect(ctx, false))
	return e, nil
}

func (e *Engine) detect(ctx context.Context, again bool) *hwaccel.Profile {
	if !e.hwOn {
		return hwaccel.CPUOnly()
	}
	var (
		p  *hwaccel.Profile
		ok bool
	)
	if again {
		p, ok = e.detector.Redetect(ctx)
	} else {
		p, ok = e.detector.Detect(ctx)
	}
	if !ok {
		e.logger.Info("no hardware acceleration available, using CPU encoders")
	}
	return p
}

func (e *Engine) setProfile(p *hwaccel.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile = p
	e.builder = command.New(e.formats, p, e.threads)
}

// Redetect runs hardware detection again and swaps the profile used for new
// commands. Jobs already built keep their arguments.
func (e *Engine) Redetect(ctx context.Context) *hwaccel.Profile {
	p := e.detect(ctx, true)
	e.setProfile(p)
	return p
}

// Profile returns the current hardware profile.
func (e *Engine) Profile() *hwaccel.Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// HasHWAccel reports whether a hardware method is in use.
func (e *Engine) HasHWAccel() bool {
	return e.Profile().Accelerated()
}

// Formats returns the compatibility table.
func (e *Engine) Formats() *formats.Table {
	return e.formats
}

// Probe analyses an input file.
func (e *Engine) Probe(ctx context.Context, input string) (*models.MediaInfo, error) {
	return e.prober.Probe(ctx, input)
}

// Build synthesizes the encoder arguments for job.
func (e *Engine) Build(job *models.JobConfig, info *models.MediaInfo) ([]string, error) {
	e.mu.RLock()
	b := e.builder
	e.mu.RUnlock()

	if job == nil {
		return b.Build(nil, info)
	}
	if plan := b.Resolve(job); plan.Corrected {
		e.logger.Info("codecs adjusted for container",
			"job", job.ID,
			"container", plan.Container,
			"video", plan.VideoCodec,
			"audio", plan.AudioCodec)
	}

	args, err := b.Build(job, info)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("ffmpeg command", "job", job.ID, "cmd", e.FFmpegPath+" "+strings.Join(args, " "))
	return args, nil
}

// ForceStop turns every pending and future job stop into an immediate kill.
func (e *Engine) ForceStop() {
	e.executor.ForceStop()
}

// Run executes a built command.
func (e *Engine) Run(ctx context.Context, req Request, progress chan<- models.ProgressSample) models.Result {
	return e.executor.Run(ctx, req, progress)
}
