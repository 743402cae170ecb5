package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"mediaconv/pkg/models"
)

const (
	// DiagnosticLines is how many recent output lines are retained.
	DiagnosticLines = 200
	// TailLines is how many of them end up in a failure message.
	TailLines = 20
	// DefaultCancelGrace is the wait between terminate and kill.
	DefaultCancelGrace = 5 * time.Second
)

var reTime = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2}(?:\.\d+)?)`)

// Request describes one encoder invocation.
type Request struct {
	JobID    string
	Args     []string // Arguments after the binary name.
	Duration float64  // Expected media duration in seconds, 0 when unknown.
	Dir      string   // Working directory, normally the job's workspace.
}

// Executor runs the encoder binary for one job at a time per call. A single
// Executor may serve many concurrent Run calls.
type Executor struct {
	binary string
	grace  time.Duration
	logger hclog.Logger

	forceOnce sync.Once
	force     chan struct{} // closed by ForceStop
}

// NewExecutor creates an executor for binary. grace bounds how long a
// cancelled process may take to exit after the terminate request before it
// is killed.
func NewExecutor(binary string, grace time.Duration, logger hclog.Logger) *Executor {
	if grace <= 0 {
		grace = DefaultCancelGrace
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{
		binary: binary,
		grace:  grace,
		logger: logger.Named("executor"),
		force:  make(chan struct{}),
	}
}

// ForceStop makes every stop, in progress or later, kill the process group
// at once instead of waiting out the grace period. It cancels nothing by
// itself.
func (e *Executor) ForceStop() {
	e.forceOnce.Do(func() { close(e.force) })
}

// Run launches the encoder and blocks until it exits. Cancelling ctx is the
// stop request: the process is asked to terminate, then killed once the
// grace period runs out, and the result is Cancelled. Progress samples are
// sent without blocking; a full channel drops them.
func (e *Executor) Run(ctx context.Context, req Request, progress chan<- models.ProgressSample) models.Result {
	started := time.Now()
	result := models.Result{JobID: req.JobID}
	finish := func(state models.JobState, msg string, err error) models.Result {
		result.State = state
		result.Message = models.TruncateMessage(msg, models.MaxMessageBytes)
		result.Err = err
		result.Duration = time.Since(started)
		return result
	}

	if ctx.Err() != nil {
		return finish(models.StateCancelled, "Conversion cancelled", nil)
	}

	cmd := exec.Command(e.binary, req.Args...)
	cmd.Dir = req.Dir
	setProcessGroup(cmd)

	// 1. Merge stderr into the stdout pipe; ffmpeg reports progress on stderr.
	out, err := cmd.StdoutPipe()
	if err != nil {
		return finish(models.StateFailed, err.Error(), &JobError{Kind: FailureLaunch, JobID: req.JobID, Err: err})
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		msg := fmt.Sprintf("failed to start %s: %v", e.binary, err)
		return finish(models.StateFailed, msg, &JobError{Kind: FailureLaunch, JobID: req.JobID, Err: err})
	}
	e.logger.Debug("encoder started", "job", req.JobID, "pid", cmd.Process.Pid)

	// 2. Watch for the stop request while the process runs.
	var cancelled atomic.Bool
	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			e.stop(cmd, req.JobID, exited)
		case <-exited:
		}
	}()

	// 3. Stream output, keeping the tail and reporting progress.
	lines := newRing(DiagnosticLines)
	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sc.Split(scanLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines.add(line)
		}
		if cancelled.Load() || ctx.Err() != nil {
			break
		}
		if pct, ok := ProgressPercent(line, req.Duration); ok {
			send(progress, models.ProgressSample{
				JobID:   req.JobID,
				Percent: pct,
				Message: fmt.Sprintf("Converting... %.1f%%", pct),
			})
		}
	}

	if sc.Err() != nil && !cancelled.Load() {
		// Over-long line; keep the pipe drained so the process can finish.
		_, _ = io.Copy(io.Discard, out)
	}

	waitErr := cmd.Wait()
	close(exited)

	if cancelled.Load() || (waitErr != nil && ctx.Err() != nil) {
		return finish(models.StateCancelled, "Conversion cancelled", nil)
	}
	if waitErr == nil {
		return finish(models.StateSucceeded, "", nil)
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	msg := fmt.Sprintf("%s exited with code %d", binaryName(e.binary), code)
	if tail := lines.last(TailLines); len(tail) > 0 {
		msg += "\n" + strings.Join(tail, "\n")
	}
	return finish(models.StateFailed, msg, &JobError{Kind: FailureRuntime, JobID: req.JobID, ExitCode: code, Err: waitErr})
}

// stop asks the process group to exit and kills it when it has not done so
// within the grace period.
func (e *Executor) stop(cmd *exec.Cmd, jobID string, exited <-chan struct{}) {
	if err := terminate(cmd.Process); err != nil {
		e.logger.Debug("terminate failed", "job", jobID, "error", err)
	}
	timer := time.NewTimer(e.grace)
	defer timer.Stop()

	select {
	case <-exited:
		return
	case <-timer.C:
		e.logger.Warn("encoder ignored terminate, killing", "job", jobID, "grace", e.grace)
	case <-e.force:
		e.logger.Warn("forced stop, killing encoder", "job", jobID)
	}
	if err := kill(cmd.Process); err != nil {
		e.logger.Debug("kill failed", "job", jobID, "error", err)
	}
}

// ProgressPercent extracts the time= marker from an encoder status line and
// maps it into [10, 99]. The first 10% is reserved for setup and 100% is
// only reported once the process has exited.
func ProgressPercent(line string, duration float64) (float64, bool) {
	if duration <= 0 {
		return 0, false
	}
	m := reTime.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	minutes, _ := strconv.ParseFloat(m[2], 64)
	seconds, _ := strconv.ParseFloat(m[3], 64)
	elapsed := hours*3600 + minutes*60 + seconds

	return min(elapsed/duration*90+10, 99), true
}

func send(ch chan<- models.ProgressSample, s models.ProgressSample) {
	if ch == nil {
		return
	}
	select {
	case ch <- s:
	default:
	}
}

// scanLines splits on either \r or \n; ffmpeg rewrites its status line with
// carriage returns.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func binaryName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ring keeps the most recent lines.
type ring struct {
	buf  []string
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]string, size)}
}

func (r *ring) add(line string) {
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) count() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// last returns up to n of the newest lines, oldest first.
func (r *ring) last(n int) []string {
	if n > r.count() {
		n = r.count()
	}
	out := make([]string, 0, n)
	for i := n; i > 0; i-- {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
