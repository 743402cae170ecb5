package models

import (
	"time"
	"unicode/utf8"
)

// JobState is the lifecycle state of a job owned by the scheduler.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ProgressSample is a single progress report for a running job.
type ProgressSample struct {
	JobID   string  `json:"job_id"`
	Percent float64 `json:"percent"` // 0-100
	Message string  `json:"message"`
}

// Result is the terminal outcome of a single conversion.
type Result struct {
	JobID    string        `json:"job_id"`
	State    JobState      `json:"state"`
	Message  string        `json:"message,omitempty"` // Output path on success, diagnostic text otherwise.
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// EventKind identifies what an Event reports.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventFinished EventKind = "finished"
	EventDrained  EventKind = "drained" // Queue and active set are both empty.
)

// Event is emitted by the scheduler toward the surrounding layers.
type Event struct {
	Kind      EventKind `json:"kind"`
	JobID     string    `json:"job_id,omitempty"`
	State     JobState  `json:"state,omitempty"`
	Percent   float64   `json:"percent"`   // Fraction of the reporting job, 0-100.
	Aggregate float64   `json:"aggregate"` // Mean over active jobs.
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"input_path"`
	OutputPath string    `json:"output_path"`
	State      JobState  `json:"state"`
	Percent    float64   `json:"percent"`
	Message    string    `json:"message,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot summarises the scheduler.
type Snapshot struct {
	MaxParallel int         `json:"max_parallel"`
	Active      int         `json:"active"`
	Queued      int         `json:"queued"`
	Aggregate   float64     `json:"aggregate"`
	Jobs        []JobStatus `json:"jobs"`
}

// MaxMessageBytes bounds diagnostic text surfaced to callers.
const MaxMessageBytes = 4096

// TruncateMessage keeps the tail of msg, where encoder diagnostics end up,
// when it exceeds limit bytes.
func TruncateMessage(msg string, limit int) string {
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	const marker = "...\n"
	if limit <= len(marker) {
		return tail(msg, limit)
	}
	return marker + tail(msg, limit-len(marker))
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// HostStats is a point-in-time reading of host load.
type HostStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	CPUCount   int     `json:"cpu_count"`
	IsBusy     bool    `json:"is_busy"`
}

// WorkerCapabilities is what a worker announces when it registers with a
// remote collector.
type WorkerCapabilities struct {
	WorkerID     string              `json:"worker_id"`
	Platform     string              `json:"platform"`
	GPU          string              `json:"gpu,omitempty"`
	Acceleration string              `json:"acceleration"`
	Methods      []string            `json:"hwaccels"`
	Encoders     map[string][]string `json:"encoders"`
	CPUCount     int                 `json:"cpu_count"`
	MaxParallel  int                 `json:"max_parallel"`
}

// StatusReport is the periodic heartbeat payload.
type StatusReport struct {
	WorkerID string    `json:"worker_id"`
	Time     time.Time `json:"time"`
	Host     HostStats `json:"host"`
	Snapshot Snapshot  `json:"snapshot"`
}
