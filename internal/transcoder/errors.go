package transcoder

import "fmt"

// FailureKind classifies why a job did not succeed. Cancellation is not a
// failure and has no kind.
type FailureKind int

const (
	// FailureAnalysis: probing the input failed or timed out.
	FailureAnalysis FailureKind = iota + 1
	// FailureBuild: the command line could not be synthesized.
	FailureBuild
	// FailureLaunch: the encoder process could not be started.
	FailureLaunch
	// FailureRuntime: the encoder exited with a nonzero code.
	FailureRuntime
)

func (k FailureKind) String() string {
	switch k {
	case FailureAnalysis:
		return "analysis"
	case FailureBuild:
		return "build"
	case FailureLaunch:
		return "launch"
	case FailureRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// JobError is attached to failed results.
type JobError struct {
	Kind     FailureKind
	JobID    string
	ExitCode int // set for FailureRuntime
	Err      error
}

func (e *JobError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("job %s: %s failure: %v", e.JobID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
