//go:build windows

package transcoder

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Windows has no graceful console signal for a detached child; both steps
// end the process.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
