package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
)

// interrupts delivers SIGINT and SIGTERM until the returned release func is
// called.
func interrupts() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// watchSignals runs stop on the first signal and kill on the second. It
// returns after the second signal or once done is closed.
func watchSignals(sigs <-chan os.Signal, done <-chan struct{}, logger hclog.Logger, stop, kill func()) {
	stopping := false
	for {
		select {
		case sig := <-sigs:
			if !stopping {
				stopping = true
				logger.Warn("interrupted, stopping all jobs (interrupt again to kill them)", "signal", sig.String())
				stop()
				continue
			}
			logger.Warn("interrupted again, killing encoders", "signal", sig.String())
			kill()
			return
		case <-done:
			return
		}
	}
}
