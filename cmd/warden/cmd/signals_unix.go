//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals lists what triggers a graceful stop: Ctrl+C and a
// plain kill.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// processAlive probes a PID with the null signal; delivery failing means
// the process is gone.
func processAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

func signalStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
