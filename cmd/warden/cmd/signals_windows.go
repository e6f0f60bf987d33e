//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// shutdownSignals lists what triggers a graceful stop. Windows reliably
// delivers only Ctrl+C; SIGTERM does not exist there.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processAlive asks the kernel for the exit code; STILL_ACTIVE means the
// process has not finished.
func processAlive(proc *os.Process) bool {
	const stillActive = 259

	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// signalStop has no graceful form on Windows; Kill maps to
// TerminateProcess.
func signalStop(proc *os.Process) error {
	return proc.Kill()
}
