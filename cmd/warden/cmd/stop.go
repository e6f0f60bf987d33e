package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running Warden server",
	Long: `Stop a running Warden server by reading its PID file and sending SIGTERM.

The PID file is located at ~/.warden/server.pid.

Examples:
  # Stop the running server
  warden stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

// stopPatience is how long a server gets to drain in-flight work before
// the hard kill.
const stopPatience = 10 * time.Second

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	proc, pid, err := locateServer(pidPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Stopping Warden server (PID %d)...\n", pid)
	if err := signalStop(proc); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	if waitForExit(proc, stopPatience) {
		os.Remove(pidPath)
		fmt.Fprintln(os.Stderr, "Server stopped.")
		return nil
	}

	fmt.Fprintf(os.Stderr, "Server still running after %s, sending SIGKILL...\n", stopPatience)
	_ = proc.Kill()
	os.Remove(pidPath)
	fmt.Fprintln(os.Stderr, "Server killed.")
	return nil
}

// locateServer resolves the PID file to a live process. Stale or corrupt
// PID files are cleaned up on the way out.
func locateServer(pidPath string) (*os.Process, int, error) {
	pid := readPIDFile(pidPath)
	if pid == 0 {
		return nil, 0, fmt.Errorf("no PID file at %s; is the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return nil, 0, fmt.Errorf("invalid PID %d: %w", pid, err)
	}
	if !processAlive(proc) {
		os.Remove(pidPath)
		return nil, 0, fmt.Errorf("process %d is gone; removed stale PID file", pid)
	}
	return proc, pid, nil
}

// waitForExit polls the process until it dies or patience runs out.
func waitForExit(proc *os.Process, patience time.Duration) bool {
	deadline := time.Now().Add(patience)
	for time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		if !processAlive(proc) {
			return true
		}
	}
	return false
}

// readPIDFile returns the PID stored at path, or 0 when the file is
// missing or malformed.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
