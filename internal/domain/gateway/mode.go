// Package gateway defines the operating mode of the governance gateway and
// the response envelope returned to agents after an action is processed.
//
// The gateway runs in one of two modes. In shadow mode every action is
// evaluated and logged but nothing is ever blocked, which makes it safe to
// roll out new policies against production traffic. In enforce mode deny and
// pending_approval decisions take effect. The mode is mutable at runtime so
// operators can flip between observation and enforcement without a restart.
package gateway

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode is the gateway operating mode.
type Mode string

const (
	// ModeShadow evaluates and logs every action but never blocks.
	ModeShadow Mode = "SHADOW"

	// ModeEnforce blocks denied actions and holds high-risk actions for
	// human approval.
	ModeEnforce Mode = "ENFORCE"
)

// ErrUnknownMode is returned when a mode string is not SHADOW or ENFORCE.
var ErrUnknownMode = errors.New("unknown gateway mode")

// ParseMode converts a string into a Mode. Matching is case-insensitive;
// the canonical uppercase form is returned.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModeShadow):
		return ModeShadow, nil
	case string(ModeEnforce):
		return ModeEnforce, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeShadow || m == ModeEnforce
}

// Description returns the operator-facing summary of the mode's behavior.
func (m Mode) Description() string {
	if m == ModeShadow {
		return "Shadow mode: unsafe actions are logged but NOT blocked"
	}
	return "Enforce mode: unsafe actions are blocked"
}

// ModeController holds the current gateway mode and allows it to be changed
// at runtime. Reads are lock-free; a request observes exactly one mode for
// its entire evaluation because callers read the mode once up front.
type ModeController struct {
	mode atomic.Value // stores Mode
}

// NewModeController returns a controller initialized to the given mode.
// An invalid initial mode falls back to enforce, the fail-closed default.
func NewModeController(initial Mode) *ModeController {
	c := &ModeController{}
	if !initial.Valid() {
		initial = ModeEnforce
	}
	c.mode.Store(initial)
	return c
}

// Mode returns the current gateway mode.
func (c *ModeController) Mode() Mode {
	return c.mode.Load().(Mode)
}

// Set switches the gateway to the given mode and returns the previous one.
// Invalid modes are rejected without changing state.
func (c *ModeController) Set(m Mode) (Mode, error) {
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, m)
	}
	old := c.Mode()
	c.mode.Store(m)
	return old, nil
}
