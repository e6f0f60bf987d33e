//go:build race

package integration

import "time"

// The race detector multiplies hot-path cost, so the bounds stretch with it.
var evalBudget = latencyBudget{
	p50: 10 * time.Millisecond,
	p99: 25 * time.Millisecond,
}
