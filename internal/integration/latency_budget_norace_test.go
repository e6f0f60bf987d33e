//go:build !race

package integration

import "time"

var evalBudget = latencyBudget{
	p50: time.Millisecond,
	p99: 5 * time.Millisecond,
}
