// Package metrics defines the observability interfaces the varbus
// server reports through.
//
// All interfaces are optional: a nil implementation disables collection
// with zero overhead, so hot paths guard each call with a nil check
// instead of paying for a no-op dispatch.
package metrics

import "time"

// RequestMetrics observes the request dispatch path.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewRequestMetrics(registry)
//	d := server.NewDispatcher(store, m)
//
//	// Without metrics (zero overhead)
//	d := server.NewDispatcher(store, nil)
type RequestMetrics interface {
	// RecordRequest records one completed request with its type,
	// transport binding, duration, and outcome code.
	RecordRequest(request, transport string, duration time.Duration, code string)

	// RecordSessionOpen increments the live-session gauge for a binding.
	RecordSessionOpen(transport string)

	// RecordSessionClose decrements the live-session gauge for a binding.
	RecordSessionClose(transport string)
}

// StoreMetrics observes the variable table.
type StoreMetrics interface {
	// SetVariableCount tracks the number of live variables.
	SetVariableCount(n int)

	// RecordWrite counts one committed value write.
	RecordWrite(name string)
}
