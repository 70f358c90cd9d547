// v0
// internal/http/health.go
package httpserver

import "sync/atomic"

// HealthState tracks readiness. Liveness is implied while the process
// serves requests; readiness is raised once every loop is running and
// dropped again when shutdown begins.
type HealthState struct {
	ready atomic.Bool
}

// NewHealthState starts not ready.
func NewHealthState() *HealthState {
	return &HealthState{}
}

// SetReady raises or drops readiness.
func (h *HealthState) SetReady(value bool) {
	h.ready.Store(value)
}

// Ready reports whether /health/ready answers OK.
func (h *HealthState) Ready() bool {
	return h.ready.Load()
}
