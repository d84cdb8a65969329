package aggregates

import (
	"strings"
	"time"

	"github.com/yungbote/headless-lms/internal/observability"
)

// Hooks captures write-level observability events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
	// IncConstraint counts a write stopped by a named constraint, such as a
	// second review of the same answer.
	IncConstraint(name, constraint string)
}

type noopHooks struct{}

func (noopHooks) ObserveOperation(string, string, time.Duration) {}
func (noopHooks) IncConflict(string)                             {}
func (noopHooks) IncRetry(string)                                {}
func (noopHooks) IncConstraint(string, string)                   {}

type observabilityHooks struct {
	metrics *observability.Metrics
}

// NewObservabilityHooks creates hooks backed by prometheus metrics.
func NewObservabilityHooks(metrics *observability.Metrics) Hooks {
	if metrics == nil {
		return noopHooks{}
	}
	return &observabilityHooks{metrics: metrics}
}

func (h *observabilityHooks) ObserveOperation(name, status string, dur time.Duration) {
	h.metrics.ObserveWrite(strings.TrimSpace(name), strings.TrimSpace(status), dur)
}

func (h *observabilityHooks) IncConflict(name string) {
	h.metrics.IncWriteOutcome(strings.TrimSpace(name), "conflict")
}

func (h *observabilityHooks) IncRetry(name string) {
	h.metrics.IncWriteOutcome(strings.TrimSpace(name), "retryable")
}

func (h *observabilityHooks) IncConstraint(name, constraint string) {
	h.metrics.IncWriteOutcome(strings.TrimSpace(name), "constraint:"+strings.TrimSpace(constraint))
}
