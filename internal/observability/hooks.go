package observability

import (
	"strings"
	"time"
)

// UowHooks reports unit of work signals to Metrics. It satisfies uow.Hooks.
type UowHooks struct {
	metrics *Metrics
}

func NewUowHooks(metrics *Metrics) *UowHooks {
	return &UowHooks{metrics: metrics}
}

func (h *UowHooks) ObserveOperation(name, status string, dur time.Duration) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.ObserveUowOperation(strings.TrimSpace(name), strings.TrimSpace(status), dur)
}

func (h *UowHooks) IncConflict(name string) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncUowConflict(strings.TrimSpace(name))
}

func (h *UowHooks) IncRetry(name string) {
	if h == nil || h.metrics == nil {
		return
	}
	h.metrics.IncUowRetry(strings.TrimSpace(name))
}
