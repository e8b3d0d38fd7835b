package http

import (
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// Track starts timing an API-level operation. The returned func records
// it with the given status.
func (hm *HandlerMetrics) Track(operation string) func(status string) {
	var metrics *monitoring.Metrics
	if hm != nil {
		metrics = hm.metrics
	}
	timer := monitoring.NewTimer(metrics, "api_"+operation)
	return timer.Stop
}
