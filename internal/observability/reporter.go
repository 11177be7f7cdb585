package observability

import "github.com/rs/zerolog"

// LogMetricReporter is the concrete ErrorReporter: it logs the classified
// error with structured fields and increments the matching Prometheus
// counter, mirroring the teacher's RecordPipelineError helper.
type LogMetricReporter struct {
	Logger  zerolog.Logger
	Metrics *MetricsRegistry
}

// NewReporter builds a LogMetricReporter bound to logger and metrics.
func NewReporter(logger zerolog.Logger, metrics *MetricsRegistry) *LogMetricReporter {
	return &LogMetricReporter{Logger: logger, Metrics: metrics}
}

// HandleError logs err with its class/component and increments the
// corresponding counter when one is defined for the class's family.
func (r *LogMetricReporter) HandleError(err *ClassifiedError) {
	event := r.Logger.Warn()
	if !err.Class.Retryable() {
		event = r.Logger.Error()
	}
	event.
		Str("error_class", string(err.Class)).
		Str("component", err.Component).
		Err(err.Cause).
		Msg("component error")

	if r.Metrics == nil {
		return
	}
	switch err.Class {
	case ErrMalformedFrame, ErrUnknownEvent, ErrMalformedNumeric, ErrMissingField, ErrUnassociatedFrame:
		r.Metrics.ParseErrors.WithLabelValues(err.Component, string(err.Class)).Inc()
	case ErrBackpressure:
		r.Metrics.BackpressureHits.Inc()
	case ErrBatchFailedTransient, ErrBatchFailedPermanent, ErrTopicNotFound, ErrQuotaExceeded, ErrAuth:
		r.Metrics.PublishErrors.WithLabelValues(string(err.Class)).Inc()
	case ErrChannelUnavailable:
		r.Metrics.ChannelDrops.WithLabelValues(err.Component).Inc()
	case ErrRateLimited:
		r.Metrics.RateLimitHits.Inc()
	case ErrSendQueueFull:
		r.Metrics.SendQueueDrops.Inc()
	case ErrConnectTimeout, ErrSocketError, ErrAbnormalClose:
		r.Metrics.ReconnectAttempts.WithLabelValues(err.Component).Inc()
	case ErrHeartbeatLost:
		r.Metrics.HeartbeatMisses.WithLabelValues(err.Component).Inc()
	}
}
