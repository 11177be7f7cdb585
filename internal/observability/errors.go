package observability

import "fmt"

// ErrorClass is the taxonomy from spec §7: transport, protocol, pipeline,
// publisher, broadcast, and lifecycle error families.
type ErrorClass string

const (
	// Transport
	ErrConnectTimeout ErrorClass = "CONNECT_TIMEOUT"
	ErrSocketError    ErrorClass = "SOCKET_ERROR"
	ErrAbnormalClose  ErrorClass = "ABNORMAL_CLOSE"
	ErrHeartbeatLost  ErrorClass = "HEARTBEAT_LOST"

	// Protocol
	ErrMalformedFrame    ErrorClass = "MALFORMED_FRAME"
	ErrUnknownEvent      ErrorClass = "UNKNOWN_EVENT"
	ErrMalformedNumeric  ErrorClass = "MALFORMED_NUMERIC"
	ErrMissingField      ErrorClass = "MISSING_FIELD"
	ErrUnassociatedFrame ErrorClass = "UNASSOCIATED_FRAME"

	// Pipeline
	ErrBackpressure    ErrorClass = "BACKPRESSURE"
	ErrPipelineStopped ErrorClass = "PIPELINE_STOPPED"
	ErrCircuitOpen     ErrorClass = "CIRCUIT_OPEN"

	// Publisher
	ErrBatchFailedTransient ErrorClass = "BATCH_FAILED_TRANSIENT"
	ErrBatchFailedPermanent ErrorClass = "BATCH_FAILED_PERMANENT"
	ErrTopicNotFound        ErrorClass = "TOPIC_NOT_FOUND"
	ErrQuotaExceeded        ErrorClass = "QUOTA_EXCEEDED"
	ErrAuth                 ErrorClass = "AUTH"

	// Broadcast
	ErrConnectionRefusedOverLimit ErrorClass = "CONNECTION_REFUSED_OVER_LIMIT"
	ErrRateLimited                ErrorClass = "RATE_LIMITED"
	ErrSendQueueFull              ErrorClass = "SEND_QUEUE_FULL"

	// Lifecycle
	ErrNotInitialized ErrorClass = "NOT_INITIALIZED"
	ErrAlreadyStarted ErrorClass = "ALREADY_STARTED"
	ErrShuttingDown   ErrorClass = "SHUTTING_DOWN"

	// Data-flow channel unavailability (counted outcome, not a class above)
	ErrChannelUnavailable ErrorClass = "CHANNEL_UNAVAILABLE"
)

// ClassifiedError pairs an ErrorClass with the underlying cause and the
// component that raised it, matching the handleError(err, context) facade
// named in spec §7.
type ClassifiedError struct {
	Class     ErrorClass
	Component string
	Cause     error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %v", e.Component, e.Class, e.Cause)
	}
	return fmt.Sprintf("%s[%s]", e.Component, e.Class)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// NewError builds a ClassifiedError.
func NewError(component string, class ErrorClass, cause error) *ClassifiedError {
	return &ClassifiedError{Component: component, Class: class, Cause: cause}
}

// Retryable reports whether the class belongs to a family the spec
// designates as locally recoverable by retry/reconnect rather than fatal.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrConnectTimeout, ErrSocketError, ErrAbnormalClose, ErrHeartbeatLost,
		ErrBatchFailedTransient:
		return true
	default:
		return false
	}
}

// ErrorReporter is the injected monitoring-facade entry point named in
// spec §7: classify, count, and log, surfacing only what cannot be handled
// locally. The concrete implementation lives in reporter.go.
type ErrorReporter interface {
	HandleError(err *ClassifiedError)
}
