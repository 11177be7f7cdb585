// Package adapter implements C3: classifying and decoding one raw exchange
// frame into zero or one canonical model.Record. Each Adapter is a pure,
// deterministic function of input bytes and configuration — no I/O, no
// clock reads beyond stamping receipt time — per spec §4.2.
package adapter

import (
	"time"

	"github.com/sawpanic/mdcollector/internal/model"
	"github.com/sawpanic/mdcollector/internal/observability"
)

// Result is the outcome of normalizing one frame: either zero or more
// records, or a skip reason that is counted but never raised as an error
// (unknown event type, null payload).
type Result struct {
	Records    []*model.Record
	Skipped    bool
	SkipReason string // "unknown_event" | "null_payload"
}

// Adapter maps one venue's wire frames to canonical records.
type Adapter interface {
	// Venue is the exchange identifier this adapter normalizes for, e.g.
	// "binance".
	Venue() string

	// Normalize decodes payload (the frame's "data" object, already
	// stream-key-associated) into Result. streamKey is empty when the
	// frame carried none; on a multiplexed connection that is a failure
	// (UNASSOCIATED_FRAME), checked by the caller via Registry.Dispatch.
	Normalize(streamKey string, payload []byte, receivedAt time.Time) (Result, error)
}

// Registry dispatches frames to the Adapter registered for their venue,
// grounded on the teacher's internal/infrastructure/websocket/normalizers.go
// per-venue switch, generalized into a lookup table so adding a venue does
// not require touching a shared switch statement.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the Adapter for its Venue().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Venue()] = a
}

// Get returns the Adapter registered for venue, or (nil, false).
func (r *Registry) Get(venue string) (Adapter, bool) {
	a, ok := r.adapters[venue]
	return a, ok
}

// Envelope is the outer frame shape shared across venues: a stream key plus
// an opaque payload. Individual adapters decode Payload according to their
// venue's event schema.
type Envelope struct {
	StreamKey string
	Payload   []byte
}

// ClassifiedParseError wraps observability.ClassifiedError for the protocol
// error family (MALFORMED_NUMERIC, MISSING_FIELD, UNASSOCIATED_FRAME,
// MALFORMED_FRAME) that C3 raises per spec §7.
func ClassifiedParseError(venue string, class observability.ErrorClass, field string, cause error) error {
	if field != "" {
		cause = fmtFieldError(field, cause)
	}
	return observability.NewError("adapter."+venue, class, cause)
}

func fmtFieldError(field string, cause error) error {
	if cause == nil {
		return fieldErr{field: field}
	}
	return fieldErr{field: field, cause: cause}
}

type fieldErr struct {
	field string
	cause error
}

func (e fieldErr) Error() string {
	if e.cause != nil {
		return "field " + e.field + ": " + e.cause.Error()
	}
	return "field " + e.field + " missing"
}

func (e fieldErr) Unwrap() error { return e.cause }
