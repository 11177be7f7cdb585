package adapter

import (
	"encoding/json"
	"time"

	"github.com/sawpanic/mdcollector/internal/observability"
)

// rawFrame is the outer shape shared by all venues reachable through this
// registry: a stream key plus an opaque data object, per spec §6's "Inbound
// JSON frames carry a stream field and a data object".
type rawFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Dispatch decodes the frame envelope to extract the stream key and
// payload (step 1 of the §4.2 algorithm), then hands the payload to the
// venue Adapter registered for venue. A frame with no stream key on a
// multiplexed connection fails with UNASSOCIATED_FRAME; multiplexed is
// true when the connection currently serves more than one stream key.
func (r *Registry) Dispatch(venue string, data []byte, receivedAt time.Time, multiplexed bool) (Result, error) {
	adapter, ok := r.Get(venue)
	if !ok {
		return Result{}, ClassifiedParseError(venue, observability.ErrMalformedFrame, "", errUnknownVenue(venue))
	}

	var frame rawFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		// Not every venue wraps frames in {stream,data} (e.g. a
		// single-stream connection may deliver the data object bare);
		// fall back to treating the whole payload as the data object.
		frame = rawFrame{Data: data}
	}
	if len(frame.Data) == 0 {
		frame.Data = data
	}

	if frame.Stream == "" && multiplexed {
		return Result{}, ClassifiedParseError(venue, observability.ErrUnassociatedFrame, "", nil)
	}

	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		return Result{Skipped: true, SkipReason: "null_payload"}, nil
	}

	return adapter.Normalize(frame.Stream, frame.Data, receivedAt)
}

type errUnknownVenueT string

func (e errUnknownVenueT) Error() string { return "adapter: no adapter registered for venue " + string(e) }
func errUnknownVenue(venue string) error { return errUnknownVenueT(venue) }
