package publisher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sawpanic/mdcollector/internal/model"
)

// SchemaVersion is bumped whenever the canonical record's wire shape
// changes in a way a consumer must know about.
const SchemaVersion = 1

// Header is the message metadata carried alongside (not inside) the
// payload, per spec §4.5: message id, event timestamp, schema version,
// format tag, compression tag, original size, a truncated checksum, and the
// routing triple. Adapted from the teacher's internal/stream.Envelope,
// narrowed to the fields the header enumerates and a 16-hex-char digest
// instead of a full one.
type Header struct {
	MessageID   string `json:"message_id"`
	EventTime   int64  `json:"event_time"`
	Schema      int    `json:"schema"`
	Format      string `json:"format"`      // "json" | "msgpack"
	Compression string `json:"compression"` // "none" | "gzip" | "zstd"
	OriginalSize int   `json:"original_size"`
	Checksum    string `json:"checksum"` // first 16 hex chars of sha256(payload)
	Exchange    string `json:"exchange"`
	Symbol      string `json:"symbol"`
	DataType    string `json:"data_type"`
}

// ComputeChecksum returns the first 16 hex characters of sha256(payload),
// per spec §4.5's truncated-digest header field.
func ComputeChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}

// BuildHeader constructs a Header for rec's serialized, pre-compression
// payload.
func BuildHeader(rec *model.Record, rawPayload []byte, format, compression string) Header {
	return Header{
		MessageID:    uuid.NewString(),
		EventTime:    rec.Timestamp,
		Schema:       SchemaVersion,
		Format:       format,
		Compression:  compression,
		OriginalSize: len(rawPayload),
		Checksum:     ComputeChecksum(rawPayload),
		Exchange:     rec.Exchange,
		Symbol:       rec.Symbol,
		DataType:     string(rec.Type),
	}
}

// Validate verifies the header/payload pair's checksum; payload must be the
// decompressed, original-format bytes the header was built from.
func (h Header) Validate(payload []byte) error {
	if len(payload) != h.OriginalSize {
		return fmt.Errorf("publisher: payload size %d does not match header original_size %d", len(payload), h.OriginalSize)
	}
	expected := ComputeChecksum(payload)
	if expected != h.Checksum {
		return fmt.Errorf("publisher: checksum mismatch: header=%s computed=%s", h.Checksum, expected)
	}
	return nil
}

// AttributesFromHeader flattens h into the string-keyed attribute map the
// EventBus.Message carries, matching the teacher's envelope-as-headers
// convention.
func AttributesFromHeader(h Header) map[string]string {
	return map[string]string{
		"message_id":    h.MessageID,
		"event_time":    fmt.Sprintf("%d", h.EventTime),
		"schema":        fmt.Sprintf("%d", h.Schema),
		"format":        h.Format,
		"compression":   h.Compression,
		"original_size": fmt.Sprintf("%d", h.OriginalSize),
		"checksum":      h.Checksum,
		"exchange":      h.Exchange,
		"symbol":        h.Symbol,
		"data_type":     h.DataType,
	}
}

// HeaderFromAttributes reconstructs a Header from a Message's attribute
// map, the inverse of AttributesFromHeader, used on the receive/validate
// side.
func HeaderFromAttributes(attrs map[string]string) Header {
	var h Header
	h.MessageID = attrs["message_id"]
	h.Format = attrs["format"]
	h.Compression = attrs["compression"]
	h.Checksum = attrs["checksum"]
	h.Exchange = attrs["exchange"]
	h.Symbol = attrs["symbol"]
	h.DataType = attrs["data_type"]
	_, _ = fmt.Sscanf(attrs["event_time"], "%d", &h.EventTime)
	_, _ = fmt.Sscanf(attrs["schema"], "%d", &h.Schema)
	_, _ = fmt.Sscanf(attrs["original_size"], "%d", &h.OriginalSize)
	return h
}

// CacheKey returns a stable digest of (exchange, symbol, type, payload) for
// C5's optional de-dup-cache coalescing, per spec §4.5.
func CacheKey(rec *model.Record, payload []byte) string {
	sum := sha256.Sum256(append([]byte(rec.Key()), payload...))
	return hex.EncodeToString(sum[:])
}

// marshalJSONPayload serializes rec to compact JSON — the baseline format
// per spec §4.5.
func marshalJSONPayload(rec *model.Record) ([]byte, error) {
	return json.Marshal(rec)
}

// unmarshalJSONPayload is the inverse of marshalJSONPayload.
func unmarshalJSONPayload(data []byte, rec *model.Record) error {
	return json.Unmarshal(data, rec)
}
