package publisher

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sawpanic/mdcollector/internal/model"
)

// Serializer encodes a canonical record to bytes in one wire format. JSON
// is the baseline (spec §4.5); msgpack is the pluggable binary alternative,
// grounded on alpacahq-alpaca-trade-api-go's go.mod dependency.
type Serializer interface {
	Format() string
	Marshal(rec *model.Record) ([]byte, error)
	Unmarshal(data []byte, rec *model.Record) error
}

type jsonSerializer struct{}

func (jsonSerializer) Format() string { return "json" }
func (jsonSerializer) Marshal(rec *model.Record) ([]byte, error) { return marshalJSONPayload(rec) }
func (jsonSerializer) Unmarshal(data []byte, rec *model.Record) error {
	return unmarshalJSONPayload(data, rec)
}

type msgpackSerializer struct{}

func (msgpackSerializer) Format() string { return "msgpack" }
func (msgpackSerializer) Marshal(rec *model.Record) ([]byte, error) { return msgpack.Marshal(rec) }
func (msgpackSerializer) Unmarshal(data []byte, rec *model.Record) error {
	return msgpack.Unmarshal(data, rec)
}

// NewSerializer returns the Serializer for format ("json" or "msgpack").
func NewSerializer(format string) (Serializer, error) {
	switch format {
	case "json", "":
		return jsonSerializer{}, nil
	case "msgpack":
		return msgpackSerializer{}, nil
	default:
		return nil, fmt.Errorf("publisher: unknown serialization format %q", format)
	}
}
